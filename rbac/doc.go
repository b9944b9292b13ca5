/*
	Copyright NetFoundry, Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

/*
Package rbac implements a static role based access control graph.

Each Role carries its own permissions and the names of the roles it inherits from. A role's effective permissions are
the union of its own permissions and those of every role it transitively inherits, with "*" matching any permission.
The graph is built once from configuration and never modified, so an Engine is safe for concurrent use without
locking.

The graph must not contain inheritance cycles or references to undefined roles. This is not prevented by
construction: Engine.ValidateConfig reports every such problem in a single pass and callers are expected to refuse to
start when it returns anything.
*/
package rbac
