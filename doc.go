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
Package xpolicy provides a configuration driven request policy engine: it decides, for every route of an HTTP
service, which options apply and which middleware wraps the route's endpoint.

Basics

Configuration is presented as a map of string-to-interface{} values with four sections: `defaults`, global route
options; `routes`, an ordered list of path patterns with option fragments; `extensions`, an ordered list of
extension bindings with their options; and `rbac`, the role definitions. InstanceConfig parses and validates these
sections and Instance ties them to a Registry of ExtensionFactory's.

A Resolver turns a (path, methods) pair into a RouteConfig by recursively merging the defaults, every matching
wildcard pattern (`/prefix/*`) from shortest to longest prefix and finally an exact pattern. Among wildcards with an
equally long prefix the one declared later wins. The section of an extension whose factory implements AtomicSection
is not merged: the most specific pattern declaring it replaces it whole. Resolution never modifies the configuration.

Extensions are constructed once at startup, in order, from their bindings. For each route the ChainBuilder asks every
applicable extension for its Contribution and composes the contributed Middleware so that the first registered
extension is the outermost layer: it runs first on the way in and last on the way out. The chain of the defaults and
of every declared pattern is built once while the configuration loads. A failing extension aborts the load, or the
route, with a ConfigurationError naming the binding; panics raised while a chain executes are never recovered by
the chain.

Built in extensions live in the extensions package, while the rate limiting algorithms and the role engine they use
live in ratelimit and rbac and can be used on their own.
*/
package xpolicy
