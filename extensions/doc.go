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
Package extensions provides the built in xpolicy extensions, each registered under its binding name:

	ratelimit    per identifier admission with fixed window, sliding window or token bucket (route option `ratelimit`)
	rbac         role based route access (route option `rbac`)
	requestid    request id propagation (route option `requestid`)
	accesslog    one log entry per request (route option `accesslog`)
	compression  brotli response compression (route option `compression`)
	tracing      one OpenTelemetry span per request (route option `tracing`)

Register adds every factory to an xpolicy.Registry. Shared dependencies, such as the prometheus registerer, the
access logger or the tracer provider, are supplied as Option values.
*/
package extensions
