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

package xpolicy

import "net/http"

// Middleware wraps the next http.Handler in the chain. It may act before and after calling next, or reject the
// request by not calling it at all.
type Middleware func(next http.Handler) http.Handler

// Contribution is what an Extension hands back for a route: either a Middleware or nothing at all. The zero value is
// NoContribution.
type Contribution struct {
	middleware Middleware
}

// NoContribution signals that an extension adds no wrapping for a route.
var NoContribution = Contribution{}

// Contribute wraps a Middleware as a Contribution. A nil Middleware yields NoContribution.
func Contribute(middleware Middleware) Contribution {
	return Contribution{middleware: middleware}
}

// Middleware returns the contributed Middleware and true, or nil and false for NoContribution.
func (c Contribution) Middleware() (Middleware, bool) {
	return c.middleware, c.middleware != nil
}

// Extension is a pluggable behavior that is constructed once at startup. For every route it decides whether it
// applies at all and, if it does, which Middleware it contributes to the route's chain.
type Extension interface {
	Binding() string
	AppliesTo(path string, methods []string, config RouteConfig) bool
	Middleware(config RouteConfig) (Contribution, error)
}

// ExtensionFactory constructs Extension instances for a binding name. Factories are registered explicitly in a
// Registry before configuration is loaded.
type ExtensionFactory interface {
	Binding() string
	New(options map[string]interface{}, config *InstanceConfig) (Extension, error)
	Validate(config *InstanceConfig) error
}

// AtomicSection is implemented by factories whose route option section, keyed by their binding, must not be merged
// key by key. A more specific pattern declaring the section replaces it whole.
type AtomicSection interface {
	AtomicSection() bool
}
