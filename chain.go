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

import (
	"fmt"
	"net/http"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
	"github.com/pkg/errors"
)

// ChainBuilder composes the middleware of every applicable extension into a single wrapper around an endpoint.
type ChainBuilder struct {
	registry *ExtensionRegistry
}

// NewChainBuilder creates a ChainBuilder over a loaded ExtensionRegistry.
func NewChainBuilder(registry *ExtensionRegistry) *ChainBuilder {
	return &ChainBuilder{
		registry: registry,
	}
}

// Build asks each applicable extension, in registration order, for its Contribution to the route and composes the
// contributed middleware. It returns false when no extension contributes, in which case the caller dispatches
// directly to the endpoint. Any extension failing to produce its contribution aborts the whole chain with a
// ConfigurationError naming the extension; a partial chain is never returned.
func (builder *ChainBuilder) Build(path string, methods []string, config RouteConfig) (Middleware, bool, error) {
	middlewares, bindings, err := builder.collect(path, methods, config)
	if err != nil {
		return nil, false, err
	}

	if len(middlewares) == 0 {
		return nil, false, nil
	}

	pfxlog.Logger().WithField("path", path).WithField("methods", methods).Debugf("built chain with bindings: %v", bindings)

	return Compose(middlewares...), true, nil
}

// Contributors returns the bindings of the extensions contributing middleware to a route, in chain order. It fails
// exactly when Build would.
func (builder *ChainBuilder) Contributors(path string, methods []string, config RouteConfig) ([]string, error) {
	_, bindings, err := builder.collect(path, methods, config)
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

func (builder *ChainBuilder) collect(path string, methods []string, config RouteConfig) ([]Middleware, []string, error) {
	var middlewares []Middleware
	var bindings []string

	for _, extension := range builder.registry.Applicable(path, methods, config) {
		contribution, err := contributionOf(extension, config)
		if err != nil {
			return nil, nil, extensionError(extension.Binding(), errors.Wrapf(err, "could not build middleware for route [%s]", path))
		}

		if middleware, ok := contribution.Middleware(); ok {
			middlewares = append(middlewares, middleware)
			bindings = append(bindings, extension.Binding())
		}
	}

	return middlewares, bindings, nil
}

// contributionOf converts a panic raised while an extension builds its middleware into an error. This only covers
// construction, panics raised while the chain executes are never recovered.
func contributionOf(extension Extension, config RouteConfig) (contribution Contribution, err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			pfxlog.Logger().WithField("binding", extension.Binding()).
				Errorf("panic while building middleware: %v\n%v", panicVal, debugz.GenerateLocalStack())
			contribution = NoContribution
			err = fmt.Errorf("panic while building middleware: %v", panicVal)
		}
	}()

	return extension.Middleware(config)
}

// Compose combines middlewares so that the first one is the outermost wrapper:
// Compose(m1, m2, m3)(endpoint) == m1(m2(m3(endpoint))). m1 runs first on the way in and last on the way out.
func Compose(middlewares ...Middleware) Middleware {
	local := make([]Middleware, len(middlewares))
	copy(local, middlewares)

	return func(endpoint http.Handler) http.Handler {
		//innermost/bottom -> outermost/top
		handler := endpoint
		for i := len(local) - 1; i >= 0; i-- {
			handler = local[i](handler)
		}
		return handler
	}
}
