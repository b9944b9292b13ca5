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
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

// DefaultMemoLimit bounds how many (method, path) chains a handler returned by Instance.Wrap remembers.
const DefaultMemoLimit = 4096

// Starter is implemented by extensions that run background work, such as purging idle rate limit state.
type Starter interface {
	Start(ctx context.Context)
}

// Instance ties a Registry of extension factories to a loaded InstanceConfig: it resolves route configuration,
// builds middleware chains and produces http.Handler's for endpoints.
type Instance struct {
	Config    *InstanceConfig
	Registry  Registry
	MemoLimit int

	extensions *ExtensionRegistry
	chains     *ChainBuilder
}

// NewInstance creates an Instance whose extensions will be constructed from registry.
func NewInstance(registry Registry) *Instance {
	return &Instance{
		Config:    &InstanceConfig{},
		Registry:  registry,
		MemoLimit: DefaultMemoLimit,
	}
}

// LoadConfig parses and validates a configuration map and constructs every configured extension. Any error is a
// startup-fatal aggregate of *ConfigurationError values.
func (i *Instance) LoadConfig(cfgmap map[string]interface{}) error {
	if err := i.Config.Parse(cfgmap); err != nil {
		return err
	}

	if err := i.Config.Validate(i.Registry); err != nil {
		return err
	}

	extensions, err := LoadExtensions(i.Registry, i.Config.Extensions, i.Config)
	if err != nil {
		return err
	}

	chains := NewChainBuilder(extensions)
	if err := validateRoutes(i.Config, chains); err != nil {
		return err
	}

	i.extensions = extensions
	i.chains = chains

	pfxlog.Logger().WithField("routes", len(i.Config.Routes)).
		WithField("extensions", len(extensions.Extensions())).
		Info("xpolicy configuration loaded")

	return nil
}

// validateRoutes builds the chain of the defaults and of every declared route pattern once, so a route whose middleware
// cannot be constructed fails at load instead of on its first request. A wildcard is built for the path naming its
// prefix directory. Every failing pattern is reported.
func validateRoutes(config *InstanceConfig, chains *ChainBuilder) error {
	resolver := config.Resolver()

	var errs []error

	defaults, err := resolver.Resolve("", nil)
	if err != nil {
		return routeError(DefaultsSection, err)
	}
	if _, err := chains.Contributors("", nil, defaults); err != nil {
		errs = append(errs, atRoute(DefaultsSection, err))
	}

	for _, pattern := range config.Routes {
		path := pattern.Path
		if pattern.IsWildcard() {
			path = pattern.prefix + "/"
		}

		routeConfig, err := resolver.Resolve(path, pattern.Methods)
		if err != nil {
			errs = append(errs, routeError(pattern.Path, err))
			continue
		}

		if _, err := chains.Contributors(path, pattern.Methods, routeConfig); err != nil {
			errs = append(errs, atRoute(pattern.Path, err))
		}
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

// atRoute keeps the kind and name of a ConfigurationError and adds the route pattern it was found on.
func atRoute(pattern string, err error) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return &ConfigurationError{Kind: cfgErr.Kind, Name: cfgErr.Name, Err: errors.Wrapf(cfgErr.Err, "route pattern [%s]", pattern)}
	}
	return routeError(pattern, err)
}

// Enabled returns true/false on whether the configuration has been successfully loaded.
func (i *Instance) Enabled() bool {
	return i.Config.Enabled() && i.chains != nil
}

// Extensions returns the loaded ExtensionRegistry, nil before LoadConfig succeeds.
func (i *Instance) Extensions() *ExtensionRegistry {
	return i.extensions
}

// Start hands ctx to every loaded extension implementing Starter.
func (i *Instance) Start(ctx context.Context) {
	if i.extensions == nil {
		return
	}
	for _, extension := range i.extensions.Extensions() {
		if starter, ok := extension.(Starter); ok {
			starter.Start(ctx)
		}
	}
}

// Resolve returns the merged RouteConfig for a path and methods.
func (i *Instance) Resolve(path string, methods []string) (RouteConfig, error) {
	if !i.Enabled() {
		return nil, errors.New("configuration has not been loaded")
	}
	return i.Config.Resolver().Resolve(path, methods)
}

// Build composes the middleware chain for a route, returning false when no extension contributes.
func (i *Instance) Build(path string, methods []string, config RouteConfig) (Middleware, bool, error) {
	if !i.Enabled() {
		return nil, false, errors.New("configuration has not been loaded")
	}
	return i.chains.Build(path, methods, config)
}

// Contributors returns the bindings of the extensions contributing middleware to a route, in chain order. Extension
// failures are reported as by Build.
func (i *Instance) Contributors(path string, methods []string, config RouteConfig) ([]string, error) {
	if !i.Enabled() {
		return nil, errors.New("configuration has not been loaded")
	}
	return i.chains.Contributors(path, methods, config)
}

// Handler resolves a route once and wraps endpoint in the route's chain. The resolved RouteConfig is available to
// every layer and to endpoint through RouteConfigFromContext. A *ConfigurationError aborts registration of the route.
func (i *Instance) Handler(path string, methods []string, endpoint http.Handler) (http.Handler, error) {
	config, err := i.Resolve(path, methods)
	if err != nil {
		return nil, routeError(path, err)
	}

	middleware, ok, err := i.Build(path, methods, config)
	if err != nil {
		return nil, err
	}

	handler := endpoint
	if ok {
		handler = middleware(endpoint)
	}

	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		handler.ServeHTTP(writer, request.WithContext(withRouteConfig(request.Context(), config)))
	}), nil
}

// Wrap returns an http.Handler that resolves every request by its method and URL path and dispatches it through the
// matching chain to endpoint. Built chains are remembered per (method, path), up to MemoLimit entries. A route whose
// chain cannot be built answers 500.
func (i *Instance) Wrap(endpoint http.Handler) http.Handler {
	memo := &handlerMemo{limit: i.MemoLimit}

	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		key := strings.ToUpper(request.Method) + " " + request.URL.Path

		handler, found := memo.get(key)
		if !found {
			var err error
			handler, err = i.Handler(request.URL.Path, []string{request.Method}, endpoint)
			if err != nil {
				pfxlog.Logger().WithField("path", request.URL.Path).WithField("method", request.Method).
					WithError(err).Error("could not build route handler")
				http.Error(writer, "route configuration error", http.StatusInternalServerError)
				return
			}
			memo.put(key, handler)
		}

		handler.ServeHTTP(writer, request)
	})
}

type handlerMemo struct {
	handlers sync.Map
	size     int64
	limit    int
}

func (memo *handlerMemo) get(key string) (http.Handler, bool) {
	if val, ok := memo.handlers.Load(key); ok {
		return val.(http.Handler), true
	}
	return nil, false
}

func (memo *handlerMemo) put(key string, handler http.Handler) {
	if memo.limit > 0 && atomic.LoadInt64(&memo.size) >= int64(memo.limit) {
		return
	}
	if _, loaded := memo.handlers.LoadOrStore(key, handler); !loaded {
		atomic.AddInt64(&memo.size, 1)
	}
}
