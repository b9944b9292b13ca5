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
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// markerFactory contributes a middleware copying the route's `marker` option into a response header. It only
// applies to routes that declare a marker.
func markerFactory(builds *int64) *testFactory {
	return &testFactory{
		binding: "marker",
		newFunc: func(options map[string]interface{}, _ *InstanceConfig) (Extension, error) {
			header := "X-Marker"
			if name, ok := options["header"].(string); ok {
				header = name
			}
			return &testExtension{
				binding: "marker",
				applies: func(_ string, _ []string, config RouteConfig) bool {
					return config.Has("marker")
				},
				build: func(config RouteConfig) (Contribution, error) {
					atomic.AddInt64(builds, 1)
					value := config.String("marker", "")
					return Contribute(func(next http.Handler) http.Handler {
						return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
							writer.Header().Set(header, value)
							next.ServeHTTP(writer, request)
						})
					}), nil
				},
			}, nil
		},
	}
}

func configEcho() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		config := RouteConfigFromContext(request.Context())
		writer.Header().Set("X-Timeout", config.String("timeout", "none"))
		writer.WriteHeader(http.StatusOK)
	})
}

func testConfig() map[string]interface{} {
	return map[string]interface{}{
		"defaults": map[string]interface{}{"timeout": 30},
		"routes": []interface{}{
			map[string]interface{}{"path": "/api/*", "options": map[string]interface{}{"marker": "api"}},
			map[string]interface{}{"path": "/api/admin", "options": map[string]interface{}{"marker": "admin", "timeout": 5}},
		},
		"extensions": []interface{}{
			map[string]interface{}{"binding": "marker", "options": map[string]interface{}{"header": "X-Route"}},
		},
		"rbac": map[string]interface{}{
			"roles": map[string]interface{}{
				"user":  map[string]interface{}{"permissions": []interface{}{"read"}},
				"admin": map[string]interface{}{"permissions": []interface{}{"write"}, "inherits": []interface{}{"user"}},
			},
		},
	}
}

func newTestInstance(t *testing.T, builds *int64, cfg map[string]interface{}) *Instance {
	registry := NewRegistryMap()
	require.NoError(t, registry.Add(markerFactory(builds)))
	instance := NewInstance(registry)
	require.NoError(t, instance.LoadConfig(cfg))
	atomic.StoreInt64(builds, 0)
	return instance
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestInstance_LoadConfig(t *testing.T) {
	t.Run("a valid configuration enables the instance", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		instance := newTestInstance(t, &builds, testConfig())

		req.True(instance.Enabled())
		req.Len(instance.Config.Routes, 2)
		req.Len(instance.Extensions().Extensions(), 1)
		req.NotNil(instance.Config.Resolver())
		req.Equal([]string{"read", "write"}, instance.Config.RBAC().EffectivePermissions("admin").Slice())
		req.Equal(DefaultAddress, instance.Config.Server.Address)
	})

	t.Run("yaml style nested maps are accepted", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		instance := newTestInstance(t, &builds, map[string]interface{}{
			"routes": []interface{}{
				map[interface{}]interface{}{"path": "/api/*", "options": map[interface{}]interface{}{"marker": "yaml"}},
			},
			"extensions": []interface{}{
				map[interface{}]interface{}{"binding": "marker"},
			},
		})

		config, err := instance.Resolve("/api/x", nil)
		req.NoError(err)
		req.Equal(RouteConfig{"marker": "yaml"}, config)
	})

	t.Run("parse problems are reported together", func(t *testing.T) {
		req := require.New(t)
		instance := NewInstance(NewRegistryMap())

		err := instance.LoadConfig(map[string]interface{}{
			"routes": []interface{}{
				map[string]interface{}{"path": "relative"},
				map[string]interface{}{"options": map[string]interface{}{}},
			},
			"extensions": []interface{}{
				map[string]interface{}{"options": map[string]interface{}{}},
			},
		})
		req.Error(err)
		req.False(instance.Enabled())

		var kinds []string
		for _, problem := range Problems(err) {
			var configErr *ConfigurationError
			req.ErrorAs(problem, &configErr)
			kinds = append(kinds, configErr.Kind+":"+configErr.Name)
		}
		req.Equal([]string{"route:relative", "route:routes[1]", "extension:extensions[0]"}, kinds)
	})

	t.Run("validation problems are reported together", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		registry := NewRegistryMap()
		req.NoError(registry.Add(markerFactory(&builds)))
		instance := NewInstance(registry)

		err := instance.LoadConfig(map[string]interface{}{
			"extensions": []interface{}{
				map[string]interface{}{"binding": "marker"},
				map[string]interface{}{"binding": "missing"},
			},
			"rbac": map[string]interface{}{
				"roles": map[string]interface{}{
					"A": map[string]interface{}{"inherits": []interface{}{"B"}},
					"B": map[string]interface{}{"inherits": []interface{}{"A"}},
					"C": map[string]interface{}{"inherits": []interface{}{"ghost"}},
				},
			},
		})
		req.Error(err)
		req.False(instance.Enabled())

		var kinds []string
		for _, problem := range Problems(err) {
			var configErr *ConfigurationError
			req.ErrorAs(problem, &configErr)
			kinds = append(kinds, configErr.Kind+":"+configErr.Name)
		}
		req.Equal([]string{"role:C", "role:A,B", "extension:missing"}, kinds)
		req.Contains(err.Error(), "A -> B -> A")
	})

	t.Run("factories validate against the loaded routes and roles", func(t *testing.T) {
		req := require.New(t)
		registry := NewRegistryMap()
		var sawResolver, sawRoles bool
		req.NoError(registry.Add(&testFactory{
			binding: "inspect",
			validate: func(config *InstanceConfig) error {
				sawResolver = config.Resolver() != nil
				sawRoles = len(config.RBAC().Roles()) == 2
				return nil
			},
		}))

		cfg := testConfig()
		cfg["extensions"] = []interface{}{map[string]interface{}{"binding": "inspect"}}
		req.NoError(NewInstance(registry).LoadConfig(cfg))
		req.True(sawResolver)
		req.True(sawRoles)
	})

	t.Run("every declared route chain is built at load", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		registry := NewRegistryMap()
		req.NoError(registry.Add(markerFactory(&builds)))

		req.NoError(NewInstance(registry).LoadConfig(testConfig()))
		req.Equal(int64(2), atomic.LoadInt64(&builds))
	})

	t.Run("a route whose chain cannot be built fails the load", func(t *testing.T) {
		req := require.New(t)
		registry := NewRegistryMap()
		req.NoError(registry.Add(&testFactory{
			binding: "strict",
			newFunc: func(map[string]interface{}, *InstanceConfig) (Extension, error) {
				return &testExtension{
					binding: "strict",
					build: func(config RouteConfig) (Contribution, error) {
						if config.String("marker", "") == "bad" {
							return NoContribution, errors.New("marker cannot be bad")
						}
						return NoContribution, nil
					},
				}, nil
			},
		}))

		instance := NewInstance(registry)
		err := instance.LoadConfig(map[string]interface{}{
			"routes": []interface{}{
				map[string]interface{}{"path": "/ok/*", "options": map[string]interface{}{"marker": "good"}},
				map[string]interface{}{"path": "/a/*", "options": map[string]interface{}{"marker": "bad"}},
				map[string]interface{}{"path": "/b", "options": map[string]interface{}{"marker": "bad"}},
			},
			"extensions": []interface{}{map[string]interface{}{"binding": "strict"}},
		})
		req.Error(err)
		req.False(instance.Enabled())

		problems := Problems(err)
		req.Len(problems, 2)
		for _, problem := range problems {
			var configErr *ConfigurationError
			req.ErrorAs(problem, &configErr)
			req.Equal(KindExtension, configErr.Kind)
			req.Equal("strict", configErr.Name)
		}
		req.Contains(problems[0].Error(), "route pattern [/a/*]")
		req.Contains(problems[1].Error(), "route pattern [/b]")
	})

	t.Run("defaults whose chain cannot be built fail the load", func(t *testing.T) {
		req := require.New(t)
		registry := NewRegistryMap()
		req.NoError(registry.Add(&testFactory{
			binding: "panicking",
			newFunc: func(map[string]interface{}, *InstanceConfig) (Extension, error) {
				return &testExtension{
					binding: "panicking",
					build:   func(RouteConfig) (Contribution, error) { panic("boom") },
				}, nil
			},
		}))

		err := NewInstance(registry).LoadConfig(map[string]interface{}{
			"extensions": []interface{}{map[string]interface{}{"binding": "panicking"}},
		})
		req.Error(err)
		req.Contains(err.Error(), "route pattern [defaults]")
		req.Contains(err.Error(), "boom")
	})

	t.Run("an invalid server section is rejected", func(t *testing.T) {
		req := require.New(t)
		cfg := testConfig()
		cfg["server"] = map[string]interface{}{"address": "nowhere"}

		var builds int64
		registry := NewRegistryMap()
		req.NoError(registry.Add(markerFactory(&builds)))
		req.Error(NewInstance(registry).LoadConfig(cfg))
	})
}

func TestInstance_Handler(t *testing.T) {
	t.Run("matching routes are wrapped in their chain", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		instance := newTestInstance(t, &builds, testConfig())

		handler, err := instance.Handler("/api/users", nil, configEcho())
		req.NoError(err)
		recorder := get(handler, "/api/users")
		req.Equal("api", recorder.Header().Get("X-Route"))
		req.Equal("30", recorder.Header().Get("X-Timeout"))

		handler, err = instance.Handler("/api/admin", []string{http.MethodGet}, configEcho())
		req.NoError(err)
		recorder = get(handler, "/api/admin")
		req.Equal("admin", recorder.Header().Get("X-Route"))
		req.Equal("5", recorder.Header().Get("X-Timeout"))
	})

	t.Run("routes without contributions dispatch directly", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		instance := newTestInstance(t, &builds, testConfig())

		handler, err := instance.Handler("/health", nil, configEcho())
		req.NoError(err)
		recorder := get(handler, "/health")
		req.Empty(recorder.Header().Get("X-Route"))
		req.Equal("30", recorder.Header().Get("X-Timeout"))
		req.Equal(int64(0), atomic.LoadInt64(&builds))
	})

	t.Run("an unloaded instance cannot build handlers", func(t *testing.T) {
		req := require.New(t)
		_, err := NewInstance(NewRegistryMap()).Handler("/api", nil, configEcho())
		req.Error(err)
	})
}

func TestInstance_Wrap(t *testing.T) {
	t.Run("chains are built once per method and path", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		instance := newTestInstance(t, &builds, testConfig())
		handler := instance.Wrap(configEcho())

		req.Equal("api", get(handler, "/api/users").Header().Get("X-Route"))
		req.Equal("api", get(handler, "/api/users").Header().Get("X-Route"))
		req.Equal(int64(1), atomic.LoadInt64(&builds))

		req.Equal("admin", get(handler, "/api/admin").Header().Get("X-Route"))
		req.Equal(int64(2), atomic.LoadInt64(&builds))
	})

	t.Run("the memo is bounded", func(t *testing.T) {
		req := require.New(t)
		var builds int64
		instance := newTestInstance(t, &builds, testConfig())
		instance.MemoLimit = 1
		handler := instance.Wrap(configEcho())

		get(handler, "/api/a")
		get(handler, "/api/b")
		get(handler, "/api/b")
		req.Equal(int64(3), atomic.LoadInt64(&builds))

		get(handler, "/api/a")
		req.Equal(int64(3), atomic.LoadInt64(&builds))
	})
}

type startingExtension struct {
	testExtension
	started chan struct{}
}

func (e *startingExtension) Start(context.Context) {
	close(e.started)
}

func TestInstance_Start(t *testing.T) {
	req := require.New(t)
	started := make(chan struct{})
	registry := NewRegistryMap()
	req.NoError(registry.Add(&testFactory{
		binding: "starter",
		newFunc: func(map[string]interface{}, *InstanceConfig) (Extension, error) {
			return &startingExtension{testExtension: testExtension{binding: "starter"}, started: started}, nil
		},
	}))

	instance := NewInstance(registry)
	req.NoError(instance.LoadConfig(map[string]interface{}{
		"extensions": []interface{}{map[string]interface{}{"binding": "starter"}},
	}))

	instance.Start(context.Background())
	<-started
}
