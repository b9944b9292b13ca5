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

package extensions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openziti/xpolicy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_100, 0)

func fixedClock() time.Time {
	return testNow
}

func newTestInstance(t *testing.T, cfg map[string]interface{}, opts ...Option) *xpolicy.Instance {
	registry := xpolicy.NewRegistryMap()
	require.NoError(t, Register(registry, append([]Option{WithClock(fixedClock)}, opts...)...))

	instance := xpolicy.NewInstance(registry)
	require.NoError(t, instance.LoadConfig(cfg))
	return instance
}

func handlerFor(t *testing.T, instance *xpolicy.Instance, path string, endpoint http.Handler) http.Handler {
	handler, err := instance.Handler(path, []string{http.MethodGet}, endpoint)
	require.NoError(t, err)
	return handler
}

func okEndpoint() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
}

func do(handler http.Handler, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func get(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}

func counterValue(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) float64 {
	families, err := gatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if value, ok := labels[pair.GetName()]; ok && value == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRegister(t *testing.T) {
	t.Run("every built in binding is registered", func(t *testing.T) {
		req := require.New(t)
		registry := xpolicy.NewRegistryMap()
		req.NoError(Register(registry))
		req.Equal([]string{AccessLogBinding, CompressionBinding, RateLimitBinding, RBACBinding, RequestIDBinding, TracingBinding}, registry.Bindings())
	})

	t.Run("registering twice fails", func(t *testing.T) {
		req := require.New(t)
		registry := xpolicy.NewRegistryMap()
		req.NoError(Register(registry))
		req.Error(Register(registry))
	})
}

func TestBuiltInChainOrder(t *testing.T) {
	req := require.New(t)
	instance := newTestInstance(t, map[string]interface{}{
		"defaults": map[string]interface{}{"compression": true},
		"extensions": []interface{}{
			map[string]interface{}{"binding": RequestIDBinding},
			map[string]interface{}{"binding": AccessLogBinding},
			map[string]interface{}{"binding": CompressionBinding},
			map[string]interface{}{"binding": TracingBinding},
		},
	})

	var bindings []string
	for _, extension := range instance.Extensions().Applicable("/x", nil, xpolicy.RouteConfig{"compression": true}) {
		bindings = append(bindings, extension.Binding())
	}
	req.Equal([]string{RequestIDBinding, AccessLogBinding, CompressionBinding, TracingBinding}, bindings)

	recorder := do(handlerFor(t, instance, "/x", okEndpoint()), get("/x"))
	req.Equal(http.StatusOK, recorder.Code)
	req.NotEmpty(recorder.Header().Get(DefaultRequestIDHeader))
}

func TestDurationHook(t *testing.T) {
	type target struct {
		Window time.Duration `mapstructure:"window"`
	}

	for input, expected := range map[interface{}]time.Duration{
		60:     time.Minute,
		1.5:    1500 * time.Millisecond,
		"30":   30 * time.Second,
		"5m":   5 * time.Minute,
		"1h1s": time.Hour + time.Second,
	} {
		result := target{}
		require.NoError(t, decode(map[string]interface{}{"window": input}, &result), "input %v", input)
		require.Equal(t, expected, result.Window, "input %v", input)
	}

	require.Error(t, decode(map[string]interface{}{"window": "soon"}, &target{}))
	require.Error(t, decode(map[string]interface{}{"unknown": 1}, &target{}))
}
