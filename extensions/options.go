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
	stderrors "errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xpolicy"
	"github.com/openziti/xpolicy/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const DefaultNamespace = "xpolicy"

// Option configures the dependencies shared by the built in factories.
type Option func(*settings)

type settings struct {
	registerer     prometheus.Registerer
	namespace      string
	logger         logrus.FieldLogger
	tracerProvider trace.TracerProvider
	clock          func() time.Time
	stats          ratelimit.StatsRecorder
}

// WithRegisterer registers extension metrics with registerer. Without it metrics are collected but not exported.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = registerer }
}

// WithNamespace sets the prometheus namespace of extension metrics.
func WithNamespace(namespace string) Option {
	return func(s *settings) { s.namespace = namespace }
}

// WithLogger sets the logger access log entries are written to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithTracerProvider sets the provider request spans are started from, otel's global provider by default.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *settings) { s.tracerProvider = provider }
}

// WithClock replaces time.Now for rate limiting and access log durations.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) { s.clock = clock }
}

// WithStatsRecorder records every rate limit decision, in addition to any redis recorder configured in the
// extension's options.
func WithStatsRecorder(recorder ratelimit.StatsRecorder) Option {
	return func(s *settings) { s.stats = recorder }
}

func newSettings(opts []Option) *settings {
	s := &settings{
		namespace: DefaultNamespace,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = pfxlog.Logger()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	return s
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook decodes durations from numbers, read as seconds, or from strings, either numeric seconds or Go
// durations such as "1m30s".
func durationHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType {
		return data, nil
	}

	switch v := data.(type) {
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(seconds * float64(time.Second)), nil
		}
		return time.ParseDuration(v)
	default:
		seconds, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, err
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
}

func decode(input interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(durationHook),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// routeToggle reads a route option that is either a bool or a section with an optional `enabled` key. It returns
// the section (nil for a bool), whether the option is present and whether it is enabled.
func routeToggle(config xpolicy.RouteConfig, key string) (map[string]interface{}, bool, bool) {
	value, found := config.Get(key)
	if !found || value == nil {
		return nil, false, false
	}

	if section, ok := value.(map[string]interface{}); ok {
		enabled := true
		if enabledValue, ok := section["enabled"]; ok {
			enabled = cast.ToBool(enabledValue)
		}
		return section, true, enabled
	}

	return nil, true, cast.ToBool(value)
}

// withoutEnabled returns a copy of a section without its `enabled` key, ready for strict decoding.
func withoutEnabled(section map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(section))
	for k, v := range section {
		if k != "enabled" {
			result[k] = v
		}
	}
	return result
}

func joinErrors(errs []error) error {
	return stderrors.Join(errs...)
}
