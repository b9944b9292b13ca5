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

	"github.com/openziti/xpolicy"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracingBinding    = "tracing"
	DefaultTracerName = "github.com/openziti/xpolicy/extensions"
)

// TracingFactory creates the `tracing` extension: one server span per request named "METHOD path", continuing any
// trace context propagated by the client. Extension options:
//
//	tracer: instrumentation name of the tracer
//
// The extension applies to every route unless the route option `tracing` is false.
type TracingFactory struct {
	settings *settings
}

func NewTracingFactory(opts ...Option) *TracingFactory {
	return &TracingFactory{settings: newSettings(opts)}
}

func (factory *TracingFactory) Binding() string {
	return TracingBinding
}

func (factory *TracingFactory) Validate(*xpolicy.InstanceConfig) error {
	return nil
}

type tracingOptions struct {
	Tracer string `mapstructure:"tracer"`
}

func (factory *TracingFactory) New(options map[string]interface{}, _ *xpolicy.InstanceConfig) (xpolicy.Extension, error) {
	parsed := tracingOptions{Tracer: DefaultTracerName}
	if err := decode(options, &parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode tracing options")
	}

	return &TracingExtension{
		tracer:     factory.settings.tracerProvider.Tracer(parsed.Tracer),
		propagator: otel.GetTextMapPropagator(),
	}, nil
}

type TracingExtension struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func (extension *TracingExtension) Binding() string {
	return TracingBinding
}

func (extension *TracingExtension) AppliesTo(_ string, _ []string, config xpolicy.RouteConfig) bool {
	_, present, enabled := routeToggle(config, TracingBinding)
	return !present || enabled
}

func (extension *TracingExtension) Middleware(xpolicy.RouteConfig) (xpolicy.Contribution, error) {
	return xpolicy.Contribute(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			ctx := extension.propagator.Extract(request.Context(), propagation.HeaderCarrier(request.Header))
			ctx, span := extension.tracer.Start(ctx, request.Method+" "+request.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", request.Method),
					attribute.String("url.path", request.URL.Path),
				),
			)
			defer span.End()

			recorder := newStatusWriter(writer)
			next.ServeHTTP(recorder, request.WithContext(ctx))

			status := recorder.Status()
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}), nil
}
