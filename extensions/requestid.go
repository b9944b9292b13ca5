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
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/openziti/xpolicy"
	"github.com/pkg/errors"
)

const (
	RequestIDBinding       = "requestid"
	DefaultRequestIDHeader = "X-Request-Id"

	requestIDContextKey = xpolicy.ContextKey("xpolicy.RequestID.ContextKey")
)

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDFromContext returns the id assigned to the request by the requestid extension.
func RequestIDFromContext(ctx context.Context) string {
	if val, ok := ctx.Value(requestIDContextKey).(string); ok {
		return val
	}
	return ""
}

// RequestIDFactory creates the `requestid` extension. Extension options:
//
//	header: the request and response header carrying the id (X-Request-Id)
//	trust:  keep a well formed id supplied by the client (true)
//
// The extension applies to every route unless the route option `requestid` is false.
type RequestIDFactory struct{}

func NewRequestIDFactory() *RequestIDFactory {
	return &RequestIDFactory{}
}

func (factory *RequestIDFactory) Binding() string {
	return RequestIDBinding
}

func (factory *RequestIDFactory) Validate(*xpolicy.InstanceConfig) error {
	return nil
}

type requestIDOptions struct {
	Header string `mapstructure:"header"`
	Trust  bool   `mapstructure:"trust"`
}

func (factory *RequestIDFactory) New(options map[string]interface{}, _ *xpolicy.InstanceConfig) (xpolicy.Extension, error) {
	parsed := requestIDOptions{
		Header: DefaultRequestIDHeader,
		Trust:  true,
	}
	if err := decode(options, &parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode requestid options")
	}
	if parsed.Header == "" {
		return nil, errors.New("header must not be empty")
	}

	return &RequestIDExtension{
		header: http.CanonicalHeaderKey(parsed.Header),
		trust:  parsed.Trust,
	}, nil
}

type RequestIDExtension struct {
	header string
	trust  bool
}

func (extension *RequestIDExtension) Binding() string {
	return RequestIDBinding
}

func (extension *RequestIDExtension) AppliesTo(_ string, _ []string, config xpolicy.RouteConfig) bool {
	_, present, enabled := routeToggle(config, RequestIDBinding)
	return !present || enabled
}

func (extension *RequestIDExtension) Middleware(xpolicy.RouteConfig) (xpolicy.Contribution, error) {
	return xpolicy.Contribute(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			id := request.Header.Get(extension.header)
			if !extension.trust || !validRequestID.MatchString(id) {
				id = uuid.NewString()
			}

			request.Header.Set(extension.header, id)
			writer.Header().Set(extension.header, id)
			next.ServeHTTP(writer, request.WithContext(context.WithValue(request.Context(), requestIDContextKey, id)))
		})
	}), nil
}
