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
	"time"

	"github.com/openziti/xpolicy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const AccessLogBinding = "accesslog"

// AccessLogFactory creates the `accesslog` extension, writing one entry per request with method, path, status,
// bytes, duration and request id. Extension options:
//
//	level: logrus level of the entries (info)
//
// The extension applies to every route unless the route option `accesslog` is false.
type AccessLogFactory struct {
	settings *settings
}

func NewAccessLogFactory(opts ...Option) *AccessLogFactory {
	return &AccessLogFactory{settings: newSettings(opts)}
}

func (factory *AccessLogFactory) Binding() string {
	return AccessLogBinding
}

func (factory *AccessLogFactory) Validate(*xpolicy.InstanceConfig) error {
	return nil
}

type accessLogOptions struct {
	Level string `mapstructure:"level"`
}

func (factory *AccessLogFactory) New(options map[string]interface{}, _ *xpolicy.InstanceConfig) (xpolicy.Extension, error) {
	parsed := accessLogOptions{Level: logrus.InfoLevel.String()}
	if err := decode(options, &parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode accesslog options")
	}

	level, err := logrus.ParseLevel(parsed.Level)
	if err != nil {
		return nil, err
	}

	return &AccessLogExtension{
		logger: factory.settings.logger,
		level:  level,
		clock:  factory.settings.clock,
	}, nil
}

type AccessLogExtension struct {
	logger logrus.FieldLogger
	level  logrus.Level
	clock  func() time.Time
}

func (extension *AccessLogExtension) Binding() string {
	return AccessLogBinding
}

func (extension *AccessLogExtension) AppliesTo(_ string, _ []string, config xpolicy.RouteConfig) bool {
	_, present, enabled := routeToggle(config, AccessLogBinding)
	return !present || enabled
}

func (extension *AccessLogExtension) Middleware(xpolicy.RouteConfig) (xpolicy.Contribution, error) {
	return xpolicy.Contribute(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := extension.clock()
			recorder := newStatusWriter(writer)

			next.ServeHTTP(recorder, request)

			entry := extension.logger.WithFields(logrus.Fields{
				"method":   request.Method,
				"path":     request.URL.Path,
				"status":   recorder.Status(),
				"bytes":    recorder.written,
				"duration": extension.clock().Sub(start),
			})
			if id := RequestIDFromContext(request.Context()); id != "" {
				entry = entry.WithField("requestId", id)
			} else if id := request.Header.Get(DefaultRequestIDHeader); id != "" {
				entry = entry.WithField("requestId", id)
			}
			entry.Log(extension.level, "request")
		})
	}), nil
}
