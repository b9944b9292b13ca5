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
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
)

const (
	DefaultAddress          = "127.0.0.1:8080"
	DefaultHttpWriteTimeout = time.Second * 10
	DefaultHttpReadTimeout  = time.Second * 5
	DefaultHttpIdleTimeout  = time.Second * 5
)

// ServerConfig is the optional `server` section used when an Instance is served directly.
type ServerConfig struct {
	Address string
	TimeoutOptions
}

// Default provides defaults for all necessary values
func (config *ServerConfig) Default() {
	config.Address = DefaultAddress
	config.TimeoutOptions.Default()
}

// Parse parses a configuration map
func (config *ServerConfig) Parse(configMap map[string]interface{}) error {
	if addressInterface, ok := configMap["address"]; ok {
		if address, ok := addressInterface.(string); ok {
			config.Address = address
		} else {
			return errors.New("address must be a string")
		}
	}

	return config.TimeoutOptions.Parse(configMap)
}

// Validate validates all settings and return nil or an error
func (config *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(config.Address); err != nil {
		return fmt.Errorf("invalid address [%s]: %v", config.Address, err)
	}

	return config.TimeoutOptions.Validate()
}

// TimeoutOptions represents http timeout options
type TimeoutOptions struct {
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Default defaults all HTTP timeout options
func (timeoutOptions *TimeoutOptions) Default() {
	timeoutOptions.WriteTimeout = DefaultHttpWriteTimeout
	timeoutOptions.ReadTimeout = DefaultHttpReadTimeout
	timeoutOptions.IdleTimeout = DefaultHttpIdleTimeout
}

// Parse parses a config map
func (timeoutOptions *TimeoutOptions) Parse(config map[string]interface{}) error {
	for name, target := range map[string]*time.Duration{
		"readTimeout":  &timeoutOptions.ReadTimeout,
		"idleTimeout":  &timeoutOptions.IdleTimeout,
		"writeTimeout": &timeoutOptions.WriteTimeout,
	} {
		if interfaceVal, ok := config[name]; ok {
			str, ok := interfaceVal.(string)
			if !ok {
				return fmt.Errorf("could not use value for %s, not a string", name)
			}
			value, err := time.ParseDuration(str)
			if err != nil {
				return fmt.Errorf("could not parse %s %s as a duration (e.g. 1m): %v", name, str, err)
			}
			*target = value
		}
	}

	return nil
}

// Validate validates all settings and return nil or an error
func (timeoutOptions *TimeoutOptions) Validate() error {
	if timeoutOptions.WriteTimeout <= 0 {
		return fmt.Errorf("value [%s] for writeTimeout too low, must be positive", timeoutOptions.WriteTimeout.String())
	}

	if timeoutOptions.ReadTimeout <= 0 {
		return fmt.Errorf("value [%s] for readTimeout too low, must be positive", timeoutOptions.ReadTimeout.String())
	}

	if timeoutOptions.IdleTimeout <= 0 {
		return fmt.Errorf("value [%s] for idleTimeout too low, must be positive", timeoutOptions.IdleTimeout.String())
	}

	return nil
}

// Server hosts a single http.Server for a handler produced by an Instance.
type Server struct {
	HttpServer     *http.Server
	OnHandlerPanic func(writer http.ResponseWriter, request *http.Request, panicVal interface{})
	logWriter      *io.PipeWriter
}

// NewServer creates a Server listening on the configured address. Panics escaping handler are logged with their
// stack and answered with 500, unless OnHandlerPanic is set.
func NewServer(config *ServerConfig, handler http.Handler) *Server {
	logWriter := pfxlog.Logger().Writer()

	server := &Server{
		logWriter: logWriter,
	}

	server.HttpServer = &http.Server{
		Addr:         config.Address,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		IdleTimeout:  config.IdleTimeout,
		Handler:      server.wrapPanicRecovery(handler),
		ErrorLog:     log.New(logWriter, "", 0),
	}

	return server
}

// wrapPanicRecovery wraps a http.Handler with another http.Handler that provides recovery. It sits outside every
// middleware chain.
func (server *Server) wrapPanicRecovery(handler http.Handler) http.Handler {
	wrappedHandler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		defer func() {
			if panicVal := recover(); panicVal != nil {
				if server.OnHandlerPanic != nil {
					server.OnHandlerPanic(writer, request, panicVal)
					return
				}
				pfxlog.Logger().Errorf("panic caught by server handler: %v\n%v", panicVal, debugz.GenerateLocalStack())
				writer.WriteHeader(http.StatusInternalServerError)
			}
		}()

		handler.ServeHTTP(writer, request)
	})

	return wrappedHandler
}

// Start listens and serves until Shutdown is called.
func (server *Server) Start() error {
	pfxlog.Logger().Infof("starting xpolicy server on %s", server.HttpServer.Addr)

	err := server.HttpServer.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error listening: %s", err)
	}
	return nil
}

// Shutdown stops the server
func (server *Server) Shutdown(ctx context.Context) {
	_ = server.HttpServer.Shutdown(ctx)
	_ = server.logWriter.Close()
}
