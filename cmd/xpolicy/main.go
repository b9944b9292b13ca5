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

// Command xpolicy validates policy configuration files, shows the resolved options of a route and serves an echo
// endpoint behind the configured middleware chains.
//
//	xpolicy validate [-config file]
//	xpolicy resolve  [-config file] -path /api/users [-methods GET,POST]
//	xpolicy serve    [-config file] [-addr host:port] [-trace-stdout]
//
// Settings may also come from the environment or a .env file: XPOLICY_CONFIG, XPOLICY_ADDR and XPOLICY_LOG_LEVEL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xpolicy"
	"github.com/openziti/xpolicy/extensions"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const shutdownTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		pfxlog.Logger().WithError(err).Error("xpolicy failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return errors.New("a command is required")
	}

	switch args[0] {
	case "validate":
		return runValidate(args[1:], stdout)
	case "resolve":
		return runResolve(args[1:], stdout)
	case "serve":
		return runServe(ctx, args[1:], stdout, prometheus.DefaultRegisterer, promhttp.Handler())
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return nil
	}

	printUsage(stdout)
	return errors.Errorf("unknown command [%s]", args[0])
}

type commonFlags struct {
	config   string
	logLevel string
}

func newFlagSet(name string, output io.Writer, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&common.config, "config", envOr(ConfigEnv, DefaultConfigFile), "configuration file (.yml, .yaml, .json or .toml)")
	fs.StringVar(&common.logLevel, "log-level", envOr(LogLevelEnv, logrus.InfoLevel.String()), "log level")
	return fs
}

func (common *commonFlags) initLogging() error {
	level, err := logrus.ParseLevel(common.logLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	pfxlog.GlobalInit(level, pfxlog.DefaultOptions().SetTrimPrefix("github.com/openziti/"))
	return nil
}

// loadInstance reads the configuration file and loads it into an Instance carrying every built in extension.
func (common *commonFlags) loadInstance(opts ...extensions.Option) (*xpolicy.Instance, error) {
	cfgmap, err := readConfigFile(common.config)
	if err != nil {
		return nil, err
	}

	registry := xpolicy.NewRegistryMap()
	if err = extensions.Register(registry, opts...); err != nil {
		return nil, err
	}

	instance := xpolicy.NewInstance(registry)
	if err = instance.LoadConfig(cfgmap); err != nil {
		return nil, err
	}
	return instance, nil
}

func runValidate(args []string, stdout io.Writer) error {
	common := &commonFlags{}
	fs := newFlagSet("validate", stdout, common)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := common.initLogging(); err != nil {
		return err
	}

	if _, err := common.loadInstance(); err != nil {
		problems := xpolicy.Problems(err)
		_, _ = fmt.Fprintf(stdout, "configuration [%s] has %d problem(s):\n", common.config, len(problems))
		for _, problem := range problems {
			_, _ = fmt.Fprintf(stdout, "  - %v\n", problem)
		}
		return errors.Errorf("configuration [%s] is invalid", common.config)
	}

	_, _ = fmt.Fprintf(stdout, "configuration [%s] is valid\n", common.config)
	return nil
}

type resolution struct {
	Path       string                 `yaml:"path"`
	Methods    []string               `yaml:"methods,omitempty"`
	Options    map[string]interface{} `yaml:"options"`
	Extensions []string               `yaml:"extensions"`
	Chain      []string               `yaml:"chain"`
}

func runResolve(args []string, stdout io.Writer) error {
	common := &commonFlags{}
	fs := newFlagSet("resolve", stdout, common)
	path := fs.String("path", "", "request path to resolve")
	methods := fs.String("methods", "", "comma separated request methods")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-path is required")
	}
	if err := common.initLogging(); err != nil {
		return err
	}

	instance, err := common.loadInstance()
	if err != nil {
		return err
	}

	result, err := resolveRoute(instance, *path, splitList(*methods))
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

// resolveRoute reports the merged options of a route, the extensions applying to it and the ones contributing to its
// chain. Contributions are collected by the instance, so a failing or panicking extension is returned as an error.
func resolveRoute(instance *xpolicy.Instance, path string, methods []string) (*resolution, error) {
	result := &resolution{
		Path:       path,
		Methods:    methods,
		Extensions: []string{},
		Chain:      []string{},
	}

	config, err := instance.Resolve(path, methods)
	if err != nil {
		return nil, err
	}
	result.Options = config

	for _, extension := range instance.Extensions().Applicable(path, methods, config) {
		result.Extensions = append(result.Extensions, extension.Binding())
	}

	chain, err := instance.Contributors(path, methods, config)
	if err != nil {
		return nil, err
	}
	result.Chain = append(result.Chain, chain...)

	return result, nil
}

func runServe(ctx context.Context, args []string, stdout io.Writer, registerer prometheus.Registerer, metrics http.Handler) error {
	common := &commonFlags{}
	fs := newFlagSet("serve", stdout, common)
	addr := fs.String("addr", os.Getenv(AddressEnv), "listen address, overriding the server section")
	traceOut := fs.Bool("trace-stdout", false, "export request spans to stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := common.initLogging(); err != nil {
		return err
	}

	opts := []extensions.Option{extensions.WithRegisterer(registerer)}
	if *traceOut {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(stdout))
		if err != nil {
			return errors.Wrap(err, "could not create span exporter")
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
		opts = append(opts, extensions.WithTracerProvider(provider))
	}

	instance, err := common.loadInstance(opts...)
	if err != nil {
		return err
	}

	serverConfig := *instance.Config.Server
	if *addr != "" {
		serverConfig.Address = *addr
		if err = serverConfig.Validate(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/", instance.Wrap(echoEndpoint()))

	instance.Start(ctx)
	server := xpolicy.NewServer(&serverConfig, mux)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start()
}

// echoEndpoint answers with what the middleware chain resolved for the request.
func echoEndpoint() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		body := map[string]interface{}{
			"method":    request.Method,
			"path":      request.URL.Path,
			"options":   xpolicy.RouteConfigFromContext(request.Context()),
			"requestId": extensions.RequestIDFromContext(request.Context()),
		}
		if roles, ok := xpolicy.RolesFromContext(request.Context()); ok {
			body["roles"] = roles
		}

		writer.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(writer).Encode(body); err != nil {
			pfxlog.Logger().WithError(err).Error("could not write echo response")
		}
	})
}

func splitList(val string) []string {
	var result []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage")
	_, _ = fmt.Fprintln(w, "  xpolicy validate [-config file] [-log-level level]")
	_, _ = fmt.Fprintln(w, "  xpolicy resolve  [-config file] -path path [-methods GET,POST]")
	_, _ = fmt.Fprintln(w, "  xpolicy serve    [-config file] [-addr host:port] [-trace-stdout]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "Environment: %s, %s, %s (a .env file is loaded when present)\n", ConfigEnv, AddressEnv, LogLevelEnv)
}
