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
	"fmt"
	"net/http"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xpolicy"
	"github.com/openziti/xpolicy/ratelimit"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

const (
	RateLimitBinding = "ratelimit"

	DefaultJanitorInterval = time.Minute
	statsTimeout           = 100 * time.Millisecond
	statsBuffer            = 1024
)

// RateLimitFactory creates the `ratelimit` extension. Extension options:
//
//	algorithm:       default algorithm for routes that do not name one (sliding_window)
//	identifier:      default identifier strategy: ip, principal, global or header:<Name> (ip)
//	trustForwarded:  use the first X-Forwarded-For entry as the client address
//	idleMultiple:    windows of inactivity after which an identifier's state is purged (2)
//	janitorInterval: how often idle state is purged (1m)
//	redis:           {address, password, db, prefix} to record decision statistics in redis
//
// Decision statistics are queued and written by the goroutine started with Start. Decisions arriving while the queue
// is full are not recorded.
//
// Route option `ratelimit`: {limit, window, burst, algorithm, identifier, scope, enabled}. Windows are seconds or
// Go durations. Routes with equal limit settings share buckets unless they set different scopes.
type RateLimitFactory struct {
	settings *settings
}

func NewRateLimitFactory(opts ...Option) *RateLimitFactory {
	return &RateLimitFactory{settings: newSettings(opts)}
}

func (factory *RateLimitFactory) Binding() string {
	return RateLimitBinding
}

// Validate checks the algorithm and identifier of every ratelimit fragment in the defaults and routes.
func (factory *RateLimitFactory) Validate(config *xpolicy.InstanceConfig) error {
	var errs []error

	check := func(name string, options map[string]interface{}) {
		section, ok := options[RateLimitBinding].(map[string]interface{})
		if !ok {
			return
		}
		if algorithm, ok := section["algorithm"]; ok {
			if _, err := ratelimit.ParseAlgorithm(cast.ToString(algorithm)); err != nil {
				errs = append(errs, errors.Wrapf(err, "route [%s]", name))
			}
		}
		if identifier, ok := section["identifier"]; ok {
			if _, err := parseIdentifier(cast.ToString(identifier), false); err != nil {
				errs = append(errs, errors.Wrapf(err, "route [%s]", name))
			}
		}
	}

	check(xpolicy.DefaultsSection, config.Defaults)
	for _, route := range config.Routes {
		check(route.Path, route.Options)
	}

	return joinErrors(errs)
}

type rateLimitOptions struct {
	Algorithm       string        `mapstructure:"algorithm"`
	Identifier      string        `mapstructure:"identifier"`
	TrustForwarded  bool          `mapstructure:"trustForwarded"`
	IdleMultiple    int           `mapstructure:"idleMultiple"`
	JanitorInterval time.Duration `mapstructure:"janitorInterval"`
	Redis           *redisOptions `mapstructure:"redis"`
}

type redisOptions struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

func (factory *RateLimitFactory) New(options map[string]interface{}, _ *xpolicy.InstanceConfig) (xpolicy.Extension, error) {
	parsed := rateLimitOptions{
		Algorithm:       string(ratelimit.AlgorithmSlidingWindow),
		Identifier:      IdentifierIP,
		IdleMultiple:    ratelimit.DefaultIdleMultiple,
		JanitorInterval: DefaultJanitorInterval,
	}
	if err := decode(options, &parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode ratelimit options")
	}

	algorithm, err := ratelimit.ParseAlgorithm(parsed.Algorithm)
	if err != nil {
		return nil, err
	}
	if _, err = parseIdentifier(parsed.Identifier, parsed.TrustForwarded); err != nil {
		return nil, err
	}

	metrics, err := ratelimit.NewMetrics(factory.settings.registerer, factory.settings.namespace)
	if err != nil {
		return nil, err
	}

	extension := &RateLimitExtension{
		options:   parsed,
		algorithm: algorithm,
		limiters:  map[ratelimit.Algorithm]ratelimit.Limiter{},
		clock:     factory.settings.clock,
	}

	limiterOptions := []ratelimit.Option{
		ratelimit.WithClock(factory.settings.clock),
		ratelimit.WithIdleMultiple(parsed.IdleMultiple),
	}
	for _, name := range []ratelimit.Algorithm{ratelimit.AlgorithmFixedWindow, ratelimit.AlgorithmSlidingWindow, ratelimit.AlgorithmTokenBucket} {
		limiter, err := ratelimit.New(name, limiterOptions...)
		if err != nil {
			return nil, err
		}
		extension.limiters[name] = ratelimit.Instrument(limiter, metrics)
	}

	if factory.settings.stats != nil {
		extension.recorders = append(extension.recorders, factory.settings.stats)
	}
	if parsed.Redis != nil && parsed.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     parsed.Redis.Address,
			Password: parsed.Redis.Password,
			DB:       parsed.Redis.DB,
		})
		extension.recorders = append(extension.recorders, ratelimit.NewRedisStatsRecorder(client, parsed.Redis.Prefix))
	}
	if len(extension.recorders) > 0 {
		extension.events = make(chan ratelimit.Event, statsBuffer)
	}

	return extension, nil
}

// RateLimitExtension admits or rejects requests per identifier. Rejected requests are answered with 429 and every
// response carries the X-RateLimit-* headers.
type RateLimitExtension struct {
	options   rateLimitOptions
	algorithm ratelimit.Algorithm
	limiters  map[ratelimit.Algorithm]ratelimit.Limiter
	recorders []ratelimit.StatsRecorder
	events    chan ratelimit.Event
	clock     func() time.Time
}

func (extension *RateLimitExtension) Binding() string {
	return RateLimitBinding
}

func (extension *RateLimitExtension) AppliesTo(_ string, _ []string, config xpolicy.RouteConfig) bool {
	_, present, enabled := routeToggle(config, RateLimitBinding)
	return present && enabled
}

type rateLimitRule struct {
	Limit      int           `mapstructure:"limit"`
	Window     time.Duration `mapstructure:"window"`
	Burst      int           `mapstructure:"burst"`
	Algorithm  string        `mapstructure:"algorithm"`
	Identifier string        `mapstructure:"identifier"`
	Scope      string        `mapstructure:"scope"`
}

func (extension *RateLimitExtension) Middleware(config xpolicy.RouteConfig) (xpolicy.Contribution, error) {
	section, _, enabled := routeToggle(config, RateLimitBinding)
	if !enabled {
		return xpolicy.NoContribution, nil
	}
	if section == nil {
		return xpolicy.NoContribution, errors.New("ratelimit route option must be a map with at least limit and window")
	}

	rule := rateLimitRule{
		Algorithm:  string(extension.algorithm),
		Identifier: extension.options.Identifier,
	}
	if err := decode(withoutEnabled(section), &rule); err != nil {
		return xpolicy.NoContribution, errors.Wrap(err, "could not decode ratelimit route option")
	}
	if err := ratelimit.ValidateParams(rule.Limit, rule.Window, rule.Burst); err != nil {
		return xpolicy.NoContribution, err
	}

	algorithm, err := ratelimit.ParseAlgorithm(rule.Algorithm)
	if err != nil {
		return xpolicy.NoContribution, err
	}
	identify, err := parseIdentifier(rule.Identifier, extension.options.TrustForwarded)
	if err != nil {
		return xpolicy.NoContribution, err
	}

	scope := rule.Scope
	if scope == "" {
		scope = fmt.Sprintf("%s/%d/%s/%d", algorithm, rule.Limit, rule.Window, rule.Burst)
	}

	limiter := extension.limiters[algorithm]

	return xpolicy.Contribute(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			identifier := identify(request)
			decision, err := ratelimit.Enforce(limiter, scope+"|"+identifier, rule.Limit, rule.Window, rule.Burst)
			decision.Apply(writer.Header())
			extension.record(scope, identifier, algorithm, decision)

			if err != nil {
				pfxlog.Logger().WithField("identifier", identifier).WithField("scope", scope).
					WithField("path", request.URL.Path).Debug(err.Error())
				http.Error(writer, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}), nil
}

func (extension *RateLimitExtension) record(scope, identifier string, algorithm ratelimit.Algorithm, decision ratelimit.Decision) {
	if extension.events == nil {
		return
	}

	event := ratelimit.Event{
		Identifier: identifier,
		Algorithm:  algorithm,
		Route:      scope,
		Allowed:    decision.Allowed,
		At:         extension.clock(),
	}

	select {
	case extension.events <- event:
	default:
		pfxlog.Logger().WithField("scope", scope).Debug("rate limit statistics queue is full, decision not recorded")
	}
}

func (extension *RateLimitExtension) recordStats(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-extension.events:
			for _, recorder := range extension.recorders {
				recordCtx, cancel := context.WithTimeout(ctx, statsTimeout)
				if err := recorder.Record(recordCtx, event); err != nil {
					pfxlog.Logger().WithError(err).Debug("could not record rate limit decision")
				}
				cancel()
			}
		}
	}
}

// Limiter returns the limiter used for an algorithm.
func (extension *RateLimitExtension) Limiter(algorithm ratelimit.Algorithm) ratelimit.Limiter {
	return extension.limiters[algorithm]
}

// Start purges idle rate limit state every janitorInterval and writes queued decision statistics until ctx is done.
func (extension *RateLimitExtension) Start(ctx context.Context) {
	if extension.events != nil {
		go extension.recordStats(ctx)
	}

	var purgers []ratelimit.Purger
	for _, limiter := range extension.limiters {
		purgers = append(purgers, limiter)
	}
	ratelimit.StartJanitor(ctx, extension.options.JanitorInterval, purgers...)
}
