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

package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Algorithm names a rate limiting algorithm.
type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
)

// ParseAlgorithm normalizes an algorithm name. Case, spaces, dashes and underscores are ignored.
func ParseAlgorithm(name string) (Algorithm, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(normalized)

	switch normalized {
	case "fixedwindow", "fixed":
		return AlgorithmFixedWindow, nil
	case "slidingwindow", "sliding":
		return AlgorithmSlidingWindow, nil
	case "tokenbucket", "bucket":
		return AlgorithmTokenBucket, nil
	case "":
		return "", errors.New("algorithm is required")
	default:
		return "", errors.Errorf("unsupported algorithm [%s]", name)
	}
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed bool
	// Limit is the configured limit, or the bucket capacity for a token bucket.
	Limit     int
	Remaining int
	// ResetAt is when the limit is fully restored: the end of the current window, or for a token bucket the time
	// the bucket is full again.
	ResetAt time.Time
	// RetryAfter is set on rejection to the earliest time from now at which a request could be admitted.
	RetryAfter time.Duration
}

// Apply writes the decision as X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset (unix seconds)
// headers, plus Retry-After (whole seconds, at least 1) when the request was rejected.
func (d Decision) Apply(header http.Header) {
	header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(float64(d.ResetAt.UnixNano())/float64(time.Second))), 10))

	if !d.Allowed {
		seconds := int64(math.Ceil(d.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		header.Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
}

// Limiter decides whether a request from identifier is admitted. limit is the number of requests per window, burst
// is the token bucket capacity (0 means limit) and is ignored by the window algorithms. Invalid parameters (limit
// or window not positive) reject every request.
type Limiter interface {
	Algorithm() Algorithm
	Check(identifier string, limit int, window time.Duration, burst int) Decision
	Purger
}

// Purger removes state for identifiers that have been idle long enough to be indistinguishable from new ones.
type Purger interface {
	Purge(now time.Time) int
	Len() int
}

// ValidateParams checks limiter parameters, for use when loading configuration.
func ValidateParams(limit int, window time.Duration, burst int) error {
	if limit <= 0 {
		return errors.Errorf("limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return errors.Errorf("window must be positive, got %s", window)
	}
	if burst < 0 {
		return errors.Errorf("burst must not be negative, got %d", burst)
	}
	return nil
}

// Enforce runs a check and converts a rejection into an *ExceededError.
func Enforce(limiter Limiter, identifier string, limit int, window time.Duration, burst int) (Decision, error) {
	decision := limiter.Check(identifier, limit, window, burst)
	if !decision.Allowed {
		return decision, &ExceededError{Identifier: identifier, Decision: decision}
	}
	return decision, nil
}

// Option configures a Limiter.
type Option func(*options)

type options struct {
	clock        func() time.Time
	idleMultiple int
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithIdleMultiple sets after how many windows of inactivity an identifier may be purged. Values below 1 are
// raised to 1.
func WithIdleMultiple(multiple int) Option {
	return func(o *options) { o.idleMultiple = multiple }
}

const DefaultIdleMultiple = 2

func newOptions(opts []Option) *options {
	o := &options{
		clock:        time.Now,
		idleMultiple: DefaultIdleMultiple,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.idleMultiple < 1 {
		o.idleMultiple = 1
	}
	return o
}

func (o *options) idleAfter(window time.Duration) time.Duration {
	return time.Duration(o.idleMultiple) * window
}

// New creates a Limiter for an algorithm.
func New(algorithm Algorithm, opts ...Option) (Limiter, error) {
	switch algorithm {
	case AlgorithmFixedWindow:
		return NewFixedWindow(opts...), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(opts...), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(opts...), nil
	default:
		return nil, errors.Errorf("unsupported algorithm [%s]", algorithm)
	}
}

func rejectInvalid(limit int, now time.Time, window time.Duration) Decision {
	if window <= 0 {
		window = time.Second
	}
	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    now.Add(window),
		RetryAfter: window,
	}
}

// windowIndex is floor(now / window).
func windowIndex(now time.Time, window time.Duration) int64 {
	n := now.UnixNano()
	w := window.Nanoseconds()
	index := n / w
	if n%w != 0 && n < 0 {
		index--
	}
	return index
}

func windowStart(index int64, window time.Duration) time.Time {
	return time.Unix(0, index*window.Nanoseconds())
}
