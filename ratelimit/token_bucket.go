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
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket refills limit tokens per window up to a capacity of burst (limit when burst is 0). Each admitted
// request consumes one token. Buckets start full.
type TokenBucket struct {
	options *options
	table   *table[tokenBucketState]
}

type tokenBucketState struct {
	bucket *rate.Limiter
}

func NewTokenBucket(opts ...Option) *TokenBucket {
	return &TokenBucket{
		options: newOptions(opts),
		table:   newTable[tokenBucketState](),
	}
}

func (l *TokenBucket) Algorithm() Algorithm {
	return AlgorithmTokenBucket
}

func (l *TokenBucket) Check(identifier string, limit int, window time.Duration, burst int) Decision {
	now := l.options.clock()
	if limit <= 0 || window <= 0 || burst < 0 {
		return rejectInvalid(limit, now, window)
	}

	capacity := burst
	if capacity == 0 {
		capacity = limit
	}
	refill := rate.Limit(float64(limit) / window.Seconds())

	var decision Decision
	l.table.update(identifier, now, l.idleAfter(limit, window, capacity), func() tokenBucketState {
		return tokenBucketState{bucket: rate.NewLimiter(refill, capacity)}
	}, func(state *tokenBucketState) {
		if state.bucket.Limit() != refill {
			state.bucket.SetLimitAt(now, refill)
		}
		if state.bucket.Burst() != capacity {
			state.bucket.SetBurstAt(now, capacity)
		}

		allowed := state.bucket.AllowN(now, 1)
		tokens := state.bucket.TokensAt(now)

		decision = Decision{
			Allowed: allowed,
			Limit:   capacity,
			ResetAt: now.Add(secondsDuration((float64(capacity) - tokens) / float64(refill))),
		}
		if allowed {
			decision.Remaining = clampRemaining(int64(math.Floor(tokens)))
		} else {
			decision.RetryAfter = secondsDuration((1 - tokens) / float64(refill))
		}
	})
	return decision
}

// idleAfter keeps a bucket at least until it has refilled completely, so a purged identifier and a fresh one are
// indistinguishable.
func (l *TokenBucket) idleAfter(limit int, window time.Duration, capacity int) time.Duration {
	idle := l.options.idleAfter(window)
	refill := time.Duration(math.Ceil(float64(window) * float64(capacity) / float64(limit)))
	if refill > idle {
		return refill
	}
	return idle
}

func (l *TokenBucket) Purge(now time.Time) int {
	return l.table.Purge(now)
}

func (l *TokenBucket) Len() int {
	return l.table.Len()
}

func secondsDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}
