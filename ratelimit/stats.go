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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one decision, recorded for offline statistics.
type Event struct {
	Identifier string
	Algorithm  Algorithm
	Route      string
	Allowed    bool
	At         time.Time
}

// StatsRecorder records decision events. Recording is best effort; errors never affect a decision.
type StatsRecorder interface {
	Record(ctx context.Context, event Event) error
}

// RedisStatsRecorder keeps per-minute counters in redis hashes:
//
//	<prefix>:minute:<unix minute>   fields allowed, rejected, <route>:allowed, <route>:rejected
//	<prefix>:client:<identifier>    fields allowed, rejected
//
// Minute hashes expire after Retention.
type RedisStatsRecorder struct {
	Client    redis.UniversalClient
	Prefix    string
	Retention time.Duration
}

func NewRedisStatsRecorder(client redis.UniversalClient, prefix string) *RedisStatsRecorder {
	if prefix == "" {
		prefix = "xpolicy:ratelimit"
	}
	return &RedisStatsRecorder{
		Client:    client,
		Prefix:    prefix,
		Retention: 24 * time.Hour,
	}
}

func (r *RedisStatsRecorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.Client == nil {
		return nil
	}

	outcome := outcomeOf(event.Allowed)
	minuteKey := fmt.Sprintf("%s:minute:%d", r.Prefix, event.At.Unix()/60)
	clientKey := fmt.Sprintf("%s:client:%s", r.Prefix, event.Identifier)

	pipe := r.Client.Pipeline()
	pipe.HIncrBy(ctx, minuteKey, outcome, 1)
	if event.Route != "" {
		pipe.HIncrBy(ctx, minuteKey, event.Route+":"+outcome, 1)
	}
	if r.Retention > 0 {
		pipe.Expire(ctx, minuteKey, r.Retention)
	}
	pipe.HIncrBy(ctx, clientKey, outcome, 1)
	_, err := pipe.Exec(ctx)
	return err
}

// MemoryStatsRecorder counts outcomes per route in memory.
type MemoryStatsRecorder struct {
	lock   sync.Mutex
	counts map[string]map[string]int64
}

func NewMemoryStatsRecorder() *MemoryStatsRecorder {
	return &MemoryStatsRecorder{counts: map[string]map[string]int64{}}
}

func (m *MemoryStatsRecorder) Record(_ context.Context, event Event) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	byOutcome, found := m.counts[event.Route]
	if !found {
		byOutcome = map[string]int64{}
		m.counts[event.Route] = byOutcome
	}
	byOutcome[outcomeOf(event.Allowed)]++
	return nil
}

// Count returns how many events with the given route and outcome ("allowed" or "rejected") were recorded.
func (m *MemoryStatsRecorder) Count(route, outcome string) int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.counts[route][outcome]
}

func outcomeOf(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}
