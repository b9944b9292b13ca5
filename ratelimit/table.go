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
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// table holds per-identifier state, sharded by identifier hash. All access to an entry happens under its shard
// lock.
type table[T any] struct {
	shards [shardCount]shard[T]
}

type shard[T any] struct {
	sync.Mutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	state    T
	lastSeen time.Time
	idle     time.Duration
}

func newTable[T any]() *table[T] {
	t := &table[T]{}
	for i := range t.shards {
		t.shards[i].entries = map[string]*entry[T]{}
	}
	return t
}

func (t *table[T]) shard(identifier string) *shard[T] {
	return &t.shards[xxhash.Sum64String(identifier)%shardCount]
}

// update runs fn against the identifier's state, creating it with init when absent. idle is how long the entry
// must go unseen before Purge may remove it.
func (t *table[T]) update(identifier string, now time.Time, idle time.Duration, init func() T, fn func(state *T)) {
	s := t.shard(identifier)
	s.Lock()
	defer s.Unlock()

	e, found := s.entries[identifier]
	if !found {
		e = &entry[T]{state: init()}
		s.entries[identifier] = e
	}
	if now.After(e.lastSeen) {
		e.lastSeen = now
	}
	if idle > e.idle {
		e.idle = idle
	}
	fn(&e.state)
}

// Purge removes entries idle for longer than their idle duration and returns how many were removed.
func (t *table[T]) Purge(now time.Time) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.Lock()
		for identifier, e := range s.entries {
			if now.Sub(e.lastSeen) > e.idle {
				delete(s.entries, identifier)
				removed++
			}
		}
		s.Unlock()
	}
	return removed
}

func (t *table[T]) Len() int {
	count := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.Lock()
		count += len(s.entries)
		s.Unlock()
	}
	return count
}
