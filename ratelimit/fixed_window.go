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
	"time"
)

// FixedWindow counts requests per identifier in aligned windows of floor(now / window). Every check counts,
// including rejected ones, and a request is admitted while the count stays within the limit. Up to twice the limit
// can be admitted across a window boundary.
type FixedWindow struct {
	options *options
	table   *table[fixedWindowState]
}

type fixedWindowState struct {
	index int64
	count int64
}

func NewFixedWindow(opts ...Option) *FixedWindow {
	return &FixedWindow{
		options: newOptions(opts),
		table:   newTable[fixedWindowState](),
	}
}

func (l *FixedWindow) Algorithm() Algorithm {
	return AlgorithmFixedWindow
}

func (l *FixedWindow) Check(identifier string, limit int, window time.Duration, _ int) Decision {
	now := l.options.clock()
	if limit <= 0 || window <= 0 {
		return rejectInvalid(limit, now, window)
	}

	index := windowIndex(now, window)
	var decision Decision
	l.table.update(identifier, now, l.options.idleAfter(window), func() fixedWindowState {
		return fixedWindowState{index: index}
	}, func(state *fixedWindowState) {
		if index > state.index {
			state.index = index
			state.count = 0
		}
		state.count++

		resetAt := windowStart(state.index+1, window)
		decision = Decision{
			Allowed:   state.count <= int64(limit),
			Limit:     limit,
			Remaining: clampRemaining(int64(limit) - state.count),
			ResetAt:   resetAt,
		}
		if !decision.Allowed {
			decision.RetryAfter = resetAt.Sub(now)
		}
	})
	return decision
}

func (l *FixedWindow) Purge(now time.Time) int {
	return l.table.Purge(now)
}

func (l *FixedWindow) Len() int {
	return l.table.Len()
}

func clampRemaining(remaining int64) int {
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}
