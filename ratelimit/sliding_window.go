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
)

// SlidingWindow approximates a rolling window with two adjacent fixed window counters. The estimate is
//
//	previous * (1 - elapsed/window) + current
//
// where elapsed is the time since the current window started. A request is admitted while the estimate is below
// the limit, and only admitted requests are counted.
type SlidingWindow struct {
	options *options
	table   *table[slidingWindowState]
}

type slidingWindowState struct {
	index    int64
	current  int64
	previous int64
}

func NewSlidingWindow(opts ...Option) *SlidingWindow {
	return &SlidingWindow{
		options: newOptions(opts),
		table:   newTable[slidingWindowState](),
	}
}

func (l *SlidingWindow) Algorithm() Algorithm {
	return AlgorithmSlidingWindow
}

func (l *SlidingWindow) Check(identifier string, limit int, window time.Duration, _ int) Decision {
	now := l.options.clock()
	if limit <= 0 || window <= 0 {
		return rejectInvalid(limit, now, window)
	}

	index := windowIndex(now, window)
	var decision Decision
	l.table.update(identifier, now, l.options.idleAfter(window), func() slidingWindowState {
		return slidingWindowState{index: index}
	}, func(state *slidingWindowState) {
		state.advance(index)

		start := windowStart(state.index, window)
		elapsed := float64(now.Sub(start)) / float64(window)
		if elapsed < 0 {
			elapsed = 0
		}
		weight := 1 - elapsed
		estimate := float64(state.previous)*weight + float64(state.current)

		decision = Decision{
			Limit:   limit,
			ResetAt: start.Add(window),
		}
		if estimate < float64(limit) {
			state.current++
			estimate++
			decision.Allowed = true
		} else {
			decision.RetryAfter = state.retryAt(start, window, limit).Sub(now)
		}
		decision.Remaining = clampRemaining(int64(math.Floor(float64(limit) - estimate)))
	})
	return decision
}

// advance rolls the counters forward to window index. Skipping more than one window clears both.
func (s *slidingWindowState) advance(index int64) {
	if index <= s.index {
		return
	}
	if index == s.index+1 {
		s.previous = s.current
	} else {
		s.previous = 0
	}
	s.current = 0
	s.index = index
}

// retryAt is the earliest time the estimate drops below limit, assuming no further admissions.
func (s *slidingWindowState) retryAt(start time.Time, window time.Duration, limit int) time.Time {
	if s.current < int64(limit) && s.previous > 0 {
		// previous * (1 - t/window) + current < limit
		fraction := 1 - float64(int64(limit)-s.current)/float64(s.previous)
		return start.Add(time.Duration(math.Ceil(fraction * float64(window))))
	}
	// next window, where current becomes previous
	next := start.Add(window)
	fraction := 1 - float64(limit)/float64(s.current)
	if fraction < 0 {
		fraction = 0
	}
	return next.Add(time.Duration(math.Ceil(fraction * float64(window))))
}

func (l *SlidingWindow) Purge(now time.Time) int {
	return l.table.Purge(now)
}

func (l *SlidingWindow) Len() int {
	return l.table.Len()
}
