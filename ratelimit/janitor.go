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
	"time"

	"github.com/michaelquigley/pfxlog"
)

// StartJanitor purges idle state from each purger every interval until ctx is done. It returns immediately; the
// purging runs on its own goroutine.
func StartJanitor(ctx context.Context, every time.Duration, purgers ...Purger) {
	if every <= 0 || len(purgers) == 0 {
		return
	}

	go func() {
		log := pfxlog.Logger()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed := 0
				for _, purger := range purgers {
					removed += purger.Purge(now)
				}
				if removed > 0 {
					log.WithField("removed", removed).Debug("purged idle rate limit state")
				}
			}
		}
	}()
}
