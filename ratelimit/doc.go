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

/*
Package ratelimit provides per-identifier request admission under three algorithms: fixed window, sliding window and
token bucket.

All three share the Limiter contract: Check(identifier, limit, window, burst) returns a Decision carrying whether the
request is admitted, how many requests remain and when the limit resets, shaped for direct use in rate limit response
headers (see Decision.Apply).

State is kept per identifier in a sharded table. Each check is a read-modify-write performed under the lock of the
identifier's shard, so concurrent checks against one identifier never admit more than the configured limit. Entries
are created on first observation and may be purged once idle for a multiple of their window (Purge, StartJanitor);
a purged identifier behaves exactly like a new one.

The sliding window uses two adjacent fixed window counters and weights the previous window by the fraction of it
still inside the lookback. Memory per identifier is constant; the count is an estimate that assumes requests in the
previous window were evenly spread.

Decisions are not transactional: a request cancelled after admission does not return its token or count.
*/
package ratelimit
