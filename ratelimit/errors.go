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
	"fmt"
)

// ExceededError is a non-fatal, per-request rejection. The caller should refuse just this request; no other state
// is affected.
type ExceededError struct {
	Identifier string
	Decision   Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded for [%s], retry after %s", e.Decision.Limit, e.Identifier, e.Decision.RetryAfter)
}
