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

package rbac

import (
	"fmt"
	"strings"
)

// UnknownRoleError is reported when a role inherits from a role that is not defined.
type UnknownRoleError struct {
	Role      string
	Inherited string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("role [%s] inherits undefined role [%s]", e.Role, e.Inherited)
}

// CycleError is reported once for every group of roles tied together by inheritance cycles. Members lists the
// group sorted by name. Path is one cycle through the group in inheritance order, starting with the smallest member.
// For a simple cycle Path and Members hold the same roles.
type CycleError struct {
	Members []string
	Path    []string
}

func (e *CycleError) Error() string {
	path := e.Path
	if len(path) == 0 {
		path = e.Members
	}
	msg := fmt.Sprintf("role inheritance cycle: %s", strings.Join(append(append([]string{}, path...), path[0]), " -> "))
	if len(e.Members) > len(path) {
		msg += fmt.Sprintf(" (cycles join roles [%s])", strings.Join(e.Members, ", "))
	}
	return msg
}

// Contains returns true if the role is a member of the cycle.
func (e *CycleError) Contains(role string) bool {
	for _, member := range e.Members {
		if member == role {
			return true
		}
	}
	return false
}

// AccessDeniedError is a non-fatal, per-request rejection. Reason names the missing role or permission.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}
