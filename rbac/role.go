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
	"sort"
)

// Wildcard is the permission that matches every permission.
const Wildcard = "*"

// Role is a named set of permissions plus the names of the roles it inherits from. Inherited roles are references by
// name, they are resolved against the Engine the role is registered with.
type Role struct {
	Name        string
	Permissions []string
	Inherits    []string
}

// PermissionSet is a set of permission strings.
type PermissionSet map[string]struct{}

// NewPermissionSet creates a PermissionSet from a list of permissions.
func NewPermissionSet(permissions ...string) PermissionSet {
	result := PermissionSet{}
	for _, permission := range permissions {
		result[permission] = struct{}{}
	}
	return result
}

// Allows returns true if the set contains the permission or the Wildcard.
func (set PermissionSet) Allows(permission string) bool {
	if _, ok := set[Wildcard]; ok {
		return true
	}
	_, ok := set[permission]
	return ok
}

// Contains returns true if the set contains exactly the permission.
func (set PermissionSet) Contains(permission string) bool {
	_, ok := set[permission]
	return ok
}

// Slice returns the permissions in sorted order.
func (set PermissionSet) Slice() []string {
	result := make([]string, 0, len(set))
	for permission := range set {
		result = append(result, permission)
	}
	sort.Strings(result)
	return result
}

func (set PermissionSet) addAll(other []string) {
	for _, permission := range other {
		set[permission] = struct{}{}
	}
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
