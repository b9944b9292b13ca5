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
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Engine answers permission and access questions over a fixed set of roles.
type Engine struct {
	roles     map[string]*Role
	names     []string
	effective map[string]PermissionSet
	ancestors map[string]map[string]struct{}
}

// NewEngine creates an Engine from a set of roles. Role names must be non-empty and unique. Structural problems of
// the inheritance graph are not rejected here, see ValidateConfig.
func NewEngine(roles ...Role) (*Engine, error) {
	engine := &Engine{
		roles:     map[string]*Role{},
		effective: map[string]PermissionSet{},
		ancestors: map[string]map[string]struct{}{},
	}

	for _, role := range roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return nil, errors.New("role name must not be empty")
		}
		if _, ok := engine.roles[name]; ok {
			return nil, errors.Errorf("role [%s] defined more than once", name)
		}

		engine.roles[name] = &Role{
			Name:        name,
			Permissions: dedupe(role.Permissions),
			Inherits:    dedupe(role.Inherits),
		}
		engine.names = append(engine.names, name)
	}

	sort.Strings(engine.names)

	for _, name := range engine.names {
		permissions := PermissionSet{}
		ancestors := map[string]struct{}{}
		engine.collect(name, permissions, ancestors)
		engine.effective[name] = permissions
		engine.ancestors[name] = ancestors
	}

	return engine, nil
}

// collect walks the inheritance graph depth first from name. The visited set (ancestors) stops the walk on cycles,
// which ValidateConfig reports separately.
func (engine *Engine) collect(name string, permissions PermissionSet, visited map[string]struct{}) {
	if _, ok := visited[name]; ok {
		return
	}
	visited[name] = struct{}{}

	role, ok := engine.roles[name]
	if !ok {
		return
	}

	permissions.addAll(role.Permissions)
	for _, parent := range role.Inherits {
		engine.collect(parent, permissions, visited)
	}
}

// Roles returns the sorted names of all defined roles.
func (engine *Engine) Roles() []string {
	result := make([]string, len(engine.names))
	copy(result, engine.names)
	return result
}

// Role returns a copy of a defined role.
func (engine *Engine) Role(name string) (Role, bool) {
	role, ok := engine.roles[name]
	if !ok {
		return Role{}, false
	}
	return Role{
		Name:        role.Name,
		Permissions: append([]string(nil), role.Permissions...),
		Inherits:    append([]string(nil), role.Inherits...),
	}, true
}

// EffectivePermissions returns the union of the role's own permissions and those of every role it transitively
// inherits. Undefined roles have no permissions.
func (engine *Engine) EffectivePermissions(role string) PermissionSet {
	result := PermissionSet{}
	for permission := range engine.effective[role] {
		result[permission] = struct{}{}
	}
	return result
}

// CheckPermission returns true if any of the roles has the permission, directly, through inheritance or through
// the Wildcard.
func (engine *Engine) CheckPermission(roles []string, permission string) bool {
	for _, role := range roles {
		if set, ok := engine.effective[role]; ok && set.Allows(permission) {
			return true
		}
	}
	return false
}

// HasRole returns true if any of the roles is the required role or inherits it.
func (engine *Engine) HasRole(roles []string, required string) bool {
	for _, role := range roles {
		if role == required {
			return true
		}
		if _, ok := engine.ancestors[role][required]; ok {
			return true
		}
	}
	return false
}

// ValidateConfig reports every reference to an undefined role and every inheritance cycle. All problems are
// returned together, unknown references first, each group in a deterministic order. An empty result means the
// graph is sound.
func (engine *Engine) ValidateConfig() []error {
	var errs []error

	for _, name := range engine.names {
		for _, parent := range engine.roles[name].Inherits {
			if _, ok := engine.roles[parent]; !ok {
				errs = append(errs, &UnknownRoleError{Role: name, Inherited: parent})
			}
		}
	}

	errs = append(errs, engine.cycles()...)

	return errs
}

// cycles reports every strongly connected component of the inheritance graph that contains a cycle, meaning a
// component of two or more roles or a role inheriting itself. Components are found with Tarjan's algorithm and
// returned ordered by their smallest member.
func (engine *Engine) cycles() []error {
	index := map[string]int{}
	lowlink := map[string]int{}
	stacked := map[string]bool{}
	var stack []string
	var found []*CycleError
	next := 0

	var connect func(name string)
	connect = func(name string) {
		index[name] = next
		lowlink[name] = next
		next++
		stack = append(stack, name)
		stacked[name] = true

		selfLoop := false
		for _, parent := range engine.parents(name) {
			if parent == name {
				selfLoop = true
			}
			if _, visited := index[parent]; !visited {
				connect(parent)
				lowlink[name] = min(lowlink[name], lowlink[parent])
			} else if stacked[parent] {
				lowlink[name] = min(lowlink[name], index[parent])
			}
		}

		if lowlink[name] != index[name] {
			return
		}

		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stacked[top] = false
			component = append(component, top)
			if top == name {
				break
			}
		}

		if len(component) > 1 || selfLoop {
			sort.Strings(component)
			found = append(found, &CycleError{Members: component, Path: engine.cyclePath(component)})
		}
	}

	for _, name := range engine.names {
		if _, visited := index[name]; !visited {
			connect(name)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Members[0] < found[j].Members[0] })

	result := make([]error, 0, len(found))
	for _, cycle := range found {
		result = append(result, cycle)
	}
	return result
}

// parents returns the defined roles a role inherits from directly.
func (engine *Engine) parents(name string) []string {
	var result []string
	for _, parent := range engine.roles[name].Inherits {
		if _, ok := engine.roles[parent]; ok {
			result = append(result, parent)
		}
	}
	return result
}

// cyclePath returns the shortest inheritance path inside a component leading from its smallest member back to
// itself. The component must be sorted.
func (engine *Engine) cyclePath(component []string) []string {
	members := map[string]struct{}{}
	for _, member := range component {
		members[member] = struct{}{}
	}

	start := component[0]
	previous := map[string]string{}
	queue := []string{start}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, parent := range engine.parents(name) {
			if _, ok := members[parent]; !ok {
				continue
			}
			if parent == start {
				path := []string{name}
				for path[0] != start {
					path = append([]string{previous[path[0]]}, path...)
				}
				return path
			}
			if _, seen := previous[parent]; !seen {
				previous[parent] = name
				queue = append(queue, parent)
			}
		}
	}
	return []string{start}
}

// ValidateRouteAccess evaluates a route access policy for a caller holding roles. When access is denied the reason
// names the specific missing role(s) or permission(s).
func (engine *Engine) ValidateRouteAccess(roles []string, policy Policy) (bool, string) {
	requirement := policy.requirement()

	if requirement == RequireNone {
		return true, ""
	}

	if len(roles) == 0 {
		return false, "authentication required"
	}

	switch requirement {
	case RequireAnyRole:
		for _, role := range policy.Roles {
			if engine.HasRole(roles, role) {
				return true, ""
			}
		}
		return false, missing("role", policy.Roles, true)

	case RequireAllRoles:
		var absent []string
		for _, role := range policy.Roles {
			if !engine.HasRole(roles, role) {
				absent = append(absent, role)
			}
		}
		if len(absent) > 0 {
			return false, missing("role", absent, false)
		}
		return true, ""

	case RequireAnyPermission:
		for _, permission := range policy.Permissions {
			if engine.CheckPermission(roles, permission) {
				return true, ""
			}
		}
		return false, missing("permission", policy.Permissions, true)
	}

	return false, fmt.Sprintf("unsupported access requirement [%s]", requirement)
}

// Authorize is ValidateRouteAccess expressed as an error: nil or an *AccessDeniedError.
func (engine *Engine) Authorize(roles []string, policy Policy) error {
	if allowed, reason := engine.ValidateRouteAccess(roles, policy); !allowed {
		return &AccessDeniedError{Reason: reason}
	}
	return nil
}

func missing(kind string, names []string, anyOf bool) string {
	if len(names) == 1 {
		return fmt.Sprintf("missing %s: %s", kind, names[0])
	}
	if anyOf {
		return fmt.Sprintf("missing %s: one of [%s]", kind, strings.Join(names, ", "))
	}
	return fmt.Sprintf("missing %ss: %s", kind, strings.Join(names, ", "))
}
