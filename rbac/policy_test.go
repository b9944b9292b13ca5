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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func policyEngine(t *testing.T) *Engine {
	return newTestEngine(t,
		Role{Name: "user", Permissions: []string{"posts:read"}},
		Role{Name: "moderator", Permissions: []string{"posts:delete"}, Inherits: []string{"user"}},
		Role{Name: "auditor", Permissions: []string{"audit:read"}},
		Role{Name: "admin", Permissions: []string{Wildcard}},
	)
}

func Test_ValidateRouteAccess(t *testing.T) {
	engine := policyEngine(t)

	t.Run("a public policy allows anonymous callers", func(t *testing.T) {
		allowed, reason := engine.ValidateRouteAccess(nil, Public())

		req := require.New(t)
		req.True(allowed)
		req.Empty(reason)
	})

	t.Run("a protected policy refuses anonymous callers", func(t *testing.T) {
		allowed, reason := engine.ValidateRouteAccess(nil, AnyRole("user"))

		req := require.New(t)
		req.False(allowed)
		req.Equal("authentication required", reason)
	})

	t.Run("any role is satisfied by one held role", func(t *testing.T) {
		allowed, _ := engine.ValidateRouteAccess([]string{"auditor"}, AnyRole("admin", "auditor"))
		require.New(t).True(allowed)
	})

	t.Run("any role is satisfied through inheritance", func(t *testing.T) {
		allowed, _ := engine.ValidateRouteAccess([]string{"moderator"}, AnyRole("user"))
		require.New(t).True(allowed)
	})

	t.Run("any role names the candidates when refused", func(t *testing.T) {
		allowed, reason := engine.ValidateRouteAccess([]string{"user"}, AnyRole("admin", "auditor"))

		req := require.New(t)
		req.False(allowed)
		req.Equal("missing role: one of [admin, auditor]", reason)
	})

	t.Run("all roles names the specific missing role", func(t *testing.T) {
		allowed, reason := engine.ValidateRouteAccess([]string{"moderator"}, AllRoles("user", "auditor"))

		req := require.New(t)
		req.False(allowed)
		req.Equal("missing role: auditor", reason)
	})

	t.Run("all roles lists every missing role", func(t *testing.T) {
		allowed, reason := engine.ValidateRouteAccess([]string{"user"}, AllRoles("user", "auditor", "admin"))

		req := require.New(t)
		req.False(allowed)
		req.Equal("missing roles: auditor, admin", reason)
	})

	t.Run("all roles is satisfied when every role is held", func(t *testing.T) {
		allowed, _ := engine.ValidateRouteAccess([]string{"moderator", "auditor"}, AllRoles("user", "auditor"))
		require.New(t).True(allowed)
	})

	t.Run("any permission is satisfied by an inherited permission", func(t *testing.T) {
		allowed, _ := engine.ValidateRouteAccess([]string{"moderator"}, AnyPermission("posts:read"))
		require.New(t).True(allowed)
	})

	t.Run("any permission names the missing permission", func(t *testing.T) {
		allowed, reason := engine.ValidateRouteAccess([]string{"user"}, AnyPermission("posts:delete"))

		req := require.New(t)
		req.False(allowed)
		req.Equal("missing permission: posts:delete", reason)
	})

	t.Run("the wildcard satisfies any permission", func(t *testing.T) {
		allowed, _ := engine.ValidateRouteAccess([]string{"admin"}, AnyPermission("billing:write"))
		require.New(t).True(allowed)
	})

	t.Run("authorize returns an access denied error carrying the reason", func(t *testing.T) {
		err := engine.Authorize([]string{"user"}, AnyPermission("posts:delete"))

		req := require.New(t)
		var deniedErr *AccessDeniedError
		req.True(errors.As(err, &deniedErr))
		req.Equal("missing permission: posts:delete", deniedErr.Reason)
	})
}

func Test_ParsePolicy(t *testing.T) {

	t.Run("public shorthand yields a public policy", func(t *testing.T) {
		policy, err := ParsePolicy(map[string]interface{}{"public": true})

		req := require.New(t)
		req.NoError(err)
		req.Equal(RequireNone, policy.requirement())
	})

	t.Run("an explicit requirement is decoded", func(t *testing.T) {
		policy, err := ParsePolicy(map[string]interface{}{
			"require": "all_roles",
			"roles":   []interface{}{"admin", "auditor"},
		})

		req := require.New(t)
		req.NoError(err)
		req.Equal(RequireAllRoles, policy.Require)
		req.Equal([]string{"admin", "auditor"}, policy.Roles)
	})

	t.Run("roles without a requirement imply any role", func(t *testing.T) {
		policy, err := ParsePolicy(map[string]interface{}{"roles": []interface{}{"admin"}})

		req := require.New(t)
		req.NoError(err)
		req.Equal(RequireAnyRole, policy.requirement())
	})

	t.Run("a requirement without names is rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{"require": "any_permission"})
		require.New(t).Error(err)
	})

	t.Run("an unknown requirement is rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{"require": "sometimes", "roles": []interface{}{"a"}})
		require.New(t).Error(err)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{"rolez": []interface{}{"a"}})
		require.New(t).Error(err)
	})

	t.Run("require none naming roles is rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{"require": "none", "roles": []interface{}{"admin"}})

		req := require.New(t)
		req.Error(err)
		req.Contains(err.Error(), "cannot name roles or permissions")
	})

	t.Run("require none naming permissions is rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{"require": "none", "permissions": []interface{}{"posts:read"}})
		require.New(t).Error(err)
	})

	t.Run("public shorthand naming roles is rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{"public": true, "roles": []interface{}{"admin"}})
		require.New(t).Error(err)
	})

	t.Run("public shorthand with another requirement is rejected", func(t *testing.T) {
		_, err := ParsePolicy(map[string]interface{}{
			"public":  true,
			"require": "any_role",
			"roles":   []interface{}{"admin"},
		})

		req := require.New(t)
		req.Error(err)
		req.Contains(err.Error(), "cannot require [any_role]")
	})

	t.Run("public shorthand with require none is accepted", func(t *testing.T) {
		policy, err := ParsePolicy(map[string]interface{}{"public": true, "require": "none"})

		req := require.New(t)
		req.NoError(err)
		req.True(policy.IsPublic())
	})

	t.Run("validate rejects a none policy built with roles", func(t *testing.T) {
		policy := Policy{Require: RequireNone, Roles: []string{"admin"}}
		require.New(t).Error(policy.Validate())
	})
}

func Test_ParseRoles(t *testing.T) {
	roles, err := ParseRoles(map[string]interface{}{
		"user": map[string]interface{}{
			"permissions": []interface{}{"read"},
		},
		"admin": map[string]interface{}{
			"permissions": []interface{}{"write"},
			"inherits":    []interface{}{"user"},
		},
		"guest": nil,
	})

	req := require.New(t)
	req.NoError(err)
	req.Len(roles, 3)
	req.Equal("admin", roles[0].Name)
	req.Equal([]string{"user"}, roles[0].Inherits)
	req.Equal("guest", roles[1].Name)
	req.Empty(roles[1].Permissions)
	req.Equal([]string{"read"}, roles[2].Permissions)

	engine, err := NewEngine(roles...)
	req.NoError(err)
	req.Equal([]string{"read", "write"}, engine.EffectivePermissions("admin").Slice())
}

func TestPolicy_IsPublic(t *testing.T) {
	req := require.New(t)
	req.True(Public().IsPublic())
	req.True(Policy{}.IsPublic())
	req.False(Policy{Roles: []string{"user"}}.IsPublic())
	req.False(AnyPermission("read").IsPublic())
}
