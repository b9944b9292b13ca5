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

package extensions

import (
	"net/http"
	"testing"

	"github.com/openziti/xpolicy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func rbacConfig(routes ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"routes": routes,
		"extensions": []interface{}{
			map[string]interface{}{"binding": RBACBinding, "options": map[string]interface{}{"rolesHeader": "x-roles", "trustRolesHeader": true}},
		},
		"rbac": map[string]interface{}{
			"roles": map[string]interface{}{
				"user":  map[string]interface{}{"permissions": []interface{}{"posts:read"}},
				"admin": map[string]interface{}{"permissions": []interface{}{"posts:write"}, "inherits": []interface{}{"user"}},
			},
		},
	}
}

func withRoles(request *http.Request, roles ...string) *http.Request {
	return request.WithContext(xpolicy.WithRoles(request.Context(), roles))
}

func TestRBACExtension(t *testing.T) {
	newInstance := func(t *testing.T) *xpolicy.Instance {
		return newTestInstance(t, rbacConfig(
			route("/admin/*", map[string]interface{}{"rbac": map[string]interface{}{"require": "any_role", "roles": []interface{}{"admin"}}}),
			route("/posts/*", map[string]interface{}{"rbac": map[string]interface{}{"permissions": []interface{}{"posts:read"}}}),
			route("/posts/public", map[string]interface{}{"rbac": map[string]interface{}{"public": true}}),
		))
	}

	t.Run("callers without roles are denied", func(t *testing.T) {
		req := require.New(t)
		handler := handlerFor(t, newInstance(t), "/admin/users", okEndpoint())

		recorder := do(handler, get("/admin/users"))
		req.Equal(http.StatusForbidden, recorder.Code)
		req.Contains(recorder.Body.String(), "access denied: authentication required")
	})

	t.Run("a denial names the missing role", func(t *testing.T) {
		req := require.New(t)
		instance := newInstance(t)
		handler := handlerFor(t, instance, "/admin/users", okEndpoint())

		recorder := do(handler, withRoles(get("/admin/users"), "user"))
		req.Equal(http.StatusForbidden, recorder.Code)
		req.Contains(recorder.Body.String(), "missing role: admin")

		extension, ok := instance.Extensions().Get(RBACBinding).(*RBACExtension)
		req.True(ok)
		req.Equal(1.0, testutil.ToFloat64(extension.Denials("any_role")))
	})

	t.Run("holding the role admits the caller", func(t *testing.T) {
		req := require.New(t)
		handler := handlerFor(t, newInstance(t), "/admin/users", okEndpoint())
		req.Equal(http.StatusOK, do(handler, withRoles(get("/admin/users"), "admin")).Code)
	})

	t.Run("inherited permissions satisfy a permission policy", func(t *testing.T) {
		req := require.New(t)
		handler := handlerFor(t, newInstance(t), "/posts/42", okEndpoint())
		req.Equal(http.StatusOK, do(handler, withRoles(get("/posts/42"), "admin")).Code)
		req.Equal(http.StatusOK, do(handler, withRoles(get("/posts/42"), "user")).Code)
	})

	t.Run("roles are read from the configured header without context roles", func(t *testing.T) {
		req := require.New(t)
		handler := handlerFor(t, newInstance(t), "/admin/users", okEndpoint())

		request := get("/admin/users")
		request.Header.Set("X-Roles", "user, admin")
		req.Equal(http.StatusOK, do(handler, request).Code)

		request = get("/admin/users")
		request.Header.Set("X-Roles", " user ")
		req.Equal(http.StatusForbidden, do(handler, request).Code)
	})

	t.Run("public routes get no access check", func(t *testing.T) {
		req := require.New(t)
		instance := newInstance(t)

		config, err := instance.Resolve("/posts/public", nil)
		req.NoError(err)
		_, ok, err := instance.Build("/posts/public", nil, config)
		req.NoError(err)
		req.False(ok)

		handler := handlerFor(t, instance, "/posts/public", okEndpoint())
		req.Equal(http.StatusOK, do(handler, get("/posts/public")).Code)
	})

	t.Run("undefined roles are reported at load", func(t *testing.T) {
		req := require.New(t)
		registry := xpolicy.NewRegistryMap()
		req.NoError(Register(registry))

		err := xpolicy.NewInstance(registry).LoadConfig(rbacConfig(
			route("/a/*", map[string]interface{}{"rbac": map[string]interface{}{"roles": []interface{}{"ghost"}}}),
			route("/b/*", map[string]interface{}{"rbac": map[string]interface{}{"roles": []interface{}{"admin", "phantom"}}}),
		))
		req.Error(err)

		problems := xpolicy.Problems(err)
		req.Len(problems, 2)
		for _, problem := range problems {
			var configErr *xpolicy.ConfigurationError
			req.ErrorAs(problem, &configErr)
			req.Equal(RBACBinding, configErr.Name)
		}
		req.Contains(err.Error(), "ghost")
		req.Contains(err.Error(), "phantom")
	})

	t.Run("an unevaluable policy fails the load", func(t *testing.T) {
		req := require.New(t)
		registry := xpolicy.NewRegistryMap()
		req.NoError(Register(registry))

		instance := xpolicy.NewInstance(registry)
		err := instance.LoadConfig(rbacConfig(
			route("/a/*", map[string]interface{}{"rbac": map[string]interface{}{"require": "all_roles"}}),
		))
		req.Error(err)
		req.False(instance.Enabled())

		var configErr *xpolicy.ConfigurationError
		req.ErrorAs(err, &configErr)
		req.Equal(xpolicy.KindExtension, configErr.Kind)
		req.Equal(RBACBinding, configErr.Name)
		req.Contains(err.Error(), "/a/*")
	})

	t.Run("a policy that is public and names roles fails the load", func(t *testing.T) {
		req := require.New(t)
		registry := xpolicy.NewRegistryMap()
		req.NoError(Register(registry))

		err := xpolicy.NewInstance(registry).LoadConfig(rbacConfig(
			route("/admin/*", map[string]interface{}{"rbac": map[string]interface{}{"require": "none", "roles": []interface{}{"admin"}}}),
		))
		req.Error(err)
		req.Contains(err.Error(), "cannot name roles or permissions")
	})

	t.Run("a protected route below public defaults stays protected", func(t *testing.T) {
		req := require.New(t)
		cfg := rbacConfig(
			route("/admin/*", map[string]interface{}{"rbac": map[string]interface{}{"roles": []interface{}{"admin"}}}),
		)
		cfg["defaults"] = map[string]interface{}{"rbac": map[string]interface{}{"require": "none"}}
		instance := newTestInstance(t, cfg)

		config, err := instance.Resolve("/admin/x", nil)
		req.NoError(err)
		req.Equal(map[string]interface{}{"roles": []interface{}{"admin"}}, config.Section(RBACBinding))

		handler := handlerFor(t, instance, "/admin/x", okEndpoint())
		req.Equal(http.StatusForbidden, do(handler, get("/admin/x")).Code)
		req.Equal(http.StatusOK, do(handler, withRoles(get("/admin/x"), "admin")).Code)

		handler = handlerFor(t, instance, "/home", okEndpoint())
		req.Equal(http.StatusOK, do(handler, get("/home")).Code)
	})

	t.Run("a public exception below a protected wildcard is public", func(t *testing.T) {
		req := require.New(t)
		instance := newInstance(t)

		config, err := instance.Resolve("/posts/public", nil)
		req.NoError(err)
		req.Equal(map[string]interface{}{"public": true}, config.Section(RBACBinding))
	})

	t.Run("a roles header is refused unless trusted", func(t *testing.T) {
		req := require.New(t)
		registry := xpolicy.NewRegistryMap()
		req.NoError(Register(registry))

		cfg := rbacConfig(route("/admin/*", map[string]interface{}{"rbac": map[string]interface{}{"roles": []interface{}{"admin"}}}))
		cfg["extensions"] = []interface{}{
			map[string]interface{}{"binding": RBACBinding, "options": map[string]interface{}{"rolesHeader": "x-roles"}},
		}

		err := xpolicy.NewInstance(registry).LoadConfig(cfg)
		req.Error(err)
		req.Contains(err.Error(), "trustRolesHeader")
	})

	t.Run("without a roles header the header is never read", func(t *testing.T) {
		req := require.New(t)
		cfg := rbacConfig(route("/admin/*", map[string]interface{}{"rbac": map[string]interface{}{"roles": []interface{}{"admin"}}}))
		cfg["extensions"] = []interface{}{map[string]interface{}{"binding": RBACBinding}}
		handler := handlerFor(t, newTestInstance(t, cfg), "/admin/users", okEndpoint())

		request := get("/admin/users")
		request.Header.Set("X-Roles", "admin")
		req.Equal(http.StatusForbidden, do(handler, request).Code)
	})
}
