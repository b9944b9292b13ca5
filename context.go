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

package xpolicy

import "context"

type ContextKey string

const (
	RouteConfigContextKey = ContextKey("xpolicy.RouteConfig.ContextKey")
	RolesContextKey       = ContextKey("xpolicy.Roles.ContextKey")
	PrincipalContextKey   = ContextKey("xpolicy.Principal.ContextKey")
)

// RouteConfigFromContext is a utility function to retrieve the RouteConfig that was resolved for the current request
// during downstream http.Handler processing. Returns nil if the request was not dispatched through an Instance.
func RouteConfigFromContext(ctx context.Context) RouteConfig {
	if val := ctx.Value(RouteConfigContextKey); val != nil {
		if config, ok := val.(RouteConfig); ok {
			return config
		}
	}

	return nil
}

func withRouteConfig(ctx context.Context, config RouteConfig) context.Context {
	return context.WithValue(ctx, RouteConfigContextKey, config)
}

// WithRoles records the roles held by the caller. It is intended for an upstream authenticator; the rbac extension
// reads them back with RolesFromContext.
func WithRoles(ctx context.Context, roles []string) context.Context {
	local := make([]string, len(roles))
	copy(local, roles)
	return context.WithValue(ctx, RolesContextKey, local)
}

// RolesFromContext returns the caller's roles and whether they were recorded at all.
func RolesFromContext(ctx context.Context) ([]string, bool) {
	if val := ctx.Value(RolesContextKey); val != nil {
		if roles, ok := val.([]string); ok {
			return roles, true
		}
	}

	return nil, false
}

// WithPrincipal records the identity of the caller, used by the `principal` rate limit identifier strategy.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principal)
}

func PrincipalFromContext(ctx context.Context) (string, bool) {
	if val := ctx.Value(PrincipalContextKey); val != nil {
		if principal, ok := val.(string); ok && principal != "" {
			return principal, true
		}
	}

	return "", false
}
