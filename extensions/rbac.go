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
	"strings"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xpolicy"
	"github.com/openziti/xpolicy/rbac"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"
)

const RBACBinding = "rbac"

// RBACFactory creates the `rbac` extension over the roles of the instance configuration. Extension options:
//
//	rolesHeader:      a request header holding comma separated roles, used when no roles were put on the request
//	                  context with xpolicy.WithRoles
//	trustRolesHeader: must be true for rolesHeader to be accepted. Clients can send any header, so only enable it
//	                  behind a proxy that removes the header from client requests and sets it itself
//
// Route option `rbac` is an access policy: {require: none|any_role|all_roles|any_permission, roles, permissions}
// or {public: true}. The section is never merged: the most specific pattern declaring it replaces it whole.
type RBACFactory struct {
	settings *settings
}

func NewRBACFactory(opts ...Option) *RBACFactory {
	return &RBACFactory{settings: newSettings(opts)}
}

func (factory *RBACFactory) Binding() string {
	return RBACBinding
}

// AtomicSection keeps a public exception below a protected wildcard, or a protected route below public defaults, from
// inheriting half of the enclosing policy.
func (factory *RBACFactory) AtomicSection() bool {
	return true
}

// Validate reports every role named by an rbac fragment of the defaults or routes that is not defined.
func (factory *RBACFactory) Validate(config *xpolicy.InstanceConfig) error {
	engine := config.RBAC()
	if engine == nil {
		return errors.New("rbac extension requires the role configuration to be loaded")
	}

	var errs []error
	check := func(name string, options map[string]interface{}) {
		section, ok := options[RBACBinding].(map[string]interface{})
		if !ok {
			return
		}
		rolesValue, ok := section["roles"]
		if !ok {
			return
		}
		roles, err := cast.ToStringSliceE(rolesValue)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "route [%s] roles must be a list", name))
			return
		}
		for _, role := range roles {
			if _, found := engine.Role(role); !found {
				errs = append(errs, errors.Errorf("route [%s] references undefined role [%s]", name, role))
			}
		}
	}

	check(xpolicy.DefaultsSection, config.Defaults)
	for _, route := range config.Routes {
		check(route.Path, route.Options)
	}

	return joinErrors(errs)
}

type rbacOptions struct {
	RolesHeader      string `mapstructure:"rolesHeader"`
	TrustRolesHeader bool   `mapstructure:"trustRolesHeader"`
}

func (factory *RBACFactory) New(options map[string]interface{}, config *xpolicy.InstanceConfig) (xpolicy.Extension, error) {
	parsed := rbacOptions{}
	if err := decode(options, &parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode rbac options")
	}
	if parsed.RolesHeader != "" && !parsed.TrustRolesHeader {
		return nil, errors.Errorf("rolesHeader [%s] requires trustRolesHeader: true behind a proxy that sets the header", parsed.RolesHeader)
	}

	engine := config.RBAC()
	if engine == nil {
		return nil, errors.New("rbac extension requires the role configuration to be loaded")
	}

	denials, err := registerCounter(factory.settings.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: factory.settings.namespace,
		Subsystem: "rbac",
		Name:      "denials_total",
		Help:      "Requests denied by route access policies.",
	}, []string{"requirement"}))
	if err != nil {
		return nil, errors.Wrap(err, "could not register rbac metrics")
	}

	return &RBACExtension{
		engine:      engine,
		rolesHeader: http.CanonicalHeaderKey(parsed.RolesHeader),
		denials:     denials,
	}, nil
}

// RBACExtension enforces route access policies. Denied requests are answered with 403 and the denial reason.
type RBACExtension struct {
	engine      *rbac.Engine
	rolesHeader string
	denials     *prometheus.CounterVec
}

func (extension *RBACExtension) Binding() string {
	return RBACBinding
}

func (extension *RBACExtension) AppliesTo(_ string, _ []string, config xpolicy.RouteConfig) bool {
	return config.Section(RBACBinding) != nil
}

func (extension *RBACExtension) Middleware(config xpolicy.RouteConfig) (xpolicy.Contribution, error) {
	policy, err := rbac.ParsePolicy(config.Section(RBACBinding))
	if err != nil {
		return xpolicy.NoContribution, err
	}
	if err = policy.ValidateAgainst(extension.engine); err != nil {
		return xpolicy.NoContribution, err
	}
	if policy.IsPublic() {
		return xpolicy.NoContribution, nil
	}

	requirement := string(policy.Require)
	if requirement == "" {
		requirement = "inferred"
	}

	return xpolicy.Contribute(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			roles := extension.roles(request)
			if err := extension.engine.Authorize(roles, policy); err != nil {
				extension.denials.WithLabelValues(requirement).Inc()
				pfxlog.Logger().WithField("path", request.URL.Path).WithField("roles", roles).Debug(err.Error())
				http.Error(writer, err.Error(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(writer, request)
		})
	}), nil
}

// Denials returns the denial counter for a requirement label.
func (extension *RBACExtension) Denials(requirement string) prometheus.Counter {
	return extension.denials.WithLabelValues(requirement)
}

func (extension *RBACExtension) roles(request *http.Request) []string {
	if roles, ok := xpolicy.RolesFromContext(request.Context()); ok {
		return roles
	}
	if extension.rolesHeader == "" {
		return nil
	}

	var roles []string
	for _, role := range strings.Split(request.Header.Get(extension.rolesHeader), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
