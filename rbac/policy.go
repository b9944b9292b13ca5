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
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Requirement selects how a Policy is evaluated.
type Requirement string

const (
	RequireNone          Requirement = "none"
	RequireAnyRole       Requirement = "any_role"
	RequireAllRoles      Requirement = "all_roles"
	RequireAnyPermission Requirement = "any_permission"
)

// Policy is the access requirement of a route.
type Policy struct {
	Require     Requirement `mapstructure:"require"`
	Roles       []string    `mapstructure:"roles"`
	Permissions []string    `mapstructure:"permissions"`
}

// Public is a policy that requires no authentication.
func Public() Policy {
	return Policy{Require: RequireNone}
}

// AnyRole requires the caller to hold at least one of the roles.
func AnyRole(roles ...string) Policy {
	return Policy{Require: RequireAnyRole, Roles: roles}
}

// AllRoles requires the caller to hold every one of the roles.
func AllRoles(roles ...string) Policy {
	return Policy{Require: RequireAllRoles, Roles: roles}
}

// AnyPermission requires the caller to have at least one of the permissions.
func AnyPermission(permissions ...string) Policy {
	return Policy{Require: RequireAnyPermission, Permissions: permissions}
}

// requirement infers the requirement when it is not explicit: roles imply any_role, permissions any_permission,
// neither means none.
func (policy Policy) requirement() Requirement {
	if policy.Require != "" {
		return Requirement(strings.ToLower(string(policy.Require)))
	}
	if len(policy.Roles) > 0 {
		return RequireAnyRole
	}
	if len(policy.Permissions) > 0 {
		return RequireAnyPermission
	}
	return RequireNone
}

// IsPublic returns true when the policy admits every caller, authenticated or not.
func (policy Policy) IsPublic() bool {
	return policy.requirement() == RequireNone
}

// Validate checks that the policy is evaluable.
func (policy Policy) Validate() error {
	switch policy.requirement() {
	case RequireNone:
		if len(policy.Roles) > 0 || len(policy.Permissions) > 0 {
			return errors.Errorf("access requirement [%s] cannot name roles or permissions", RequireNone)
		}
		return nil
	case RequireAnyRole, RequireAllRoles:
		if len(policy.Roles) == 0 {
			return errors.Errorf("access requirement [%s] needs at least one role", policy.requirement())
		}
		return nil
	case RequireAnyPermission:
		if len(policy.Permissions) == 0 {
			return errors.Errorf("access requirement [%s] needs at least one permission", policy.requirement())
		}
		return nil
	default:
		return errors.Errorf("unsupported access requirement [%s]", policy.Require)
	}
}

// ValidateAgainst checks that every role the policy names is defined in the engine.
func (policy Policy) ValidateAgainst(engine *Engine) error {
	for _, role := range policy.Roles {
		if _, ok := engine.roles[role]; !ok {
			return errors.Errorf("access policy references undefined role [%s]", role)
		}
	}
	return nil
}

// ParsePolicy decodes a policy from a route option block, e.g. {require: all_roles, roles: [admin, auditor]}.
// `public: true` is accepted as shorthand for require none and cannot be combined with another requirement, roles or
// permissions.
func ParsePolicy(options map[string]interface{}) (Policy, error) {
	policy := Policy{}
	public, _ := options["public"].(bool)

	fields := map[string]interface{}{}
	for k, v := range options {
		if k != "public" {
			fields[k] = v
		}
	}

	if err := decode(fields, &policy); err != nil {
		return Policy{}, errors.Wrap(err, "could not decode access policy")
	}

	if public {
		if policy.Require != "" && policy.requirement() != RequireNone {
			return Policy{}, errors.Errorf("public access policy cannot require [%s]", policy.Require)
		}
		policy.Require = RequireNone
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}

	return policy, nil
}

type roleConfig struct {
	Permissions []string `mapstructure:"permissions"`
	Inherits    []string `mapstructure:"inherits"`
}

// ParseRoles decodes a map of role name to {permissions: [...], inherits: [...]} into roles sorted by name.
func ParseRoles(rolesMap map[string]interface{}) ([]Role, error) {
	var result []Role

	for name, roleInterface := range rolesMap {
		config := roleConfig{}
		if roleInterface != nil {
			if err := decode(roleInterface, &config); err != nil {
				return nil, errors.Wrapf(err, "could not decode role [%s]", name)
			}
		}

		result = append(result, Role{
			Name:        name,
			Permissions: config.Permissions,
			Inherits:    config.Inherits,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result, nil
}

func decode(input interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
