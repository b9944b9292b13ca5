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

import (
	"fmt"
	"strings"

	"github.com/openziti/xpolicy/rbac"
	"github.com/pkg/errors"
)

const (
	DefaultsSection   = "defaults"
	RoutesSection     = "routes"
	ExtensionsSection = "extensions"
	RBACSection       = "rbac"
	RolesSection      = "roles"
	ServerSection     = "server"
)

// InstanceConfig is the root configuration: global route defaults, the ordered route patterns, the ordered
// extensions and the RBAC roles. It is read once at startup and treated as immutable afterwards.
type InstanceConfig struct {
	SourceConfig map[string]interface{}

	Defaults   map[string]interface{}
	Routes     []*RoutePattern
	Extensions []*ExtensionConfig
	Roles      []rbac.Role
	Server     *ServerConfig

	resolver *Resolver
	engine   *rbac.Engine

	enabled bool
}

// Parse parses a configuration map. Every malformed route, extension entry or role is reported, not only the first.
func (config *InstanceConfig) Parse(configMap map[string]interface{}) error {
	source, err := normalizeOptions(configMap)
	if err != nil {
		return errors.Wrap(err, "could not read configuration")
	}
	config.SourceConfig = source

	var errs []error

	if defaultsInterface, ok := source[DefaultsSection]; ok {
		if defaults, ok := defaultsInterface.(map[string]interface{}); ok {
			config.Defaults = defaults
		} else {
			errs = append(errs, routeError(DefaultsSection, errors.New("defaults must be a map")))
		}
	} else {
		config.Defaults = map[string]interface{}{}
	}

	errs = append(errs, config.parseRoutes(source)...)
	errs = append(errs, config.parseExtensions(source)...)
	errs = append(errs, config.parseRoles(source)...)

	config.Server = &ServerConfig{}
	config.Server.Default()
	if serverInterface, ok := source[ServerSection]; ok {
		if serverMap, ok := serverInterface.(map[string]interface{}); ok {
			if err := config.Server.Parse(serverMap); err != nil {
				errs = append(errs, errors.Wrapf(err, "error parsing [%s] section", ServerSection))
			}
		} else {
			errs = append(errs, errors.Errorf("[%s] section must be a map", ServerSection))
		}
	}

	return joinErrors(errs)
}

func (config *InstanceConfig) parseRoutes(source map[string]interface{}) []error {
	routesInterface, ok := source[RoutesSection]
	if !ok {
		return nil
	}

	routes, ok := routesInterface.([]interface{})
	if !ok {
		return []error{routeError(RoutesSection, errors.New("routes must be a list"))}
	}

	var errs []error
	for i, routeInterface := range routes {
		name := fmt.Sprintf("%s[%d]", RoutesSection, i)
		routeMap, ok := routeInterface.(map[string]interface{})
		if !ok {
			errs = append(errs, routeError(name, errors.New("not a map")))
			continue
		}

		pattern := &RoutePattern{}
		if err := pattern.Parse(routeMap); err != nil {
			if pattern.Path != "" {
				name = pattern.Path
			}
			errs = append(errs, routeError(name, err))
			continue
		}

		config.Routes = append(config.Routes, pattern)
	}

	return errs
}

func (config *InstanceConfig) parseExtensions(source map[string]interface{}) []error {
	extensionsInterface, ok := source[ExtensionsSection]
	if !ok {
		return nil
	}

	extensions, ok := extensionsInterface.([]interface{})
	if !ok {
		return []error{extensionError(ExtensionsSection, errors.New("extensions must be a list"))}
	}

	var errs []error
	for i, extensionInterface := range extensions {
		name := fmt.Sprintf("%s[%d]", ExtensionsSection, i)
		extensionMap, ok := extensionInterface.(map[string]interface{})
		if !ok {
			errs = append(errs, extensionError(name, errors.New("not a map")))
			continue
		}

		extensionConfig := &ExtensionConfig{}
		if err := extensionConfig.Parse(extensionMap); err != nil {
			if extensionConfig.Binding() != "" {
				name = extensionConfig.Binding()
			}
			errs = append(errs, extensionError(name, err))
			continue
		}

		config.Extensions = append(config.Extensions, extensionConfig)
	}

	return errs
}

func (config *InstanceConfig) parseRoles(source map[string]interface{}) []error {
	rbacInterface, ok := source[RBACSection]
	if !ok {
		return nil
	}

	rbacMap, ok := rbacInterface.(map[string]interface{})
	if !ok {
		return []error{roleError(RBACSection, errors.New("rbac must be a map"))}
	}

	rolesInterface, ok := rbacMap[RolesSection]
	if !ok {
		return nil
	}

	rolesMap, ok := rolesInterface.(map[string]interface{})
	if !ok {
		return []error{roleError(RolesSection, errors.New("roles must be a map of role name to role"))}
	}

	roles, err := rbac.ParseRoles(rolesMap)
	if err != nil {
		return []error{roleError(RolesSection, err)}
	}
	config.Roles = roles

	return nil
}

// Validate builds the Resolver and the RBAC engine and uses a Registry to check that every extension binding can be
// fulfilled. All problems are aggregated into one error of *ConfigurationError values.
func (config *InstanceConfig) Validate(registry Registry) error {
	var errs []error

	var factories []ExtensionFactory
	var extensionErrs []error
	var atomic []string
	for i, extensionConfig := range config.Extensions {
		if err := extensionConfig.Validate(); err != nil {
			extensionErrs = append(extensionErrs, extensionError(fmt.Sprintf("%s[%d]", ExtensionsSection, i), err))
			continue
		}
		factory := registry.Get(extensionConfig.Binding())
		if factory == nil {
			extensionErrs = append(extensionErrs, extensionError(extensionConfig.Binding(), errors.New("no factory registered for binding")))
			continue
		}
		factories = append(factories, factory)
		if section, ok := factory.(AtomicSection); ok && section.AtomicSection() {
			atomic = append(atomic, factory.Binding())
		}
	}

	resolver, err := NewResolver(config.Defaults, config.Routes, atomic...)
	if err != nil {
		errs = append(errs, err)
	}

	engine, err := rbac.NewEngine(config.Roles...)
	if err != nil {
		errs = append(errs, roleError(RolesSection, err))
	} else {
		for _, problem := range engine.ValidateConfig() {
			errs = append(errs, roleError(problemRole(problem), problem))
		}
	}

	errs = append(errs, extensionErrs...)

	if config.Server != nil {
		if err := config.Server.Validate(); err != nil {
			errs = append(errs, errors.Wrapf(err, "invalid [%s] section", ServerSection))
		}
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}

	config.resolver = resolver
	config.engine = engine

	//factories may inspect the resolved routes and roles
	for _, factory := range factories {
		for _, problem := range Problems(factory.Validate(config)) {
			errs = append(errs, extensionError(factory.Binding(), problem))
		}
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}

	//enabled only after validation passes
	config.enabled = true

	return nil
}

// Enabled returns true once Validate has passed.
func (config *InstanceConfig) Enabled() bool {
	return config.enabled
}

// Resolver returns the Resolver built by Validate, nil before that.
func (config *InstanceConfig) Resolver() *Resolver {
	return config.resolver
}

// RBAC returns the role engine built by Validate, nil before that.
func (config *InstanceConfig) RBAC() *rbac.Engine {
	return config.engine
}

func problemRole(err error) string {
	var unknown *rbac.UnknownRoleError
	if errors.As(err, &unknown) {
		return unknown.Role
	}
	var cycle *rbac.CycleError
	if errors.As(err, &cycle) {
		return strings.Join(cycle.Members, ",")
	}
	return RolesSection
}
