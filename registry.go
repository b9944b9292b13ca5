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
	"sort"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

// Registry describes a registry of binding to ExtensionFactory registrations
type Registry interface {
	Add(factory ExtensionFactory) error
	Get(binding string) ExtensionFactory
}

// RegistryMap is a basic Registry implementation backed by a simple mapping of binding (string) to ExtensionFactory
// instances
type RegistryMap struct {
	factories map[string]ExtensionFactory
}

// NewRegistryMap creates a new RegistryMap
func NewRegistryMap() *RegistryMap {
	return &RegistryMap{
		factories: map[string]ExtensionFactory{},
	}
}

// Add adds a factory to the registry. Errors if a previous factory with the same binding is registered.
func (registry *RegistryMap) Add(factory ExtensionFactory) error {
	if factory == nil {
		return errors.New("factory must not be nil")
	}

	pfxlog.Logger().Debugf("adding xpolicy extension factory with binding: %v", factory.Binding())
	if _, ok := registry.factories[factory.Binding()]; ok {
		return fmt.Errorf("binding [%s] already registered", factory.Binding())
	}

	registry.factories[factory.Binding()] = factory

	return nil
}

// Get retrieves a factory based on a binding or nil if no factory for the binding is registered
func (registry *RegistryMap) Get(binding string) ExtensionFactory {
	return registry.factories[binding]
}

// Bindings returns the sorted names of all registered factories
func (registry *RegistryMap) Bindings() []string {
	var result []string
	for binding := range registry.factories {
		result = append(result, binding)
	}
	sort.Strings(result)
	return result
}

// ExtensionRegistry holds the extension instances loaded at startup in registration order. It is not modified after
// construction and is safe for concurrent use.
type ExtensionRegistry struct {
	extensions []Extension
}

// NewExtensionRegistry creates an ExtensionRegistry from already constructed extensions. Bindings must be unique.
func NewExtensionRegistry(extensions ...Extension) (*ExtensionRegistry, error) {
	seen := map[string]struct{}{}
	result := &ExtensionRegistry{}

	for i, extension := range extensions {
		if extension == nil {
			return nil, fmt.Errorf("a nil extension was provided at index [%d]", i)
		}
		if _, ok := seen[extension.Binding()]; ok {
			return nil, extensionError(extension.Binding(), errors.New("binding loaded more than once"))
		}
		seen[extension.Binding()] = struct{}{}
		result.extensions = append(result.extensions, extension)
	}

	return result, nil
}

// LoadExtensions constructs one Extension per ExtensionConfig, in order, using the factories of registry. Every
// failure (unknown binding, invalid options, construction error) is reported as a ConfigurationError naming the
// binding, and all failures are reported together.
func LoadExtensions(registry Registry, configs []*ExtensionConfig, instanceConfig *InstanceConfig) (*ExtensionRegistry, error) {
	var extensions []Extension
	var errs []error

	for i, extConfig := range configs {
		if err := extConfig.Validate(); err != nil {
			errs = append(errs, extensionError(fmt.Sprintf("index %d", i), err))
			continue
		}

		factory := registry.Get(extConfig.Binding())
		if factory == nil {
			errs = append(errs, extensionError(extConfig.Binding(), errors.New("no factory registered for binding")))
			continue
		}

		if err := factory.Validate(instanceConfig); err != nil {
			errs = append(errs, extensionError(extConfig.Binding(), err))
			continue
		}

		extension, err := factory.New(extConfig.Options(), instanceConfig)
		if err != nil {
			errs = append(errs, extensionError(extConfig.Binding(), errors.Wrap(err, "could not construct extension")))
			continue
		}

		if extension == nil {
			errs = append(errs, extensionError(extConfig.Binding(), errors.New("factory returned a nil extension")))
			continue
		}

		pfxlog.Logger().WithField("binding", extConfig.Binding()).Debug("loaded xpolicy extension")
		extensions = append(extensions, extension)
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}

	return NewExtensionRegistry(extensions...)
}

// Extensions returns all loaded extensions in registration order.
func (registry *ExtensionRegistry) Extensions() []Extension {
	result := make([]Extension, len(registry.extensions))
	copy(result, registry.extensions)
	return result
}

// Get returns the loaded extension for a binding or nil.
func (registry *ExtensionRegistry) Get(binding string) Extension {
	for _, extension := range registry.extensions {
		if extension.Binding() == binding {
			return extension
		}
	}
	return nil
}

// Applicable returns, in registration order, the extensions that report they apply to the route.
func (registry *ExtensionRegistry) Applicable(path string, methods []string, config RouteConfig) []Extension {
	var result []Extension
	for _, extension := range registry.extensions {
		if extension.AppliesTo(path, methods, config) {
			result = append(result, extension)
		}
	}
	return result
}
