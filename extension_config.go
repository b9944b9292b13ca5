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

import "github.com/pkg/errors"

// ExtensionConfig represents one entry of the ordered `extensions` section: a binding name that locates an
// ExtensionFactory in a Registry and the options handed to that factory. The options are opaque to xpolicy, their
// keys and values are defined by the factory and the Extension it produces.
type ExtensionConfig struct {
	binding string
	options map[string]interface{}
}

// NewExtensionConfig creates an ExtensionConfig programmatically.
func NewExtensionConfig(binding string, options map[string]interface{}) *ExtensionConfig {
	return &ExtensionConfig{
		binding: binding,
		options: options,
	}
}

// Binding returns the name of the ExtensionFactory that will construct this extension.
func (ext *ExtensionConfig) Binding() string {
	return ext.binding
}

// Options returns the options associated with this binding.
func (ext *ExtensionConfig) Options() map[string]interface{} {
	return ext.options
}

// Parse the configuration map for an ExtensionConfig.
func (ext *ExtensionConfig) Parse(extConfigMap map[string]interface{}) error {
	if bindingInterface, ok := extConfigMap["binding"]; ok {
		if binding, ok := bindingInterface.(string); ok {
			ext.binding = binding
		} else {
			return errors.New("binding must be a string")
		}
	} else {
		return errors.New("binding is required")
	}

	if optionsInterface, ok := extConfigMap["options"]; ok {
		optionsMap, err := normalizeOptions(optionsInterface)
		if err != nil {
			return errors.Wrap(err, "options if declared must be a map")
		}
		ext.options = optionsMap //leave to factories to interpret further
	} else {
		ext.options = map[string]interface{}{}
	}

	return nil
}

// Validate this configuration object.
func (ext *ExtensionConfig) Validate() error {
	if ext.Binding() == "" {
		return errors.New("binding must be specified")
	}

	return nil
}
