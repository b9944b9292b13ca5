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
	"errors"
	"fmt"
)

const (
	KindRoute     = "route"
	KindExtension = "extension"
	KindRole      = "role"
)

// ConfigurationError is a startup-fatal problem with some named piece of configuration: a route pattern, an
// extension binding or an RBAC role. Kind is one of KindRoute, KindExtension or KindRole and Name identifies the
// offending pattern, binding or role.
type ConfigurationError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s [%s]: %v", e.Kind, e.Name, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func routeError(pattern string, err error) error {
	return &ConfigurationError{Kind: KindRoute, Name: pattern, Err: err}
}

func extensionError(binding string, err error) error {
	return &ConfigurationError{Kind: KindExtension, Name: binding, Err: err}
}

func roleError(role string, err error) error {
	return &ConfigurationError{Kind: KindRole, Name: role, Err: err}
}

// joinErrors aggregates every independent problem found by a validation pass into one error. Already joined errors
// are flattened so the report is a single list.
func joinErrors(errs []error) error {
	var flat []error
	for _, err := range errs {
		flat = append(flat, Problems(err)...)
	}
	return errors.Join(flat...)
}

// Problems splits an aggregated validation error into its individual problems. A plain error is returned as the
// only problem and nil yields nothing.
func Problems(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var result []error
		for _, inner := range joined.Unwrap() {
			result = append(result, Problems(inner)...)
		}
		return result
	}
	return []error{err}
}
