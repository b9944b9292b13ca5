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
	"github.com/openziti/xpolicy"
)

// Factories returns every built in factory, sharing opts.
func Factories(opts ...Option) []xpolicy.ExtensionFactory {
	return []xpolicy.ExtensionFactory{
		NewRateLimitFactory(opts...),
		NewRBACFactory(opts...),
		NewRequestIDFactory(),
		NewAccessLogFactory(opts...),
		NewCompressionFactory(),
		NewTracingFactory(opts...),
	}
}

// Register adds every built in factory to registry.
func Register(registry xpolicy.Registry, opts ...Option) error {
	for _, factory := range Factories(opts...) {
		if err := registry.Add(factory); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ xpolicy.ExtensionFactory = (*RateLimitFactory)(nil)
	_ xpolicy.ExtensionFactory = (*RBACFactory)(nil)
	_ xpolicy.ExtensionFactory = (*RequestIDFactory)(nil)
	_ xpolicy.ExtensionFactory = (*AccessLogFactory)(nil)
	_ xpolicy.ExtensionFactory = (*CompressionFactory)(nil)
	_ xpolicy.ExtensionFactory = (*TracingFactory)(nil)

	_ xpolicy.Starter = (*RateLimitExtension)(nil)
)
