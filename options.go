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

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// RouteConfig is the merged set of options in effect for one (path, methods) pair. It is produced fresh by every
// Resolver.Resolve call and may be freely modified by the caller.
type RouteConfig map[string]interface{}

// Get returns the raw value of a top level option.
func (config RouteConfig) Get(key string) (interface{}, bool) {
	v, ok := config[key]
	return v, ok
}

// Has returns true if the top level option is present.
func (config RouteConfig) Has(key string) bool {
	_, ok := config[key]
	return ok
}

// Section returns a nested option block or nil if it is not present or not a map.
func (config RouteConfig) Section(key string) map[string]interface{} {
	if v, ok := config[key]; ok {
		if section, ok := v.(map[string]interface{}); ok {
			return section
		}
	}
	return nil
}

// Bool returns a top level option coerced to a bool, or def if it is absent or not coercible.
func (config RouteConfig) Bool(key string, def bool) bool {
	if v, ok := config[key]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	return def
}

// String returns a top level option coerced to a string, or def if it is absent or not coercible.
func (config RouteConfig) String(key string, def string) string {
	if v, ok := config[key]; ok {
		if s, err := cast.ToStringE(v); err == nil {
			return s
		}
	}
	return def
}

// Keys returns the sorted top level option names.
func (config RouteConfig) Keys() []string {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeOptions deep copies an option map, converting YAML style map[interface{}]interface{} values at any depth
// into map[string]interface{}. The result shares no maps or slices with the input.
func normalizeOptions(in interface{}) (map[string]interface{}, error) {
	if in == nil {
		return map[string]interface{}{}, nil
	}

	out, err := cloneValue(in)
	if err != nil {
		return nil, err
	}

	if m, ok := out.(map[string]interface{}); ok {
		return m, nil
	}

	return nil, errors.Errorf("options must be a map, got %T", in)
}

func cloneValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case RouteConfig:
		return cloneValue(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			c, err := cloneValue(val)
			if err != nil {
				return nil, errors.Wrapf(err, "option [%s]", k)
			}
			out[k] = c
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("option keys must be strings, got %T (%v)", k, k)
			}
			c, err := cloneValue(val)
			if err != nil {
				return nil, errors.Wrapf(err, "option [%s]", key)
			}
			out[key] = c
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			c, err := cloneValue(val)
			if err != nil {
				return nil, errors.Wrapf(err, "index [%d]", i)
			}
			out[i] = c
		}
		return out, nil
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			c, err := cloneValue(val)
			if err != nil {
				return nil, errors.Wrapf(err, "index [%d]", i)
			}
			out[i] = c
		}
		return out, nil
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, nil
	default:
		return v, nil
	}
}

// mergeOptions recursively merges src into dst. Nested maps are merged key by key, every other value in src
// (including slices and zero values) replaces the value in dst. src is copied first so dst never aliases it.
func mergeOptions(dst map[string]interface{}, src map[string]interface{}) error {
	if len(src) == 0 {
		return nil
	}

	srcCopy, err := normalizeOptions(src)
	if err != nil {
		return err
	}

	return mergo.Merge(&dst, srcCopy, mergo.WithOverride)
}
