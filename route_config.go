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
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

const wildcardSuffix = "/*"

// RoutePattern pairs a path template with an option fragment. A template is either an exact path (`/api/users`)
// or a wildcard (`/api/*`) that matches every path below its literal prefix. Methods optionally restricts the
// pattern to a set of HTTP methods, an empty list matches all methods.
type RoutePattern struct {
	Path    string
	Methods []string
	Options map[string]interface{}

	prefix   string
	wildcard bool
}

// Parse parses a configuration map for a RoutePattern.
func (pattern *RoutePattern) Parse(configMap map[string]interface{}) error {
	if pathInterface, ok := configMap["path"]; ok {
		if path, ok := pathInterface.(string); ok {
			pattern.Path = strings.TrimSpace(path)
		} else {
			return errors.New("path must be a string")
		}
	} else {
		return errors.New("path is required")
	}

	if methodsInterface, ok := configMap["methods"]; ok {
		methods, err := cast.ToStringSliceE(methodsInterface)
		if err != nil {
			return fmt.Errorf("methods must be a list of strings: %v", err)
		}
		pattern.Methods = normalizeMethods(methods)
	} //no else optional, all methods

	if optionsInterface, ok := configMap["options"]; ok {
		options, err := normalizeOptions(optionsInterface)
		if err != nil {
			return fmt.Errorf("error parsing options: %v", err)
		}
		pattern.Options = options
	} else {
		pattern.Options = map[string]interface{}{}
	}

	return pattern.Validate()
}

// Validate checks the path template and prepares it for matching.
func (pattern *RoutePattern) Validate() error {
	path := pattern.Path
	if path == "" {
		return errors.New("path must not be empty")
	}

	if !strings.HasPrefix(path, "/") {
		return errors.New("path must start with /")
	}

	pattern.wildcard = strings.HasSuffix(path, wildcardSuffix)
	pattern.prefix = path
	if pattern.wildcard {
		pattern.prefix = strings.TrimSuffix(path, wildcardSuffix)
	}

	if strings.Contains(pattern.prefix, "*") {
		return errors.New("wildcard is only allowed as the final segment (e.g. /prefix/*)")
	}

	if pattern.Options == nil {
		pattern.Options = map[string]interface{}{}
	}

	return nil
}

// IsWildcard returns true for `prefix/*` templates.
func (pattern *RoutePattern) IsWildcard() bool {
	return pattern.wildcard
}

// Specificity is the length of a wildcard's literal prefix. Exact patterns always outrank wildcards and report -1
// as they are not ordered against each other.
func (pattern *RoutePattern) Specificity() int {
	if !pattern.wildcard {
		return -1
	}
	return len(pattern.prefix)
}

// Matches reports whether the pattern applies to the path and any of the methods.
func (pattern *RoutePattern) Matches(path string, methods []string) bool {
	if !pattern.matchesMethods(methods) {
		return false
	}

	if pattern.wildcard {
		return strings.HasPrefix(path, pattern.prefix+"/")
	}

	return path == pattern.Path
}

func (pattern *RoutePattern) matchesMethods(methods []string) bool {
	if len(pattern.Methods) == 0 || len(methods) == 0 {
		return true
	}

	for _, method := range methods {
		method = strings.ToUpper(method)
		for _, allowed := range pattern.Methods {
			if method == allowed {
				return true
			}
		}
	}

	return false
}

// Resolver maps (path, methods) to a merged RouteConfig. Once constructed it holds no mutable state and is safe for
// concurrent use.
type Resolver struct {
	defaults  map[string]interface{}
	wildcards []*RoutePattern //ascending specificity, declaration order within a specificity
	exact     []*RoutePattern //declaration order
	atomic    map[string]struct{}
}

// NewResolver creates a Resolver from global defaults and patterns given in declaration order. Every invalid pattern
// is reported, wrapped in a ConfigurationError naming it. Top-level option sections named in atomic are replaced whole
// by each matching pattern that declares them instead of being merged.
func NewResolver(defaults map[string]interface{}, patterns []*RoutePattern, atomic ...string) (*Resolver, error) {
	normalizedDefaults, err := normalizeOptions(defaults)
	if err != nil {
		return nil, routeError("defaults", err)
	}

	resolver := &Resolver{
		defaults: normalizedDefaults,
		atomic:   map[string]struct{}{},
	}
	for _, section := range atomic {
		resolver.atomic[section] = struct{}{}
	}

	var errs []error
	for _, pattern := range patterns {
		if pattern == nil {
			errs = append(errs, routeError("<nil>", errors.New("a nil route pattern was provided")))
			continue
		}

		if err := pattern.Validate(); err != nil {
			errs = append(errs, routeError(pattern.Path, err))
			continue
		}

		options, err := normalizeOptions(pattern.Options)
		if err != nil {
			errs = append(errs, routeError(pattern.Path, err))
			continue
		}

		local := *pattern
		local.Options = options
		local.Methods = normalizeMethods(pattern.Methods)

		if local.wildcard {
			resolver.wildcards = append(resolver.wildcards, &local)
		} else {
			resolver.exact = append(resolver.exact, &local)
		}
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}

	//stable: equal specificity keeps declaration order, so the later declared pattern is applied later and wins
	sort.SliceStable(resolver.wildcards, func(i, j int) bool {
		return resolver.wildcards[i].Specificity() < resolver.wildcards[j].Specificity()
	})

	return resolver, nil
}

// Resolve merges the global defaults, every matching wildcard pattern from least to most specific and finally any
// exact match. A path that matches nothing yields a copy of the defaults.
func (resolver *Resolver) Resolve(path string, methods []string) (RouteConfig, error) {
	result, err := normalizeOptions(resolver.defaults)
	if err != nil {
		return nil, err
	}

	for _, pattern := range resolver.Matching(path, methods) {
		if err := resolver.merge(result, pattern.Options); err != nil {
			return nil, errors.Wrapf(err, "could not merge options of route pattern [%s]", pattern.Path)
		}
	}

	return result, nil
}

func (resolver *Resolver) merge(dst map[string]interface{}, src map[string]interface{}) error {
	for section := range resolver.atomic {
		if _, ok := src[section]; ok {
			delete(dst, section)
		}
	}
	return mergeOptions(dst, src)
}

// Matching returns the patterns that apply to a path in merge order.
func (resolver *Resolver) Matching(path string, methods []string) []*RoutePattern {
	var result []*RoutePattern

	for _, pattern := range resolver.wildcards {
		if pattern.Matches(path, methods) {
			result = append(result, pattern)
		}
	}

	for _, pattern := range resolver.exact {
		if pattern.Matches(path, methods) {
			result = append(result, pattern)
		}
	}

	return result
}

func normalizeMethods(methods []string) []string {
	if len(methods) == 0 {
		return nil
	}

	result := make([]string, 0, len(methods))
	for _, method := range methods {
		method = strings.ToUpper(strings.TrimSpace(method))
		if method != "" {
			result = append(result, method)
		}
	}

	return result
}
