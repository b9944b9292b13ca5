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
	"net"
	"net/http"
	"strings"

	"github.com/openziti/xpolicy"
	"github.com/pkg/errors"
)

const (
	IdentifierIP        = "ip"
	IdentifierPrincipal = "principal"
	IdentifierGlobal    = "global"
	identifierHeader    = "header:"
)

// identifierFunc derives the rate limit identifier of a request.
type identifierFunc func(request *http.Request) string

// parseIdentifier builds an identifierFunc from a strategy: `ip`, `header:<Name>`, `principal` or `global`. The
// header and principal strategies fall back to the client address when the request carries no value.
func parseIdentifier(strategy string, trustForwarded bool) (identifierFunc, error) {
	ip := func(request *http.Request) string {
		return clientIP(request, trustForwarded)
	}

	switch {
	case strategy == "" || strings.EqualFold(strategy, IdentifierIP):
		return ip, nil

	case strings.EqualFold(strategy, IdentifierGlobal):
		return func(*http.Request) string { return IdentifierGlobal }, nil

	case strings.EqualFold(strategy, IdentifierPrincipal):
		return func(request *http.Request) string {
			if principal, ok := xpolicy.PrincipalFromContext(request.Context()); ok {
				return "principal:" + principal
			}
			return ip(request)
		}, nil

	case strings.HasPrefix(strings.ToLower(strategy), identifierHeader):
		name := http.CanonicalHeaderKey(strings.TrimSpace(strategy[len(identifierHeader):]))
		if name == "" {
			return nil, errors.Errorf("identifier [%s] names no header", strategy)
		}
		return func(request *http.Request) string {
			if value := strings.TrimSpace(request.Header.Get(name)); value != "" {
				return name + ":" + value
			}
			return ip(request)
		}, nil

	default:
		return nil, errors.Errorf("unsupported identifier [%s], expected ip, principal, global or header:<Name>", strategy)
	}
}

// clientIP returns the host part of RemoteAddr, or the first X-Forwarded-For entry when forwarded headers are
// trusted.
func clientIP(request *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := request.Header.Get("X-Forwarded-For"); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if first != "" {
				return "ip:" + first
			}
		}
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		host = request.RemoteAddr
	}
	return "ip:" + host
}
