package gatewayproxy

import (
	"strings"
)

// Router matches incoming requests against an ordered list of routes.
type Router struct {
	routes []RouteConfig
}

// NewRouter builds a Router from the config's route list, preserving
// declaration order since the first match wins.
func NewRouter(routes []RouteConfig) *Router {
	return &Router{routes: routes}
}

// Match returns the first route whose path and method match, and the
// request path with its strip_prefix removed (if any). ok is false if no
// route matches.
func (rt *Router) Match(path, method string) (route RouteConfig, rewritten string, ok bool) {
	for _, r := range rt.routes {
		if !pathMatches(r.Path, path) {
			continue
		}
		if !methodMatches(r.Methods, method) {
			continue
		}
		return r, stripPrefix(path, r.StripPrefix), true
	}
	return RouteConfig{}, "", false
}

// pathMatches implements the spec's route-matching rule: a pattern ending in
// "/" matches by prefix; otherwise it must match the exact path or the path
// with a trailing slash.
func pathMatches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path, pattern) || path+"/" == pattern
	}
	return path == pattern || path == pattern+"/"
}

// methodMatches compares methods case-insensitively. An OPTIONS request is
// always allowed to match so CORS preflight can be auto-handled even when
// the route's declared method list does not name OPTIONS explicitly.
func methodMatches(allowed []string, method string) bool {
	if strings.EqualFold(method, "OPTIONS") {
		return true
	}
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func stripPrefix(path, prefix string) string {
	if prefix == "" {
		return path
	}
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == "" {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}
