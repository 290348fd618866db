package gatewayproxy

import (
	"net/http"
	"strings"
)

const preflightMaxAge = "86400"

// corsOrigin returns the Access-Control-Allow-Origin value for a route: the
// first configured origin, or "*" when none are configured.
func corsOrigin(route RouteConfig) string {
	if len(route.CORSOrigins) > 0 {
		return route.CORSOrigins[0]
	}
	return "*"
}

// applyCORSHeaders sets Access-Control-Allow-Origin and
// Access-Control-Allow-Credentials on a real (non-preflight) response.
func applyCORSHeaders(w http.ResponseWriter, route RouteConfig) {
	w.Header().Set("Access-Control-Allow-Origin", corsOrigin(route))
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

// writePreflight responds to an OPTIONS preflight request with 200 and the
// three required CORS headers, no body.
func writePreflight(w http.ResponseWriter, route RouteConfig) {
	methods := append([]string{}, route.Methods...)
	methods = append(methods, "OPTIONS")

	w.Header().Set("Access-Control-Allow-Origin", corsOrigin(route))
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
	w.WriteHeader(http.StatusOK)
}
