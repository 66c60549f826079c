package httputil

import (
	"net/http"
	"strings"
)

// UnknownClient is the shared key for requests without address headers.
const UnknownClient = "unknown"

// ClientKey derives the rate limit key of a request from proxy headers:
//  1. X-Forwarded-For (first entry of the comma-separated list)
//  2. X-Real-IP
//  3. UnknownClient
//
// RemoteAddr is ignored: behind the platform proxy it is the proxy itself,
// which would put every caller into one bucket anyway.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return UnknownClient
}

// BearerToken returns the token of an "Authorization: Bearer <token>"
// header and whether the header had that shape.
func BearerToken(r *http.Request) (string, bool) {
	return ParseBearer(r.Header.Get("Authorization"))
}

// ParseBearer splits a raw Authorization header value.
func ParseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
