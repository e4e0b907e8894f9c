package app

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// ClientKey identifies the caller for rate limiting: the "key" query
// parameter when present, otherwise the remote IP.
func ClientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.URL.Query().Get("key")); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsExemptAPIKey reports whether key is one of the configured keys that
// bypass rate limiting.
func (app *Application) IsExemptAPIKey(key string) bool {
	if key == "" {
		return false
	}

	for _, validKey := range app.Config.Server.ApiKeys {
		// Use constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			return true
		}
	}

	return false
}
