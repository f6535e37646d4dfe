package shield

import "net/http"

// HeaderConfig defines the headers applied to every response. Empty fields
// are not sent.
type HeaderConfig struct {
	XContentTypeOptions string
	ReferrerPolicy      string
}

// DefaultHeaders returns the header set for the fixture server. There is no
// content security policy: fixture pages load the map library and tiles
// from the same server under several paths and evaluate inline scripts.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
	}
}

// SecurityHeaders returns middleware that sets the configured headers on
// every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.XContentTypeOptions != "" {
				w.Header().Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}
