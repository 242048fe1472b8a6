package ws

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/dropwire/internal/server/ice"
	"github.com/gorilla/mux"
)

// NewRouter wires the HTTP surface: the websocket upgrade path, the
// connectivity-server credential endpoint, and a health probe. Every
// response carries the security headers; the credential endpoint allows
// the configured client origin.
func NewRouter(adapter *Adapter, minter *ice.Minter, clientURL string) *mux.Router {
	r := mux.NewRouter()
	r.Use(securityHeaders)
	r.Use(corsMiddleware(clientURL))

	r.HandleFunc("/ws", adapter.HandleWS)
	r.HandleFunc("/api/ice-servers", handleICEServers(minter)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)

	// mux runs r.Use middleware only for matched routes, so the fallback
	// handlers carry the security headers themselves.
	r.NotFoundHandler = securityHeaders(http.NotFoundHandler())
	r.MethodNotAllowedHandler = securityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	return r
}

func handleICEServers(minter *ice.Minter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"iceServers": minter.Servers(),
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// securityHeaders sets the strict browser policy headers on every
// response, websocket upgrades included.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; object-src 'none'; base-uri 'self'; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware admits the configured browser origin and answers
// preflight requests.
func corsMiddleware(clientURL string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && origin == clientURL {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
