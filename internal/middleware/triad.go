package middleware

import (
	"net/http"

	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/logger"
)

// HeaderTriadID identifies the requesting triad.
const HeaderTriadID = "X-Triad-ID"

// Triad is middleware that extracts the requesting triad from the
// X-Triad-ID header and stores it in the request context. Requests without
// the header act as defaultTriad, the node's own triad. Malformed ids are
// rejected with 400 since the triad is also a NATS subject token.
func Triad(defaultTriad string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			triad := r.Header.Get(HeaderTriadID)
			if triad == "" {
				triad = defaultTriad
			}
			if !memory.ValidTriad(triad) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid X-Triad-ID"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(logger.WithTriad(r.Context(), triad)))
		})
	}
}
