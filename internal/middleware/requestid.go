// Package middleware provides HTTP middleware for thermald.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dereadi/thermal-memory/internal/logger"
)

// HeaderRequestID carries the request id across HTTP and NATS hops.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen bounds caller-supplied ids before they reach the logs.
const maxRequestIDLen = 128

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = generateID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateID returns a random 32-char hex id.
func generateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
