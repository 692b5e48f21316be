// Package middleware provides HTTP middleware for the agent mesh.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/respondmesh/respondmesh/internal/logger"
)

const headerCorrelationID = "X-Correlation-ID"

// CorrelationID is HTTP middleware that extracts X-Correlation-ID from the
// request header or generates a new one. The ID is stored in the context and
// set on the response header, so logs on both sides of the mesh line up.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(headerCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}

		ctx := logger.WithCorrelationID(r.Context(), cid)
		w.Header().Set(headerCorrelationID, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
