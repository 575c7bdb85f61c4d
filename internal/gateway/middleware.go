package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
)

type ctxKey int

const userIDKey ctxKey = iota

// userIDFrom returns the authenticated user identity stored by requireAuth.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter the device firmware sends. A header
// with a different scheme, as proxies sometimes inject, does not suppress
// the fallback.
func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return r.URL.Query().Get("token")
}

// requireAuth gates every device-facing route: the token must validate and
// the identity it proves must equal the claimed user_id. Missing token,
// missing user_id, bad token, and identity mismatch all produce the same
// denial; the response never says which check failed.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		claimedUserID := r.URL.Query().Get("user_id")
		if token == "" || claimedUserID == "" {
			s.deny(w)
			return
		}

		identity, err := s.cfg.Validator.Validate(r.Context(), token)
		if err != nil || identity != claimedUserID {
			s.deny(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) deny(w http.ResponseWriter) {
	metrics.AuthDenials.Inc()
	writeJSON(w, http.StatusForbidden, struct{}{})
}

// requestLogger logs each request with timing after it completes.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
