package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/aaronwang/auction-core/internal/logging"
)

// bidderHeader carries the caller's identity, injected by the auth layer
// in front of the core. The facade trusts it; authentication itself is out
// of scope.
const bidderHeader = "X-Bidder-ID"

type ctxKey int

const bidderKey ctxKey = iota

// bidderFrom returns the authenticated bidder id stored by requireBidder.
func bidderFrom(ctx context.Context) string {
	id, _ := ctx.Value(bidderKey).(string)
	return id
}

// requireBidder rejects requests without a caller identity.
func (s *Server) requireBidder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(bidderHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bidder identity", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bidderKey, id)))
	})
}

// bidRateLimiter builds the per-IP limiter for the bid route.
func (s *Server) bidRateLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(s.cfg.BidRateLimit, s.cfg.BidRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request. Websocket upgrades bypass the
// recorder because hijacking needs the raw ResponseWriter.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
