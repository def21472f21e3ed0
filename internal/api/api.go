// Package api is the request facade: the HTTP and websocket boundary
// between the auction core and any UI or CLI. It owns no auction state;
// every handler delegates to the engine, the stores, or the hub manager.
package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/aaronwang/auction-core/internal/broadcast"
	"github.com/aaronwang/auction-core/internal/engine"
	"github.com/aaronwang/auction-core/internal/models"
	"github.com/aaronwang/auction-core/internal/store"
)

// Config carries the facade knobs.
type Config struct {
	BidRateLimit  int
	BidRateWindow time.Duration
}

// liveView is one coherent read of the hot state, taken through the
// circuit breaker so a struggling live store degrades to durable reads
// instead of stalling every state request.
type liveView struct {
	state models.LiveState
	ok    bool
	count int64
}

// Server wires the handlers. Construct with New and mount Router.
type Server struct {
	engine   *engine.Engine
	durable  store.Store
	manager  *broadcast.Manager
	breaker  *gobreaker.CircuitBreaker[liveView]
	validate *validator.Validate
	cfg      Config
}

// New builds the facade over the engine, the durable store, and the hub
// manager.
func New(eng *engine.Engine, durable store.Store, manager *broadcast.Manager, cfg Config) *Server {
	breaker := gobreaker.NewCircuitBreaker[liveView](gobreaker.Settings{
		Name:    "livestore-reads",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Server{
		engine:   eng,
		durable:  durable,
		manager:  manager,
		breaker:  breaker,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// Router mounts every route of the facade.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/api/auction/{id}/bid",
		s.requireBidder(s.bidRateLimiter()(http.HandlerFunc(s.handleBid)))).Methods(http.MethodPost)
	r.HandleFunc("/api/auction/{id}/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/auction/{id}/bids", s.handleBids).Methods(http.MethodGet)

	r.Handle("/bidder/payment/{id}/pay",
		s.requireBidder(http.HandlerFunc(s.handlePay))).Methods(http.MethodPost)

	r.HandleFunc("/ws/auction/{id}", s.handleWSAuction).Methods(http.MethodGet)
	r.HandleFunc("/ws/auctions/updates", s.handleWSUpdates).Methods(http.MethodGet)
	return r
}
