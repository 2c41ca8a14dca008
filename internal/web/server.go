// Package web exposes the settlement engine over HTTP: the operator API for
// generating and processing settlements, the payment gateway's asynchronous
// result callback, and the health and metrics endpoints.
package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"

	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/middleware"
	"github.com/mwukenya/settlement/internal/payout"
	"github.com/mwukenya/settlement/internal/service"
	"github.com/mwukenya/settlement/internal/storage"
)

// Server hosts the HTTP surface around the settlement service.
type Server struct {
	svc     *service.SettlementService
	payouts *payout.Engine
	store   storage.Store
	parser  gateway.CallbackParser
	rnd     *render.Render
	router  *mux.Router
}

// NewServer wires the API routes around the given service and payout engine.
// The parser decodes the configured gateway's native callback envelope; it
// may be nil, in which case the callback endpoint accepts only the
// normalized JSON form.
func NewServer(svc *service.SettlementService, payouts *payout.Engine, store storage.Store, parser gateway.CallbackParser) *Server {
	s := &Server{
		svc:     svc,
		payouts: payouts,
		store:   store,
		parser:  parser,
		rnd:     render.New(),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/callbacks/payout", s.handlePayoutCallback).Methods(http.MethodPost)

	api.HandleFunc("/settlements/generate", s.handleGenerateSettlement).Methods(http.MethodPost)
	api.HandleFunc("/settlements", s.handleListSettlements).Methods(http.MethodGet)
	api.HandleFunc("/settlements/{id}", s.handleGetSettlement).Methods(http.MethodGet)
	api.HandleFunc("/settlements/{id}/process", s.handleProcessSettlement).Methods(http.MethodPost)
	api.HandleFunc("/settlements/{id}/retry-payouts", s.handleRetryPayouts).Methods(http.MethodPost)
	api.HandleFunc("/settlements/{id}/fail", s.handleFailSettlement).Methods(http.MethodPost)
	api.HandleFunc("/settlements/{id}/payouts", s.handleListPayouts).Methods(http.MethodGet)
	api.HandleFunc("/settlements/{id}/statistics", s.handleStatistics).Methods(http.MethodGet)
	api.HandleFunc("/settlements/{id}/breakdown", s.handleBreakdown).Methods(http.MethodGet)
	api.HandleFunc("/settlements/{id}/transfers", s.handleListTransfers).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the router wrapped in the request logging and CORS
// middleware.
func (s *Server) Handler() http.Handler {
	return middleware.Logging(middleware.CORS(s.router))
}
