package service

import (
	"net/http"

	"AuctionLedger/internal/observability"

	"github.com/gorilla/mux"
)

// NewRouter builds the HTTP surface: the JSON-RPC endpoints plus the health
// probes. Metrics are served on a separate listener by main.
func NewRouter(rpcHandler, queryHandler http.Handler, health *observability.HealthChecker) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/rpc", rpcHandler).Methods(http.MethodPost)
	r.Handle("/rpc/query", queryHandler).Methods(http.MethodPost)
	r.HandleFunc("/healthz", health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.ReadinessHandler).Methods(http.MethodGet)
	return r
}
