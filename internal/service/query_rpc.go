package service

import (
	"net/http"
	"time"

	"AuctionLedger/internal/observability"
	"AuctionLedger/internal/query"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// QueryRPCService exposes the Postgres-backed read side over JSON-RPC.
// Unlike the auction service, these reads come from projections and the
// durable logs, so they serve historical data and survive engine restarts.
type QueryRPCService struct {
	qs      *query.QueryService
	metrics *observability.Metrics
}

func NewQueryRPCService(qs *query.QueryService, metrics *observability.Metrics) *QueryRPCService {
	return &QueryRPCService{qs: qs, metrics: metrics}
}

// NewQueryRPCHandler mounts the query service on a gorilla JSON-RPC server.
func NewQueryRPCHandler(svc *QueryRPCService) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	return server, server.RegisterService(svc, "query")
}

func (s *QueryRPCService) observe(method string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(method).Inc()
	s.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.QueryErrors.WithLabelValues(method).Inc()
	}
}

type StatusReply struct {
	Status *query.StatusResponse `json:"status"`
}

func (s *QueryRPCService) Status(r *http.Request, _ *EmptyArgs, reply *StatusReply) (err error) {
	start := time.Now()
	defer func() { s.observe("status", start, err) }()
	reply.Status, err = s.qs.GetStatus(r.Context())
	return err
}

type StandingsArgs struct {
	Limit int `json:"limit,omitempty"`
}

type StandingsReply struct {
	Standings []query.StandingResponse `json:"standings"`
}

func (s *QueryRPCService) Standings(r *http.Request, args *StandingsArgs, reply *StandingsReply) (err error) {
	start := time.Now()
	defer func() { s.observe("standings", start, err) }()
	limit := args.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	reply.Standings, err = s.qs.GetStandings(r.Context(), limit)
	return err
}

type BidHistoryArgs struct {
	Bidder        *string `json:"bidder,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	AfterSequence *int64  `json:"after_sequence,omitempty"`
}

type BidHistoryReply struct {
	Bids []query.BidHistoryEntry `json:"bids"`
}

func (s *QueryRPCService) BidHistory(r *http.Request, args *BidHistoryArgs, reply *BidHistoryReply) (err error) {
	start := time.Now()
	defer func() { s.observe("bid_history", start, err) }()
	limit := args.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	reply.Bids, err = s.qs.GetBidHistory(r.Context(), args.Bidder, limit, args.AfterSequence)
	return err
}

type NotificationsArgs struct {
	Limit         int    `json:"limit,omitempty"`
	AfterSequence *int64 `json:"after_sequence,omitempty"`
}

type NotificationsReply struct {
	Notifications []query.NotificationEntry `json:"notifications"`
}

func (s *QueryRPCService) Notifications(r *http.Request, args *NotificationsArgs, reply *NotificationsReply) (err error) {
	start := time.Now()
	defer func() { s.observe("notifications", start, err) }()
	limit := args.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	reply.Notifications, err = s.qs.GetNotifications(r.Context(), limit, args.AfterSequence)
	return err
}

type IntegrityReply struct {
	Report *query.IntegrityReport `json:"report"`
}

func (s *QueryRPCService) VerifyIntegrity(r *http.Request, _ *EmptyArgs, reply *IntegrityReply) (err error) {
	start := time.Now()
	defer func() { s.observe("verify_integrity", start, err) }()
	reply.Report, err = s.qs.VerifyIntegrity(r.Context())
	return err
}
