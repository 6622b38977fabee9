package service

import (
	"fmt"
	"net/http"
	"time"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/command"
	"AuctionLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/rs/zerolog"
)

// RPCService exposes the engine over JSON-RPC 2.0. Mutators go through the
// command loop with a caller-supplied command ID; readers are serialized
// through the same loop so they never observe a half-applied command.
type RPCService struct {
	loop *Loop
	log  zerolog.Logger

	// now is swappable in tests; production uses time.Now.
	now func() time.Time
}

func NewRPCService(loop *Loop, log zerolog.Logger) *RPCService {
	return &RPCService{loop: loop, log: log, now: time.Now}
}

// NewRPCHandler mounts the service on a gorilla JSON-RPC server.
func NewRPCHandler(svc *RPCService) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	return server, server.RegisterService(svc, "auction")
}

// --- Mutators ---

type MutateArgs struct {
	CommandID string `json:"command_id"`
	Caller    string `json:"caller"`
	Amount    int64  `json:"amount,omitempty"`
}

type MutateReply struct {
	Applied  bool  `json:"applied"`
	Sequence int64 `json:"sequence"`
}

func (s *RPCService) submit(r *http.Request, args *MutateArgs, reply *MutateReply, typ command.Type) error {
	caller, err := uuid.Parse(args.Caller)
	if err != nil {
		return fmt.Errorf("parse caller: %w", err)
	}
	if args.CommandID == "" {
		return fmt.Errorf("command_id is required")
	}

	cmd := &command.Command{
		ID:        args.CommandID,
		Type:      typ,
		Caller:    caller,
		Amount:    args.Amount,
		Timestamp: s.now(),
	}
	if err := s.loop.Submit(r.Context(), cmd); err != nil {
		return err
	}

	reply.Applied = true
	err = s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Sequence = e.Sequence()
	})
	return err
}

func (s *RPCService) PlaceBid(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypePlaceBid)
}

func (s *RPCService) PartialRefund(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypePartialRefund)
}

func (s *RPCService) RetrieveDeposit(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypeRetrieveDeposit)
}

func (s *RPCService) Pause(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypePause)
}

func (s *RPCService) Unpause(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypeUnpause)
}

func (s *RPCService) EndAuction(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypeEndAuction)
}

func (s *RPCService) EmergencyWithdraw(r *http.Request, args *MutateArgs, reply *MutateReply) error {
	return s.submit(r, args, reply, command.TypeEmergencyWithdraw)
}

// --- Readers ---

type EmptyArgs struct{}

type BidderArgs struct {
	Bidder string `json:"bidder"`
}

type HighestBidReply struct {
	HasBids bool   `json:"has_bids"`
	Bidder  string `json:"bidder,omitempty"`
	Amount  int64  `json:"amount,omitempty"`
}

func (s *RPCService) HighestBid(r *http.Request, _ *EmptyArgs, reply *HighestBidReply) error {
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		if lead, ok := e.HighestBid(); ok {
			reply.HasBids = true
			reply.Bidder = lead.Bidder.String()
			reply.Amount = lead.Amount
		}
	})
}

type BidView struct {
	EntryID   string    `json:"entry_id"`
	Bidder    string    `json:"bidder"`
	Amount    int64     `json:"amount"`
	NewTotal  int64     `json:"new_total"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

type BidsReply struct {
	Bids []BidView `json:"bids"`
}

func toBidViews(entries []ledger.BidEntry) []BidView {
	out := make([]BidView, 0, len(entries))
	for _, e := range entries {
		out = append(out, BidView{
			EntryID:   e.EntryID.String(),
			Bidder:    e.Bidder.String(),
			Amount:    e.Amount,
			NewTotal:  e.NewTotal,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	}
	return out
}

func (s *RPCService) AllBids(r *http.Request, _ *EmptyArgs, reply *BidsReply) error {
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Bids = toBidViews(e.AllBids())
	})
}

func (s *RPCService) BidsOf(r *http.Request, args *BidderArgs, reply *BidsReply) error {
	bidder, err := uuid.Parse(args.Bidder)
	if err != nil {
		return fmt.Errorf("parse bidder: %w", err)
	}
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Bids = toBidViews(e.BidsOf(bidder))
	})
}

type TotalBidReply struct {
	Total int64 `json:"total"`
}

func (s *RPCService) TotalBidOf(r *http.Request, args *BidderArgs, reply *TotalBidReply) error {
	bidder, err := uuid.Parse(args.Bidder)
	if err != nil {
		return fmt.Errorf("parse bidder: %w", err)
	}
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Total = e.TotalBidOf(bidder)
	})
}

type TimeRemainingReply struct {
	Seconds int64 `json:"seconds"`
}

func (s *RPCService) TimeRemaining(r *http.Request, _ *EmptyArgs, reply *TimeRemainingReply) error {
	now := s.now()
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Seconds = int64(e.TimeRemaining(now) / time.Second)
	})
}

type DeadlineReply struct {
	Deadline time.Time `json:"deadline"`
}

func (s *RPCService) Deadline(r *http.Request, _ *EmptyArgs, reply *DeadlineReply) error {
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Deadline = e.Deadline()
	})
}

type IsEndedReply struct {
	Ended bool   `json:"ended"`
	State string `json:"state"`
}

func (s *RPCService) IsEnded(r *http.Request, _ *EmptyArgs, reply *IsEndedReply) error {
	now := s.now()
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Ended = e.IsEnded(now)
		reply.State = e.State().String()
	})
}

type CommissionPercentReply struct {
	Percent int64 `json:"percent"`
}

func (s *RPCService) CommissionPercent(r *http.Request, _ *EmptyArgs, reply *CommissionPercentReply) error {
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Percent = e.CommissionPercent()
	})
}

type UniqueBiddersReply struct {
	Count int `json:"count"`
}

func (s *RPCService) UniqueBidders(r *http.Request, _ *EmptyArgs, reply *UniqueBiddersReply) error {
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Count = e.UniqueBidders()
	})
}

type MaxBiddersReply struct {
	Max int `json:"max"`
}

func (s *RPCService) MaxBidders(r *http.Request, _ *EmptyArgs, reply *MaxBiddersReply) error {
	return s.loop.View(r.Context(), func(e *auction.Engine) {
		reply.Max = e.MaxBidders()
	})
}
