package service

import (
	"context"
	"fmt"
	"time"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/command"
	"AuctionLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Loop is the single-writer front of the engine. Every mutation and every
// read is funneled through one goroutine, so the engine itself needs no
// locking and commands apply in a total order.
type Loop struct {
	engine   *auction.Engine
	dedup    *IdempotencyChecker
	requests chan request
	log      zerolog.Logger
	metrics  *observability.Metrics
}

type request struct {
	cmd   *command.Command
	view  func(*auction.Engine)
	reply chan error
}

func NewLoop(
	engine *auction.Engine,
	dedup *IdempotencyChecker,
	queueSize int,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Loop {
	return &Loop{
		engine:   engine,
		dedup:    dedup,
		requests: make(chan request, queueSize),
		log:      log,
		metrics:  metrics,
	}
}

// Run processes requests until ctx is cancelled. It must be the only
// goroutine touching the engine.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info().Msg("command loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("command loop stopped")
			return
		case req := <-l.requests:
			var err error
			if req.view != nil {
				req.view(l.engine)
			} else {
				err = l.apply(req.cmd)
			}
			req.reply <- err
		}
	}
}

// Submit applies one command and waits for the result. Duplicate command
// IDs succeed without re-applying.
func (l *Loop) Submit(ctx context.Context, cmd *command.Command) error {
	if !cmd.Type.Valid() {
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View runs fn against the engine inside the loop, serialized with every
// mutation. fn must not retain the engine.
func (l *Loop) View(ctx context.Context, fn func(*auction.Engine)) error {
	req := request{view: fn, reply: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) apply(cmd *command.Command) error {
	start := time.Now()
	cmdType := string(cmd.Type)

	if l.dedup != nil && l.dedup.IsDuplicate(cmdType, cmd.ID) {
		if l.metrics != nil {
			l.metrics.CommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		l.log.Debug().Str("command_id", cmd.ID).Str("type", cmdType).Msg("duplicate command skipped")
		return nil
	}

	var err error
	switch cmd.Type {
	case command.TypePlaceBid:
		err = l.engine.PlaceBid(cmd.Caller, cmd.Amount, cmd.Timestamp, cmd.ID)
	case command.TypePartialRefund:
		err = l.engine.PartialRefund(cmd.Caller, cmd.Timestamp, cmd.ID)
	case command.TypeRetrieveDeposit:
		err = l.engine.Withdraw(cmd.Caller, cmd.Timestamp, cmd.ID)
	case command.TypePause:
		err = l.engine.Pause(cmd.Caller, cmd.Timestamp, cmd.ID)
	case command.TypeUnpause:
		err = l.engine.Unpause(cmd.Caller, cmd.Timestamp, cmd.ID)
	case command.TypeEndAuction:
		err = l.engine.Close(cmd.Caller, cmd.Timestamp, cmd.ID)
	case command.TypeEmergencyWithdraw:
		err = l.engine.EmergencyWithdraw(cmd.Caller, cmd.Timestamp, cmd.ID)
	default:
		err = fmt.Errorf("unknown command type %q", cmd.Type)
	}

	if err != nil {
		if l.metrics != nil {
			l.metrics.CommandsRejected.WithLabelValues(cmdType, auction.KindOf(err).String()).Inc()
		}
		l.log.Info().
			Err(err).
			Str("command_id", cmd.ID).
			Str("type", cmdType).
			Str("caller", cmd.Caller.String()).
			Msg("command rejected")
		return err
	}

	if l.dedup != nil {
		l.dedup.MarkProcessed(cmdType, cmd.ID)
	}
	if l.metrics != nil {
		l.metrics.CommandsApplied.WithLabelValues(cmdType).Inc()
		l.metrics.CommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
	}
	l.log.Debug().
		Str("command_id", cmd.ID).
		Str("type", cmdType).
		Msg("command applied")
	return nil
}
