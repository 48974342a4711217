package stable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stablecore/core/events"
)

const (
	opDeposit        = "deposit"
	opMint           = "mint"
	opDepositAndMint = "deposit_and_mint"
	opRedeem         = "redeem"
	opBurn           = "burn"
	opRedeemForDebt  = "redeem_for_debt"
	opLiquidate      = "liquidate"
)

const (
	outcomeCommitted  = "committed"
	outcomeRolledBack = "rolled_back"
	outcomeIncomplete = "rollback_incomplete"
)

// effect is one call into an external asset. A nil undo marks the effect as
// irreversible; irreversible effects run after every reversible one.
type effect struct {
	name  string
	apply func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

// operation carries the staged state of one engine call. Ledger writes are
// journaled and effects queued during staging; nothing leaves the engine
// until staging and its checks succeed.
type operation struct {
	id      string
	kind    string
	ctx     context.Context
	journal *journal

	effects []effect
	final   []effect
	applied []effect
	events  []events.Event

	persisted bool
}

func (op *operation) queue(eff effect) {
	if eff.undo == nil {
		op.final = append(op.final, eff)
		return
	}
	op.effects = append(op.effects, eff)
}

func (op *operation) emit(evt events.Event) { op.events = append(op.events, evt) }

// execute runs stage under the write lock and then drives the operation
// through persistence and external effects. Any failure restores the ledgers
// and compensates applied effects in reverse order.
func (e *Engine) execute(ctx context.Context, kind string, stage func(op *operation) error) (string, error) {
	if e == nil {
		return "", errNilEngine
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if e.inOperation(ctx) {
		return "", fmt.Errorf("%w: %s", ErrReentrantCall, kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	op := &operation{
		id:      e.newID(),
		kind:    kind,
		ctx:     context.WithValue(ctx, operationKey{}, e),
		journal: newJournal(),
	}
	err := ctx.Err()
	if err == nil {
		err = stage(op)
	}
	if err == nil {
		err = e.persist(op)
		op.persisted = err == nil
	}
	if err == nil {
		err = e.applyEffects(op)
	}
	if err != nil {
		err = e.rollback(op, err)
		e.finish(op, start, err)
		return op.id, err
	}
	for _, evt := range op.events {
		e.emitter.Emit(evt)
	}
	e.finish(op, start, nil)
	return op.id, nil
}

func (e *Engine) applyEffects(op *operation) error {
	for _, group := range [][]effect{op.effects, op.final} {
		for _, eff := range group {
			if err := eff.apply(op.ctx); err != nil {
				return fmt.Errorf("%s: %w", eff.name, err)
			}
			op.applied = append(op.applied, eff)
		}
	}
	return nil
}

// rollback compensates applied effects newest first, reverts the journal and
// rewrites any persisted entries. Compensation runs even if the caller's
// context was cancelled.
func (e *Engine) rollback(op *operation, cause error) error {
	ctx := context.WithoutCancel(op.ctx)
	var failures []error
	for i := len(op.applied) - 1; i >= 0; i-- {
		eff := op.applied[i]
		if eff.undo == nil {
			failures = append(failures, fmt.Errorf("%s cannot be undone", eff.name))
			continue
		}
		if err := eff.undo(ctx); err != nil {
			failures = append(failures, fmt.Errorf("undo %s: %w", eff.name, err))
		}
	}
	op.journal.revert()
	if op.persisted {
		if err := e.persist(op); err != nil {
			failures = append(failures, fmt.Errorf("restore persisted ledgers: %w", err))
		}
	}
	if len(failures) > 0 {
		return errors.Join(cause, fmt.Errorf("%w: %w", ErrRollbackIncomplete, errors.Join(failures...)))
	}
	return cause
}

func (e *Engine) finish(op *operation, start time.Time, err error) {
	outcome := outcomeCommitted
	switch {
	case errors.Is(err, ErrRollbackIncomplete):
		outcome = outcomeIncomplete
	case err != nil:
		outcome = outcomeRolledBack
	}
	e.metrics.ObserveOperation(op.kind, outcome, time.Since(start))

	attrs := []any{
		slog.String("operation", op.kind),
		slog.String("operationId", op.id),
		slog.Duration("elapsed", time.Since(start)),
	}
	switch outcome {
	case outcomeCommitted:
		e.metrics.SetTotalDebt(e.debts.Total())
		e.logger.InfoContext(op.ctx, "stable operation committed", attrs...)
	case outcomeIncomplete:
		e.logger.ErrorContext(op.ctx, "stable operation rollback incomplete", append(attrs, slog.Any("error", err))...)
	default:
		e.logger.DebugContext(op.ctx, "stable operation rolled back", append(attrs, slog.Any("error", err))...)
	}
}
