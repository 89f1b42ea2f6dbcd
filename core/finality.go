package core

import (
	"context"
	"errors"

	"github.com/crossmirror/crosschain-indexer/chain"
	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
)

// FinalityTracker advances block statuses through the finality lattice
// pending -> confirmed -> safe -> justified -> finalized. Transitions are
// monotonic for canonical blocks; retired blocks are retracted, never
// downgraded.
type FinalityTracker struct {
	chainRow models.Chain
	adapter  chain.Adapter
	rel      store.Relational
}

func NewFinalityTracker(chainRow models.Chain, adapter chain.Adapter, rel store.Relational) *FinalityTracker {
	return &FinalityTracker{
		chainRow: chainRow,
		adapter:  adapter,
		rel:      rel,
	}
}

// InitialStatus is the status a block is written with. Instant finality
// chains finalize at durable ingestion; progressive chains start at pending
// and advance on subsequent polls.
func (t *FinalityTracker) InitialStatus() models.BlockStatus {
	if t.chainRow.FinalityModel == models.FinalityInstant {
		return models.BlockFinalized
	}
	return models.BlockPending
}

// Advance moves block statuses for the chain given the locally observed
// head. For progressive chains the externally reported finality heads win;
// without a signal, blocks confirm immediately and finalize once they are
// at least confirmation_depth below the head.
func (t *FinalityTracker) Advance(ctx context.Context, head int64) error {
	if t.chainRow.FinalityModel == models.FinalityInstant {
		// nothing advances, blocks are written finalized
		return nil
	}

	signals, err := t.adapter.FinalitySignals(ctx)
	switch {
	case errors.Is(err, chain.ErrNoFinalitySignals):
		return t.advanceByDepth(ctx, head)
	case err != nil:
		return &TransientFetchError{Op: "finality signals", Err: err}
	}

	if err := t.rel.AdvanceStatus(ctx, t.chainRow.ID, head, models.BlockConfirmed); err != nil {
		return err
	}
	if signals.SafeHeight > 0 {
		if err := t.rel.AdvanceStatus(ctx, t.chainRow.ID, signals.SafeHeight, models.BlockSafe); err != nil {
			return err
		}
	}
	if signals.JustifiedHeight > 0 {
		if err := t.rel.AdvanceStatus(ctx, t.chainRow.ID, signals.JustifiedHeight, models.BlockJustified); err != nil {
			return err
		}
	}
	if signals.FinalizedHeight > 0 {
		if err := t.rel.AdvanceStatus(ctx, t.chainRow.ID, signals.FinalizedHeight, models.BlockFinalized); err != nil {
			return err
		}
	}

	return nil
}

func (t *FinalityTracker) advanceByDepth(ctx context.Context, head int64) error {
	if err := t.rel.AdvanceStatus(ctx, t.chainRow.ID, head, models.BlockConfirmed); err != nil {
		return err
	}

	finalizedUpTo := head - t.chainRow.ConfirmationDepth
	if finalizedUpTo <= 0 {
		return nil
	}
	config.Log.Debugf("Chain %s: no finality signal, finalizing up to depth-derived height %d", t.chainRow.ChainID, finalizedUpTo)
	return t.rel.AdvanceStatus(ctx, t.chainRow.ID, finalizedUpTo, models.BlockFinalized)
}
