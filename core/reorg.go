package core

import (
	"context"
	"fmt"

	"github.com/crossmirror/crosschain-indexer/chain"
	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
)

// ReorgDetector validates parent-hash continuity on ingestion and repairs
// stored history when the canonical chain diverged from it.
type ReorgDetector struct {
	chainRow models.Chain
	adapter  chain.Adapter
	st       store.Store
}

func NewReorgDetector(chainRow models.Chain, adapter chain.Adapter, st store.Store) *ReorgDetector {
	return &ReorgDetector{
		chainRow: chainRow,
		adapter:  adapter,
		st:       st,
	}
}

// CheckAndRecover compares the candidate block's parent hash against the
// stored block one height below. On mismatch it rolls stored history back to
// the common ancestor and returns (ancestorHeight, true) so the caller can
// reset its cursor and re-fetch the canonical range.
func (d *ReorgDetector) CheckAndRecover(ctx context.Context, candidate chain.Block) (int64, bool, error) {
	parentHeight := candidate.Height - 1
	stored, err := d.st.GetBlock(ctx, d.chainRow.ID, parentHeight)
	if err != nil {
		return 0, false, err
	}
	if stored == nil {
		// nothing indexed below the candidate, continuity cannot be checked
		return 0, false, nil
	}
	if stored.BlockHash == candidate.ParentHash {
		return 0, false, nil
	}

	config.Log.Warnf("Chain %s: reorg detected at height %d (stored %s, canonical parent %s)",
		d.chainRow.ChainID, candidate.Height, stored.BlockHash, candidate.ParentHash)

	ancestor, err := d.findCommonAncestor(ctx, parentHeight)
	if err != nil {
		return 0, false, err
	}

	// Finalized history is never rolled back. Divergence at or below the
	// finalized frontier is a fatal consistency violation for this chain.
	finalizedHeight, err := d.st.LatestHeight(ctx, d.chainRow.ID, models.BlockFinalized)
	if err != nil {
		return 0, false, err
	}
	if finalizedHeight > ancestor {
		return 0, false, &FinalityViolationError{
			Chain:           d.chainRow.ChainID,
			DivergedHeight:  ancestor + 1,
			FinalizedHeight: finalizedHeight,
		}
	}

	if err := d.st.RetractFromHeight(ctx, d.chainRow.ID, ancestor+1); err != nil {
		return 0, false, &StorageWriteError{Err: err}
	}

	config.Log.Infof("Chain %s: retracted blocks above common ancestor %d, resuming from %d",
		d.chainRow.ChainID, ancestor, ancestor+1)

	return ancestor, true, nil
}

// findCommonAncestor walks backward height by height, re-fetching the
// canonical block at each height until stored and canonical hashes agree.
func (d *ReorgDetector) findCommonAncestor(ctx context.Context, fromHeight int64) (int64, error) {
	earliest, err := d.st.EarliestHeight(ctx, d.chainRow.ID)
	if err != nil {
		return 0, err
	}

	for height := fromHeight; height >= earliest; height-- {
		stored, err := d.st.GetBlock(ctx, d.chainRow.ID, height)
		if err != nil {
			return 0, err
		}
		if stored == nil {
			continue
		}

		canonicalBlocks, _, err := d.adapter.FetchBlocks(ctx, height, height)
		if err != nil {
			return 0, &TransientFetchError{Op: "ancestor fetch", Err: err}
		}
		if len(canonicalBlocks) != 1 {
			return 0, &TransientFetchError{Op: "ancestor fetch", Err: fmt.Errorf("expected 1 block at height %d, got %d", height, len(canonicalBlocks))}
		}

		if canonicalBlocks[0].Hash == stored.BlockHash {
			return height, nil
		}
	}

	return 0, fmt.Errorf("chain %s walked back to height %d: %w", d.chainRow.ChainID, earliest, ErrReorgUnrecoverable)
}
