package core

import (
	"context"
	"errors"
	"time"

	"github.com/crossmirror/crosschain-indexer/chain"
	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
)

// BatchObserver is notified after a batch has been durably written. The
// delivery engine and the cache consumer feed hang off this.
type BatchObserver interface {
	HandleBatch(ctx context.Context, chainRow models.Chain, blocks []models.Block, events []models.Event) error
}

// StatusRecorder persists the operator-facing per-chain status surface.
type StatusRecorder interface {
	RecordChainStatus(chainID uint, lastIndexedHeight int64, lastErr string) error
}

// Orchestrator drives ingestion for one chain: a sequential loop cycling
// Idle -> Fetching -> Validating -> Writing on a fixed polling interval.
// One batch is in flight per chain at a time, which keeps reorg detection
// and cursor management race-free without cross-chain locking.
type Orchestrator struct {
	cfg       config.ChainConfig
	chainRow  models.Chain
	adapter   chain.Adapter
	st        store.Store
	tracker   *FinalityTracker
	reorg     *ReorgDetector
	status    StatusRecorder
	observers []BatchObserver

	retryAttempts    int64
	retryMaxWaitSecs uint64
	throttling       float64
	exitWhenCaughtUp bool
	dry              bool

	cursor   int64
	caughtUp bool
}

func NewOrchestrator(
	cfg config.ChainConfig,
	base config.IndexConfig,
	chainRow models.Chain,
	adapter chain.Adapter,
	st store.Store,
	status StatusRecorder,
) *Orchestrator {
	return &Orchestrator{
		cfg:              cfg,
		chainRow:         chainRow,
		adapter:          adapter,
		st:               st,
		tracker:          NewFinalityTracker(chainRow, adapter, st),
		reorg:            NewReorgDetector(chainRow, adapter, st),
		status:           status,
		retryAttempts:    base.Base.RequestRetryAttempts,
		retryMaxWaitSecs: base.Base.RequestRetryMaxWait,
		throttling:       base.Base.Throttling,
		exitWhenCaughtUp: base.Base.ExitWhenCaughtUp,
		dry:              base.Base.Dry,
	}
}

// RegisterObserver adds a post-write observer. Not safe to call after Run
// has started.
func (o *Orchestrator) RegisterObserver(observer BatchObserver) {
	o.observers = append(o.observers, observer)
}

// Run loops until the context is cancelled or a fatal error halts the
// chain. The stop signal is honored between batches, never mid-write, so a
// batch is never abandoned half-applied.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Resume from the highest durably stored block so restarts pick up
	// exactly where the last run left off.
	cursor, err := o.st.LatestHeight(ctx, o.chainRow.ID, models.BlockPending)
	if err != nil {
		return err
	}
	o.cursor = cursor
	config.Log.Infof("Chain %s: starting ingestion from height %d", o.chainRow.ChainID, o.cursor+1)

	ticker := time.NewTicker(time.Duration(o.cfg.PollingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := o.tick(ctx); err != nil {
			o.recordStatus(err.Error())
			if isFatal(err) {
				config.Log.Error("Halting chain "+o.chainRow.ChainID+" ingestion.", err)
				return err
			}
			config.Log.Error("Chain "+o.chainRow.ChainID+" tick failed, will retry.", err)
		}

		if o.caughtUp && o.exitWhenCaughtUp {
			config.Log.Infof("Chain %s: caught up to head, exiting", o.chainRow.ChainID)
			return nil
		}

		select {
		case <-ctx.Done():
			config.Log.Infof("Chain %s: stop requested, exiting ingestion loop", o.chainRow.ChainID)
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs one polling cycle: fetch batches until the head is reached,
// validating and writing each one.
func (o *Orchestrator) tick(ctx context.Context) error {
	head, err := o.currentHead(ctx)
	if err != nil {
		return err
	}

	if o.cursor >= head {
		o.caughtUp = true
		// still advance finality, reported heads can move without new blocks
		return o.tracker.Advance(ctx, head)
	}
	o.caughtUp = false

	for o.cursor < head {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := o.ingestBatch(ctx, head); err != nil {
			return err
		}

		if o.throttling != 0 {
			time.Sleep(time.Duration(o.throttling * float64(time.Second)))
		}
	}

	o.caughtUp = true
	return nil
}

func (o *Orchestrator) ingestBatch(ctx context.Context, head int64) error {
	start := o.cursor + 1
	end := o.cursor + o.cfg.BatchSize
	if end > head {
		end = head
	}

	blocks, events, err := o.adapter.FetchBlocks(ctx, start, end)
	if err != nil {
		return &TransientFetchError{Op: "fetch blocks", Err: err}
	}
	if len(blocks) == 0 {
		return &TransientFetchError{Op: "fetch blocks", Err: errEmptyBatch(start, end)}
	}

	// Validating: parent-hash continuity against stored history, then
	// within the batch itself.
	ancestor, reorged, err := o.reorg.CheckAndRecover(ctx, blocks[0])
	if err != nil {
		return err
	}
	if reorged {
		// cursor resets to the common ancestor, the corrected range is
		// fetched on the next pass
		o.cursor = ancestor
		o.recordStatus("")
		return nil
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].ParentHash != blocks[i-1].Hash {
			return &TransientFetchError{Op: "batch continuity", Err: errDiscontinuousBatch(blocks[i].Height)}
		}
	}

	// Writing: blocks, events, finality advancement and the cursor move as
	// one logical unit. The batch write is atomic and idempotent, so a
	// failure anywhere here re-runs the same range next tick.
	batch := o.buildBatch(blocks, events)
	if !o.dry {
		if err := o.st.PutBlocksAndEvents(ctx, batch); err != nil {
			return &StorageWriteError{Err: err}
		}
		if err := o.tracker.Advance(ctx, head); err != nil {
			return err
		}
	}

	o.cursor = blocks[len(blocks)-1].Height
	o.recordStatus("")

	for _, observer := range o.observers {
		if err := observer.HandleBatch(ctx, o.chainRow, batch.Blocks, batch.Events); err != nil {
			// observers are downstream consumers, their failures must not
			// stall ingestion
			config.Log.Error("Batch observer failed for chain "+o.chainRow.ChainID+".", err)
		}
	}

	return nil
}

func (o *Orchestrator) buildBatch(blocks []chain.Block, events []chain.Event) store.Batch {
	initialStatus := o.tracker.InitialStatus()

	batch := store.Batch{
		ChainID:   o.chainRow.ID,
		ChainName: o.chainRow.ChainID,
		Blocks:    make([]models.Block, 0, len(blocks)),
		Events:    make([]models.Event, 0, len(events)),
	}

	for _, block := range blocks {
		batch.Blocks = append(batch.Blocks, models.Block{
			ChainID:    o.chainRow.ID,
			Height:     block.Height,
			BlockHash:  block.Hash,
			ParentHash: block.ParentHash,
			TimeStamp:  block.Timestamp,
			Status:     initialStatus,
		})
	}

	for _, event := range events {
		batch.Events = append(batch.Events, models.Event{
			EventID:   event.EventID,
			ChainID:   o.chainRow.ID,
			Height:    event.Height,
			BlockHash: event.BlockHash,
			TxHash:    event.TxHash,
			TimeStamp: event.Timestamp,
			EventType: event.Type,
			RawData:   event.RawData,
		})
	}

	return batch
}

// currentHead queries the adapter with incremental backoff: the wait
// doubles per attempt up to the configured max.
func (o *Orchestrator) currentHead(ctx context.Context) (int64, error) {
	maxWait := time.Duration(o.retryMaxWaitSecs) * time.Second
	if maxWait < 2*time.Second {
		maxWait = 2 * time.Second
	}

	var attempts int64
	for {
		head, err := o.adapter.CurrentHead(ctx)
		if err == nil {
			return head, nil
		}
		attempts++
		if o.retryAttempts >= 0 && attempts > o.retryAttempts {
			return 0, &TransientFetchError{Op: "current head", Err: err}
		}

		wait := time.Duration(1<<uint(attempts)) * time.Second
		if wait > maxWait || wait <= 0 {
			wait = maxWait
		}
		config.Log.Error("Error getting chain head, backing off and trying again", err)

		select {
		case <-ctx.Done():
			return 0, &TransientFetchError{Op: "current head", Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
}

func (o *Orchestrator) recordStatus(lastErr string) {
	if o.status == nil {
		return
	}
	if err := o.status.RecordChainStatus(o.chainRow.ID, o.cursor, lastErr); err != nil {
		config.Log.Error("Error recording chain status.", err)
	}
}

func isFatal(err error) bool {
	var finalityViolation *FinalityViolationError
	return errors.As(err, &finalityViolation) || errors.Is(err, ErrReorgUnrecoverable)
}
