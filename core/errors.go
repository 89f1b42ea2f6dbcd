package core

import (
	"errors"
	"fmt"
)

// ErrReorgUnrecoverable means a reorg walked back to the earliest indexed
// height without finding a common ancestor. That is a configuration or
// retention problem, so the chain's ingestion halts instead of guessing.
var ErrReorgUnrecoverable = errors.New("no common ancestor within indexed history")

// TransientFetchError wraps a chain adapter failure (network, RPC). The
// orchestrator retries these with backoff without advancing the cursor.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error during %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// StorageWriteError wraps a failed batch write. The whole batch is retried
// on the next tick from the same range, the cursor never advances past a
// partially written batch.
type StorageWriteError struct {
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write error: %v", e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

func errEmptyBatch(start, end int64) error {
	return fmt.Errorf("adapter returned no blocks for range [%d, %d]", start, end)
}

func errDiscontinuousBatch(height int64) error {
	return fmt.Errorf("parent hash mismatch within fetched batch at height %d", height)
}

// FinalityViolationError means the canonical chain diverged from stored
// history at or below the finalized frontier. Finalized data is never
// rewritten automatically: the chain's loop halts and the operator decides.
type FinalityViolationError struct {
	Chain           string
	DivergedHeight  int64
	FinalizedHeight int64
}

func (e *FinalityViolationError) Error() string {
	return fmt.Sprintf(
		"finality violation on chain %s: divergence at height %d is at or below the finalized frontier %d",
		e.Chain, e.DivergedHeight, e.FinalizedHeight,
	)
}
