// Package store defines the backend-agnostic contract over the two block and
// event stores: the relational backend (source of truth, rich queries) and
// the keyed backend (point lookups, historical state by height). Dual binds
// both behind a single write path with a fixed ordering: the relational write
// happens before the keyed write for the same batch, so the keyed backend may
// lag the relational one but never gets ahead of it.
package store

import (
	"context"

	"github.com/crossmirror/crosschain-indexer/db/models"
)

// Batch is one ingestion unit: the blocks of a contiguous height range of a
// single chain and every event they contain.
type Batch struct {
	ChainID   uint
	ChainName string
	Blocks    []models.Block
	Events    []models.Event
}

// EventFilter narrows GetEvents. Zero values mean "no restriction".
// MinStatus restricts results to events whose owning block has reached at
// least that finality tier.
type EventFilter struct {
	ChainID     uint
	StartHeight int64
	EndHeight   int64
	EventType   string
	TxHash      string
	MinStatus   models.BlockStatus
}

// EntityState is one versioned snapshot of an entity in the keyed backend.
// Height is the block height the snapshot reflects, stored with the state so
// staleness is observable rather than silently assumed.
type EntityState struct {
	Kind   string
	Key    string
	Height int64
	State  []byte
}

// Backend is the behavior both storage backends share. PutBlocksAndEvents
// and RetractFromHeight are atomic with respect to concurrent readers, and
// re-applying the same batch is a no-op (keyed by (chain, height) for blocks
// and event_id for events).
type Backend interface {
	PutBlocksAndEvents(ctx context.Context, batch Batch) error
	RetractFromHeight(ctx context.Context, chainID uint, height int64) error
	LatestHeight(ctx context.Context, chainID uint, minStatus models.BlockStatus) (int64, error)
	EarliestHeight(ctx context.Context, chainID uint) (int64, error)
	GetBlock(ctx context.Context, chainID uint, height int64) (*models.Block, error)
	GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error)
}

// Relational extends Backend with status advancement, a relational-only
// concern: block status is authoritative in the relational store.
type Relational interface {
	Backend

	// AdvanceStatus moves every canonical block of the chain at or below
	// upToHeight to the target tier. The move is monotonic: blocks already
	// at or past the target are untouched.
	AdvanceStatus(ctx context.Context, chainID uint, upToHeight int64, target models.BlockStatus) error
}

// Historical extends Backend with versioned entity state. Lookups return the
// latest version at or below the requested height. Implementations must not
// report state for a height above their observed-height watermark.
type Historical interface {
	Backend

	PutEntityState(ctx context.Context, state EntityState) error
	EntityStateAt(ctx context.Context, kind, key string, height int64) (*EntityState, error)
	ObservedHeight(ctx context.Context, chainID uint) (int64, error)
}

// Store is the full surface the ingestion and delivery paths depend on.
type Store interface {
	Relational
	Historical
}

// Dual is the combined store the orchestrator writes through. Current-state
// and ad hoc reads are served by the relational backend; historical
// state-by-height reads by the keyed backend. The keyed backend is eventually
// consistent with the relational one, bounded by the write ordering above:
// between the two writes of a batch a reader may see the batch in the
// relational store only.
type Dual struct {
	rel   Relational
	keyed Historical
}

func NewDual(rel Relational, keyed Historical) *Dual {
	return &Dual{rel: rel, keyed: keyed}
}

func (d *Dual) PutBlocksAndEvents(ctx context.Context, batch Batch) error {
	if err := d.rel.PutBlocksAndEvents(ctx, batch); err != nil {
		return err
	}
	return d.keyed.PutBlocksAndEvents(ctx, batch)
}

func (d *Dual) RetractFromHeight(ctx context.Context, chainID uint, height int64) error {
	if err := d.rel.RetractFromHeight(ctx, chainID, height); err != nil {
		return err
	}
	return d.keyed.RetractFromHeight(ctx, chainID, height)
}

func (d *Dual) LatestHeight(ctx context.Context, chainID uint, minStatus models.BlockStatus) (int64, error) {
	return d.rel.LatestHeight(ctx, chainID, minStatus)
}

func (d *Dual) EarliestHeight(ctx context.Context, chainID uint) (int64, error) {
	return d.rel.EarliestHeight(ctx, chainID)
}

func (d *Dual) GetBlock(ctx context.Context, chainID uint, height int64) (*models.Block, error) {
	return d.rel.GetBlock(ctx, chainID, height)
}

func (d *Dual) GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	return d.rel.GetEvents(ctx, filter)
}

// AdvanceStatus only touches the relational store. Keyed block records keep
// the status they were written with; historical readers get the tier a block
// had at that height, which is the point-in-time contract.
func (d *Dual) AdvanceStatus(ctx context.Context, chainID uint, upToHeight int64, target models.BlockStatus) error {
	return d.rel.AdvanceStatus(ctx, chainID, upToHeight, target)
}

func (d *Dual) PutEntityState(ctx context.Context, state EntityState) error {
	return d.keyed.PutEntityState(ctx, state)
}

func (d *Dual) EntityStateAt(ctx context.Context, kind, key string, height int64) (*EntityState, error) {
	return d.keyed.EntityStateAt(ctx, kind, key, height)
}

func (d *Dual) ObservedHeight(ctx context.Context, chainID uint) (int64, error) {
	return d.keyed.ObservedHeight(ctx, chainID)
}
