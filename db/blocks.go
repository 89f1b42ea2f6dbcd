package db

import (
	"context"
	"errors"

	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the relational event/block backend. It is the source of truth for
// canonical chain facts: batch writes and retractions run in a single
// database transaction, so concurrent readers see either the pre- or the
// post-state of a batch, never a partially applied one.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the message persistence helpers.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// PutBlocksAndEvents inserts a batch atomically. Re-applying the same batch
// is a no-op: blocks conflict on (chain_id, height) and events on event_id.
func (s *Store) PutBlocksAndEvents(ctx context.Context, batch store.Batch) error {
	return s.db.WithContext(ctx).Transaction(func(dbTransaction *gorm.DB) error {
		if len(batch.Blocks) != 0 {
			if err := dbTransaction.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chain_id"}, {Name: "height"}},
				DoNothing: true,
			}).Create(&batch.Blocks).Error; err != nil {
				config.Log.Error("Error creating block DB objects.", err)
				return err
			}
		}

		if len(batch.Events) != 0 {
			if err := dbTransaction.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}},
				DoNothing: true,
			}).Create(&batch.Events).Error; err != nil {
				config.Log.Error("Error creating event DB objects.", err)
				return err
			}
		}

		return nil
	})
}

// RetractFromHeight deletes every block and event of the chain at or above
// the given height in one transaction.
func (s *Store) RetractFromHeight(ctx context.Context, chainID uint, height int64) error {
	return s.db.WithContext(ctx).Transaction(func(dbTransaction *gorm.DB) error {
		if err := dbTransaction.
			Where("chain_id = ? AND height >= ?", chainID, height).
			Delete(&models.Event{}).Error; err != nil {
			config.Log.Error("Error retracting events.", err)
			return err
		}

		if err := dbTransaction.
			Where("chain_id = ? AND height >= ?", chainID, height).
			Delete(&models.Block{}).Error; err != nil {
			config.Log.Error("Error retracting blocks.", err)
			return err
		}

		return nil
	})
}

// LatestHeight returns the highest stored height of the chain at or above
// the given finality tier, 0 when nothing qualifies.
func (s *Store) LatestHeight(ctx context.Context, chainID uint, minStatus models.BlockStatus) (int64, error) {
	var height int64
	err := s.db.WithContext(ctx).
		Model(&models.Block{}).
		Select("COALESCE(MAX(height), 0)").
		Where("chain_id = ? AND status IN ?", chainID, models.StatusesAtOrAbove(minStatus)).
		Scan(&height).Error
	return height, err
}

// EarliestHeight returns the lowest indexed height of the chain, 0 when the
// chain has no blocks stored.
func (s *Store) EarliestHeight(ctx context.Context, chainID uint) (int64, error) {
	var height int64
	err := s.db.WithContext(ctx).
		Model(&models.Block{}).
		Select("COALESCE(MIN(height), 0)").
		Where("chain_id = ?", chainID).
		Scan(&height).Error
	return height, err
}

// GetBlock returns the canonical block at (chain, height), nil when no block
// is stored there.
func (s *Store) GetBlock(ctx context.Context, chainID uint, height int64) (*models.Block, error) {
	var block models.Block
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND height = ?", chainID, height).
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// AdvanceStatus moves blocks at or below upToHeight to the target tier.
// Only rows strictly below the target are touched, which keeps the lattice
// monotonic: advancing to an already-reached tier is a no-op.
func (s *Store) AdvanceStatus(ctx context.Context, chainID uint, upToHeight int64, target models.BlockStatus) error {
	below := models.StatusesBelow(target)
	if len(below) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Block{}).
		Where("chain_id = ? AND height <= ? AND status IN ?", chainID, upToHeight, below).
		Update("status", target).Error
}
