package db

import (
	"context"

	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
)

// GetEvents returns events matching the filter ordered by height. When the
// filter carries a minimum finality tier the owning block's status is checked
// through a join, so events of retracted blocks can never leak out.
func (s *Store) GetEvents(ctx context.Context, filter store.EventFilter) ([]models.Event, error) {
	query := s.db.WithContext(ctx).Model(&models.Event{})

	if filter.ChainID != 0 {
		query = query.Where("events.chain_id = ?", filter.ChainID)
	}
	if filter.StartHeight != 0 {
		query = query.Where("events.height >= ?", filter.StartHeight)
	}
	if filter.EndHeight != 0 {
		query = query.Where("events.height <= ?", filter.EndHeight)
	}
	if filter.EventType != "" {
		query = query.Where("events.event_type = ?", filter.EventType)
	}
	if filter.TxHash != "" {
		query = query.Where("events.tx_hash = ?", filter.TxHash)
	}
	if filter.MinStatus != "" {
		query = query.
			Joins("JOIN blocks ON blocks.chain_id = events.chain_id AND blocks.height = events.height").
			Where("blocks.status IN ?", models.StatusesAtOrAbove(filter.MinStatus))
	}

	var events []models.Event
	if err := query.Order("events.height asc, events.event_id asc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
