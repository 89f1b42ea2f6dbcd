// Package kv is the keyed event/block backend on top of badger. It serves
// fast point lookups and historical state-by-height reads; the relational
// backend remains authoritative for current state and ad hoc queries. Writes
// arrive here only after the relational write of the same batch succeeded,
// so this store may lag behind but never contains a height the relational
// store has not durably seen.
package kv

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
	"github.com/dgraph-io/badger/v4"
)

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the badger store in the given directory. The
// in-memory mode backs tests and dry runs.
func Open(directory string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(directory).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutBlocksAndEvents writes a batch in a single badger transaction and
// advances the chain's observed-height watermark. Re-applying a batch
// rewrites identical records, which keeps the operation idempotent.
func (s *Store) PutBlocksAndEvents(ctx context.Context, batch store.Batch) error {
	return s.db.Update(func(txn *badger.Txn) error {
		maxHeight := int64(0)
		for i := range batch.Blocks {
			block := batch.Blocks[i]
			value, err := json.Marshal(block)
			if err != nil {
				return err
			}
			if err := txn.Set(blockKey(batch.ChainID, block.Height), value); err != nil {
				return err
			}
			if block.Height > maxHeight {
				maxHeight = block.Height
			}
		}

		for i := range batch.Events {
			event := batch.Events[i]
			value, err := json.Marshal(event)
			if err != nil {
				return err
			}
			if err := txn.Set(eventKey(batch.ChainID, event.Height, event.EventID), value); err != nil {
				return err
			}
		}

		if maxHeight > 0 {
			observed, err := observedHeightTxn(txn, batch.ChainID)
			if err != nil {
				return err
			}
			if maxHeight > observed {
				return txn.Set(watermarkKey(batch.ChainID), encodeUint64(uint64(maxHeight)))
			}
		}
		return nil
	})
}

// RetractFromHeight deletes blocks and events at or above the height in one
// transaction and lowers the watermark to just below the retraction point.
// Entity-state snapshots are left in place: each carries the height it
// reflects, so post-reorg readers can see exactly how stale a version is.
func (s *Store) RetractFromHeight(ctx context.Context, chainID uint, height int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, span := range []struct {
			prefix []byte
			seek   []byte
		}{
			{blockPrefix(chainID), blockKey(chainID, height)},
			{eventPrefix(chainID), eventHeightPrefix(chainID, height)},
		} {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false
			it := txn.NewIterator(iterOpts)
			keys := [][]byte{}
			for it.Seek(span.seek); it.ValidForPrefix(span.prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
		}

		observed, err := observedHeightTxn(txn, chainID)
		if err != nil {
			return err
		}
		if observed >= height {
			return txn.Set(watermarkKey(chainID), encodeUint64(uint64(height-1)))
		}
		return nil
	})
}

// LatestHeight walks the chain's block records backward and returns the
// first height whose recorded status is at or above the requested tier.
// Statuses here are the ones the blocks were written with; advancement is a
// relational concern, so tiers above the write-time status resolve there.
func (s *Store) LatestHeight(ctx context.Context, chainID uint, minStatus models.BlockStatus) (int64, error) {
	minRank := models.StatusRank(minStatus)
	var height int64
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := blockPrefix(chainID)
		for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
			var block models.Block
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &block)
			})
			if err != nil {
				return err
			}
			if models.StatusRank(block.Status) >= minRank {
				height = block.Height
				return nil
			}
		}
		return nil
	})
	return height, err
}

// EarliestHeight returns the lowest block height stored for the chain.
func (s *Store) EarliestHeight(ctx context.Context, chainID uint) (int64, error) {
	var height int64
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := blockPrefix(chainID)
		it.Seek(prefix)
		if it.ValidForPrefix(prefix) {
			height = heightFromBlockKey(it.Item().Key())
		}
		return nil
	})
	return height, err
}

// GetBlock is a point lookup of the block record at (chain, height).
func (s *Store) GetBlock(ctx context.Context, chainID uint, height int64) (*models.Block, error) {
	var block *models.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(chainID, height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			block = &models.Block{}
			return json.Unmarshal(value, block)
		})
	})
	return block, err
}

// GetEvents range-scans the chain's event records. The finality filter is
// resolved against the write-time status of the owning block record.
func (s *Store) GetEvents(ctx context.Context, filter store.EventFilter) ([]models.Event, error) {
	events := []models.Event{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := eventPrefix(filter.ChainID)
		seek := prefix
		if filter.StartHeight > 0 {
			seek = eventHeightPrefix(filter.ChainID, filter.StartHeight)
		}

		blockStatuses := map[int64]models.BlockStatus{}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var event models.Event
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &event)
			})
			if err != nil {
				return err
			}
			if filter.EndHeight != 0 && event.Height > filter.EndHeight {
				break
			}
			if filter.EventType != "" && event.EventType != filter.EventType {
				continue
			}
			if filter.TxHash != "" && event.TxHash != filter.TxHash {
				continue
			}
			if filter.MinStatus != "" {
				status, ok := blockStatuses[event.Height]
				if !ok {
					item, err := txn.Get(blockKey(filter.ChainID, event.Height))
					if err != nil {
						return err
					}
					var block models.Block
					if err := item.Value(func(value []byte) error {
						return json.Unmarshal(value, &block)
					}); err != nil {
						return err
					}
					status = block.Status
					blockStatuses[event.Height] = status
				}
				if models.StatusRank(status) < models.StatusRank(filter.MinStatus) {
					continue
				}
			}
			events = append(events, event)
		}
		return nil
	})
	return events, err
}

// PutEntityState writes one versioned snapshot of an entity.
func (s *Store) PutEntityState(ctx context.Context, state store.EntityState) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entityStateKey(state.Kind, state.Key, state.Height), state.State)
	})
}

// EntityStateAt returns the latest snapshot of the entity at or below the
// requested height, nil when nothing that old exists. The returned Height is
// the height the snapshot was written at, not the requested one.
func (s *Store) EntityStateAt(ctx context.Context, kind, key string, height int64) (*store.EntityState, error) {
	var state *store.EntityState
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := entityStatePrefix(kind, key)
		it.Seek(entityStateKey(kind, key, height))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		state = &store.EntityState{
			Kind:   kind,
			Key:    key,
			Height: entityStateHeight(item.Key(), kind, key),
			State:  value,
		}
		return nil
	})
	return state, err
}

// ObservedHeight returns the highest height this store has durably ingested
// for a chain, 0 before the first batch.
func (s *Store) ObservedHeight(ctx context.Context, chainID uint) (int64, error) {
	var height int64
	err := s.db.View(func(txn *badger.Txn) error {
		observed, err := observedHeightTxn(txn, chainID)
		height = observed
		return err
	})
	return height, err
}

func observedHeightTxn(txn *badger.Txn, chainID uint) (int64, error) {
	item, err := txn.Get(watermarkKey(chainID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var height int64
	err = item.Value(func(value []byte) error {
		if len(value) == 8 {
			height = int64(bytesToUint64(value))
		}
		return nil
	})
	return height, err
}

func bytesToUint64(value []byte) uint64 {
	var out uint64
	for _, b := range value {
		out = out<<8 | uint64(b)
	}
	return out
}
