package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crossmirror/crosschain-indexer/chain"
	dbTypes "github.com/crossmirror/crosschain-indexer/db"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/kv"
	"github.com/crossmirror/crosschain-indexer/store"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore builds a real dual store on throwaway backends: sqlite in
// memory for the relational side, badger in memory for the keyed side.
func newTestStore(t *testing.T) (*store.Dual, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, dbTypes.MigrateModels(gormDB))

	keyed, err := kv.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { keyed.Close() })

	return store.NewDual(dbTypes.NewStore(gormDB), keyed), gormDB
}

func newTestChainRow(t *testing.T, gormDB *gorm.DB, finalityModel string, depth int64) models.Chain {
	t.Helper()
	chainRow, err := dbTypes.GetOrCreateChain(gormDB, models.Chain{
		ChainID:           "testchain-1",
		Name:              "testchain-1",
		FinalityModel:     finalityModel,
		ConfirmationDepth: depth,
	})
	require.NoError(t, err)
	return chainRow
}

// fakeAdapter serves a scripted canonical chain. Mutating blocks between
// polls simulates a reorg.
type fakeAdapter struct {
	mu         sync.Mutex
	blocks     map[int64]chain.Block
	events     map[int64][]chain.Event
	head       int64
	signals    chain.FinalitySignals
	signalsErr error
	fetchCalls int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		blocks:     map[int64]chain.Block{},
		events:     map[int64][]chain.Event{},
		signalsErr: chain.ErrNoFinalitySignals,
	}
}

// setChain replaces the canonical chain from startHeight to head with blocks
// whose hashes derive from fork, keeping parent links consistent with
// whatever sits below startHeight.
func (f *fakeAdapter) setChain(fork string, startHeight, head int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for height := startHeight; height <= head; height++ {
		parentHash := fmt.Sprintf("%s-%d", fork, height-1)
		if parent, ok := f.blocks[height-1]; ok && height == startHeight {
			parentHash = parent.Hash
		}
		f.blocks[height] = chain.Block{
			Height:     height,
			Hash:       fmt.Sprintf("%s-%d", fork, height),
			ParentHash: parentHash,
			Timestamp:  time.Now().UTC(),
		}
	}
	f.head = head
}

func (f *fakeAdapter) addEvent(height int64, event chain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.Height = height
	event.BlockHash = f.blocks[height].Hash
	f.events[height] = append(f.events[height], event)
}

func (f *fakeAdapter) FetchBlocks(ctx context.Context, startHeight, endHeight int64) ([]chain.Block, []chain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	var blocks []chain.Block
	var events []chain.Event
	for height := startHeight; height <= endHeight; height++ {
		block, ok := f.blocks[height]
		if !ok {
			break
		}
		blocks = append(blocks, block)
		events = append(events, f.events[height]...)
	}
	return blocks, events, nil
}

func (f *fakeAdapter) CurrentHead(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeAdapter) FinalitySignals(ctx context.Context) (chain.FinalitySignals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signalsErr != nil {
		return chain.FinalitySignals{}, f.signalsErr
	}
	return f.signals, nil
}

// seedBlocks writes a canonical range straight into the store with the
// given status, bypassing the orchestrator.
func seedBlocks(t *testing.T, st store.Store, chainRow models.Chain, adapter *fakeAdapter, startHeight, endHeight int64, status models.BlockStatus) {
	t.Helper()
	batch := store.Batch{ChainID: chainRow.ID, ChainName: chainRow.ChainID}
	for height := startHeight; height <= endHeight; height++ {
		block := adapter.blocks[height]
		batch.Blocks = append(batch.Blocks, models.Block{
			ChainID:    chainRow.ID,
			Height:     block.Height,
			BlockHash:  block.Hash,
			ParentHash: block.ParentHash,
			TimeStamp:  block.Timestamp,
			Status:     status,
		})
	}
	require.NoError(t, st.PutBlocksAndEvents(context.Background(), batch))
}
