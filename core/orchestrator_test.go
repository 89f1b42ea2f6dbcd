package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crossmirror/crosschain-indexer/chain"
	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
	"github.com/stretchr/testify/require"
)

func testChainConf() config.ChainConfig {
	return config.ChainConfig{
		ChainID:           "testchain-1",
		Name:              "testchain-1",
		RPC:               "http://localhost:26657",
		FinalityModel:     models.FinalityProgressive,
		ConfirmationDepth: 3,
		BatchSize:         4,
		PollingIntervalMs: 10,
	}
}

func testIndexConf() config.IndexConfig {
	var conf config.IndexConfig
	conf.Base.ExitWhenCaughtUp = true
	conf.Base.RequestRetryAttempts = 1
	conf.Base.RequestRetryMaxWait = 1
	return conf
}

type countingObserver struct {
	mu     sync.Mutex
	blocks int
	events int
}

func (o *countingObserver) HandleBatch(ctx context.Context, chainRow models.Chain, blocks []models.Block, events []models.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks += len(blocks)
	o.events += len(events)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	height  int64
	lastErr string
}

func (r *fakeRecorder) RecordChainStatus(chainID uint, lastIndexedHeight int64, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.height = lastIndexedHeight
	r.lastErr = lastErr
	return nil
}

func TestRunIngestsToHead(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityProgressive, 3)
	adapter := newFakeAdapter()
	adapter.setChain("a", 1, 10)
	adapter.addEvent(3, chain.Event{EventID: "ev-1", TxHash: "tx-1", Type: "message_submitted", RawData: []byte("{}"), Timestamp: time.Now().UTC()})
	adapter.addEvent(7, chain.Event{EventID: "ev-2", TxHash: "tx-2", Type: "message_executed", RawData: []byte("{}"), Timestamp: time.Now().UTC()})

	observer := &countingObserver{}
	recorder := &fakeRecorder{}
	orch := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, recorder)
	orch.RegisterObserver(observer)

	require.NoError(t, orch.Run(ctx))

	latest, err := st.LatestHeight(ctx, chainRow.ID, models.BlockPending)
	require.NoError(t, err)
	require.Equal(t, int64(10), latest)

	// depth-derived finality reached head minus depth
	latest, err = st.LatestHeight(ctx, chainRow.ID, models.BlockFinalized)
	require.NoError(t, err)
	require.Equal(t, int64(7), latest)

	events, err := st.GetEvents(ctx, store.EventFilter{ChainID: chainRow.ID})
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, 10, observer.blocks)
	require.Equal(t, 2, observer.events)
	require.Equal(t, int64(10), recorder.height)
	require.Empty(t, recorder.lastErr)
}

func TestRunInstantChainFinalizesImmediately(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityInstant, 0)
	adapter := newFakeAdapter()
	adapter.setChain("a", 1, 10)

	conf := testChainConf()
	conf.FinalityModel = models.FinalityInstant
	conf.ConfirmationDepth = 0

	orch := NewOrchestrator(conf, testIndexConf(), chainRow, adapter, st, nil)
	require.NoError(t, orch.Run(ctx))

	// every block lands finalized, no intermediate tier is ever stored
	latest, err := st.LatestHeight(ctx, chainRow.ID, models.BlockFinalized)
	require.NoError(t, err)
	require.Equal(t, int64(10), latest)

	block, err := st.GetBlock(ctx, chainRow.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.BlockFinalized, block.Status)
}

func TestRunResumesFromStoredCursor(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityProgressive, 3)
	adapter := newFakeAdapter()
	adapter.setChain("a", 1, 10)

	orch := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, nil)
	require.NoError(t, orch.Run(ctx))

	// the chain grew while we were away
	adapter.setChain("a", 11, 12)

	observer := &countingObserver{}
	resumed := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, nil)
	resumed.RegisterObserver(observer)
	require.NoError(t, resumed.Run(ctx))

	// only the new heights were fetched and written
	require.Equal(t, 2, observer.blocks)

	latest, err := st.LatestHeight(ctx, chainRow.ID, models.BlockPending)
	require.NoError(t, err)
	require.Equal(t, int64(12), latest)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityProgressive, 3)
	adapter := newFakeAdapter()
	adapter.setChain("a", 1, 5)

	conf := testIndexConf()
	conf.Base.Dry = true

	observer := &countingObserver{}
	orch := NewOrchestrator(testChainConf(), conf, chainRow, adapter, st, nil)
	orch.RegisterObserver(observer)
	require.NoError(t, orch.Run(ctx))

	latest, err := st.LatestHeight(ctx, chainRow.ID, models.BlockPending)
	require.NoError(t, err)
	require.Zero(t, latest)

	// observers still see the batches
	require.Equal(t, 5, observer.blocks)
}

func TestRunRecoversFromReorg(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityProgressive, 3)
	adapter := newFakeAdapter()
	adapter.setChain("a", 1, 10)

	orch := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, nil)
	require.NoError(t, orch.Run(ctx))

	// the chain replaces everything above height 7 and keeps growing
	adapter.setChain("b", 8, 12)

	recorder := &fakeRecorder{}
	resumed := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, recorder)
	require.NoError(t, resumed.Run(ctx))

	latest, err := st.LatestHeight(ctx, chainRow.ID, models.BlockPending)
	require.NoError(t, err)
	require.Equal(t, int64(12), latest)

	// stored history above the ancestor is the canonical branch now
	for height := int64(8); height <= 12; height++ {
		block, err := st.GetBlock(ctx, chainRow.ID, height)
		require.NoError(t, err)
		require.NotNil(t, block)
		require.Equal(t, adapter.blocks[height].Hash, block.BlockHash, "height %d", height)
	}

	require.Equal(t, int64(12), recorder.height)
	require.Empty(t, recorder.lastErr)
}

func TestRunHaltsOnFinalityViolation(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityProgressive, 3)
	adapter := newFakeAdapter()
	adapter.setChain("a", 1, 9)
	seedBlocks(t, st, chainRow, adapter, 1, 9, models.BlockFinalized)

	// divergence below the finalized frontier
	adapter.setChain("b", 8, 12)

	recorder := &fakeRecorder{}
	orch := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, recorder)
	err := orch.Run(ctx)

	var violation *FinalityViolationError
	require.ErrorAs(t, err, &violation)
	require.NotEmpty(t, recorder.lastErr)

	// finalized history is untouched
	block, err2 := st.GetBlock(ctx, chainRow.ID, 9)
	require.NoError(t, err2)
	require.Equal(t, "a-9", block.BlockHash)
}

func TestTickEmptyBatchIsTransient(t *testing.T) {
	ctx := context.Background()
	st, gormDB := newTestStore(t)
	chainRow := newTestChainRow(t, gormDB, models.FinalityProgressive, 3)
	adapter := newFakeAdapter()
	adapter.head = 5 // head reported, no blocks served

	orch := NewOrchestrator(testChainConf(), testIndexConf(), chainRow, adapter, st, nil)
	err := orch.tick(ctx)

	var transient *TransientFetchError
	require.ErrorAs(t, err, &transient)
	require.False(t, isFatal(err))
}
