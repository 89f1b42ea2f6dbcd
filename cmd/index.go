package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"

	"github.com/crossmirror/crosschain-indexer/chain"
	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/core"
	dbTypes "github.com/crossmirror/crosschain-indexer/db"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/delivery"
	"github.com/crossmirror/crosschain-indexer/kv"
	"github.com/crossmirror/crosschain-indexer/pkg/consumer"
	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/crossmirror/crosschain-indexer/pkg/repository"
	"github.com/crossmirror/crosschain-indexer/store"
	"github.com/spf13/cobra"

	"gorm.io/gorm"
)

type Indexer struct {
	cfg       *config.IndexConfig
	db        *gorm.DB
	keyed     *kv.Store
	scheduler *gocron.Scheduler
}

var indexer Indexer

func init() {
	indexer.cfg = &config.IndexConfig{}
	config.SetupLogFlags(&indexer.cfg.Log, indexCmd)
	config.SetupDatabaseFlags(&indexer.cfg.Database, indexCmd)
	config.SetupKeyedStoreFlags(&indexer.cfg.Keyed, indexCmd)
	config.SetupRedisFlags(&indexer.cfg.Redis, indexCmd)
	config.SetupThrottlingFlag(&indexer.cfg.Base.Throttling, indexCmd)
	config.SetupIndexSpecificFlags(indexer.cfg, indexCmd)

	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Indexes the configured chains according to the configuration defined.",
	Long: `Indexes blocks and processor events across the configured chains, tracking
	per-chain finality and driving the cross-chain message delivery lifecycle.
	It is highly recommended to keep this command running as a background
	service to keep your index up to date.`,
	PreRunE: setupIndex,
	Run:     index,
}

func setupIndex(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, viperConf)

	// chain entries are a list, they come from the config file only
	if err := viperConf.UnmarshalKey("chains", &indexer.cfg.Chains); err != nil {
		return err
	}

	err := indexer.cfg.Validate()
	if err != nil {
		return err
	}

	ignoredKeys := config.CheckSuperfluousIndexKeys(viperConf.AllKeys())

	if len(ignoredKeys) > 0 {
		config.Log.Warnf("Warning, the following invalid keys will be ignored: %v", ignoredKeys)
	}

	setupLogger(indexer.cfg.Log.Level, indexer.cfg.Log.Path, indexer.cfg.Log.Pretty)

	db, err := connectToDBAndMigrate(indexer.cfg.Database)
	if err != nil {
		config.Log.Fatal("Could not establish connection to the database", err)
	}

	indexer.db = db

	keyed, err := kv.Open(indexer.cfg.Keyed.Directory, indexer.cfg.Keyed.InMemory)
	if err != nil {
		config.Log.Fatal("Could not open the keyed store", err)
	}

	indexer.keyed = keyed

	indexer.scheduler = gocron.NewScheduler(time.UTC)

	return nil
}

// chainStatusRecorder adapts the gorm status writer to the orchestrator's
// status surface.
type chainStatusRecorder struct {
	db *gorm.DB
}

func (r *chainStatusRecorder) RecordChainStatus(chainID uint, lastIndexedHeight int64, lastErr string) error {
	return dbTypes.RecordChainStatus(r.db, chainID, lastIndexedHeight, lastErr)
}

// cachePublisher feeds written blocks and submitted messages into the cache
// consumer channels. The sends never block: the cache is best-effort and
// must not stall ingestion.
type cachePublisher struct {
	blocksCh   chan *model.BlockInfo
	messagesCh chan *model.MessageInfo
}

func (p *cachePublisher) HandleBatch(ctx context.Context, chainRow models.Chain, blocks []models.Block, events []models.Event) error {
	eventCounts := make(map[int64]int64)
	for _, event := range events {
		eventCounts[event.Height]++
	}

	for _, block := range blocks {
		info := &model.BlockInfo{
			ChainID:        chainRow.ChainID,
			BlockHeight:    block.Height,
			BlockHash:      block.BlockHash,
			ParentHash:     block.ParentHash,
			GenerationTime: block.TimeStamp,
			Status:         string(block.Status),
			TotalEvents:    eventCounts[block.Height],
		}
		select {
		case p.blocksCh <- info:
		default:
			config.Log.Debugf("Block cache channel full, dropping block %d of chain %s", block.Height, chainRow.ChainID)
		}
	}

	for _, event := range events {
		if event.EventType != delivery.EventMessageSubmitted {
			continue
		}
		var payload delivery.MessageSubmittedPayload
		if err := json.Unmarshal(event.RawData, &payload); err != nil {
			continue
		}
		info := &model.MessageInfo{
			MessageID:        payload.MessageID,
			ContractAddress:  payload.ContractAddress,
			SourceChain:      payload.SourceChain,
			TargetChain:      payload.TargetChain,
			Sender:           payload.Sender,
			Status:           string(models.MessagePending),
			CreatedAtBlock:   event.Height,
			LastUpdatedBlock: event.Height,
		}
		select {
		case p.messagesCh <- info:
		default:
			config.Log.Debugf("Message cache channel full, dropping message %s of chain %s", payload.MessageID, chainRow.ChainID)
		}
	}
	return nil
}

func index(cmd *cobra.Command, args []string) {
	idxr := &indexer
	dbConn, err := idxr.db.DB()
	if err != nil {
		config.Log.Fatal("Failed to connect to DB", err)
	}
	defer dbConn.Close()
	defer idxr.keyed.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	relational := dbTypes.NewStore(idxr.db)
	dual := store.NewDual(relational, idxr.keyed)

	engine := delivery.NewEngine(idxr.db, dual)

	var publisher *cachePublisher
	if idxr.cfg.Redis.RedisAddr != "" && idxr.cfg.Redis.RedisAddr != "-" {
		rdb := redis.NewClient(&redis.Options{Addr: idxr.cfg.Redis.RedisAddr, Password: idxr.cfg.Redis.RedisPsw})
		blocksCh := make(chan *model.BlockInfo, 1000)
		messagesCh := make(chan *model.MessageInfo, 1000)
		publisher = &cachePublisher{blocksCh: blocksCh, messagesCh: messagesCh}

		cache := repository.NewCache(rdb)
		cacheConsumer := consumer.NewCacheConsumer(cache, cache, blocksCh, messagesCh)
		go func() {
			if err := cacheConsumer.RunBlocks(ctx); err != nil {
				config.Log.Error("Cache consumer stopped.", err)
			}
		}()
		go func() {
			if err := cacheConsumer.RunMessages(ctx); err != nil {
				config.Log.Error("Cache consumer stopped.", err)
			}
		}()
	}

	sweeper := delivery.NewSweeper(idxr.db, relational)
	_, err = idxr.scheduler.Every(int(idxr.cfg.Base.SweepIntervalSeconds)).Seconds().Do(sweeper.SweepOnce, ctx)
	if err != nil {
		config.Log.Error("Error scheduling message timeout sweep. Err: ", err)
	}
	idxr.scheduler.StartAsync()

	var wg sync.WaitGroup // ensures all chain loops have stopped before returning

	for _, chainConf := range idxr.cfg.Chains {
		chainRow, err := dbTypes.GetOrCreateChain(idxr.db, models.Chain{
			ChainID:           chainConf.ChainID,
			Name:              chainConf.Name,
			FinalityModel:     chainConf.FinalityModel,
			ConfirmationDepth: chainConf.ConfirmationDepth,
		})
		if err != nil {
			config.Log.Fatal("Failed to add/create chain in DB", err)
		}

		adapter, err := chain.NewAdapter(chainConf)
		if err != nil {
			config.Log.Fatal("Failed to build chain adapter", err)
		}

		orch := core.NewOrchestrator(chainConf, *idxr.cfg, chainRow, adapter, dual, &chainStatusRecorder{db: idxr.db})
		orch.RegisterObserver(engine)
		if publisher != nil {
			orch.RegisterObserver(publisher)
		}

		wg.Add(1)
		go func(orch *core.Orchestrator, chainID string) {
			defer wg.Done()
			if err := orch.Run(ctx); err != nil {
				config.Log.Error("Chain "+chainID+" ingestion stopped with error.", err)
			}
		}(orch, chainConf.ChainID)
	}

	wg.Wait()

	// If we error out in the main loop, this will block. Meaning we may not know of an error until the last scheduled sweep stops
	idxr.scheduler.Stop()
}
