package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/pkg/repository"
	"github.com/crossmirror/crosschain-indexer/pkg/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spf13/cobra"
)

var (
	queryConfig config.QueryConfig
	queryPool   *pgxpool.Pool
)

func init() {
	config.SetupLogFlags(&queryConfig.Log, queryCmd)
	config.SetupDatabaseFlags(&queryConfig.Database, queryCmd)
	config.SetupRedisFlags(&queryConfig.Redis, queryCmd)
	config.SetupQuerySpecificFlags(&queryConfig, queryCmd)
	rootCmd.AddCommand(queryCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Queries the currently indexed data.",
	Long: `Queries the indexed data: per-chain ingestion status, recent blocks of a
	chain, and cross-chain messages by delivery status.`,
	PreRunE: setupQuery,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		defer queryPool.Close()

		blocksService := service.NewBlocks(repository.NewBlocks(queryPool), repository.NewChains(queryPool))
		messagesService := service.NewMessages(repository.NewMessages(queryPool))

		statuses, err := blocksService.ChainStatuses(ctx)
		if err != nil {
			config.Log.Fatal("Error querying chain statuses", err)
		}

		fmt.Println("Chains:")
		for _, status := range statuses {
			fmt.Printf("  %s (%s, %s): indexed %d, finalized %d",
				status.ChainID, status.Name, status.FinalityModel,
				status.LastIndexedHeight, status.FinalizedHeight)
			if status.LastError != "" {
				fmt.Printf(", last error: %s", status.LastError)
			}
			fmt.Println()
		}

		if queryConfig.Base.Chain != "" {
			total, err := blocksService.TotalBlocks(ctx, queryConfig.Base.Chain, time.Now())
			if err != nil {
				config.Log.Fatal("Error querying block totals", err)
			}
			fmt.Printf("\nChain %s: head %d, finalized %d, %d blocks in the last 24h\n",
				queryConfig.Base.Chain, total.BlockHeight, total.FinalizedHeight, total.Count24H)

			blocks, all, err := blocksService.Blocks(ctx, queryConfig.Base.Chain, queryConfig.Base.Limit, queryConfig.Base.Offset)
			if err != nil {
				config.Log.Fatal("Error querying blocks", err)
			}
			fmt.Printf("Blocks (%d total):\n", all)
			for _, block := range blocks {
				fmt.Printf("  %d %s %s (%d events)\n", block.BlockHeight, block.BlockHash, block.Status, block.TotalEvents)
			}
		}

		totals, err := messagesService.TotalMessages(ctx)
		if err != nil {
			config.Log.Fatal("Error querying message totals", err)
		}
		fmt.Printf("\nMessages: %d total (%d pending, %d processing, %d completed, %d failed, %d timed out)\n",
			totals.Total, totals.Pending, totals.Processing, totals.Completed, totals.Failed, totals.TimedOut)

		messages, all, err := messagesService.Messages(ctx, queryConfig.Base.MessageStatus, queryConfig.Base.Limit, queryConfig.Base.Offset)
		if err != nil {
			config.Log.Fatal("Error querying messages", err)
		}
		fmt.Printf("Messages (%d matching):\n", all)
		for _, message := range messages {
			fmt.Printf("  %s %s -> %s [%s] created at block %d, retries %d\n",
				message.MessageID, message.SourceChain, message.TargetChain,
				message.Status, message.CreatedAtBlock, message.RetryCount)
		}

		// the cache holds the most recently ingested items, useful to eyeball
		// liveness without hitting the database again
		if queryConfig.Redis.RedisAddr != "" && queryConfig.Redis.RedisAddr != "-" {
			rdb := redis.NewClient(&redis.Options{Addr: queryConfig.Redis.RedisAddr, Password: queryConfig.Redis.RedisPsw})
			cache := repository.NewCache(rdb)

			recentBlocks, err := cache.GetBlocks(ctx, 0, queryConfig.Base.Limit)
			if err != nil {
				config.Log.Fatal("Error reading recent blocks from the cache", err)
			}
			fmt.Println("\nRecently ingested blocks:")
			for _, block := range recentBlocks {
				fmt.Printf("  %s %d %s\n", block.ChainID, block.BlockHeight, block.Status)
			}

			recentMessages, err := cache.GetMessages(ctx, 0, queryConfig.Base.Limit)
			if err != nil {
				config.Log.Fatal("Error reading recent messages from the cache", err)
			}
			fmt.Println("Recently submitted messages:")
			for _, message := range recentMessages {
				fmt.Printf("  %s %s -> %s\n", message.MessageID, message.SourceChain, message.TargetChain)
			}
		}
	},
}

func setupQuery(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, viperConf)
	err := queryConfig.Validate()
	if err != nil {
		return err
	}

	setupLogger(queryConfig.Log.Level, queryConfig.Log.Path, queryConfig.Log.Pretty)

	dsn := fmt.Sprintf("postgresql://%s:%s@%s:%s/%s",
		queryConfig.Database.User, queryConfig.Database.Password,
		queryConfig.Database.Host, queryConfig.Database.Port, queryConfig.Database.Database)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		config.Log.Fatal("Could not establish connection to the database", err)
	}

	queryPool = pool

	return nil
}
