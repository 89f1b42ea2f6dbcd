package delivery_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	dbTypes "github.com/crossmirror/crosschain-indexer/db"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/delivery"
	"github.com/crossmirror/crosschain-indexer/kv"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestEngine(t *testing.T) (*delivery.Engine, *gorm.DB, *kv.Store, models.Chain) {
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

	chainRow, err := dbTypes.GetOrCreateChain(gormDB, models.Chain{
		ChainID:       "testchain-1",
		Name:          "testchain-1",
		FinalityModel: models.FinalityProgressive,
	})
	require.NoError(t, err)

	return delivery.NewEngine(gormDB, keyed), gormDB, keyed, chainRow
}

var eventSeq int

func newEvent(t *testing.T, chainRow models.Chain, eventType string, height int64, payload interface{}) models.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	eventSeq++
	return models.Event{
		EventID:   fmt.Sprintf("ev-%d", eventSeq),
		ChainID:   chainRow.ID,
		Height:    height,
		BlockHash: fmt.Sprintf("hash-%d", height),
		TxHash:    fmt.Sprintf("tx-%d", eventSeq),
		TimeStamp: time.Now().UTC(),
		EventType: eventType,
		RawData:   raw,
	}
}

func handle(t *testing.T, engine *delivery.Engine, chainRow models.Chain, events ...models.Event) {
	t.Helper()
	require.NoError(t, engine.HandleBatch(context.Background(), chainRow, nil, events))
}

func TestProcessorRegistrationAndPause(t *testing.T) {
	engine, gormDB, keyed, chainRow := newTestEngine(t)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorRegistered, 10, delivery.ProcessorPayload{
		ContractAddress:      "proc-1",
		Owner:                "owner-1",
		MaxGasPerMessage:     500_000,
		MessageTimeoutBlocks: 200,
		RetryIntervalBlocks:  5,
		MaxRetryCount:        2,
	}))

	processor, err := dbTypes.GetProcessor(gormDB, chainRow.ID, "proc-1")
	require.NoError(t, err)
	require.NotNil(t, processor)
	require.Equal(t, "owner-1", processor.Owner)
	require.Equal(t, int64(200), processor.MessageTimeoutBlocks)
	require.False(t, processor.Paused)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorPaused, 20, delivery.ProcessorPausePayload{
		ContractAddress: "proc-1",
	}))

	processor, err = dbTypes.GetProcessor(gormDB, chainRow.ID, "proc-1")
	require.NoError(t, err)
	require.True(t, processor.Paused)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorUnpaused, 30, delivery.ProcessorPausePayload{
		ContractAddress: "proc-1",
	}))

	processor, err = dbTypes.GetProcessor(gormDB, chainRow.ID, "proc-1")
	require.NoError(t, err)
	require.False(t, processor.Paused)

	// a config update later rewrites policy without a second row
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorConfigUpdated, 40, delivery.ProcessorPayload{
		ContractAddress:      "proc-1",
		Owner:                "owner-2",
		MessageTimeoutBlocks: 400,
	}))

	var count int64
	gormDB.Model(&models.Processor{}).Count(&count)
	require.Equal(t, int64(1), count)
	processor, err = dbTypes.GetProcessor(gormDB, chainRow.ID, "proc-1")
	require.NoError(t, err)
	require.Equal(t, "owner-2", processor.Owner)
	require.Equal(t, int64(400), processor.MessageTimeoutBlocks)

	// the keyed store holds the state as of the pause, not just the latest
	snapshot, err := keyed.EntityStateAt(context.Background(), "processor", "testchain-1/proc-1", 25)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	var asOfPause models.Processor
	require.NoError(t, json.Unmarshal(snapshot.State, &asOfPause))
	require.True(t, asOfPause.Paused)
}

func TestMessageLifecycleCompleted(t *testing.T) {
	engine, gormDB, keyed, chainRow := newTestEngine(t)

	// no processor event observed yet: submission creates one with defaults
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageSubmitted, 100, delivery.MessageSubmittedPayload{
		MessageID:       "msg-1",
		ContractAddress: "proc-1",
		SourceChain:     "testchain-1",
		TargetChain:     "otherchain-1",
		Sender:          "sender-1",
		Payload:         []byte("payload"),
	}))

	processor, err := dbTypes.GetProcessor(gormDB, chainRow.ID, "proc-1")
	require.NoError(t, err)
	require.NotNil(t, processor)
	require.Equal(t, int64(delivery.DefaultMaxRetryCount), processor.MaxRetryCount)

	message, err := dbTypes.GetMessage(gormDB, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, message)
	require.Equal(t, models.MessagePending, message.Status)
	require.Equal(t, int64(100), message.CreatedAtBlock)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageExecuting, 105, delivery.MessageExecutingPayload{
		MessageID: "msg-1",
	}))

	message, err = dbTypes.GetMessage(gormDB, "msg-1")
	require.NoError(t, err)
	require.Equal(t, models.MessageProcessing, message.Status)

	executed := newEvent(t, chainRow, delivery.EventMessageExecuted, 110, delivery.MessageExecutedPayload{
		MessageID: "msg-1",
		GasUsed:   21_000,
	})
	handle(t, engine, chainRow, executed)

	message, err = dbTypes.GetMessage(gormDB, "msg-1")
	require.NoError(t, err)
	require.Equal(t, models.MessageCompleted, message.Status)
	require.NotNil(t, message.ProcessedAtBlock)
	require.Equal(t, int64(110), *message.ProcessedAtBlock)
	require.Equal(t, executed.TxHash, message.ProcessedAtTx)
	require.NotNil(t, message.GasUsed)
	require.Equal(t, uint64(21_000), *message.GasUsed)
	require.Nil(t, message.NextRetryBlock)

	// as-of-height lookups see the message in its state at that height
	snapshot, err := keyed.EntityStateAt(context.Background(), "message", "msg-1", 107)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	var asOfExecuting models.ProcessorMessage
	require.NoError(t, json.Unmarshal(snapshot.State, &asOfExecuting))
	require.Equal(t, models.MessageProcessing, asOfExecuting.Status)

	snapshot, err = keyed.EntityStateAt(context.Background(), "message", "msg-1", 110)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	var latest models.ProcessorMessage
	require.NoError(t, json.Unmarshal(snapshot.State, &latest))
	require.Equal(t, models.MessageCompleted, latest.Status)
}

func TestMessageRetryExhaustion(t *testing.T) {
	engine, gormDB, _, chainRow := newTestEngine(t)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorRegistered, 10, delivery.ProcessorPayload{
		ContractAddress:      "proc-1",
		MessageTimeoutBlocks: 10_000,
		RetryIntervalBlocks:  10,
		MaxRetryCount:        3,
	}))
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageSubmitted, 100, delivery.MessageSubmittedPayload{
		MessageID:       "msg-1",
		ContractAddress: "proc-1",
	}))

	failAt := func(height int64) *models.ProcessorMessage {
		handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageExecuting, height-1, delivery.MessageExecutingPayload{
			MessageID: "msg-1",
		}))
		handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageFailed, height, delivery.MessageFailedPayload{
			MessageID: "msg-1",
			Error:     "out of gas",
		}))
		message, err := dbTypes.GetMessage(gormDB, "msg-1")
		require.NoError(t, err)
		require.NotNil(t, message)
		return message
	}

	message := failAt(110)
	require.Equal(t, models.MessageFailed, message.Status)
	require.Equal(t, int64(1), message.RetryCount)
	require.NotNil(t, message.NextRetryBlock)
	require.Equal(t, int64(120), *message.NextRetryBlock)

	message = failAt(125)
	require.Equal(t, int64(2), message.RetryCount)
	require.NotNil(t, message.NextRetryBlock)
	require.Equal(t, int64(135), *message.NextRetryBlock)

	// third failure exhausts the retries: nothing further is scheduled
	message = failAt(140)
	require.Equal(t, models.MessageFailed, message.Status)
	require.Equal(t, int64(3), message.RetryCount)
	require.Nil(t, message.NextRetryBlock)
	require.Equal(t, "out of gas", message.Error)
}

func TestPausedProcessorHoldsMessages(t *testing.T) {
	engine, gormDB, _, chainRow := newTestEngine(t)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorRegistered, 10, delivery.ProcessorPayload{
		ContractAddress:      "proc-1",
		MessageTimeoutBlocks: 1000,
		MaxRetryCount:        3,
	}))
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorPaused, 20, delivery.ProcessorPausePayload{
		ContractAddress: "proc-1",
	}))
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageSubmitted, 100, delivery.MessageSubmittedPayload{
		MessageID:       "msg-1",
		ContractAddress: "proc-1",
	}))
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageExecuting, 105, delivery.MessageExecutingPayload{
		MessageID: "msg-1",
	}))

	// the message stays queued while its processor is paused
	message, err := dbTypes.GetMessage(gormDB, "msg-1")
	require.NoError(t, err)
	require.Equal(t, models.MessagePending, message.Status)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventProcessorUnpaused, 110, delivery.ProcessorPausePayload{
		ContractAddress: "proc-1",
	}))
	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageExecuting, 115, delivery.MessageExecutingPayload{
		MessageID: "msg-1",
	}))

	message, err = dbTypes.GetMessage(gormDB, "msg-1")
	require.NoError(t, err)
	require.Equal(t, models.MessageProcessing, message.Status)
}

func TestSubmittedWithoutMessageIDSynthesizesOne(t *testing.T) {
	engine, gormDB, _, chainRow := newTestEngine(t)

	handle(t, engine, chainRow, newEvent(t, chainRow, delivery.EventMessageSubmitted, 100, delivery.MessageSubmittedPayload{
		ContractAddress: "proc-1",
		Sender:          "sender-1",
	}))

	var messages []models.ProcessorMessage
	require.NoError(t, gormDB.Find(&messages).Error)
	require.Len(t, messages, 1)
	require.NotEmpty(t, messages[0].MessageID)
}

func TestEventsForUnknownMessagesAreSkipped(t *testing.T) {
	engine, gormDB, _, chainRow := newTestEngine(t)

	handle(t, engine, chainRow,
		newEvent(t, chainRow, delivery.EventMessageExecuting, 100, delivery.MessageExecutingPayload{MessageID: "ghost"}),
		newEvent(t, chainRow, delivery.EventMessageExecuted, 101, delivery.MessageExecutedPayload{MessageID: "ghost"}),
		newEvent(t, chainRow, delivery.EventMessageFailed, 102, delivery.MessageFailedPayload{MessageID: "ghost"}),
	)

	var count int64
	gormDB.Model(&models.ProcessorMessage{}).Count(&count)
	require.Zero(t, count)
}

func TestReplayedBatchIsIdempotent(t *testing.T) {
	engine, gormDB, _, chainRow := newTestEngine(t)

	batch := []models.Event{
		newEvent(t, chainRow, delivery.EventProcessorRegistered, 10, delivery.ProcessorPayload{
			ContractAddress:      "proc-1",
			MessageTimeoutBlocks: 1000,
			RetryIntervalBlocks:  10,
			MaxRetryCount:        3,
		}),
		newEvent(t, chainRow, delivery.EventMessageSubmitted, 100, delivery.MessageSubmittedPayload{
			MessageID:       "msg-1",
			ContractAddress: "proc-1",
		}),
		newEvent(t, chainRow, delivery.EventMessageExecuting, 105, delivery.MessageExecutingPayload{
			MessageID: "msg-1",
		}),
		newEvent(t, chainRow, delivery.EventMessageFailed, 110, delivery.MessageFailedPayload{
			MessageID: "msg-1",
			Error:     "out of gas",
		}),
	}

	handle(t, engine, chainRow, batch...)
	// re-ingesting the same batch after a crash must not move anything twice
	handle(t, engine, chainRow, batch...)

	var messageCount, processorCount int64
	gormDB.Model(&models.ProcessorMessage{}).Count(&messageCount)
	gormDB.Model(&models.Processor{}).Count(&processorCount)
	require.Equal(t, int64(1), messageCount)
	require.Equal(t, int64(1), processorCount)

	message, err := dbTypes.GetMessage(gormDB, "msg-1")
	require.NoError(t, err)
	require.Equal(t, models.MessageFailed, message.Status)
	require.Equal(t, int64(1), message.RetryCount)
	require.NotNil(t, message.NextRetryBlock)
	require.Equal(t, int64(120), *message.NextRetryBlock)
}
