package delivery

import (
	"context"
	"encoding/json"

	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Engine is the only writer of ProcessorMessage status fields. It observes
// written batches and applies the delivery state machine:
//
//	pending -> processing -> completed
//	                      -> failed (retry scheduling)
//	any non-terminal      -> timed_out (sweep, see sweep.go)
//
// All transitions are guarded updates, so replaying a batch cannot move a
// message twice and cannot resurrect a terminal one.
type Engine struct {
	gorm *gorm.DB
	hist store.Historical
}

func NewEngine(gormDB *gorm.DB, hist store.Historical) *Engine {
	return &Engine{gorm: gormDB, hist: hist}
}

// HandleBatch processes the recognized events of a freshly written batch in
// order. Individual event failures are logged and skipped: ingestion must
// not stall on one malformed payload, and the audit trail keeps the raw
// event either way.
func (e *Engine) HandleBatch(ctx context.Context, chainRow models.Chain, blocks []models.Block, events []models.Event) error {
	for _, event := range events {
		var err error
		switch event.EventType {
		case EventProcessorRegistered, EventProcessorConfigUpdated:
			err = e.handleProcessorConfig(ctx, chainRow, event)
		case EventProcessorPaused:
			err = e.handleProcessorPause(ctx, chainRow, event, true)
		case EventProcessorUnpaused:
			err = e.handleProcessorPause(ctx, chainRow, event, false)
		case EventMessageSubmitted:
			err = e.handleSubmitted(ctx, chainRow, event)
		case EventMessageExecuting:
			err = e.handleExecuting(ctx, chainRow, event)
		case EventMessageExecuted:
			err = e.handleExecuted(ctx, chainRow, event)
		case EventMessageFailed:
			err = e.handleFailed(ctx, chainRow, event)
		default:
			continue
		}
		if err != nil {
			config.Log.Errorf("Error handling %s event %s on chain %s: %v",
				event.EventType, event.EventID, chainRow.ChainID, err)
		}
	}
	return nil
}

func (e *Engine) handleProcessorConfig(ctx context.Context, chainRow models.Chain, event models.Event) error {
	var payload ProcessorPayload
	if err := json.Unmarshal(event.RawData, &payload); err != nil {
		return err
	}

	processor, err := db.UpsertProcessor(e.gorm, models.Processor{
		ChainID:              chainRow.ID,
		ContractAddress:      payload.ContractAddress,
		Owner:                payload.Owner,
		MaxGasPerMessage:     payload.MaxGasPerMessage,
		MessageTimeoutBlocks: payload.MessageTimeoutBlocks,
		RetryIntervalBlocks:  payload.RetryIntervalBlocks,
		MaxRetryCount:        payload.MaxRetryCount,
	})
	if err != nil {
		return err
	}

	return e.snapshotProcessor(ctx, chainRow, processor, event.Height)
}

func (e *Engine) handleProcessorPause(ctx context.Context, chainRow models.Chain, event models.Event, paused bool) error {
	var payload ProcessorPausePayload
	if err := json.Unmarshal(event.RawData, &payload); err != nil {
		return err
	}

	processor, err := e.processorForContract(chainRow, payload.ContractAddress)
	if err != nil {
		return err
	}
	if err := db.SetProcessorPaused(e.gorm, processor.ID, paused); err != nil {
		return err
	}
	processor.Paused = paused

	return e.snapshotProcessor(ctx, chainRow, *processor, event.Height)
}

func (e *Engine) handleSubmitted(ctx context.Context, chainRow models.Chain, event models.Event) error {
	var payload MessageSubmittedPayload
	if err := json.Unmarshal(event.RawData, &payload); err != nil {
		return err
	}

	processor, err := e.processorForContract(chainRow, payload.ContractAddress)
	if err != nil {
		return err
	}

	messageID := payload.MessageID
	if messageID == "" {
		// some processor contracts emit no message id, synthesize one so the
		// audit trail stays addressable
		messageID = uuid.NewString()
	}

	if err := db.CreateMessage(e.gorm, models.ProcessorMessage{
		MessageID:        messageID,
		ProcessorID:      processor.ID,
		SourceChain:      payload.SourceChain,
		TargetChain:      payload.TargetChain,
		Sender:           payload.Sender,
		Payload:          payload.Payload,
		Status:           models.MessagePending,
		CreatedAtBlock:   event.Height,
		LastUpdatedBlock: event.Height,
	}); err != nil {
		return err
	}

	return e.snapshotMessage(ctx, messageID, event.Height)
}

func (e *Engine) handleExecuting(ctx context.Context, chainRow models.Chain, event models.Event) error {
	var payload MessageExecutingPayload
	if err := json.Unmarshal(event.RawData, &payload); err != nil {
		return err
	}

	message, err := db.GetMessage(e.gorm, payload.MessageID)
	if err != nil {
		return err
	}
	if message == nil {
		config.Log.Warnf("Executing event for unknown message %s on chain %s, skipping", payload.MessageID, chainRow.ChainID)
		return nil
	}
	if message.Processor.Paused {
		// policy hold, not an engine error: the message stays queued and
		// remains subject to the timeout sweep
		config.Log.Infof("Processor %s is paused, holding message %s in %s",
			message.Processor.ContractAddress, message.MessageID, message.Status)
		return nil
	}

	applied, err := db.MarkProcessing(e.gorm, payload.MessageID, event.Height)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	return e.snapshotMessage(ctx, payload.MessageID, event.Height)
}

func (e *Engine) handleExecuted(ctx context.Context, chainRow models.Chain, event models.Event) error {
	var payload MessageExecutedPayload
	if err := json.Unmarshal(event.RawData, &payload); err != nil {
		return err
	}

	applied, err := db.MarkCompleted(e.gorm, payload.MessageID, event.Height, event.TxHash, payload.GasUsed)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	return e.snapshotMessage(ctx, payload.MessageID, event.Height)
}

func (e *Engine) handleFailed(ctx context.Context, chainRow models.Chain, event models.Event) error {
	var payload MessageFailedPayload
	if err := json.Unmarshal(event.RawData, &payload); err != nil {
		return err
	}

	message, err := db.GetMessage(e.gorm, payload.MessageID)
	if err != nil {
		return err
	}
	if message == nil {
		config.Log.Warnf("Failure event for unknown message %s on chain %s, skipping", payload.MessageID, chainRow.ChainID)
		return nil
	}

	retryCount := message.RetryCount + 1
	if retryCount > message.Processor.MaxRetryCount {
		retryCount = message.Processor.MaxRetryCount
	}

	var nextRetryBlock *int64
	if retryCount < message.Processor.MaxRetryCount {
		next := event.Height + message.Processor.RetryIntervalBlocks
		nextRetryBlock = &next
	}

	applied, err := db.MarkFailed(e.gorm, payload.MessageID, event.Height, payload.Error, message.RetryCount, retryCount, nextRetryBlock)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	return e.snapshotMessage(ctx, payload.MessageID, event.Height)
}

// processorForContract loads the processor, creating it with default policy
// on first observation. References between chains are by value, so a
// message event may legitimately arrive before any config event.
func (e *Engine) processorForContract(chainRow models.Chain, contractAddress string) (*models.Processor, error) {
	processor, err := db.GetProcessor(e.gorm, chainRow.ID, contractAddress)
	if err != nil {
		return nil, err
	}
	if processor != nil {
		return processor, nil
	}

	created, err := db.UpsertProcessor(e.gorm, models.Processor{
		ChainID:              chainRow.ID,
		ContractAddress:      contractAddress,
		MaxGasPerMessage:     DefaultMaxGasPerMessage,
		MessageTimeoutBlocks: DefaultMessageTimeoutBlocks,
		RetryIntervalBlocks:  DefaultRetryIntervalBlocks,
		MaxRetryCount:        DefaultMaxRetryCount,
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// snapshotMessage writes the message's post-transition state into the keyed
// store, versioned by the block height that caused the transition.
func (e *Engine) snapshotMessage(ctx context.Context, messageID string, height int64) error {
	if e.hist == nil {
		return nil
	}
	message, err := db.GetMessage(e.gorm, messageID)
	if err != nil || message == nil {
		return err
	}
	state, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return e.hist.PutEntityState(ctx, store.EntityState{
		Kind:   "message",
		Key:    messageID,
		Height: height,
		State:  state,
	})
}

func (e *Engine) snapshotProcessor(ctx context.Context, chainRow models.Chain, processor models.Processor, height int64) error {
	if e.hist == nil {
		return nil
	}
	state, err := json.Marshal(processor)
	if err != nil {
		return err
	}
	return e.hist.PutEntityState(ctx, store.EntityState{
		Kind:   "processor",
		Key:    chainRow.ChainID + "/" + processor.ContractAddress,
		Height: height,
		State:  state,
	})
}
