package db

import (
	"errors"

	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertProcessor creates the processor row on first observation and updates
// its policy fields on config-change events.
func UpsertProcessor(db *gorm.DB, processor models.Processor) (models.Processor, error) {
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_id"}, {Name: "contract_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner", "max_gas_per_message", "message_timeout_blocks",
			"retry_interval_blocks", "max_retry_count", "paused",
		}),
	}).Create(&processor).Error
	if err != nil {
		config.Log.Error("Error getting/creating processor DB object.", err)
		return processor, err
	}

	// Re-read so the caller holds the row id even when the insert conflicted
	err = db.Where("chain_id = ? AND contract_address = ?", processor.ChainID, processor.ContractAddress).
		First(&processor).Error
	return processor, err
}

// GetProcessor returns the processor for (chain, contract), nil when it has
// not been observed yet.
func GetProcessor(db *gorm.DB, chainID uint, contractAddress string) (*models.Processor, error) {
	var processor models.Processor
	err := db.Where("chain_id = ? AND contract_address = ?", chainID, contractAddress).
		First(&processor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &processor, nil
}

// SetProcessorPaused flips the pause flag of a processor.
func SetProcessorPaused(db *gorm.DB, processorID uint, paused bool) error {
	return db.Model(&models.Processor{}).
		Where("id = ?", processorID).
		Update("paused", paused).Error
}

// CreateMessage inserts a message row, a no-op when the message id already
// exists so re-ingesting a batch cannot double-create.
func CreateMessage(db *gorm.DB, message models.ProcessorMessage) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&message).Error
}

// GetMessage loads a message with its processor, nil when unknown.
func GetMessage(db *gorm.DB, messageID string) (*models.ProcessorMessage, error) {
	var message models.ProcessorMessage
	err := db.Preload("Processor").Where("message_id = ?", messageID).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// MarkProcessing applies the pending -> processing transition, or
// failed -> processing when the relayer re-submitted the message for a
// retry. The height guard rejects replayed events from before the last
// transition, so re-ingesting a batch cannot restart a failed message.
// Returns false when nothing was eligible, which callers treat as a stale
// or replayed event rather than an error.
func MarkProcessing(db *gorm.DB, messageID string, height int64) (bool, error) {
	result := db.Model(&models.ProcessorMessage{}).
		Where("message_id = ? AND status IN ? AND last_updated_block <= ?",
			messageID, []models.MessageStatus{models.MessagePending, models.MessageFailed}, height).
		Updates(map[string]interface{}{
			"status":             models.MessageProcessing,
			"last_updated_block": height,
		})
	return result.RowsAffected > 0, result.Error
}

// MarkCompleted applies the processing -> completed transition, recording
// where and at what cost the message executed. The status guard makes the
// update race-free against the timeout sweep: a message the sweep already
// timed out stays timed out, one the sweep is about to time out wins here.
func MarkCompleted(db *gorm.DB, messageID string, height int64, txHash string, gasUsed uint64) (bool, error) {
	result := db.Model(&models.ProcessorMessage{}).
		Where("message_id = ? AND status = ?", messageID, models.MessageProcessing).
		Updates(map[string]interface{}{
			"status":             models.MessageCompleted,
			"processed_at_block": height,
			"processed_at_tx":    txHash,
			"gas_used":           gasUsed,
			"next_retry_block":   nil,
			"last_updated_block": height,
		})
	return result.RowsAffected > 0, result.Error
}

// MarkFailed applies the processing -> failed transition. retryCount and
// nextRetryBlock are computed by the delivery engine from the processor's
// policy; the retry_count guard makes the update idempotent under replay.
func MarkFailed(db *gorm.DB, messageID string, height int64, errMsg string, previousRetryCount int64, retryCount int64, nextRetryBlock *int64) (bool, error) {
	result := db.Model(&models.ProcessorMessage{}).
		Where("message_id = ? AND status = ? AND retry_count = ?", messageID, models.MessageProcessing, previousRetryCount).
		Updates(map[string]interface{}{
			"status":             models.MessageFailed,
			"error":              errMsg,
			"retry_count":        retryCount,
			"next_retry_block":   nextRetryBlock,
			"last_updated_block": height,
		})
	return result.RowsAffected > 0, result.Error
}

// SweepTimeouts force-transitions every non-terminal message of the chain
// whose block age exceeded its processor's timeout policy. The outer status
// predicate re-checks terminal state at update time, so a message completing
// concurrently is never overwritten.
func SweepTimeouts(db *gorm.DB, chainID uint, currentHeight int64) (int64, error) {
	result := db.Exec(`
		UPDATE processor_messages
		SET status = ?, next_retry_block = NULL, last_updated_block = ?
		WHERE status IN (?, ?, ?)
		AND id IN (
			SELECT pm.id FROM processor_messages pm
			JOIN processors p ON pm.processor_id = p.id
			WHERE p.chain_id = ?
			AND pm.status IN (?, ?, ?)
			AND ? - pm.created_at_block > p.message_timeout_blocks
		)`,
		models.MessageTimedOut, currentHeight,
		models.MessagePending, models.MessageProcessing, models.MessageFailed,
		chainID,
		models.MessagePending, models.MessageProcessing, models.MessageFailed,
		currentHeight,
	)
	return result.RowsAffected, result.Error
}
