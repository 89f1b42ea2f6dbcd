// Package delivery tracks the lifecycle of cross-chain messages observed on
// chain: creation from submission events, execution transitions, retry
// scheduling on failure, and block-age timeouts found by a periodic sweep.
package delivery

// Event types the engine recognizes. Anything else flowing through the
// ingestion pipeline is stored but ignored here.
const (
	EventProcessorRegistered    = "processor_registered"
	EventProcessorConfigUpdated = "processor_config_updated"
	EventProcessorPaused        = "processor_paused"
	EventProcessorUnpaused      = "processor_unpaused"
	EventMessageSubmitted       = "message_submitted"
	EventMessageExecuting       = "message_executing"
	EventMessageExecuted        = "message_executed"
	EventMessageFailed          = "message_failed"
)

// Policy defaults applied when a message references a processor contract
// before any registration or config event for it has been observed.
const (
	DefaultMaxGasPerMessage     = 1_000_000
	DefaultMessageTimeoutBlocks = 1_000
	DefaultRetryIntervalBlocks  = 10
	DefaultMaxRetryCount        = 3
)

// ProcessorPayload is the raw_data schema of processor registration and
// config-update events.
type ProcessorPayload struct {
	ContractAddress      string `json:"contract_address"`
	Owner                string `json:"owner"`
	MaxGasPerMessage     uint64 `json:"max_gas_per_message"`
	MessageTimeoutBlocks int64  `json:"message_timeout_blocks"`
	RetryIntervalBlocks  int64  `json:"retry_interval_blocks"`
	MaxRetryCount        int64  `json:"max_retry_count"`
}

// ProcessorPausePayload is the raw_data schema of pause/unpause events.
type ProcessorPausePayload struct {
	ContractAddress string `json:"contract_address"`
}

// MessageSubmittedPayload is the raw_data schema of submission events.
type MessageSubmittedPayload struct {
	MessageID       string `json:"message_id"`
	ContractAddress string `json:"contract_address"`
	SourceChain     string `json:"source_chain"`
	TargetChain     string `json:"target_chain"`
	Sender          string `json:"sender"`
	Payload         []byte `json:"payload"`
}

// MessageExecutingPayload is the raw_data schema of execution-start events.
type MessageExecutingPayload struct {
	MessageID       string `json:"message_id"`
	ContractAddress string `json:"contract_address"`
}

// MessageExecutedPayload is the raw_data schema of success events.
type MessageExecutedPayload struct {
	MessageID string `json:"message_id"`
	GasUsed   uint64 `json:"gas_used"`
}

// MessageFailedPayload is the raw_data schema of failure events.
type MessageFailedPayload struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}
