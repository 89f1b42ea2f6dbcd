package models

// Processor is an on-chain contract executing cross-chain messages, one row
// per (chain, contract address). Policy fields come from on-chain config
// events and gate retry/timeout behavior of its messages.
type Processor struct {
	ID                   uint
	ChainID              uint   `gorm:"uniqueIndex:processorchaincontract"`
	ContractAddress      string `gorm:"uniqueIndex:processorchaincontract"`
	Chain                Chain  `gorm:"foreignKey:ChainID"`
	Owner                string
	MaxGasPerMessage     uint64
	MessageTimeoutBlocks int64
	RetryIntervalBlocks  int64
	MaxRetryCount        int64
	Paused               bool
}

// MessageStatus is the delivery lifecycle state of a ProcessorMessage.
// Completed and timed_out are terminal.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
	MessageTimedOut   MessageStatus = "timed_out"
)

// TerminalStatuses are the states a message can never leave.
var TerminalStatuses = []MessageStatus{MessageCompleted, MessageTimedOut}

// IsTerminal reports whether a status permits no further transition.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageCompleted || s == MessageTimedOut
}

// ProcessorMessage is the audit trail of one cross-chain message. Rows are
// created when a submission event is observed and are never deleted, only
// the delivery engine mutates the status fields.
type ProcessorMessage struct {
	ID               uint
	MessageID        string `gorm:"uniqueIndex"`
	ProcessorID      uint
	Processor        Processor `gorm:"foreignKey:ProcessorID"`
	SourceChain      string
	TargetChain      string
	Sender           string
	Payload          []byte
	Status           MessageStatus `gorm:"index"`
	CreatedAtBlock   int64
	LastUpdatedBlock int64
	ProcessedAtBlock *int64
	ProcessedAtTx    string
	RetryCount       int64
	NextRetryBlock   *int64
	GasUsed          *uint64
	Error            string
}
