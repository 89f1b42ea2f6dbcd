package model

// MessageInfo is the read-side projection of a cross-chain message with its
// processor contract resolved.
type MessageInfo struct {
	MessageID        string
	ContractAddress  string
	SourceChain      string
	TargetChain      string
	Sender           string
	Status           string
	CreatedAtBlock   int64
	LastUpdatedBlock int64
	ProcessedAtBlock *int64
	ProcessedAtTx    string
	RetryCount       int64
	NextRetryBlock   *int64
	GasUsed          *uint64
	Error            string
}

// TotalMessages is the per-status breakdown of the message table.
type TotalMessages struct {
	Total      int64
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	TimedOut   int64
}
