package models

import (
	"time"
)

// Event is an on-chain event owned by its block. Events are only ever
// inserted or retracted together with the owning block, never mutated.
type Event struct {
	ID        uint
	EventID   string `gorm:"uniqueIndex"`
	ChainID   uint   `gorm:"index:eventchainheight"`
	Height    int64  `gorm:"index:eventchainheight"`
	BlockHash string
	TxHash    string `gorm:"index"`
	TimeStamp time.Time
	EventType string `gorm:"index"`
	RawData   []byte
}
