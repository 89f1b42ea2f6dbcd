package models

const (
	FinalityProgressive = "progressive"
	FinalityInstant     = "instant"
)

// Chain is one indexed chain. LastIndexedHeight and LastError are the
// operator-facing status surface, updated by the chain's ingestion loop.
type Chain struct {
	ID                uint   `gorm:"primaryKey"`
	ChainID           string `gorm:"uniqueIndex"` // e.g. sepolia-11155111
	Name              string
	FinalityModel     string
	ConfirmationDepth int64
	LastIndexedHeight int64
	LastError         string
}
