package model

import (
	"time"
)

// BlockInfo is the read-side projection of an indexed block, joined with its
// event count for list views.
type BlockInfo struct {
	ChainID        string
	BlockHeight    int64
	BlockHash      string
	ParentHash     string
	GenerationTime time.Time
	Status         string
	TotalEvents    int64
}

type TotalBlocks struct {
	BlockHeight     int64
	FinalizedHeight int64
	Count24H        int64
}
