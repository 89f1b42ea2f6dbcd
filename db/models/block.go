package models

import (
	"time"
)

// BlockStatus is a finality tier. For a canonical block the status only ever
// moves up the lattice, a retired block is deleted rather than downgraded.
type BlockStatus string

const (
	BlockPending   BlockStatus = "pending"
	BlockConfirmed BlockStatus = "confirmed"
	BlockSafe      BlockStatus = "safe"
	BlockJustified BlockStatus = "justified"
	BlockFinalized BlockStatus = "finalized"
)

var statusRanks = map[BlockStatus]int{
	BlockPending:   0,
	BlockConfirmed: 1,
	BlockSafe:      2,
	BlockJustified: 3,
	BlockFinalized: 4,
}

// StatusRank returns the position of a status in the finality lattice.
// Unknown statuses rank below pending.
func StatusRank(status BlockStatus) int {
	rank, ok := statusRanks[status]
	if !ok {
		return -1
	}
	return rank
}

// StatusesAtOrAbove returns every status at or above the given tier.
func StatusesAtOrAbove(min BlockStatus) []BlockStatus {
	atOrAbove := make([]BlockStatus, 0, len(statusRanks))
	for status, rank := range statusRanks {
		if rank >= StatusRank(min) {
			atOrAbove = append(atOrAbove, status)
		}
	}
	return atOrAbove
}

// StatusesBelow returns every status strictly below the target tier, the set
// of rows a monotonic advancement is allowed to touch.
func StatusesBelow(target BlockStatus) []BlockStatus {
	below := make([]BlockStatus, 0, len(statusRanks))
	for status, rank := range statusRanks {
		if rank < StatusRank(target) {
			below = append(below, status)
		}
	}
	return below
}

type Block struct {
	ID         uint
	Height     int64 `gorm:"uniqueIndex:chainheight"`
	ChainID    uint  `gorm:"uniqueIndex:chainheight"`
	Chain      Chain `gorm:"foreignKey:ChainID"`
	BlockHash  string
	ParentHash string
	TimeStamp  time.Time
	Status     BlockStatus `gorm:"index"`
}
