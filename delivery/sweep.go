package delivery

import (
	"context"

	"github.com/crossmirror/crosschain-indexer/config"
	"github.com/crossmirror/crosschain-indexer/db"
	"github.com/crossmirror/crosschain-indexer/db/models"
	"github.com/crossmirror/crosschain-indexer/store"
	"gorm.io/gorm"
)

// Sweeper periodically times out messages whose age on their source chain
// exceeded the processor's timeout policy. It runs off the indexer's own
// view of chain height, so a stalled chain never times messages out.
type Sweeper struct {
	gorm *gorm.DB
	rel  store.Relational
}

func NewSweeper(gormDB *gorm.DB, rel store.Relational) *Sweeper {
	return &Sweeper{gorm: gormDB, rel: rel}
}

// SweepOnce runs one timeout pass over every known chain.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	chains, err := db.GetChains(s.gorm)
	if err != nil {
		config.Log.Error("Error loading chains for timeout sweep.", err)
		return
	}

	for _, chainRow := range chains {
		if ctx.Err() != nil {
			return
		}
		currentHeight, err := s.rel.LatestHeight(ctx, chainRow.ID, models.BlockPending)
		if err != nil {
			config.Log.Errorf("Error getting current height of chain %s for timeout sweep: %v", chainRow.ChainID, err)
			continue
		}
		if currentHeight == 0 {
			continue
		}

		swept, err := db.SweepTimeouts(s.gorm, chainRow.ID, currentHeight)
		if err != nil {
			config.Log.Errorf("Error sweeping timeouts on chain %s: %v", chainRow.ChainID, err)
			continue
		}
		if swept > 0 {
			config.Log.Infof("Timed out %d messages on chain %s at height %d", swept, chainRow.ChainID, currentHeight)
		}
	}
}
