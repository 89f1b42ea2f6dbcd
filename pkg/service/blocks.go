package service

import (
	"context"
	"time"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/crossmirror/crosschain-indexer/pkg/repository"
)

type Blocks interface {
	BlockInfo(ctx context.Context, chainID string, height int64) (*model.BlockInfo, error)
	Blocks(ctx context.Context, chainID string, limit int64, offset int64) ([]*model.BlockInfo, int64, error)
	TotalBlocks(ctx context.Context, chainID string, to time.Time) (*model.TotalBlocks, error)
	ChainStatuses(ctx context.Context) ([]*model.ChainStatus, error)
}

type blocks struct {
	blocksRepo repository.Blocks
	chainsRepo repository.Chains
}

func NewBlocks(blocksRepo repository.Blocks, chainsRepo repository.Chains) *blocks {
	return &blocks{blocksRepo: blocksRepo, chainsRepo: chainsRepo}
}

func (s *blocks) BlockInfo(ctx context.Context, chainID string, height int64) (*model.BlockInfo, error) {
	return s.blocksRepo.GetBlockInfo(ctx, chainID, height)
}

func (s *blocks) Blocks(ctx context.Context, chainID string, limit int64, offset int64) ([]*model.BlockInfo, int64, error) {
	return s.blocksRepo.Blocks(ctx, chainID, limit, offset)
}

func (s *blocks) TotalBlocks(ctx context.Context, chainID string, to time.Time) (*model.TotalBlocks, error) {
	return s.blocksRepo.TotalBlocks(ctx, chainID, to)
}

func (s *blocks) ChainStatuses(ctx context.Context) ([]*model.ChainStatus, error) {
	return s.chainsRepo.ChainStatuses(ctx)
}
