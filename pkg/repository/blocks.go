package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Blocks interface {
	GetBlockInfo(ctx context.Context, chainID string, height int64) (*model.BlockInfo, error)
	Blocks(ctx context.Context, chainID string, limit int64, offset int64) ([]*model.BlockInfo, int64, error)
	TotalBlocks(ctx context.Context, chainID string, to time.Time) (*model.TotalBlocks, error)
}

type blocks struct {
	db *pgxpool.Pool
}

func NewBlocks(db *pgxpool.Pool) Blocks {
	return &blocks{db: db}
}

func (r *blocks) GetBlockInfo(ctx context.Context, chainID string, height int64) (*model.BlockInfo, error) {
	query := `
				SELECT c.chain_id, bl.height, bl.block_hash, bl.parent_hash, bl.time_stamp, bl.status
				from blocks bl
				INNER JOIN chains c on bl.chain_id = c.id
				where c.chain_id=$1 and bl.height = $2
				`
	o := new(model.BlockInfo)
	err := r.db.QueryRow(ctx, query, chainID, height).Scan(
		&o.ChainID,
		&o.BlockHeight,
		&o.BlockHash,
		&o.ParentHash,
		&o.GenerationTime,
		&o.Status)
	if err != nil {
		return nil, fmt.Errorf("exec %v", err)
	}

	queryTotalEvents := `select count(*) from events ev
				INNER JOIN chains c on ev.chain_id = c.id
				where c.chain_id=$1 and ev.height=$2`
	err = r.db.QueryRow(ctx, queryTotalEvents, chainID, height).Scan(&o.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("exec total events %v", err)
	}

	return o, nil
}

func (r *blocks) Blocks(ctx context.Context, chainID string, limit int64, offset int64) ([]*model.BlockInfo, int64, error) {
	query := `select c.chain_id, bl.height, bl.block_hash, bl.parent_hash, bl.time_stamp, bl.status, count(ev.id)
		from blocks bl
		inner join chains c on bl.chain_id = c.id
		left join events ev on ev.chain_id = bl.chain_id and ev.height = bl.height
		where c.chain_id = $1
		group by c.chain_id, bl.height, bl.block_hash, bl.parent_hash, bl.time_stamp, bl.status
		order by bl.height desc
		limit $2 offset $3`

	rows, err := r.db.Query(ctx, query, chainID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	data := make([]*model.BlockInfo, 0)
	for rows.Next() {
		var in model.BlockInfo
		errScan := rows.Scan(&in.ChainID, &in.BlockHeight, &in.BlockHash,
			&in.ParentHash, &in.GenerationTime, &in.Status, &in.TotalEvents)
		if errScan != nil {
			return nil, 0, fmt.Errorf("repository.Blocks, Scan: %v", errScan)
		}
		data = append(data, &in)
	}

	query = `select count(*) from blocks bl inner join chains c on bl.chain_id = c.id where c.chain_id = $1`
	row := r.db.QueryRow(ctx, query, chainID)
	var all int64
	if err = row.Scan(&all); err != nil {
		return nil, 0, err
	}

	return data, all, nil
}

func (r *blocks) TotalBlocks(ctx context.Context, chainID string, to time.Time) (*model.TotalBlocks, error) {
	query := `select coalesce(max(bl.height), 0) from blocks bl
				inner join chains c on bl.chain_id = c.id where c.chain_id = $1`
	row := r.db.QueryRow(ctx, query, chainID)
	var blockHeight int64
	if err := row.Scan(&blockHeight); err != nil {
		return nil, err
	}

	query = `select coalesce(max(bl.height), 0) from blocks bl
				inner join chains c on bl.chain_id = c.id
				where c.chain_id = $1 and bl.status = 'finalized'`
	row = r.db.QueryRow(ctx, query, chainID)
	var finalizedHeight int64
	if err := row.Scan(&finalizedHeight); err != nil {
		return nil, err
	}

	from := to.Add(-24 * time.Hour)
	query = `select count(*) from blocks bl
				inner join chains c on bl.chain_id = c.id
				where c.chain_id = $1 and bl.time_stamp between $2 AND $3`
	row = r.db.QueryRow(ctx, query, chainID, from, to)
	var count24H int64
	if err := row.Scan(&count24H); err != nil {
		return nil, err
	}

	return &model.TotalBlocks{
		BlockHeight:     blockHeight,
		FinalizedHeight: finalizedHeight,
		Count24H:        count24H,
	}, nil
}
