package repository

import (
	"context"
	"fmt"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Chains interface {
	ChainStatuses(ctx context.Context) ([]*model.ChainStatus, error)
}

type chains struct {
	db *pgxpool.Pool
}

func NewChains(db *pgxpool.Pool) Chains {
	return &chains{db: db}
}

func (r *chains) ChainStatuses(ctx context.Context) ([]*model.ChainStatus, error) {
	query := `select c.chain_id, c.name, c.finality_model, c.last_indexed_height, c.last_error,
		coalesce((select max(bl.height) from blocks bl where bl.chain_id = c.id and bl.status = 'finalized'), 0)
		from chains c
		order by c.chain_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	data := make([]*model.ChainStatus, 0)
	for rows.Next() {
		var in model.ChainStatus
		errScan := rows.Scan(&in.ChainID, &in.Name, &in.FinalityModel,
			&in.LastIndexedHeight, &in.LastError, &in.FinalizedHeight)
		if errScan != nil {
			return nil, fmt.Errorf("repository.ChainStatuses, Scan: %v", errScan)
		}
		data = append(data, &in)
	}

	return data, nil
}
