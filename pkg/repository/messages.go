package repository

import (
	"context"
	"fmt"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `pm.message_id, p.contract_address, pm.source_chain, pm.target_chain,
		pm.sender, pm.status, pm.created_at_block, pm.last_updated_block,
		pm.processed_at_block, pm.processed_at_tx, pm.retry_count, pm.next_retry_block,
		pm.gas_used, pm.error`

// Messages is the relayer-facing read side of the message table: which
// messages to pick up, which are due a retry, and the audit view of one
// message's lifecycle.
type Messages interface {
	GetMessageInfo(ctx context.Context, messageID string) (*model.MessageInfo, error)
	Messages(ctx context.Context, status string, limit int64, offset int64) ([]*model.MessageInfo, int64, error)
	DueForRetry(ctx context.Context, chainID string, currentHeight int64) ([]*model.MessageInfo, error)
	TotalMessages(ctx context.Context) (*model.TotalMessages, error)
}

type messages struct {
	db *pgxpool.Pool
}

func NewMessages(db *pgxpool.Pool) Messages {
	return &messages{db: db}
}

func (r *messages) GetMessageInfo(ctx context.Context, messageID string) (*model.MessageInfo, error) {
	query := `select ` + messageColumns + `
		from processor_messages pm
		inner join processors p on pm.processor_id = p.id
		where pm.message_id = $1`

	o := new(model.MessageInfo)
	err := r.db.QueryRow(ctx, query, messageID).Scan(
		&o.MessageID, &o.ContractAddress, &o.SourceChain, &o.TargetChain,
		&o.Sender, &o.Status, &o.CreatedAtBlock, &o.LastUpdatedBlock,
		&o.ProcessedAtBlock, &o.ProcessedAtTx, &o.RetryCount, &o.NextRetryBlock,
		&o.GasUsed, &o.Error)
	if err != nil {
		return nil, fmt.Errorf("exec %v", err)
	}
	return o, nil
}

func (r *messages) Messages(ctx context.Context, status string, limit int64, offset int64) ([]*model.MessageInfo, int64, error) {
	query := `select ` + messageColumns + `
		from processor_messages pm
		inner join processors p on pm.processor_id = p.id
		where ($1 = '' or pm.status = $1)
		order by pm.created_at_block desc, pm.message_id
		limit $2 offset $3`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	data := make([]*model.MessageInfo, 0)
	for rows.Next() {
		var in model.MessageInfo
		errScan := rows.Scan(
			&in.MessageID, &in.ContractAddress, &in.SourceChain, &in.TargetChain,
			&in.Sender, &in.Status, &in.CreatedAtBlock, &in.LastUpdatedBlock,
			&in.ProcessedAtBlock, &in.ProcessedAtTx, &in.RetryCount, &in.NextRetryBlock,
			&in.GasUsed, &in.Error)
		if errScan != nil {
			return nil, 0, fmt.Errorf("repository.Messages, Scan: %v", errScan)
		}
		data = append(data, &in)
	}

	query = `select count(*) from processor_messages pm where ($1 = '' or pm.status = $1)`
	row := r.db.QueryRow(ctx, query, status)
	var all int64
	if err = row.Scan(&all); err != nil {
		return nil, 0, err
	}

	return data, all, nil
}

// DueForRetry returns failed messages of the chain whose scheduled retry
// block has been reached.
func (r *messages) DueForRetry(ctx context.Context, chainID string, currentHeight int64) ([]*model.MessageInfo, error) {
	query := `select ` + messageColumns + `
		from processor_messages pm
		inner join processors p on pm.processor_id = p.id
		inner join chains c on p.chain_id = c.id
		where c.chain_id = $1
		and pm.status = 'failed'
		and pm.next_retry_block is not null
		and pm.next_retry_block <= $2
		order by pm.next_retry_block, pm.message_id`

	rows, err := r.db.Query(ctx, query, chainID, currentHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	data := make([]*model.MessageInfo, 0)
	for rows.Next() {
		var in model.MessageInfo
		errScan := rows.Scan(
			&in.MessageID, &in.ContractAddress, &in.SourceChain, &in.TargetChain,
			&in.Sender, &in.Status, &in.CreatedAtBlock, &in.LastUpdatedBlock,
			&in.ProcessedAtBlock, &in.ProcessedAtTx, &in.RetryCount, &in.NextRetryBlock,
			&in.GasUsed, &in.Error)
		if errScan != nil {
			return nil, fmt.Errorf("repository.DueForRetry, Scan: %v", errScan)
		}
		data = append(data, &in)
	}

	return data, nil
}

func (r *messages) TotalMessages(ctx context.Context) (*model.TotalMessages, error) {
	query := `select
		count(*),
		count(*) filter (where status = 'pending'),
		count(*) filter (where status = 'processing'),
		count(*) filter (where status = 'completed'),
		count(*) filter (where status = 'failed'),
		count(*) filter (where status = 'timed_out')
		from processor_messages`

	o := new(model.TotalMessages)
	err := r.db.QueryRow(ctx, query).Scan(
		&o.Total, &o.Pending, &o.Processing, &o.Completed, &o.Failed, &o.TimedOut)
	if err != nil {
		return nil, err
	}
	return o, nil
}
