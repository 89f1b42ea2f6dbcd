package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedMessageFixtures(t *testing.T) func() {
	t.Helper()

	sampleChains := `INSERT INTO chains (id, chain_id, name, finality_model, confirmation_depth, last_indexed_height, last_error)
VALUES
    (1, 'eth-mainnet', 'Ethereum', 'progressive', 12, 1200, ''),
    (2, 'cosmos-hub', 'Cosmos Hub', 'instant', 0, 800, '');`

	sampleProcessors := `INSERT INTO processors (id, chain_id, contract_address, owner, max_gas_per_message, message_timeout_blocks, retry_interval_blocks, max_retry_count, paused)
VALUES
    (1, 1, '0xproc1', '0xowner1', 1000000, 1000, 10, 3, false),
    (2, 2, 'cosmosproc1', 'cosmosowner1', 500000, 500, 5, 2, false);`

	sampleMessages := `INSERT INTO processor_messages (id, message_id, processor_id, source_chain, target_chain, sender, payload, status, created_at_block, last_updated_block, processed_at_block, processed_at_tx, retry_count, next_retry_block, gas_used, error)
VALUES
    (1, 'msg-1', 1, 'eth-mainnet', 'cosmos-hub', '0xalice', '{}', 'completed', 1000, 1010, 1010, 'tx-done', 0, NULL, 21000, ''),
    (2, 'msg-2', 1, 'eth-mainnet', 'cosmos-hub', '0xbob', '{}', 'failed', 1005, 1020, NULL, '', 1, 1030, NULL, 'out of gas'),
    (3, 'msg-3', 1, 'eth-mainnet', 'cosmos-hub', '0xcarol', '{}', 'failed', 1006, 1021, NULL, '', 2, 1500, NULL, 'reverted'),
    (4, 'msg-4', 1, 'eth-mainnet', 'cosmos-hub', '0xdave', '{}', 'pending', 1100, 1100, NULL, '', 0, NULL, NULL, ''),
    (5, 'msg-5', 2, 'cosmos-hub', 'eth-mainnet', 'cosmos1abc', '{}', 'processing', 700, 710, NULL, '', 0, NULL, NULL, ''),
    (6, 'msg-6', 2, 'cosmos-hub', 'eth-mainnet', 'cosmos1def', '{}', 'timed_out', 100, 700, NULL, '', 0, NULL, NULL, '');`

	_, err := postgresConn.Exec(context.Background(), sampleChains)
	require.NoError(t, err)
	_, err = postgresConn.Exec(context.Background(), sampleProcessors)
	require.NoError(t, err)
	_, err = postgresConn.Exec(context.Background(), sampleMessages)
	require.NoError(t, err)

	return func() {
		postgresConn.Exec(context.Background(), `delete from processor_messages`)
		postgresConn.Exec(context.Background(), `delete from processors`)
		postgresConn.Exec(context.Background(), `delete from chains`)
	}
}

func TestMessages_GetMessageInfo(t *testing.T) {
	cleanup := seedMessageFixtures(t)
	defer cleanup()

	messagesRepo := NewMessages(postgresConn)

	info, err := messagesRepo.GetMessageInfo(context.Background(), "msg-2")
	require.NoError(t, err)
	require.Equal(t, "msg-2", info.MessageID)
	require.Equal(t, "0xproc1", info.ContractAddress)
	require.Equal(t, "failed", info.Status)
	require.Equal(t, int64(1), info.RetryCount)
	require.NotNil(t, info.NextRetryBlock)
	require.Equal(t, int64(1030), *info.NextRetryBlock)
	require.Equal(t, "out of gas", info.Error)

	_, err = messagesRepo.GetMessageInfo(context.Background(), "no-such-message")
	require.Error(t, err)
}

func TestMessages_Messages(t *testing.T) {
	cleanup := seedMessageFixtures(t)
	defer cleanup()

	messagesRepo := NewMessages(postgresConn)

	tests := []struct {
		name     string
		status   string
		limit    int64
		offset   int64
		total    int64
		returned int
	}{
		{"all statuses", "", 10, 0, 6, 6},
		{"failed only", "failed", 10, 0, 2, 2},
		{"paged", "", 2, 0, 6, 2},
		{"no matches", "completed", 10, 5, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, all, err := messagesRepo.Messages(context.Background(), tt.status, tt.limit, tt.offset)
			require.NoError(t, err)
			require.Equal(t, tt.total, all)
			require.Len(t, res, tt.returned)
			for _, info := range res {
				if tt.status != "" {
					require.Equal(t, tt.status, info.Status)
				}
			}
		})
	}
}

func TestMessages_DueForRetry(t *testing.T) {
	cleanup := seedMessageFixtures(t)
	defer cleanup()

	messagesRepo := NewMessages(postgresConn)

	// msg-2 retry block 1030 is due at height 1200, msg-3 at 1500 is not
	due, err := messagesRepo.DueForRetry(context.Background(), "eth-mainnet", 1200)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "msg-2", due[0].MessageID)

	due, err = messagesRepo.DueForRetry(context.Background(), "eth-mainnet", 2000)
	require.NoError(t, err)
	require.Len(t, due, 2)

	due, err = messagesRepo.DueForRetry(context.Background(), "cosmos-hub", 2000)
	require.NoError(t, err)
	require.Len(t, due, 0)
}

func TestMessages_TotalMessages(t *testing.T) {
	cleanup := seedMessageFixtures(t)
	defer cleanup()

	messagesRepo := NewMessages(postgresConn)

	total, err := messagesRepo.TotalMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(6), total.Total)
	require.Equal(t, int64(1), total.Pending)
	require.Equal(t, int64(1), total.Processing)
	require.Equal(t, int64(1), total.Completed)
	require.Equal(t, int64(2), total.Failed)
	require.Equal(t, int64(1), total.TimedOut)
}
