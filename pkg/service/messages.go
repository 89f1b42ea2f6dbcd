package service

import (
	"context"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/crossmirror/crosschain-indexer/pkg/repository"
)

type Messages interface {
	MessageInfo(ctx context.Context, messageID string) (*model.MessageInfo, error)
	Messages(ctx context.Context, status string, limit int64, offset int64) ([]*model.MessageInfo, int64, error)
	DueForRetry(ctx context.Context, chainID string, currentHeight int64) ([]*model.MessageInfo, error)
	TotalMessages(ctx context.Context) (*model.TotalMessages, error)
}

type messages struct {
	messagesRepo repository.Messages
}

func NewMessages(messagesRepo repository.Messages) *messages {
	return &messages{messagesRepo: messagesRepo}
}

func (s *messages) MessageInfo(ctx context.Context, messageID string) (*model.MessageInfo, error) {
	return s.messagesRepo.GetMessageInfo(ctx, messageID)
}

func (s *messages) Messages(ctx context.Context, status string, limit int64, offset int64) ([]*model.MessageInfo, int64, error) {
	return s.messagesRepo.Messages(ctx, status, limit, offset)
}

func (s *messages) DueForRetry(ctx context.Context, chainID string, currentHeight int64) ([]*model.MessageInfo, error) {
	return s.messagesRepo.DueForRetry(ctx, chainID, currentHeight)
}

func (s *messages) TotalMessages(ctx context.Context) (*model.TotalMessages, error) {
	return s.messagesRepo.TotalMessages(ctx)
}
