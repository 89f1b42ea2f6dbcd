package consumer

import (
	"context"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/crossmirror/crosschain-indexer/pkg/repository"
	"github.com/rs/zerolog/log"
)

// cacheConsumer drains block and message projections off the ingestion path
// and fans them out to the redis cache and pub/sub channel.
type cacheConsumer struct {
	blocksCh   chan *model.BlockInfo
	messagesCh chan *model.MessageInfo
	blocks     repository.BlocksCache
	messages   repository.MessagesCache
}

func NewCacheConsumer(
	blocks repository.BlocksCache,
	messages repository.MessagesCache,
	blocksCh chan *model.BlockInfo,
	messagesCh chan *model.MessageInfo,
) *cacheConsumer {
	return &cacheConsumer{
		blocks:     blocks,
		messages:   messages,
		blocksCh:   blocksCh,
		messagesCh: messagesCh,
	}
}

func (s *cacheConsumer) RunBlocks(ctx context.Context) error {
	log.Info().Msgf("Starting cache consumer: RunBlocks")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("breaking the worker loop.")
			return nil
		case newBlock := <-s.blocksCh:
			if err := s.blocks.AddBlock(ctx, newBlock); err != nil {
				log.Err(err).Msgf("Error caching block")
			}
			if err := s.blocks.PublishBlock(ctx, newBlock); err != nil {
				log.Err(err).Msgf("Error publishing block")
			}
		}
	}
}

func (s *cacheConsumer) RunMessages(ctx context.Context) error {
	log.Info().Msgf("Starting cache consumer: RunMessages")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("breaking the worker loop.")
			return nil
		case newMessage := <-s.messagesCh:
			if err := s.messages.AddMessage(ctx, newMessage); err != nil {
				log.Err(err).Msgf("Error caching message")
			}
		}
	}
}
