package repository

import (
	"context"
	"encoding/json"

	"github.com/crossmirror/crosschain-indexer/pkg/model"
	"github.com/redis/go-redis/v9"
)

const (
	blocksChannel        = "pub/blocks"
	maxMessagesCacheSize = 50
	maxBlocksCacheSize   = 50
	messagesKey          = "c/latest_messages"
	blocksKey            = "c/latest_blocks"
)

type MessagesCache interface {
	AddMessage(ctx context.Context, info *model.MessageInfo) error
	GetMessages(ctx context.Context, start, stop int64) ([]*model.MessageInfo, error)
}

type BlocksCache interface {
	AddBlock(ctx context.Context, info *model.BlockInfo) error
	GetBlocks(ctx context.Context, start, stop int64) ([]*model.BlockInfo, error)
	PublishBlock(ctx context.Context, info *model.BlockInfo) error
}

type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{
		rdb: rdb,
	}
}

func (s *Cache) AddMessage(ctx context.Context, info *model.MessageInfo) error {
	res, err := json.Marshal(info)
	if err != nil {
		return err
	}

	if err := s.rdb.LPush(ctx, messagesKey, string(res)).Err(); err != nil {
		return err
	}

	if err := s.rdb.LTrim(ctx, messagesKey, 0, maxMessagesCacheSize).Err(); err != nil {
		return err
	}

	return nil
}

func (s *Cache) GetMessages(ctx context.Context, start, stop int64) ([]*model.MessageInfo, error) {
	if stop > maxMessagesCacheSize {
		stop = maxMessagesCacheSize
	}
	res, err := s.rdb.LRange(ctx, messagesKey, start, stop).Result()
	if err != nil {
		return nil, err
	}

	var infos []*model.MessageInfo
	for _, r := range res {
		var info model.MessageInfo
		if err := json.Unmarshal([]byte(r), &info); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}

	return infos, nil
}

func (s *Cache) PublishBlock(ctx context.Context, info *model.BlockInfo) error {
	res, err := json.Marshal(&info)
	if err != nil {
		return err
	}

	return s.rdb.Publish(ctx, blocksChannel, res).Err()
}

func (s *Cache) AddBlock(ctx context.Context, info *model.BlockInfo) error {
	res, err := json.Marshal(info)
	if err != nil {
		return err
	}

	if err := s.rdb.LPush(ctx, blocksKey, string(res)).Err(); err != nil {
		return err
	}

	if err := s.rdb.LTrim(ctx, blocksKey, 0, maxBlocksCacheSize).Err(); err != nil {
		return err
	}

	return nil
}

func (s *Cache) GetBlocks(ctx context.Context, start, stop int64) ([]*model.BlockInfo, error) {
	if stop > maxBlocksCacheSize {
		stop = maxBlocksCacheSize
	}

	res, err := s.rdb.LRange(ctx, blocksKey, start, stop).Result()
	if err != nil {
		return nil, err
	}

	var blcs []*model.BlockInfo
	for _, r := range res {
		var info model.BlockInfo
		if err := json.Unmarshal([]byte(r), &info); err != nil {
			return nil, err
		}
		blcs = append(blcs, &info)
	}

	return blcs, nil
}
