package store

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store implements the MessageStoreManager interface using Redis as the backend.
// The keys namespace is organized as follows:
// - `/<prefix>/chatstore/messages/<chatID>` list of JSON encoded messages
// - `/<prefix>/chatstore/info/<chatID>` JSON encoded ChatInfo
// - `/<prefix>/chatstore/chats` set of chat IDs

type redisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store backed by client.
// When ttl is positive, a chat expires after ttl without updates.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) MessageStoreManager {
	return &redisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (m *redisStore) getRedisMessagesKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "messages", chatID)
}

func (m *redisStore) getRedisChatInfoKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "info", chatID)
}

func (m *redisStore) getRedisChatListKey() string {
	return path.Join(m.prefix, "chatstore", "chats")
}

func (m *redisStore) Messages(ctx context.Context) ([]*chatmodel.Message, error) {
	chatID, err := chatmodel.RequireChatID(ctx)
	if err != nil {
		return nil, err
	}

	data, err := m.client.LRange(ctx, m.getRedisMessagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get messages from Redis")
	}

	messages := make([]*chatmodel.Message, 0, len(data))
	for _, item := range data {
		msg := new(chatmodel.Message)
		if err := json.Unmarshal([]byte(item), msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "unmarshal_message",
				"chat_id", chatID,
				"err", err.Error(),
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (m *redisStore) Save(ctx context.Context, messages []*chatmodel.Message, state string) error {
	chatID, err := chatmodel.RequireChatID(ctx)
	if err != nil {
		return err
	}

	items := make([]any, 0, len(messages))
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		items = append(items, data)
	}

	info, err := m.getChatInfo(ctx, chatID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		info = &ChatInfo{
			ChatID:    chatID,
			CreatedAt: time.Now(),
		}
	}
	info.State = state
	info.Messages = len(messages)
	info.UpdatedAt = time.Now()

	infoData, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat info")
	}

	messagesKey := m.getRedisMessagesKey(chatID)
	chatKey := m.getRedisChatInfoKey(chatID)

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, messagesKey)
		if len(items) > 0 {
			pipe.RPush(ctx, messagesKey, items...)
		}
		pipe.Set(ctx, chatKey, infoData, m.ttl)
		pipe.SAdd(ctx, m.getRedisChatListKey(), chatID)
		if m.ttl > 0 && len(items) > 0 {
			pipe.Expire(ctx, messagesKey, m.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to store messages in Redis")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "saved",
		"chat_id", chatID,
		"messages", len(messages),
		"state", state,
	)
	return nil
}

func (m *redisStore) Reset(ctx context.Context) error {
	chatID, err := chatmodel.RequireChatID(ctx)
	if err != nil {
		return err
	}
	return m.delete(ctx, chatID)
}

func (m *redisStore) delete(ctx context.Context, chatID string) error {
	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.getRedisMessagesKey(chatID))
		pipe.Del(ctx, m.getRedisChatInfoKey(chatID))
		pipe.SRem(ctx, m.getRedisChatListKey(), chatID)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}

func (m *redisStore) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	if id == "" {
		var err error
		if id, err = chatmodel.RequireChatID(ctx); err != nil {
			return nil, err
		}
	}
	return m.getChatInfo(ctx, id)
}

func (m *redisStore) getChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	data, err := m.client.Get(ctx, m.getRedisChatInfoKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.WithMessagef(ErrNotFound, "chat %s", chatID)
		}
		return nil, errors.Wrap(err, "failed to get chat info from Redis")
	}

	info := new(ChatInfo)
	if err = json.Unmarshal([]byte(data), info); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chat info")
	}
	return info, nil
}

func (m *redisStore) ListChats(ctx context.Context) ([]string, error) {
	chatIDs, err := m.client.SMembers(ctx, m.getRedisChatListKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list chats from Redis")
	}
	return chatIDs, nil
}

func (m *redisStore) Cleanup(ctx context.Context, olderThan time.Duration) (uint32, error) {
	chatIDs, err := m.ListChats(ctx)
	if err != nil {
		return 0, err
	}

	deleted := uint32(0)
	cutoff := time.Now().Add(-olderThan)
	for _, chatID := range chatIDs {
		info, err := m.getChatInfo(ctx, chatID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, err
		}
		// expired chats leave a dangling ID in the list
		if info == nil || info.UpdatedAt.Before(cutoff) {
			if err = m.delete(ctx, chatID); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}
