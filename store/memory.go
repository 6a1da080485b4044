package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/gohitl/chatmodel"
)

// ErrNotFound is returned for unknown chats
var ErrNotFound = errors.New("chat not found")

type memoryChat struct {
	info     ChatInfo
	messages []*chatmodel.Message
}

type inMemory struct {
	mu      sync.RWMutex
	storage map[string]*memoryChat
}

// NewMemoryStore returns a store that keeps chats in the process memory
func NewMemoryStore() MessageStoreManager {
	return &inMemory{}
}

func cloneMessages(list []*chatmodel.Message) []*chatmodel.Message {
	res := make([]*chatmodel.Message, len(list))
	for i, m := range list {
		res[i] = m.Clone()
	}
	return res
}

func (m *inMemory) Messages(ctx context.Context) ([]*chatmodel.Message, error) {
	chatID, err := chatmodel.RequireChatID(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	chat := m.storage[chatID]
	if chat == nil {
		return nil, nil
	}
	return cloneMessages(chat.messages), nil
}

func (m *inMemory) Save(ctx context.Context, messages []*chatmodel.Message, state string) error {
	chatID, err := chatmodel.RequireChatID(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string]*memoryChat)
	}

	now := time.Now()
	chat := m.storage[chatID]
	if chat == nil {
		chat = &memoryChat{
			info: ChatInfo{ChatID: chatID, CreatedAt: now},
		}
		m.storage[chatID] = chat
	}
	chat.messages = cloneMessages(messages)
	chat.info.State = state
	chat.info.Messages = len(messages)
	chat.info.UpdatedAt = now
	return nil
}

func (m *inMemory) Reset(ctx context.Context) error {
	chatID, err := chatmodel.RequireChatID(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, chatID)
	return nil
}

func (m *inMemory) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	if id == "" {
		var err error
		if id, err = chatmodel.RequireChatID(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	chat := m.storage[id]
	if chat == nil {
		return nil, errors.WithMessagef(ErrNotFound, "chat %s", id)
	}
	info := chat.info
	return &info, nil
}

func (m *inMemory) ListChats(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.storage))
	for id := range m.storage {
		list = append(list, id)
	}
	slices.Sort(list)
	return list, nil
}

func (m *inMemory) Cleanup(ctx context.Context, olderThan time.Duration) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := uint32(0)
	cutoff := time.Now().Add(-olderThan)
	for id, chat := range m.storage {
		if chat.info.UpdatedAt.Before(cutoff) {
			delete(m.storage, id)
			deleted++
		}
	}
	return deleted, nil
}
