// Package store persists the conversation of a chat after each request.
//
// The chat is identified by the ChatContext of the request context.
// Save replaces the stored conversation, since a request returns the
// whole rewritten history.
package store

import (
	"context"
	"time"

	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/gohitl", "store")

// ChatInfo describes a stored chat
type ChatInfo struct {
	ChatID string `json:"chat_id"`
	// State is the terminal state of the last run
	State     string    `json:"state,omitempty"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageStore persists conversations
type MessageStore interface {
	// Messages returns the stored conversation of the chat from context
	Messages(ctx context.Context) ([]*chatmodel.Message, error)
	// Save replaces the conversation of the chat from context
	Save(ctx context.Context, messages []*chatmodel.Message, state string) error
	// Reset deletes the chat from context
	Reset(ctx context.Context) error
}

// MessageStoreManager provides chat management
type MessageStoreManager interface {
	MessageStore

	// GetChatInfo returns the info of chat id, or of the chat from context if id is empty
	GetChatInfo(ctx context.Context, id string) (*ChatInfo, error)
	// ListChats returns the IDs of the stored chats
	ListChats(ctx context.Context) ([]string, error)
	// Cleanup deletes chats not updated for olderThan, and returns the number of deleted chats
	Cleanup(ctx context.Context, olderThan time.Duration) (uint32, error)
}
