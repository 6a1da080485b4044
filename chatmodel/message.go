package chatmodel

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/effective-security/xdb/pkg/flake"
)

// Role of the message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType is the discriminator of a message part
type PartType string

const (
	PartText           PartType = "text"
	PartToolInvocation PartType = "tool-invocation"
)

// InvocationState is the lifecycle state of a tool invocation.
// An invocation moves from call to result exactly once.
type InvocationState string

const (
	// StatePartialCall is reported by clients while arguments are still streaming,
	// it is never acted upon.
	StatePartialCall InvocationState = "partial-call"
	StateCall        InvocationState = "call"
	StateResult      InvocationState = "result"
)

// ToolInvocation is a model's request to run a named tool.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       map[string]any  `json:"args,omitempty"`
	State      InvocationState `json:"state"`
	// Result is set when State is result.
	Result any `json:"result,omitempty"`
	// Error is the in-band failure payload of a result.
	Error string `json:"error,omitempty"`
}

// IsCall returns true if the invocation awaits a result.
func (t *ToolInvocation) IsCall() bool {
	return t != nil && t.State == StateCall
}

// IsError returns true if the invocation resolved with a failure.
func (t *ToolInvocation) IsError() bool {
	return t != nil && t.State == StateResult && t.Error != ""
}

// Clone returns a shallow copy with its own Args map.
func (t *ToolInvocation) Clone() *ToolInvocation {
	c := *t
	if t.Args != nil {
		c.Args = maps.Clone(t.Args)
	}
	return &c
}

// WithResult returns a resolved copy of the invocation.
func (t *ToolInvocation) WithResult(result any) *ToolInvocation {
	c := t.Clone()
	c.State = StateResult
	c.Result = result
	c.Error = ""
	return c
}

// WithError returns a copy of the invocation resolved with a failure payload.
func (t *ToolInvocation) WithError(err error) *ToolInvocation {
	c := t.Clone()
	c.State = StateResult
	c.Result = nil
	c.Error = err.Error()
	return c
}

// AsCall returns a copy of the invocation reset to call state.
func (t *ToolInvocation) AsCall() *ToolInvocation {
	c := t.Clone()
	c.State = StateCall
	c.Result = nil
	c.Error = ""
	return c
}

// Part is one unit of message content
type Part struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ToolInvocationPart(inv *ToolInvocation) Part {
	return Part{Type: PartToolInvocation, ToolInvocation: inv}
}

// Message is a conversation turn. Part order is significant.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewMessage returns a message with a generated ID
func NewMessage(role Role, parts ...Part) *Message {
	return &Message{
		ID:    NewMessageID(),
		Role:  role,
		Parts: parts,
	}
}

func NewUserMessage(text string) *Message {
	return NewMessage(RoleUser, TextPart(text))
}

// Clone returns a copy of the message that owns its Parts slice.
// Tool invocations are shared with the original until replaced.
func (m *Message) Clone() *Message {
	c := *m
	c.Parts = slices.Clone(m.Parts)
	return &c
}

// Text returns the concatenated text parts
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolInvocations returns the invocations in part order
func (m *Message) ToolInvocations() []*ToolInvocation {
	var list []*ToolInvocation
	for _, p := range m.Parts {
		if p.Type == PartToolInvocation && p.ToolInvocation != nil {
			list = append(list, p.ToolInvocation)
		}
	}
	return list
}

// LastMessage returns the last message or nil
func LastMessage(messages []*Message) *Message {
	if len(messages) == 0 {
		return nil
	}
	return messages[len(messages)-1]
}

// NewMessageID generates a new message ID using the flake ID generator.
func NewMessageID() string {
	return "msg-" + strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 36)
}
