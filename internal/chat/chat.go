// Package chat owns the request/response lifecycle against the remote agent:
// the single-flight conversation state machine, the event dispatcher that
// turns decoded frames into UI and persistence side effects, and the HTTP
// client that opens the event stream.
package chat

import (
	"context"
	"errors"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry. Order is the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the cost/token metadata an agent reply may carry.
type Usage struct {
	CostINR *float64
	CostUSD *float64
	Tokens  map[string]any
}

// Persistence stores transcript entries and session metadata. Calls are
// fire-and-forget from the session's point of view: failures are logged and
// never interrupt the streaming pipeline.
type Persistence interface {
	SaveMessage(ctx context.Context, sessionID, role, content string) error
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	RecordUsage(ctx context.Context, sessionID string, usage Usage) error
}

// Surface is the UI collaborator. The core renders nothing itself.
//
// ApplyStatus and RemoveStatus address the per-request status indicator;
// ApplyStatus for an id that was already removed must be a no-op, since paced
// updates can land after a terminal frame cleared the indicator.
type Surface interface {
	SetStatus(text string, healthy bool)
	ShowError(text string)
	AppendTranscriptEntry(role, text string)
	SetSendEnabled(enabled bool)
	ApplyStatus(id, text string)
	RemoveStatus(id string)
}

var (
	ErrBusy         = errors.New("a request is already in flight")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoSession    = errors.New("no active conversation")
)

const DefaultTitleBudget = 50

// DeriveTitle truncates the first user message into a session title.
func DeriveTitle(text string, budget int) string {
	if budget <= 0 {
		budget = DefaultTitleBudget
	}
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget]) + "..."
}
