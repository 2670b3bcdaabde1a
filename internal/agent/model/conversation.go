package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage appends a message to the stored history of a conversation.
	AddMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// LoadHistory retrieves the stored history of a conversation.
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ClearHistory removes the stored history of a conversation.
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of stored messages.
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
}

// RunRepository stores finished run records for the evaluation harness.
type RunRepository interface {
	SaveRun(ctx context.Context, run *RunResult) error
	LoadRun(ctx context.Context, runID string) (*RunResult, error)
}

// ConversationHistory represents loaded conversation data.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}
