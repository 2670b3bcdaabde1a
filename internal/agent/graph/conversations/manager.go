package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/agentloop-core/server/internal/agent/model"
)

// MessagesManager carries user and assistant turns across queries of one
// conversation. Tool traffic and critiques stay inside a single run.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxTurns         int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxTurns:         config.MaxTurns,
	}
}

// LoadInto prepends the recent stored turns to a fresh conversation state.
func (mm *MessagesManager) LoadInto(ctx context.Context, conv *model.ConversationState) error {
	history, err := mm.conversationRepo.LoadHistory(ctx, conv.ID)
	if err != nil {
		return err
	}
	for _, msg := range trimTail(history.Messages, mm.maxTurns) {
		cp := &schema.Message{Role: msg.Role, Content: msg.Content}
		conv.Append(model.Annotate(cp, model.ExtraHistory, true))
	}
	return nil
}

// SaveTurn stores the query and its final answer.
func (mm *MessagesManager) SaveTurn(ctx context.Context, conversationID, query, answer string) error {
	if strings.TrimSpace(query) != "" {
		if err := mm.conversationRepo.AddMessage(ctx, conversationID, schema.UserMessage(query)); err != nil {
			return err
		}
	}
	if strings.TrimSpace(answer) == "" {
		return nil
	}
	return mm.conversationRepo.AddMessage(ctx, conversationID, schema.AssistantMessage(answer, nil))
}

// trimTail keeps the last maxTurns user/assistant text messages.
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	kept := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role != schema.User && msg.Role != schema.Assistant {
			continue
		}
		kept = append(kept, msg)
	}
	if maxTurns > 0 && len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}
	return kept
}
