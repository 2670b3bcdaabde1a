package model

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

const DefaultStepBudget = 25

// Annotation keys stored in schema.Message.Extra.
const (
	ExtraReflection = "reflection"
	ExtraFallback   = "fallback"
	ExtraAgent      = "agent"
	ExtraPlanStep   = "plan_step"
	ExtraHistory    = "history"

	// ExtraTermination overrides the termination reason of a final message.
	ExtraTermination = "termination"
)

// ConversationState is the append-only transcript of one query together with
// its step counter and budget. It is owned by a single controller at a time;
// nested controllers receive the same pointer so the budget is shared.
type ConversationState struct {
	ID string

	messages []*schema.Message
	steps    int
	budget   int
	ledger   ToolLedger
	costUSD  float64
	callSeq  int
}

// NewConversationState creates a state with the given budget. Budgets below
// one are replaced by DefaultStepBudget.
func NewConversationState(id string, budget int) *ConversationState {
	if budget < 1 {
		budget = DefaultStepBudget
	}
	return &ConversationState{ID: id, budget: budget}
}

// Append adds copies of msgs to the transcript. It never fails and never
// advances the step counter.
func (s *ConversationState) Append(msgs ...*schema.Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		cp := *m
		if m.Extra != nil {
			cp.Extra = make(map[string]any, len(m.Extra))
			for k, v := range m.Extra {
				cp.Extra[k] = v
			}
		}
		s.messages = append(s.messages, &cp)
	}
}

// Messages returns the transcript in order. The slice is a copy.
func (s *ConversationState) Messages() []*schema.Message {
	out := make([]*schema.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (s *ConversationState) Len() int { return len(s.messages) }

// CompleteStep records one finished decision cycle.
func (s *ConversationState) CompleteStep() {
	if s.steps < s.budget {
		s.steps++
	}
}

func (s *ConversationState) StepCount() int { return s.steps }

func (s *ConversationState) Budget() int { return s.budget }

// IsLastStep reports whether only a final textual answer may still be produced.
func (s *ConversationState) IsLastStep() bool {
	return s.steps >= s.budget-1
}

// Exhausted reports whether no decision cycle is left at all.
func (s *ConversationState) Exhausted() bool {
	return s.steps >= s.budget
}

// Record adds a tool outcome to the usage ledger.
func (s *ConversationState) Record(o ToolOutcome) {
	s.ledger.Record(o)
}

func (s *ConversationState) Ledger() *ToolLedger { return &s.ledger }

func (s *ConversationState) AddCost(usd float64) { s.costUSD += usd }

func (s *ConversationState) CostUSD() float64 { return s.costUSD }

// NextCallID synthesizes a tool call id for providers that omit one.
func (s *ConversationState) NextCallID() string {
	s.callSeq++
	return fmt.Sprintf("call_%d", s.callSeq)
}

// Annotate sets an annotation flag on m.
func Annotate(m *schema.Message, key string, value any) *schema.Message {
	if m.Extra == nil {
		m.Extra = map[string]any{}
	}
	m.Extra[key] = value
	return m
}

func flag(m *schema.Message, key string) bool {
	if m == nil || m.Extra == nil {
		return false
	}
	v, _ := m.Extra[key].(bool)
	return v
}

// IsReflection reports whether m was produced by a reflect phase.
func IsReflection(m *schema.Message) bool { return flag(m, ExtraReflection) }

// IsFallback reports whether m is the budget exhaustion message.
func IsFallback(m *schema.Message) bool { return flag(m, ExtraFallback) }

// AgentOf returns the specialist that produced m, if any.
func AgentOf(m *schema.Message) string {
	if m == nil || m.Extra == nil {
		return ""
	}
	v, _ := m.Extra[ExtraAgent].(string)
	return v
}
