package model

import "github.com/cloudwego/eino/schema"

// Strategy names one controller.
type Strategy string

const (
	StrategyReAct      Strategy = "react"
	StrategyReWOO      Strategy = "rewoo"
	StrategyReflexion  Strategy = "reflexion"
	StrategySupervisor Strategy = "supervisor"
)

// QueryInput is the input of every controller graph. State is set when a
// controller runs nested inside another one and must share its transcript
// and budget; Query may then be empty.
type QueryInput struct {
	ConversationID string             `json:"conversation_id"`
	Query          string             `json:"query"`
	State          *ConversationState `json:"-"`
}

// Contribution is the non-tool-call content one specialist produced.
type Contribution struct {
	Agent   string
	Content string
}

// RouteDecision is the supervisor's choice for the next transition.
type RouteDecision struct {
	Next   string `json:"next"`
	Reason string `json:"reason,omitempty"`
	Answer string `json:"answer,omitempty"`
}

// AppState stores per-invocation state for a controller graph.
// Concurrency model:
//   - Registered as graph local state via compose.WithGenLocalState.
//   - Fetched through compose.ProcessState at the start of a node. Nodes of
//     one graph run one at a time, so the pointer is used without the lock.
//   - Conv may be shared with nested graphs, which run strictly in sequence.
type AppState struct {
	Conv        *ConversationState
	Query       string
	Termination Termination

	// ReWOO
	Plan    *Plan
	Results *ResultStore

	// Reflexion
	Drafts      int
	Reflections int
	Satisfied   bool
	LatestDraft *schema.Message
	Reflection  *Reflection

	// Supervisor
	Route          *RouteDecision
	Next           string
	AgentsUsed     map[string]bool
	Contributions  []Contribution
	LastRoute      string
	SameRouteCount int
	// RoutedAt is len(Contributions) when LastRoute was last selected.
	RoutedAt      int
	SynthesisDone bool
}

// ContributorCount returns how many distinct specialists contributed.
func (s *AppState) ContributorCount() int {
	return len(s.AgentsUsed)
}
