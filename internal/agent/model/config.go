package model

import "time"

// ================ Config ================
type EngineConfig struct {
	StepBudget       int           `envconfig:"ENGINE_STEP_BUDGET" default:"25"`
	MaxReflections   int           `envconfig:"ENGINE_MAX_REFLECTIONS" default:"2"`
	ToolTimeout      time.Duration `envconfig:"ENGINE_TOOL_TIMEOUT" default:"30s"`
	MaxParallelTools int           `envconfig:"ENGINE_MAX_PARALLEL_TOOLS" default:"1"`
	ToolRatePerSec   float64       `envconfig:"ENGINE_TOOL_RATE_PER_SECOND" default:"0"`
	ToolRateBurst    int           `envconfig:"ENGINE_TOOL_RATE_BURST" default:"1"`
	MaxSameRoute     int           `envconfig:"ENGINE_MAX_SAME_ROUTE" default:"2"`
}

type ChatModelConfig struct {
	Model       string  `envconfig:"CHAT_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"CHAT_MAX_TOKENS" default:"4000"`
	Temperature float32 `envconfig:"CHAT_TEMPERATURE" default:"0.2"`
	// ThinkingBudget is passed to Gemini; 0 disables thoughts.
	ThinkingBudget int32 `envconfig:"CHAT_THINKING_BUDGET" default:"0"`
}

type ConversationConfig struct {
	TTL      time.Duration `envconfig:"CONVERSATION_TTL" default:"15m"`
	Persist  bool          `envconfig:"CONVERSATION_PERSIST" default:"false"`
	MaxTurns int           `envconfig:"CONVERSATION_MAX_TURNS" default:"6"`
}

type ToolsConfig struct {
	TavilyAPIKeys     []string      `envconfig:"TAVILY_API_KEYS"`
	TavilyBaseURL     string        `envconfig:"TAVILY_BASE_URL" default:"https://api.tavily.com"`
	SearchMaxResults  int           `envconfig:"SEARCH_MAX_RESULTS" default:"5"`
	MarketDataBaseURL string        `envconfig:"MARKET_DATA_BASE_URL" default:"http://localhost:8090"`
	KnowledgeKey      string        `envconfig:"KNOWLEDGE_COLLECTION" default:"finance"`
	KnowledgeTopK     int           `envconfig:"KNOWLEDGE_TOP_K" default:"4"`
	TimeZone          string        `envconfig:"TIME_ZONE" default:"Asia/Ho_Chi_Minh"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`
}
