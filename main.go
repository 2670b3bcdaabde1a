package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/graph"
	"github.com/agentloop-core/server/internal/agent/graph/conversations"
	"github.com/agentloop-core/server/internal/agent/graph/nodes"
	"github.com/agentloop-core/server/internal/agent/graph/tools"
	"github.com/agentloop-core/server/internal/agent/model"
	"github.com/agentloop-core/server/internal/agent/repo"
	"github.com/agentloop-core/server/internal/core"
	logx "github.com/agentloop-core/server/pkg/logger"
	"github.com/agentloop-core/server/pkg/metrics"
	pkgredis "github.com/agentloop-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the engine, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Engine configs
	Engine       model.EngineConfig
	ChatModel    model.ChatModelConfig
	Conversation model.ConversationConfig
	Tools        model.ToolsConfig
}

func main() {
	strategy := flag.String("strategy", "react", "controller: react | rewoo | reflexion | supervisor")
	query := flag.String("q", "", "query to answer")
	conversationID := flag.String("conversation", "", "conversation id; a new one is generated when empty")
	dumpMetrics := flag.Bool("metrics", false, "print Prometheus metrics after the run")
	kbLoad := flag.String("kb-load", "", "JSON file with knowledge documents to add before the run")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process environment config: %v\n", err)
		os.Exit(2)
	}
	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *strategy, *query, *conversationID, *kbLoad); err != nil {
		logx.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
	if *dumpMetrics {
		if err := metrics.WritePrometheus(os.Stdout); err != nil {
			logx.Error().Err(err).Msg("Failed to write metrics")
		}
	}
}

func run(ctx context.Context, cfg AppConfig, strategyName, query, conversationID, kbLoad string) error {
	strategy, err := graph.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	if query == "" && kbLoad == "" {
		return fmt.Errorf("nothing to do: pass -q and/or -kb-load")
	}

	var rdb *goredis.Client
	if cfg.Redis.URL != "" {
		rdb, err = cfg.Redis.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialise Redis client: %w", err)
		}
		defer rdb.Close()
		logx.Debug().Msg("Connected to Redis successfully")
	}

	deps := tools.Deps{Config: cfg.Tools}
	if rdb != nil {
		kb := tools.NewRedisRetriever(rdb, cfg.Tools.KnowledgeKey, cfg.Tools.KnowledgeTopK)
		if kbLoad != "" {
			if err := loadKnowledge(ctx, kb, kbLoad); err != nil {
				return err
			}
		}
		deps.Retriever = kb
	} else if kbLoad != "" {
		return fmt.Errorf("-kb-load needs REDIS_URL")
	}
	if query == "" {
		return nil
	}

	reg := dispatch.NewRegistry()
	if err := tools.RegisterDefaults(ctx, reg, deps); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	dispatcher := dispatch.NewDispatcher(reg,
		dispatch.WithCallTimeout(cfg.Engine.ToolTimeout),
		dispatch.WithRateLimit(cfg.Engine.ToolRatePerSec, cfg.Engine.ToolRateBurst),
		dispatch.WithCredentials(dispatch.NewKeyPool(cfg.Tools.TavilyAPIKeys...)),
		dispatch.WithMaxParallel(cfg.Engine.MaxParallelTools),
	)

	chat, err := nodes.NewChatModel(ctx, nodes.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   &cfg.ChatModel,
	})
	if err != nil {
		return err
	}

	gcfg := graph.Config{
		Strategy:   strategy,
		ChatModel:  chat,
		ModelName:  cfg.ChatModel.Model,
		Dispatcher: dispatcher,
		Engine:     cfg.Engine,
	}
	if rdb != nil && cfg.Conversation.Persist {
		gcfg.Messages = conversations.NewMessagesManager(
			repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL), cfg.Conversation)
		gcfg.Runs = repo.NewRedisRunRepository(rdb, cfg.Conversation.TTL)
	}

	runner, err := graph.BuildRunner(ctx, gcfg)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	result, err := runner.Invoke(ctx, model.QueryInput{ConversationID: conversationID, Query: query})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

func loadKnowledge(ctx context.Context, kb *tools.RedisRetriever, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read knowledge file: %w", err)
	}
	var docs []*schema.Document
	if err := json.Unmarshal(b, &docs); err != nil {
		return fmt.Errorf("parse knowledge file %s: %w", path, err)
	}
	if err := kb.AddDocuments(ctx, docs...); err != nil {
		return err
	}
	logx.Info().Int("documents", len(docs)).Str("file", path).Msg("Knowledge documents loaded")
	return nil
}
