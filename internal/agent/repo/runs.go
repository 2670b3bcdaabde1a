package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentloop-core/server/internal/agent/model"
	errx "github.com/agentloop-core/server/internal/core/error"
)

// RedisRunRepository keeps run records as JSON strings under run:<id> and
// indexes them per conversation.
type RedisRunRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisRunRepository(rdb redis.Cmdable, ttl time.Duration) *RedisRunRepository {
	return &RedisRunRepository{rdb: rdb, ttl: ttl}
}

func runKey(runID string) string {
	return "run:" + runID
}

func conversationRunsKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:runs", conversationID)
}

func (r *RedisRunRepository) SaveRun(ctx context.Context, run *model.RunResult) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("save run: missing run id")
	}
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, runKey(run.RunID), b, r.ttl)
	if run.ConversationID != "" {
		idx := conversationRunsKey(run.ConversationID)
		pipe.RPush(ctx, idx, run.RunID)
		if r.ttl > 0 {
			pipe.Expire(ctx, idx, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisRunRepository) LoadRun(ctx context.Context, runID string) (*model.RunResult, error) {
	s, err := r.rdb.Get(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	var run model.RunResult
	if err := json.Unmarshal([]byte(s), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return &run, nil
}

// RunIDs lists the runs recorded for a conversation, oldest first.
func (r *RedisRunRepository) RunIDs(ctx context.Context, conversationID string) ([]string, error) {
	ids, err := r.rdb.LRange(ctx, conversationRunsKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	return ids, nil
}

var _ model.RunRepository = (*RedisRunRepository)(nil)
