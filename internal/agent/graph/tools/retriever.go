package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	errx "github.com/agentloop-core/server/internal/core/error"
)

const defaultTopK = 4

// RedisRetriever is a keyword retriever over documents stored as JSON in a
// Redis list. It is meant for small curated collections.
type RedisRetriever struct {
	rdb        redis.Cmdable
	collection string
	topK       int
}

var _ retriever.Retriever = (*RedisRetriever)(nil)

func NewRedisRetriever(rdb redis.Cmdable, collection string, topK int) *RedisRetriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &RedisRetriever{rdb: rdb, collection: collection, topK: topK}
}

func (r *RedisRetriever) key() string {
	return fmt.Sprintf("knowledge:%s:docs", r.collection)
}

// AddDocuments appends docs to the collection.
func (r *RedisRetriever) AddDocuments(ctx context.Context, docs ...*schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	values := make([]any, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", d.ID, err)
		}
		values = append(values, b)
	}
	if err := r.rdb.RPush(ctx, r.key(), values...).Err(); err != nil {
		return fmt.Errorf("add knowledge documents: %w", errx.WrapRedis(err))
	}
	return nil
}

// Retrieve scores each document by the share of query terms it contains.
// Documents without any matching term are never returned.
func (r *RedisRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}
	var threshold float64
	if o.ScoreThreshold != nil {
		threshold = *o.ScoreThreshold
	}

	terms := uniqueTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	raw, err := r.rdb.LRange(ctx, r.key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load knowledge documents: %w", errx.WrapRedis(err))
	}

	docs := make([]*schema.Document, 0, len(raw))
	for _, item := range raw {
		var d schema.Document
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			continue
		}
		score := overlap(terms, d.Content)
		if score == 0 || score < threshold {
			continue
		}
		docs = append(docs, d.WithScore(score))
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score() > docs[j].Score() })
	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTerms(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tokenize(s) {
		if len([]rune(t)) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func overlap(terms []string, content string) float64 {
	words := map[string]bool{}
	for _, w := range tokenize(content) {
		words[w] = true
	}
	hits := 0
	for _, t := range terms {
		if words[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
