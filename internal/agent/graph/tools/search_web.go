package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/model"
)

// ===================================
// Search Web Tool
// ===================================

type SearchWebInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SearchWebResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

type SearchWebOutput struct {
	Query   string            `json:"query"`
	Results []SearchWebResult `json:"results"`
}

// WebSearcher calls the Tavily search API.
type WebSearcher struct {
	client     *resty.Client
	baseURL    string
	defaultKey string
	maxResults int
}

func NewWebSearcher(client *resty.Client, cfg model.ToolsConfig) *WebSearcher {
	s := &WebSearcher{
		client:     client,
		baseURL:    strings.TrimRight(cfg.TavilyBaseURL, "/"),
		maxResults: cfg.SearchMaxResults,
	}
	if len(cfg.TavilyAPIKeys) > 0 {
		s.defaultKey = strings.TrimSpace(cfg.TavilyAPIKeys[0])
	}
	if s.maxResults <= 0 {
		s.maxResults = 5
	}
	return s
}

// Search runs one query. The API key comes from the dispatcher's credential
// pool when present.
func (s *WebSearcher) Search(ctx context.Context, query string, maxResults int) (*SearchWebOutput, error) {
	key, ok := dispatch.CredentialFromContext(ctx)
	if !ok {
		key = s.defaultKey
	}
	if key == "" {
		return nil, fmt.Errorf("search_web: no API key configured")
	}
	if maxResults <= 0 || maxResults > 10 {
		maxResults = s.maxResults
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(key).
		SetBody(map[string]any{
			"query":        query,
			"max_results":  maxResults,
			"search_depth": "basic",
		}).
		Post(s.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("search_web: request failed: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("search_web: 429 rate limit: %s", resp.String())
	case resp.IsError():
		return nil, fmt.Errorf("search_web: status %d: %s", resp.StatusCode(), resp.String())
	}

	var out SearchWebOutput
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("search_web: decode response: %w", err)
	}
	if out.Query == "" {
		out.Query = query
	}
	return &out, nil
}

func newSearchWebTool(s *WebSearcher) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchWeb,
			Desc: "Search the web for recent information such as news, market commentary and company events. Returns titles, URLs and page extracts.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Search keywords, e.g. 'Vietcombank Q2 2024 profit'.",
					Required: true,
				},
				"max_results": {
					Type: "number",
					Desc: "Maximum number of results (default 5, max 10).",
				},
			}),
		},
		func(ctx context.Context, in *SearchWebInput) (*SearchWebOutput, error) {
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			return s.Search(ctx, in.Query, in.MaxResults)
		},
	)
}
