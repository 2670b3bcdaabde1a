package tools

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	logx "github.com/agentloop-core/server/pkg/logger"
)

// ===================================
// Retrieve Knowledge Tool
// ===================================

type RetrieveKnowledgeInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type KnowledgeResult struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrieveKnowledgeOutput carries an error field instead of failing the call
// so that the dispatcher reports a retriever outage as a reported error.
type RetrieveKnowledgeOutput struct {
	Query   string            `json:"query"`
	Source  string            `json:"source"`
	Results []KnowledgeResult `json:"results"`
	Error   string            `json:"error,omitempty"`
}

func newKnowledgeTool(r retriever.Retriever, collection string, topK int) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolRetrieveKnowledge,
			Desc: "Search the internal financial knowledge base (reports, analyst notes, curated news) for passages relevant to the query.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "What to look for, e.g. 'FPT revenue growth 2024'.",
					Required: true,
				},
				"top_k": {
					Type: "number",
					Desc: "Maximum number of passages to return.",
				},
			}),
		},
		func(ctx context.Context, in *RetrieveKnowledgeInput) (*RetrieveKnowledgeOutput, error) {
			out := &RetrieveKnowledgeOutput{Query: strings.TrimSpace(in.Query), Source: collection, Results: []KnowledgeResult{}}
			if out.Query == "" {
				out.Error = "query is required"
				return out, nil
			}
			k := topK
			if in.TopK > 0 {
				k = in.TopK
			}

			docs, err := r.Retrieve(ctx, out.Query, retriever.WithTopK(k))
			if err != nil {
				logx.Warn().Err(err).Str("collection", collection).Msg("Knowledge retrieval failed")
				out.Error = err.Error()
				return out, nil
			}
			for _, d := range docs {
				out.Results = append(out.Results, KnowledgeResult{
					Content:  d.Content,
					Score:    d.Score(),
					Metadata: publicMetadata(d.MetaData),
				})
			}
			return out, nil
		},
	)
}

// publicMetadata drops eino's internal "_"-prefixed keys such as _score.
func publicMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
