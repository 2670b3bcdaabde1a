package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/go-resty/resty/v2"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/model"
)

const (
	ToolSearchWeb         = "search_web"
	ToolRetrieveKnowledge = "retrieve_knowledge"
	ToolListingSymbol     = "listing_symbol"
	ToolHistoryPrice      = "history_price"
	ToolTimeNow           = "time_now"
)

// Tool groups handed to supervisor specialists.
var (
	ResearchTools = []string{ToolSearchWeb, ToolRetrieveKnowledge}
	FinanceTools  = []string{ToolListingSymbol, ToolHistoryPrice, ToolTimeNow}
)

// Deps are the collaborators of the built-in tools. Retriever may be nil, in
// which case retrieve_knowledge is not registered.
type Deps struct {
	Config    model.ToolsConfig
	Retriever retriever.Retriever
	Clock     func() time.Time
}

// RegisterDefaults registers every built-in tool on reg.
func RegisterDefaults(ctx context.Context, reg *dispatch.Registry, deps Deps) error {
	client := newHTTPClient(deps.Config.HTTPTimeout)

	searcher := NewWebSearcher(client, deps.Config)
	if err := reg.Register(ctx, ToolSearchWeb, newSearchWebTool(searcher), dispatch.WithPositional("query")); err != nil {
		return err
	}

	if deps.Retriever != nil {
		kt := newKnowledgeTool(deps.Retriever, deps.Config.KnowledgeKey, deps.Config.KnowledgeTopK)
		if err := reg.Register(ctx, ToolRetrieveKnowledge, kt, dispatch.WithPositional("query")); err != nil {
			return err
		}
	}

	market := NewMarketClient(client, deps.Config.MarketDataBaseURL)
	if err := reg.Register(ctx, ToolListingSymbol, newListingSymbolTool(market), dispatch.WithPositional("exchange")); err != nil {
		return err
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if err := reg.Register(ctx, ToolHistoryPrice, newHistoryPriceTool(market, clock),
		dispatch.WithPositional("symbol", "source", "start_date", "end_date", "interval")); err != nil {
		return err
	}

	loc, err := time.LoadLocation(deps.Config.TimeZone)
	if err != nil {
		return fmt.Errorf("load time zone %q: %w", deps.Config.TimeZone, err)
	}
	return reg.Register(ctx, ToolTimeNow, newTimeNowTool(loc, clock))
}

func newHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// queryRoutes maps follow-up query keywords to the tool best suited for them.
// The first matching route wins.
var queryRoutes = []struct {
	tool     string
	keywords []string
}{
	{ToolListingSymbol, []string{"symbol", "ticker", "listing", "mã chứng khoán"}},
	{ToolTimeNow, []string{"what time", "current time", "today", "date", "hôm nay", "ngày"}},
	{ToolRetrieveKnowledge, []string{"finance", "financial", "report", "news", "tài chính", "báo cáo", "tin tức"}},
}

// RouteQuery picks the tool a follow-up search query is sent to. Only tools
// accepted by has are chosen; search_web is the default. It returns "" when
// no registered tool fits.
func RouteQuery(query string, has func(name string) bool) string {
	q := strings.ToLower(query)
	for _, r := range queryRoutes {
		if !has(r.tool) {
			continue
		}
		for _, k := range r.keywords {
			if strings.Contains(q, k) {
				return r.tool
			}
		}
	}
	if has(ToolSearchWeb) {
		return ToolSearchWeb
	}
	return ""
}
