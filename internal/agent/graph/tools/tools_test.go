package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop-core/server/internal/agent/dispatch"
	"github.com/agentloop-core/server/internal/agent/model"
	logx "github.com/agentloop-core/server/pkg/logger"
)

func init() { logx.Silence() }

var fixedNow = time.Date(2024, 7, 15, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestSearchWebUsesPooledCredential(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/search", r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "vcb profit", body["query"])
		_, _ = w.Write([]byte(`{"query":"vcb profit","results":[{"title":"VCB Q2","url":"https://x","content":"profit up"}]}`))
	}))
	defer srv.Close()

	s := NewWebSearcher(newHTTPClient(time.Second), model.ToolsConfig{TavilyBaseURL: srv.URL, TavilyAPIKeys: []string{"default"}})
	ctx := dispatch.WithCredential(context.Background(), "pooled")

	out, err := newSearchWebTool(s).InvokableRun(ctx, `{"query":"vcb profit"}`)
	require.NoError(t, err)
	assert.Equal(t, "Bearer pooled", auth)
	assert.Contains(t, out, "VCB Q2")

	_, err = newSearchWebTool(s).InvokableRun(context.Background(), `{"query":"vcb profit"}`)
	require.NoError(t, err)
	assert.Equal(t, "Bearer default", auth)
}

func TestSearchWebRateLimitIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"slow down"}`))
	}))
	defer srv.Close()

	s := NewWebSearcher(newHTTPClient(time.Second), model.ToolsConfig{TavilyBaseURL: srv.URL, TavilyAPIKeys: []string{"k"}})
	_, err := newSearchWebTool(s).InvokableRun(context.Background(), `{"query":"x"}`)
	require.Error(t, err)
	assert.True(t, dispatch.IsRateLimited(err.Error()))
}

func TestSearchWebWithoutKey(t *testing.T) {
	s := NewWebSearcher(newHTTPClient(time.Second), model.ToolsConfig{TavilyBaseURL: "http://unused"})
	_, err := newSearchWebTool(s).InvokableRun(context.Background(), `{"query":"x"}`)
	assert.ErrorContains(t, err, "no API key")
}

func TestHistoryPriceDefaults(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote/history", r.URL.Path)
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`[{"time":"2024-07-12","close":91.2}]`))
	}))
	defer srv.Close()

	tl := newHistoryPriceTool(NewMarketClient(newHTTPClient(time.Second), srv.URL), clock)
	out, err := tl.InvokableRun(context.Background(), `{"symbol":"vcb"}`)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"symbol":   "VCB",
		"source":   "VCI",
		"start":    "2024-06-15",
		"end":      "2024-07-15",
		"interval": "1D",
	}, got)
	m := decode(t, out)
	assert.Equal(t, "VCB", m["symbol"])
	assert.Len(t, m["prices"], 1)
}

func TestHistoryPriceValidation(t *testing.T) {
	tl := newHistoryPriceTool(NewMarketClient(newHTTPClient(time.Second), "http://unused"), clock)
	cases := map[string]string{
		"missing symbol": `{}`,
		"bad interval":   `{"symbol":"VCB","interval":"2D"}`,
		"bad date":       `{"symbol":"VCB","start_date":"15/07/2024"}`,
		"inverted range": `{"symbol":"VCB","start_date":"2024-08-01","end_date":"2024-07-01"}`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tl.InvokableRun(context.Background(), args)
			assert.Error(t, err)
		})
	}
}

func TestListingSymbolGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "HOSE", r.URL.Query().Get("exchange"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tl := newListingSymbolTool(NewMarketClient(newHTTPClient(time.Second), srv.URL))
	_, err := tl.InvokableRun(context.Background(), `{"exchange":"hose"}`)
	assert.ErrorContains(t, err, "status 500")
}

func TestTimeNow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	out, err := newTimeNowTool(loc, clock).InvokableRun(context.Background(), `{}`)
	require.NoError(t, err)
	m := decode(t, out)
	assert.Equal(t, "2024-07-15T16:30:00+07:00", m["now"])
	assert.Equal(t, "Monday", m["weekday"])
}

func TestRedisRetriever(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	r := NewRedisRetriever(rdb, "finance", 2)
	require.NoError(t, r.AddDocuments(ctx,
		&schema.Document{ID: "1", Content: "FPT revenue grew 20% in 2024", MetaData: map[string]any{"source": "report"}},
		&schema.Document{ID: "2", Content: "VCB profit rose in Q2"},
		&schema.Document{ID: "3", Content: "FPT opened a new office"},
	))

	docs, err := r.Retrieve(ctx, "FPT revenue 2024")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "1", docs[0].ID)
	assert.InDelta(t, 1.0, docs[0].Score(), 1e-9)
	assert.Equal(t, "3", docs[1].ID)

	docs, err = r.Retrieve(ctx, "FPT revenue 2024", retriever.WithTopK(1))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = r.Retrieve(ctx, "gold price")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string, ...retriever.Option) ([]*schema.Document, error) {
	return nil, errors.New("index offline")
}

func TestKnowledgeToolReportsRetrieverError(t *testing.T) {
	out, err := newKnowledgeTool(failingRetriever{}, "finance", 3).InvokableRun(context.Background(), `{"query":"fpt"}`)
	require.NoError(t, err)

	m := decode(t, out)
	assert.Equal(t, "index offline", m["error"])

	o := dispatch.Classify(ToolRetrieveKnowledge, out, nil)
	assert.False(t, o.OK())
	assert.Equal(t, model.ReasonReported, o.Reason)
}

func TestRouteQuery(t *testing.T) {
	all := func(string) bool { return true }
	none := func(name string) bool { return name == ToolSearchWeb }

	assert.Equal(t, ToolListingSymbol, RouteQuery("ticker of Vinamilk", all))
	assert.Equal(t, ToolTimeNow, RouteQuery("what is today's date", all))
	assert.Equal(t, ToolRetrieveKnowledge, RouteQuery("FPT financial report 2024", all))
	assert.Equal(t, ToolSearchWeb, RouteQuery("who is the CEO of FPT", all))
	assert.Equal(t, ToolSearchWeb, RouteQuery("FPT financial report", none))

	noWeb := func(name string) bool { return name == ToolTimeNow }
	assert.Equal(t, ToolTimeNow, RouteQuery("what is today's date", noWeb))
	assert.Empty(t, RouteQuery("who is the CEO of FPT", noWeb))
}

func TestRegisterDefaults(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	reg := dispatch.NewRegistry()
	err := RegisterDefaults(context.Background(), reg, Deps{
		Config:    model.ToolsConfig{TimeZone: "Asia/Ho_Chi_Minh", KnowledgeKey: "finance", KnowledgeTopK: 3},
		Retriever: NewRedisRetriever(rdb, "finance", 3),
		Clock:     clock,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{ToolSearchWeb, ToolRetrieveKnowledge, ToolListingSymbol, ToolHistoryPrice, ToolTimeNow}, reg.Names())
	assert.Equal(t, []string{"symbol", "source", "start_date", "end_date", "interval"}, reg.Positional(ToolHistoryPrice))

	reg = dispatch.NewRegistry()
	require.NoError(t, RegisterDefaults(context.Background(), reg, Deps{Config: model.ToolsConfig{TimeZone: "UTC"}}))
	assert.False(t, reg.Has(ToolRetrieveKnowledge))
}
