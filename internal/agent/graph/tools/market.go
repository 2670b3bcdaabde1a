package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"
)

const dateLayout = "2006-01-02"

// MarketClient reads listings and price history from the market data gateway.
type MarketClient struct {
	client  *resty.Client
	baseURL string
}

func NewMarketClient(client *resty.Client, baseURL string) *MarketClient {
	return &MarketClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *MarketClient) get(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(m.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("market data request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market data status %d: %s", resp.StatusCode(), resp.String())
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("market data returned non-JSON body")
	}
	return json.RawMessage(body), nil
}

// ===================================
// Listing Symbol Tool
// ===================================

type ListingSymbolInput struct {
	Exchange string `json:"exchange,omitempty"`
}

type ListingSymbolOutput struct {
	Exchange string          `json:"exchange,omitempty"`
	Symbols  json.RawMessage `json:"symbols"`
}

func newListingSymbolTool(m *MarketClient) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolListingSymbol,
			Desc: "List the stock symbols traded on the market with company names. Use it to find the ticker of a company.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"exchange": {
					Type: "string",
					Desc: "Optional exchange filter: HOSE, HNX or UPCOM.",
				},
			}),
		},
		func(ctx context.Context, in *ListingSymbolInput) (*ListingSymbolOutput, error) {
			exchange := strings.ToUpper(strings.TrimSpace(in.Exchange))
			params := map[string]string{}
			if exchange != "" {
				params["exchange"] = exchange
			}
			data, err := m.get(ctx, "/listing/symbols", params)
			if err != nil {
				return nil, err
			}
			return &ListingSymbolOutput{Exchange: exchange, Symbols: data}, nil
		},
	)
}

// ===================================
// History Price Tool
// ===================================

type HistoryPriceInput struct {
	Symbol    string `json:"symbol"`
	Source    string `json:"source,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Interval  string `json:"interval,omitempty"`
}

type HistoryPriceOutput struct {
	Symbol    string          `json:"symbol"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Interval  string          `json:"interval"`
	Prices    json.RawMessage `json:"prices"`
}

var validIntervals = map[string]bool{"1m": true, "5m": true, "15m": true, "30m": true, "1H": true, "1D": true, "1W": true, "1M": true}

// normalize fills defaults: source VCI, interval 1D, the last 30 days.
func (in *HistoryPriceInput) normalize(now time.Time) error {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if in.Source = strings.ToUpper(strings.TrimSpace(in.Source)); in.Source == "" {
		in.Source = "VCI"
	}
	if in.Interval = strings.TrimSpace(in.Interval); in.Interval == "" {
		in.Interval = "1D"
	}
	if !validIntervals[in.Interval] {
		return fmt.Errorf("invalid interval %q", in.Interval)
	}

	end := now
	if s := strings.TrimSpace(in.EndDate); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return fmt.Errorf("invalid end_date %q, want YYYY-MM-DD", s)
		}
		end = t
	}
	start := end.AddDate(0, 0, -30)
	if s := strings.TrimSpace(in.StartDate); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return fmt.Errorf("invalid start_date %q, want YYYY-MM-DD", s)
		}
		start = t
	}
	if start.After(end) {
		return fmt.Errorf("start_date %s is after end_date %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	in.StartDate = start.Format(dateLayout)
	in.EndDate = end.Format(dateLayout)
	return nil
}

func newHistoryPriceTool(m *MarketClient, clock func() time.Time) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolHistoryPrice,
			Desc: "Get historical OHLCV prices of a stock symbol between two dates.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol":     {Type: "string", Desc: "Ticker, e.g. VCB.", Required: true},
				"source":     {Type: "string", Desc: "Data source, VCI (default) or TCBS."},
				"start_date": {Type: "string", Desc: "Start date YYYY-MM-DD, default 30 days before end_date."},
				"end_date":   {Type: "string", Desc: "End date YYYY-MM-DD, default today."},
				"interval":   {Type: "string", Desc: "Bar interval: 1m, 5m, 15m, 30m, 1H, 1D (default), 1W, 1M."},
			}),
		},
		func(ctx context.Context, in *HistoryPriceInput) (*HistoryPriceOutput, error) {
			if err := in.normalize(clock()); err != nil {
				return nil, err
			}
			data, err := m.get(ctx, "/quote/history", map[string]string{
				"symbol":   in.Symbol,
				"source":   in.Source,
				"start":    in.StartDate,
				"end":      in.EndDate,
				"interval": in.Interval,
			})
			if err != nil {
				return nil, err
			}
			return &HistoryPriceOutput{
				Symbol:    in.Symbol,
				StartDate: in.StartDate,
				EndDate:   in.EndDate,
				Interval:  in.Interval,
				Prices:    data,
			}, nil
		},
	)
}
