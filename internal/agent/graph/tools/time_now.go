package tools

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

type TimeNowInput struct{}

type TimeNowOutput struct {
	TimeZone string `json:"timezone"`
	Now      string `json:"now"`
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
}

func newTimeNowTool(loc *time.Location, clock func() time.Time) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolTimeNow,
			Desc:        "Return the current local date and time of the market. Use it to resolve relative dates like 'last week'.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ *TimeNowInput) (*TimeNowOutput, error) {
			now := clock().In(loc)
			return &TimeNowOutput{
				TimeZone: loc.String(),
				Now:      now.Format(time.RFC3339),
				Date:     now.Format(dateLayout),
				Weekday:  now.Weekday().String(),
			}, nil
		},
	)
}
