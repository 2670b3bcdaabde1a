package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

var (
	//go:embed template/react_system.txt
	reactSystem string
	//go:embed template/rewoo_planner.txt
	rewooPlanner string
	//go:embed template/rewoo_solver.txt
	rewooSolver string
	//go:embed template/reflexion_responder.txt
	reflexionResponder string
	//go:embed template/reflexion_reviser.txt
	reflexionReviser string
	//go:embed template/reflexion_reflector.txt
	reflexionReflector string
	//go:embed template/supervisor_router.txt
	supervisorRouter string
	//go:embed template/specialist.txt
	specialist string
	//go:embed template/synthesis.txt
	synthesis string
)

// ToolView is the part of a tool description templates render.
type ToolView struct {
	Name   string
	Desc   string
	Params string
}

// SpecialistView describes one supervisor worker.
type SpecialistView struct {
	Name string
	Desc string
}

// ToolViews flattens tool infos for templates. Params lists parameter names
// in the order given by positional when known.
func ToolViews(infos []*schema.ToolInfo, positional func(name string) []string) []ToolView {
	out := make([]ToolView, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		v := ToolView{Name: info.Name, Desc: info.Desc, Params: "input"}
		if positional != nil {
			if p := positional(info.Name); len(p) > 0 {
				v.Params = strings.Join(p, ", ")
			} else {
				v.Params = ""
			}
		}
		out = append(out, v)
	}
	return out
}

// render formats a system template through the eino prompt component so that
// prompt callbacks fire.
func render(ctx context.Context, name, tpl string, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}

func RenderReActSystem(ctx context.Context, tools []ToolView) (string, error) {
	return render(ctx, "react", reactSystem, map[string]any{"Tools": tools})
}

func RenderPlanner(ctx context.Context, tools []ToolView) (string, error) {
	return render(ctx, "rewoo planner", rewooPlanner, map[string]any{"Tools": tools})
}

func RenderSolver(ctx context.Context, task, evidence string) (string, error) {
	return render(ctx, "rewoo solver", rewooSolver, map[string]any{"Task": task, "Evidence": evidence})
}

func RenderResponder(ctx context.Context, tools []ToolView) (string, error) {
	return render(ctx, "reflexion responder", reflexionResponder, map[string]any{"Tools": tools})
}

func RenderReviser(ctx context.Context, critique string, tools []ToolView) (string, error) {
	return render(ctx, "reflexion reviser", reflexionReviser, map[string]any{"Critique": critique, "Tools": tools})
}

func RenderReflector(ctx context.Context, maxQueries int, satisfied string) (string, error) {
	return render(ctx, "reflexion reflector", reflexionReflector, map[string]any{"MaxQueries": maxQueries, "Satisfied": satisfied})
}

func RenderRouter(ctx context.Context, specialists []SpecialistView, used, options []string) (string, error) {
	return render(ctx, "supervisor", supervisorRouter, map[string]any{
		"Specialists": specialists,
		"Used":        strings.Join(used, ", "),
		"Options":     strings.Join(options, ", "),
	})
}

func RenderSpecialist(ctx context.Context, name, desc string, tools []ToolView) (string, error) {
	return render(ctx, "specialist", specialist, map[string]any{"Name": name, "Desc": desc, "Tools": tools})
}

func RenderSynthesis(ctx context.Context) (string, error) {
	return render(ctx, "synthesis", synthesis, nil)
}
