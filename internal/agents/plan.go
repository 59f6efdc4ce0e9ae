package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// PlanAgent decides which branch answers the question. The model's answer
// is decoded into a strict route enum; anything undecodable falls back to
// the insight branch. An empty dataset always routes to insight because
// there is nothing to chart.
type PlanAgent struct {
	llm types.LLMClient
}

func NewPlanAgent(deps Deps) *PlanAgent {
	return &PlanAgent{llm: deps.LLM}
}

func (a *PlanAgent) Stage() types.Stage { return types.StagePlan }

func (a *PlanAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	if state.Profile == nil {
		return types.StageOutput{}, types.Fatalf("plan requires a data profile")
	}

	if state.Profile.RowCount == 0 {
		logging.Agents("[Plan] file=%s zero rows, forcing insight route", state.FileID)
		return types.StageOutput{Plan: &types.PlanOutput{
			Route:     types.RouteInsight,
			Rationale: "dataset has no rows, nothing to chart",
			Forced:    true,
		}}, nil
	}

	user := fmt.Sprintf("Question: %s\n\nDataset profile:\n%s", state.Question, profileSummary(state.Profile))
	resp, err := a.llm.CompleteWithSystem(ctx, planSystemPrompt, user)
	if err != nil {
		return types.StageOutput{}, err
	}

	route, rationale, ok := decodeRoute(resp)
	if !ok {
		logging.Agents("[Plan] undecodable route answer, falling back to insight: %.80s", resp)
		return types.StageOutput{Plan: &types.PlanOutput{
			Route:     types.RouteInsight,
			Rationale: "route decision was undecodable",
			Fallback:  true,
		}}, nil
	}

	logging.Agents("[Plan] file=%s route=%s", state.FileID, route)
	return types.StageOutput{Plan: &types.PlanOutput{Route: route, Rationale: rationale}}, nil
}

// decodeRoute parses the model answer into a valid route enum.
func decodeRoute(resp string) (types.Route, string, bool) {
	payload := extractJSON(resp)
	if payload == "" {
		return "", "", false
	}
	var decoded struct {
		Route     string `json:"route"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", "", false
	}
	switch types.Route(decoded.Route) {
	case types.RouteInsight:
		return types.RouteInsight, decoded.Rationale, true
	case types.RouteVisualize:
		return types.RouteVisualize, decoded.Rationale, true
	default:
		return "", "", false
	}
}
