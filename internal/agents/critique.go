package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// CritiqueAgent scores the branch output for grounding and relevance.
type CritiqueAgent struct {
	llm types.LLMClient
}

func NewCritiqueAgent(deps Deps) *CritiqueAgent {
	return &CritiqueAgent{llm: deps.LLM}
}

func (a *CritiqueAgent) Stage() types.Stage { return types.StageCritique }

func (a *CritiqueAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	branch := state.Route.BranchStage()
	branchOut := state.Output(branch)
	if branchOut == nil || branchOut.Analysis == nil {
		return types.StageOutput{}, types.Fatalf("critique requires a %s result", branch)
	}
	analysis := branchOut.Analysis

	user := fmt.Sprintf("Question: %s\n\nDataset profile:\n%s\n\nAnalysis under review (%s):\n%s",
		state.Question, profileSummary(state.Profile), analysis.Route, renderAnalysis(analysis))

	resp, err := a.llm.CompleteWithSystem(ctx, critiqueSystemPrompt, user)
	if err != nil {
		return types.StageOutput{}, err
	}

	var decoded struct {
		Score    float64  `json:"score"`
		Findings []string `json:"findings"`
	}
	payload := extractJSON(resp)
	if payload == "" || json.Unmarshal([]byte(payload), &decoded) != nil {
		return types.StageOutput{}, types.Transientf("critique score was undecodable")
	}

	out := &types.CritiqueOutput{
		Score:    clamp01(decoded.Score),
		Findings: decoded.Findings,
		Target:   analysis.Route,
	}
	logging.Agents("[Critique] file=%s target=%s score=%.2f", state.FileID, out.Target, out.Score)
	return types.StageOutput{Critique: out}, nil
}

func renderAnalysis(a *types.AnalysisOutput) string {
	s := "Summary: " + a.Summary
	for _, f := range a.Findings {
		s += "\n- " + f
	}
	if a.Chart != nil {
		s += fmt.Sprintf("\nChart: %s %q x=%s y=%s", a.Chart.Type, a.Chart.Title, a.Chart.XField, a.Chart.YField)
	}
	return s
}
