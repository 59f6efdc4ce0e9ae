package agents

import (
	"context"
	"fmt"
	"strings"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// DebateAgent reconciles the critique with the branch output. It accepts
// the analysis when the score clears the threshold; otherwise it requests
// a branch rerun, granted only while the orchestrator reports one still
// available, so the recorded verdict never changes after the fact.
type DebateAgent struct {
	threshold float64
}

func NewDebateAgent(deps Deps) *DebateAgent {
	threshold := deps.DebateThreshold
	if threshold <= 0 {
		threshold = 0.6
	}
	return &DebateAgent{threshold: threshold}
}

func (a *DebateAgent) Stage() types.Stage { return types.StageDebate }

func (a *DebateAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	critOut := state.Output(types.StageCritique)
	if critOut == nil || critOut.Critique == nil {
		return types.StageOutput{}, types.Fatalf("debate requires a critique result")
	}
	crit := critOut.Critique

	out := &types.DebateOutput{}
	if crit.Score >= a.threshold {
		out.Accepted = true
		out.Resolution = fmt.Sprintf("analysis accepted: score %.2f meets threshold %.2f", crit.Score, a.threshold)
	} else {
		out.RetryRequested = true
		out.RetryGranted = state.RetryAvailable
		out.Resolution = fmt.Sprintf("analysis contested: score %.2f below threshold %.2f; %s",
			crit.Score, a.threshold, summarizeFindings(crit.Findings))
		if !out.RetryGranted {
			out.Resolution += "; no rerun remains, keeping the current analysis"
		}
	}

	logging.Agents("[Debate] file=%s score=%.2f accepted=%v retry_requested=%v retry_granted=%v",
		state.FileID, crit.Score, out.Accepted, out.RetryRequested, out.RetryGranted)
	return types.StageOutput{Debate: out}, nil
}

func summarizeFindings(findings []string) string {
	if len(findings) == 0 {
		return "no specific findings recorded"
	}
	return strings.Join(findings, "; ")
}
