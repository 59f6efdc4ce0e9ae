package agents

import (
	"context"
	"fmt"
	"strings"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// ReportAgent assembles the final report from every StageResult the run
// accumulated. It is deterministic: the narrative content comes from the
// upstream agents, the report only arranges it.
type ReportAgent struct{}

func NewReportAgent(Deps) *ReportAgent { return &ReportAgent{} }

func (a *ReportAgent) Stage() types.Stage { return types.StageReport }

func (a *ReportAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	branchOut := state.Output(state.Route.BranchStage())
	if branchOut == nil || branchOut.Analysis == nil {
		return types.StageOutput{}, types.Fatalf("report requires a branch analysis result")
	}
	analysis := branchOut.Analysis

	out := &types.ReportOutput{
		Title:  reportTitle(state.Question),
		Answer: analysis.Summary,
	}

	for _, res := range state.Results {
		if res.Status == types.StageSkipped {
			out.Skipped = append(out.Skipped, res.Stage)
			continue
		}
		out.StageCount++
	}

	out.Sections = append(out.Sections, types.ReportSection{
		Heading: "Answer",
		Body:    analysis.Summary,
	})
	if len(analysis.Findings) > 0 {
		out.Sections = append(out.Sections, types.ReportSection{
			Heading: "Findings",
			Body:    "- " + strings.Join(analysis.Findings, "\n- "),
		})
	}
	if analysis.Chart != nil {
		out.Sections = append(out.Sections, types.ReportSection{
			Heading: "Chart",
			Body: fmt.Sprintf("%s chart %q: %s by %s",
				analysis.Chart.Type, analysis.Chart.Title, analysis.Chart.YField, analysis.Chart.XField),
		})
	}
	if critOut := state.Output(types.StageCritique); critOut != nil && critOut.Critique != nil {
		body := fmt.Sprintf("Review score: %.2f", critOut.Critique.Score)
		if len(critOut.Critique.Findings) > 0 {
			body += "\n- " + strings.Join(critOut.Critique.Findings, "\n- ")
		}
		out.Sections = append(out.Sections, types.ReportSection{Heading: "Review", Body: body})
	}
	if debOut := state.Output(types.StageDebate); debOut != nil && debOut.Debate != nil {
		out.Sections = append(out.Sections, types.ReportSection{
			Heading: "Resolution",
			Body:    debOut.Debate.Resolution,
		})
	}

	logging.Agents("[Report] file=%s stages=%d skipped=%d sections=%d",
		state.FileID, out.StageCount, len(out.Skipped), len(out.Sections))
	return types.StageOutput{Report: out}, nil
}

func reportTitle(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return "Analysis Report"
	}
	if len(q) > 80 {
		q = q[:77] + "..."
	}
	return "Analysis: " + q
}
