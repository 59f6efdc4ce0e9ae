package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// VisualizeAgent designs a chart specification for the question. Charting
// an empty dataset is unrecoverable; the planner is expected to have routed
// such runs away from this branch.
type VisualizeAgent struct {
	llm       types.LLMClient
	retriever types.ContextRetriever
	k         int
}

func NewVisualizeAgent(deps Deps) *VisualizeAgent {
	k := deps.RetrievalK
	if k <= 0 {
		k = 6
	}
	return &VisualizeAgent{llm: deps.LLM, retriever: deps.Retriever, k: k}
}

func (a *VisualizeAgent) Stage() types.Stage { return types.StageVisualize }

var chartTypes = map[string]bool{"bar": true, "line": true, "scatter": true, "pie": true}

func (a *VisualizeAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	if state.Profile == nil || state.Profile.RowCount == 0 {
		return types.StageOutput{}, types.Fatalf("cannot visualize an empty dataset")
	}

	chunks, err := a.retriever.Query(ctx, state.FileID, state.Question, a.k)
	if err != nil {
		return types.StageOutput{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nDataset profile:\n%s\n\nRetrieved context:\n%s",
		state.Question, profileSummary(state.Profile), contextBlock(chunks))
	if state.Guidance != "" {
		fmt.Fprintf(&b, "\n\nA reviewer rejected the previous attempt. Address this feedback:\n%s", state.Guidance)
	}

	resp, err := a.llm.CompleteWithSystem(ctx, visualizeSystemPrompt, b.String())
	if err != nil {
		return types.StageOutput{}, err
	}

	var decoded struct {
		Type     string   `json:"type"`
		Title    string   `json:"title"`
		XField   string   `json:"x_field"`
		YField   string   `json:"y_field"`
		Summary  string   `json:"summary"`
		Findings []string `json:"findings"`
	}
	payload := extractJSON(resp)
	if payload == "" || json.Unmarshal([]byte(payload), &decoded) != nil {
		return types.StageOutput{}, types.Transientf("chart spec was undecodable")
	}
	if !chartTypes[decoded.Type] {
		decoded.Type = "bar"
	}
	if decoded.XField == "" || decoded.YField == "" {
		return types.StageOutput{}, types.Transientf("chart spec missing axis fields")
	}

	out := &types.AnalysisOutput{
		Route:    types.RouteVisualize,
		Summary:  decoded.Summary,
		Findings: decoded.Findings,
		Chart: &types.ChartSpec{
			Type:   decoded.Type,
			Title:  decoded.Title,
			XField: decoded.XField,
			YField: decoded.YField,
		},
		ContextChunks: len(chunks),
		Guidance:      state.Guidance,
	}
	logging.Agents("[Visualize] file=%s chart=%s x=%s y=%s", state.FileID, decoded.Type, decoded.XField, decoded.YField)
	return types.StageOutput{Analysis: out}, nil
}
