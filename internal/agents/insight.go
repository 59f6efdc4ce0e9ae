package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// InsightAgent produces a narrative answer grounded in retrieved context.
type InsightAgent struct {
	llm       types.LLMClient
	retriever types.ContextRetriever
	k         int
}

func NewInsightAgent(deps Deps) *InsightAgent {
	k := deps.RetrievalK
	if k <= 0 {
		k = 6
	}
	return &InsightAgent{llm: deps.LLM, retriever: deps.Retriever, k: k}
}

func (a *InsightAgent) Stage() types.Stage { return types.StageInsight }

func (a *InsightAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
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

	resp, err := a.llm.CompleteWithSystem(ctx, insightSystemPrompt, b.String())
	if err != nil {
		return types.StageOutput{}, err
	}

	out := &types.AnalysisOutput{
		Route:         types.RouteInsight,
		ContextChunks: len(chunks),
		Guidance:      state.Guidance,
	}
	var decoded struct {
		Summary  string   `json:"summary"`
		Findings []string `json:"findings"`
	}
	if payload := extractJSON(resp); payload != "" && json.Unmarshal([]byte(payload), &decoded) == nil && decoded.Summary != "" {
		out.Summary = decoded.Summary
		out.Findings = decoded.Findings
	} else {
		// Undecodable answers still carry prose worth keeping.
		out.Summary = strings.TrimSpace(resp)
	}
	if out.Summary == "" {
		return types.StageOutput{}, types.Transientf("insight answer was empty")
	}

	logging.Agents("[Insight] file=%s context_chunks=%d findings=%d", state.FileID, len(chunks), len(out.Findings))
	return types.StageOutput{Analysis: out}, nil
}
