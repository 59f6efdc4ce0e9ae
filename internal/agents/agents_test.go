package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datanerd/internal/types"
)

func TestIngestAgent_ReportsNewAndTotalChunks(t *testing.T) {
	retriever := &mockRetriever{chunks: []types.ContextChunk{
		{FileID: "sales.csv", ContentHash: "a", Seq: 0},
		{FileID: "sales.csv", ContentHash: "b", Seq: 1},
		{FileID: "sales.csv", ContentHash: "c", Seq: 2},
	}}
	agent := NewIngestAgent(Deps{
		Raw:       &mockRawSource{text: "month,revenue\n2024-01,1200\n"},
		Retriever: retriever,
		Chunks:    &mockCounter{n: 1},
	})

	out, err := agent.Execute(context.Background(), types.RunState{FileID: "sales.csv"})
	require.NoError(t, err)
	require.NotNil(t, out.Ingest)
	assert.Equal(t, 3, out.Ingest.ChunksTotal)
	assert.Equal(t, 2, out.Ingest.ChunksNew)
}

func TestIngestAgent_ReadFailureIsFatal(t *testing.T) {
	agent := NewIngestAgent(Deps{
		Raw:       &mockRawSource{err: assert.AnError},
		Retriever: &mockRetriever{},
	})

	_, err := agent.Execute(context.Background(), types.RunState{FileID: "missing.csv"})
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}

func TestProfileAgent_ReturnsProfile(t *testing.T) {
	agent := NewProfileAgent(Deps{Files: &mockFiles{profile: sampleProfile(50)}})

	out, err := agent.Execute(context.Background(), types.RunState{FileID: "sales.csv"})
	require.NoError(t, err)
	require.NotNil(t, out.Profile)
	assert.Equal(t, 50, out.Profile.RowCount)
	assert.Len(t, out.Profile.Columns, 2)
}

func TestProfileAgent_NoColumnsIsFatal(t *testing.T) {
	agent := NewProfileAgent(Deps{Files: &mockFiles{profile: &types.DataProfile{FileID: "empty.csv"}}})

	_, err := agent.Execute(context.Background(), types.RunState{FileID: "empty.csv"})
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}

func TestPlanAgent_DecodesVisualizeRoute(t *testing.T) {
	llm := &mockLLM{response: `{"route": "visualize", "rationale": "trend question"}`}
	agent := NewPlanAgent(Deps{LLM: llm})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "show revenue trends",
		Profile:  sampleProfile(50),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Plan)
	assert.Equal(t, types.RouteVisualize, out.Plan.Route)
	assert.False(t, out.Plan.Fallback)
	assert.False(t, out.Plan.Forced)
}

func TestPlanAgent_UndecodableFallsBackToInsight(t *testing.T) {
	cases := []string{
		"I think a chart would be nice",
		`{"route": "dashboard"}`,
		`{"route":`,
		"",
	}
	for _, resp := range cases {
		agent := NewPlanAgent(Deps{LLM: &mockLLM{response: resp}})
		out, err := agent.Execute(context.Background(), types.RunState{
			Question: "anything",
			Profile:  sampleProfile(10),
		})
		require.NoError(t, err)
		require.NotNil(t, out.Plan)
		assert.Equal(t, types.RouteInsight, out.Plan.Route, "response %q", resp)
		assert.True(t, out.Plan.Fallback, "response %q", resp)
	}
}

func TestPlanAgent_ZeroRowsForcesInsightWithoutLLM(t *testing.T) {
	llm := &mockLLM{response: `{"route": "visualize"}`}
	agent := NewPlanAgent(Deps{LLM: llm})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "show trends",
		Profile:  sampleProfile(0),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Plan)
	assert.Equal(t, types.RouteInsight, out.Plan.Route)
	assert.True(t, out.Plan.Forced)
	assert.Equal(t, 0, llm.calls, "planner must not consult the model for empty datasets")
}

func TestInsightAgent_ParsesStructuredAnswer(t *testing.T) {
	retriever := &mockRetriever{chunks: []types.ContextChunk{
		{Text: "2024-01,1200", Similarity: 0.9},
		{Text: "2024-02,1350", Similarity: 0.8},
	}}
	llm := &mockLLM{response: `{"summary": "Revenue grew month over month.", "findings": ["Jan to Feb +12.5%"]}`}
	agent := NewInsightAgent(Deps{LLM: llm, Retriever: retriever, RetrievalK: 6})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "how is revenue developing?",
		Profile:  sampleProfile(50),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, types.RouteInsight, out.Analysis.Route)
	assert.Equal(t, "Revenue grew month over month.", out.Analysis.Summary)
	assert.Equal(t, 2, out.Analysis.ContextChunks)
}

func TestInsightAgent_KeepsProseWhenUndecodable(t *testing.T) {
	llm := &mockLLM{response: "Revenue is trending upward overall."}
	agent := NewInsightAgent(Deps{LLM: llm, Retriever: &mockRetriever{}})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "trend?",
		Profile:  sampleProfile(50),
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue is trending upward overall.", out.Analysis.Summary)
}

func TestInsightAgent_CarriesGuidanceIntoRerun(t *testing.T) {
	llm := &mockLLM{response: `{"summary": "Better answer.", "findings": []}`}
	agent := NewInsightAgent(Deps{LLM: llm, Retriever: &mockRetriever{}})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "trend?",
		Profile:  sampleProfile(50),
		Guidance: "cite actual columns",
	})
	require.NoError(t, err)
	assert.Equal(t, "cite actual columns", out.Analysis.Guidance)
}

func TestVisualizeAgent_ProducesChartSpec(t *testing.T) {
	llm := &mockLLM{response: `{"type": "line", "title": "Revenue over time", "x_field": "month", "y_field": "revenue", "summary": "Steady growth.", "findings": ["Q1 up"]}`}
	agent := NewVisualizeAgent(Deps{LLM: llm, Retriever: &mockRetriever{}})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "show revenue trends",
		Profile:  sampleProfile(50),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)
	require.NotNil(t, out.Analysis.Chart)
	assert.Equal(t, types.RouteVisualize, out.Analysis.Route)
	assert.Equal(t, "line", out.Analysis.Chart.Type)
	assert.Equal(t, "month", out.Analysis.Chart.XField)
}

func TestVisualizeAgent_UnknownChartTypeDefaultsToBar(t *testing.T) {
	llm := &mockLLM{response: `{"type": "hologram", "title": "t", "x_field": "month", "y_field": "revenue"}`}
	agent := NewVisualizeAgent(Deps{LLM: llm, Retriever: &mockRetriever{}})

	out, err := agent.Execute(context.Background(), types.RunState{
		Question: "chart it",
		Profile:  sampleProfile(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "bar", out.Analysis.Chart.Type)
}

func TestVisualizeAgent_EmptyDatasetIsFatal(t *testing.T) {
	agent := NewVisualizeAgent(Deps{LLM: &mockLLM{}, Retriever: &mockRetriever{}})

	_, err := agent.Execute(context.Background(), types.RunState{
		Question: "chart it",
		Profile:  sampleProfile(0),
	})
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}

func critiqueState(route types.Route, analysisSummary string) types.RunState {
	return types.RunState{
		Question: "trend?",
		Profile:  sampleProfile(50),
		Route:    route,
		Results: []types.StageResult{
			{
				Stage:  route.BranchStage(),
				Status: types.StageOK,
				Output: types.StageOutput{Analysis: &types.AnalysisOutput{
					Route:   route,
					Summary: analysisSummary,
				}},
			},
		},
	}
}

func TestCritiqueAgent_ClampsScore(t *testing.T) {
	llm := &mockLLM{response: `{"score": 1.7, "findings": ["solid"]}`}
	agent := NewCritiqueAgent(Deps{LLM: llm})

	out, err := agent.Execute(context.Background(), critiqueState(types.RouteInsight, "answer"))
	require.NoError(t, err)
	require.NotNil(t, out.Critique)
	assert.Equal(t, 1.0, out.Critique.Score)
	assert.Equal(t, types.RouteInsight, out.Critique.Target)
}

func TestCritiqueAgent_UndecodableScoreIsTransient(t *testing.T) {
	llm := &mockLLM{response: "looks fine to me"}
	agent := NewCritiqueAgent(Deps{LLM: llm})

	_, err := agent.Execute(context.Background(), critiqueState(types.RouteInsight, "answer"))
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestCritiqueAgent_MissingBranchResultIsFatal(t *testing.T) {
	agent := NewCritiqueAgent(Deps{LLM: &mockLLM{}})

	_, err := agent.Execute(context.Background(), types.RunState{Route: types.RouteInsight})
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}

func debateState(score float64) types.RunState {
	state := critiqueState(types.RouteInsight, "answer")
	state.Results = append(state.Results, types.StageResult{
		Stage:  types.StageCritique,
		Status: types.StageOK,
		Output: types.StageOutput{Critique: &types.CritiqueOutput{
			Score:    score,
			Findings: []string{"needs column citations"},
			Target:   types.RouteInsight,
		}},
	})
	return state
}

func TestDebateAgent_AcceptsAboveThreshold(t *testing.T) {
	agent := NewDebateAgent(Deps{DebateThreshold: 0.6})

	out, err := agent.Execute(context.Background(), debateState(0.8))
	require.NoError(t, err)
	require.NotNil(t, out.Debate)
	assert.True(t, out.Debate.Accepted)
	assert.False(t, out.Debate.RetryRequested)
}

func TestDebateAgent_RequestsRetryBelowThreshold(t *testing.T) {
	agent := NewDebateAgent(Deps{DebateThreshold: 0.6})

	out, err := agent.Execute(context.Background(), debateState(0.4))
	require.NoError(t, err)
	assert.False(t, out.Debate.Accepted)
	assert.True(t, out.Debate.RetryRequested)
	assert.False(t, out.Debate.RetryGranted, "no rerun is granted once the allowance is spent")
	assert.Contains(t, out.Debate.Resolution, "needs column citations")
}

func TestDebateAgent_GrantsRetryWhileRerunAvailable(t *testing.T) {
	agent := NewDebateAgent(Deps{DebateThreshold: 0.6})

	state := debateState(0.4)
	state.RetryAvailable = true
	out, err := agent.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, out.Debate.RetryRequested)
	assert.True(t, out.Debate.RetryGranted, "the verdict carries the grant from creation")
}

func TestDebateAgent_BoundaryScoreIsAccepted(t *testing.T) {
	agent := NewDebateAgent(Deps{DebateThreshold: 0.6})

	out, err := agent.Execute(context.Background(), debateState(0.6))
	require.NoError(t, err)
	assert.True(t, out.Debate.Accepted)
}

func TestReportAgent_CountsStagesAndSkipped(t *testing.T) {
	state := debateState(0.8)
	state.Results = append(state.Results,
		types.StageResult{Stage: types.StageVisualize, Status: types.StageSkipped},
		types.StageResult{Stage: types.StageDebate, Status: types.StageOK,
			Output: types.StageOutput{Debate: &types.DebateOutput{Accepted: true, Resolution: "accepted"}}},
	)
	agent := NewReportAgent(Deps{})

	out, err := agent.Execute(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Report)
	assert.Equal(t, 3, out.Report.StageCount)
	assert.Equal(t, []types.Stage{types.StageVisualize}, out.Report.Skipped)
	assert.Equal(t, "answer", out.Report.Answer)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a": 1}`:                           `{"a": 1}`,
		"```json\n{\"a\": 1}\n```":           `{"a": 1}`,
		`prose before {"a": {"b": 2}} after`: `{"a": {"b": 2}}`,
		`{"s": "brace } in string"}`:         `{"s": "brace } in string"}`,
		"no json here":                       "",
	}
	for input, want := range cases {
		assert.Equal(t, want, extractJSON(input), "input %q", input)
	}
}
