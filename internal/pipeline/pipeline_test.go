package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"datanerd/internal/agents"
	"datanerd/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAgent runs an arbitrary stage function.
type fakeAgent struct {
	stage types.Stage
	fn    func(ctx context.Context, state types.RunState) (types.StageOutput, error)
}

func (f *fakeAgent) Stage() types.Stage { return f.stage }
func (f *fakeAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	return f.fn(ctx, state)
}

func okAgent(stage types.Stage, out types.StageOutput) agents.Agent {
	return &fakeAgent{stage: stage, fn: func(context.Context, types.RunState) (types.StageOutput, error) {
		return out, nil
	}}
}

// makeRegistry builds a registry of well-behaved fakes plus the real
// deterministic debate and report agents. Overrides replace individual
// stages.
func makeRegistry(overrides map[types.Stage]agents.Agent) map[types.Stage]agents.Agent {
	profile := &types.DataProfile{
		FileID:   "sales.csv",
		RowCount: 50,
		Columns:  []types.Column{{Name: "month", Kind: "date"}, {Name: "revenue", Kind: "numeric"}},
	}
	reg := map[types.Stage]agents.Agent{
		types.StageIngest:  okAgent(types.StageIngest, types.StageOutput{Ingest: &types.IngestOutput{FileID: "sales.csv", ChunksTotal: 3}}),
		types.StageProfile: okAgent(types.StageProfile, types.StageOutput{Profile: profile}),
		types.StagePlan:    okAgent(types.StagePlan, types.StageOutput{Plan: &types.PlanOutput{Route: types.RouteInsight}}),
		types.StageInsight: okAgent(types.StageInsight, types.StageOutput{Analysis: &types.AnalysisOutput{
			Route: types.RouteInsight, Summary: "revenue is growing",
		}}),
		types.StageVisualize: okAgent(types.StageVisualize, types.StageOutput{Analysis: &types.AnalysisOutput{
			Route: types.RouteVisualize, Summary: "chart shows growth",
			Chart: &types.ChartSpec{Type: "line", Title: "Revenue", XField: "month", YField: "revenue"},
		}}),
		types.StageCritique: okAgent(types.StageCritique, types.StageOutput{Critique: &types.CritiqueOutput{
			Score: 0.9, Target: types.RouteInsight,
		}}),
		types.StageDebate: agents.NewDebateAgent(agents.Deps{DebateThreshold: 0.6}),
		types.StageReport: agents.NewReportAgent(agents.Deps{}),
	}
	for stage, agent := range overrides {
		reg[stage] = agent
	}
	return reg
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 2.0, MaxDelay: 50 * time.Millisecond}
}

func newRun(question string) *types.Run {
	now := time.Now()
	return &types.Run{
		ID:        "run-1",
		FileID:    "sales.csv",
		Question:  question,
		Status:    types.RunRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func executedStages(run *types.Run) []types.Stage {
	var out []types.Stage
	for _, res := range run.Results {
		if res.Status != types.StageSkipped {
			out = append(out, res.Stage)
		}
	}
	return out
}

func TestOrchestrator_HappyPathInsightRoute(t *testing.T) {
	orch := NewOrchestrator(makeRegistry(nil), fastPolicy(), nil)
	run := newRun("what drives revenue?")

	err := orch.Execute(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, []types.Stage{
		types.StageIngest, types.StageProfile, types.StagePlan,
		types.StageInsight, types.StageCritique, types.StageDebate, types.StageReport,
	}, executedStages(run))

	// The non-chosen branch is recorded as skipped, never executed.
	skipped := run.LastResult(types.StageVisualize)
	require.NotNil(t, skipped)
	assert.Equal(t, types.StageSkipped, skipped.Status)
}

func TestOrchestrator_VisualizeRouteSkipsInsight(t *testing.T) {
	reg := makeRegistry(map[types.Stage]agents.Agent{
		types.StagePlan: okAgent(types.StagePlan, types.StageOutput{Plan: &types.PlanOutput{Route: types.RouteVisualize}}),
		types.StageCritique: okAgent(types.StageCritique, types.StageOutput{Critique: &types.CritiqueOutput{
			Score: 0.9, Target: types.RouteVisualize,
		}}),
	})
	orch := NewOrchestrator(reg, fastPolicy(), nil)
	run := newRun("show revenue trends")

	err := orch.Execute(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)

	insight := run.LastResult(types.StageInsight)
	require.NotNil(t, insight)
	assert.Equal(t, types.StageSkipped, insight.Status)
	visualize := run.LastResult(types.StageVisualize)
	require.NotNil(t, visualize)
	assert.Equal(t, types.StageOK, visualize.Status)

	// The report sees six executed stages plus the skipped marker.
	report := run.LastResult(types.StageReport)
	require.NotNil(t, report)
	require.NotNil(t, report.Output.Report)
	assert.Equal(t, 6, report.Output.Report.StageCount)
	assert.Equal(t, []types.Stage{types.StageInsight}, report.Output.Report.Skipped)
}

func TestOrchestrator_TransientFailureIsRetried(t *testing.T) {
	calls := 0
	flaky := &fakeAgent{stage: types.StageInsight, fn: func(context.Context, types.RunState) (types.StageOutput, error) {
		calls++
		if calls == 1 {
			return types.StageOutput{}, types.Transientf("model timed out")
		}
		return types.StageOutput{Analysis: &types.AnalysisOutput{Route: types.RouteInsight, Summary: "second try"}}, nil
	}}
	orch := NewOrchestrator(makeRegistry(map[types.Stage]agents.Agent{types.StageInsight: flaky}), fastPolicy(), nil)
	run := newRun("trend?")

	start := time.Now()
	err := orch.Execute(context.Background(), run, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "backoff must elapse before the retry")

	res := run.LastResult(types.StageInsight)
	require.NotNil(t, res)
	assert.Equal(t, types.StageRetried, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, types.RunCompleted, run.Status)
}

func TestOrchestrator_ExhaustedRetriesFailTheRun(t *testing.T) {
	flaky := &fakeAgent{stage: types.StageInsight, fn: func(context.Context, types.RunState) (types.StageOutput, error) {
		return types.StageOutput{}, types.Transientf("model unavailable")
	}}
	orch := NewOrchestrator(makeRegistry(map[types.Stage]agents.Agent{types.StageInsight: flaky}), fastPolicy(), nil)
	run := newRun("trend?")

	err := orch.Execute(context.Background(), run, nil)
	require.Error(t, err)
	assert.Equal(t, types.RunFailed, run.Status)

	// Exhausting the transient retries converts the failure to fatal.
	assert.True(t, types.IsFatal(err), "exhausted retries must surface as fatal: %v", err)
	assert.Contains(t, run.Error, "retries exhausted")

	res := run.LastResult(types.StageInsight)
	require.NotNil(t, res)
	assert.Equal(t, types.StageFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Error, "retries exhausted")
}

func TestOrchestrator_FatalErrorIsNotRetried(t *testing.T) {
	calls := 0
	broken := &fakeAgent{stage: types.StageProfile, fn: func(context.Context, types.RunState) (types.StageOutput, error) {
		calls++
		return types.StageOutput{}, types.Fatalf("no such file")
	}}
	orch := NewOrchestrator(makeRegistry(map[types.Stage]agents.Agent{types.StageProfile: broken}), fastPolicy(), nil)
	run := newRun("trend?")

	err := orch.Execute(context.Background(), run, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestOrchestrator_DebateLoopBackRunsBranchAtMostTwice(t *testing.T) {
	branchRuns := 0
	insight := &fakeAgent{stage: types.StageInsight, fn: func(_ context.Context, state types.RunState) (types.StageOutput, error) {
		branchRuns++
		return types.StageOutput{Analysis: &types.AnalysisOutput{
			Route: types.RouteInsight, Summary: "attempt", Guidance: state.Guidance,
		}}, nil
	}}
	// Every critique stays below the threshold, so debate keeps asking.
	critique := okAgent(types.StageCritique, types.StageOutput{Critique: &types.CritiqueOutput{
		Score: 0.3, Findings: []string{"cite real columns"}, Target: types.RouteInsight,
	}})
	reg := makeRegistry(map[types.Stage]agents.Agent{
		types.StageInsight:  insight,
		types.StageCritique: critique,
	})
	orch := NewOrchestrator(reg, fastPolicy(), nil)
	run := newRun("trend?")

	err := orch.Execute(context.Background(), run, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 2, branchRuns, "loop-back is granted exactly once")

	var debates []*types.DebateOutput
	for _, res := range run.Results {
		if res.Stage == types.StageDebate {
			debates = append(debates, res.Output.Debate)
		}
	}
	require.Len(t, debates, 2)
	assert.True(t, debates[0].RetryRequested)
	assert.True(t, debates[0].RetryGranted)
	assert.True(t, debates[1].RetryRequested)
	assert.False(t, debates[1].RetryGranted, "second request is refused")

	// The rerun received the critique findings as guidance.
	var insightResults []types.StageResult
	for _, res := range run.Results {
		if res.Stage == types.StageInsight && res.Status != types.StageSkipped {
			insightResults = append(insightResults, res)
		}
	}
	require.Len(t, insightResults, 2)
	assert.Equal(t, "", insightResults[0].Output.Analysis.Guidance)
	assert.Equal(t, "cite real columns", insightResults[1].Output.Analysis.Guidance)
}

func TestOrchestrator_AppendedResultsNeverChange(t *testing.T) {
	// Below-threshold critique forces the debate grant path, which must be
	// decided before the debate result is appended.
	critique := okAgent(types.StageCritique, types.StageOutput{Critique: &types.CritiqueOutput{
		Score: 0.3, Findings: []string{"cite real columns"}, Target: types.RouteInsight,
	}})
	orch := NewOrchestrator(makeRegistry(map[types.Stage]agents.Agent{types.StageCritique: critique}), fastPolicy(), nil)
	run := newRun("trend?")

	var snapshots []*types.Run
	err := orch.Execute(context.Background(), run, func(snapshot *types.Run) {
		snapshots = append(snapshots, snapshot.Clone())
	})
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)

	// Every result, once it appears in a snapshot, is identical in all
	// later snapshots: the record is append-only.
	final := snapshots[len(snapshots)-1]
	for n, snap := range snapshots {
		for i, res := range snap.Results {
			assert.Equal(t, final.Results[i], res, "result %d changed after snapshot %d", i, n)
		}
	}

	// The first debate result carried its grant from the moment it was
	// appended, in every snapshot that contains it.
	for _, snap := range snapshots {
		for _, res := range snap.Results {
			if res.Stage == types.StageDebate && res.Output.Debate != nil {
				assert.True(t, res.Output.Debate.RetryGranted, "first debate verdict must be final at append time")
				break
			}
		}
	}
}

func TestOrchestrator_EmptyPlanOutputFailsRun(t *testing.T) {
	reg := makeRegistry(map[types.Stage]agents.Agent{
		types.StagePlan: okAgent(types.StagePlan, types.StageOutput{}),
	})
	orch := NewOrchestrator(reg, fastPolicy(), nil)
	run := newRun("trend?")

	err := orch.Execute(context.Background(), run, nil)
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestOrchestrator_EmptyDebateOutputFailsRun(t *testing.T) {
	reg := makeRegistry(map[types.Stage]agents.Agent{
		types.StageDebate: okAgent(types.StageDebate, types.StageOutput{}),
	})
	orch := NewOrchestrator(reg, fastPolicy(), nil)
	run := newRun("trend?")

	err := orch.Execute(context.Background(), run, nil)
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestOrchestrator_CancellationBetweenStagesPreservesResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Cancel during the plan stage; ingest and profile results must survive.
	plan := &fakeAgent{stage: types.StagePlan, fn: func(ctx context.Context, _ types.RunState) (types.StageOutput, error) {
		cancel()
		<-ctx.Done()
		return types.StageOutput{}, types.ClassifyContextErr(ctx.Err())
	}}
	orch := NewOrchestrator(makeRegistry(map[types.Stage]agents.Agent{types.StagePlan: plan}), fastPolicy(), nil)
	run := newRun("trend?")

	err := orch.Execute(ctx, run, nil)
	require.NoError(t, err, "cancellation is not a failure")
	assert.Equal(t, types.RunCancelled, run.Status)
	assert.Equal(t, []types.Stage{types.StageIngest, types.StageProfile}, executedStages(run))
}

func TestOrchestrator_PublishesLifecycleEvents(t *testing.T) {
	events := NewBroadcaster(128)
	defer events.Close()
	ch, unsub := events.Subscribe()
	defer unsub()

	orch := NewOrchestrator(makeRegistry(nil), fastPolicy(), events)
	run := newRun("trend?")
	require.NoError(t, orch.Execute(context.Background(), run, nil))

	// Drain what was buffered; per-run ordering must hold per stage.
	seen := map[types.Stage][]types.EventState{}
	for {
		select {
		case ev := <-ch:
			assert.Equal(t, run.ID, ev.RunID)
			seen[ev.Stage] = append(seen[ev.Stage], ev.State)
			continue
		default:
		}
		break
	}
	for _, stage := range []types.Stage{types.StageIngest, types.StagePlan, types.StageReport} {
		require.Equal(t, []types.EventState{types.EventWaiting, types.EventProcessing, types.EventCompleted}, seen[stage], "stage %s", stage)
	}
}

func TestOrchestrator_OnUpdateReceivesSnapshots(t *testing.T) {
	orch := NewOrchestrator(makeRegistry(nil), fastPolicy(), nil)
	run := newRun("trend?")

	var snapshots []*types.Run
	err := orch.Execute(context.Background(), run, func(snapshot *types.Run) {
		snapshots = append(snapshots, snapshot.Clone())
	})
	require.NoError(t, err)
	require.NotEmpty(t, snapshots)

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, types.RunCompleted, last.Status)
	// Result counts never decrease across updates.
	prev := 0
	for _, snap := range snapshots {
		assert.GreaterOrEqual(t, len(snap.Results), prev)
		prev = len(snap.Results)
	}
}
