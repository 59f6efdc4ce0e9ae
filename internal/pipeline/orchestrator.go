// Package pipeline drives a run through the fixed stage graph: ingest,
// profile, plan, one of the two analysis branches, critique, debate, and
// report. The orchestrator owns all run mutation; agents only produce
// StageOutput deltas.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"datanerd/internal/agents"
	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// Orchestrator executes one run at a time through the stage graph.
type Orchestrator struct {
	agents map[types.Stage]agents.Agent
	policy RetryPolicy
	events *Broadcaster
}

// NewOrchestrator wires the stage agents, the retry policy, and the event
// broadcaster. events may be nil when no observer is interested.
func NewOrchestrator(registry map[types.Stage]agents.Agent, policy RetryPolicy, events *Broadcaster) *Orchestrator {
	return &Orchestrator{agents: registry, policy: policy, events: events}
}

// Execute drives run to a terminal status, mutating it in place. After
// every mutation it hands a snapshot to onUpdate so the caller can persist
// and publish it. The returned error mirrors the run's failure cause;
// a completed or cancelled run returns nil.
func (o *Orchestrator) Execute(ctx context.Context, run *types.Run, onUpdate func(*types.Run)) error {
	if onUpdate == nil {
		onUpdate = func(*types.Run) {}
	}

	state := types.RunState{
		RunID:    run.ID,
		FileID:   run.FileID,
		Question: run.Question,
	}

	logging.Pipeline("[Orchestrator] run=%s file=%s starting", run.ID, run.FileID)

	// Linear prefix: ingest, profile, plan.
	for _, stage := range []types.Stage{types.StageIngest, types.StageProfile, types.StagePlan} {
		out, err := o.runStage(ctx, run, &state, stage, onUpdate)
		if err != nil {
			return o.terminate(run, stage, err, onUpdate)
		}
		switch stage {
		case types.StageProfile:
			state.Profile = out.Profile
		case types.StagePlan:
			if out.Plan == nil {
				return o.terminate(run, stage, types.Fatalf("plan stage produced no route"), onUpdate)
			}
			state.Route = out.Plan.Route
		}
	}

	// Exactly one branch runs; the other is recorded as skipped.
	branch := state.Route.BranchStage()
	o.appendSkipped(run, state.Route.Sibling(), onUpdate)

	if _, err := o.runStage(ctx, run, &state, branch, onUpdate); err != nil {
		return o.terminate(run, branch, err, onUpdate)
	}

	// Critique and debate, with at most one debate-granted branch rerun.
	// The debate agent sees the remaining rerun allowance and decides the
	// grant itself, so the appended result is final from the start.
	loopedBack := false
	for {
		if _, err := o.runStage(ctx, run, &state, types.StageCritique, onUpdate); err != nil {
			return o.terminate(run, types.StageCritique, err, onUpdate)
		}

		state.RetryAvailable = !loopedBack
		debateOut, err := o.runStage(ctx, run, &state, types.StageDebate, onUpdate)
		if err != nil {
			return o.terminate(run, types.StageDebate, err, onUpdate)
		}
		if debateOut.Debate == nil {
			return o.terminate(run, types.StageDebate, types.Fatalf("debate stage produced no verdict"), onUpdate)
		}

		if !debateOut.Debate.RetryGranted {
			if debateOut.Debate.RetryRequested {
				logging.Pipeline("[Orchestrator] run=%s debate requested retry again, cap reached", run.ID)
			}
			break
		}
		loopedBack = true
		state.Guidance = critiqueGuidance(&state)

		logging.Pipeline("[Orchestrator] run=%s debate granted %s rerun", run.ID, branch)
		if _, err := o.runStage(ctx, run, &state, branch, onUpdate); err != nil {
			return o.terminate(run, branch, err, onUpdate)
		}
		state.Guidance = ""
	}

	if _, err := o.runStage(ctx, run, &state, types.StageReport, onUpdate); err != nil {
		return o.terminate(run, types.StageReport, err, onUpdate)
	}

	run.Status = types.RunCompleted
	run.UpdatedAt = time.Now()
	onUpdate(run)
	logging.Pipeline("[Orchestrator] run=%s completed with %d stage results", run.ID, len(run.Results))
	return nil
}

// runStage executes one agent with retries and appends the StageResult.
func (o *Orchestrator) runStage(ctx context.Context, run *types.Run, state *types.RunState, stage types.Stage, onUpdate func(*types.Run)) (types.StageOutput, error) {
	if err := ctx.Err(); err != nil {
		return types.StageOutput{}, types.ClassifyContextErr(err)
	}

	agent, ok := o.agents[stage]
	if !ok {
		return types.StageOutput{}, types.Fatalf("no agent registered for stage %s", stage)
	}

	run.CurrentStage = stage
	run.UpdatedAt = time.Now()
	onUpdate(run)
	o.publish(run.ID, stage, types.EventWaiting, "")
	o.publish(run.ID, stage, types.EventProcessing, "")

	started := time.Now()
	timer := logging.StartTimer(logging.CategoryPipeline, string(stage))

	var out types.StageOutput
	var err error
	attempts := 0
	for {
		attempts++
		state.Results = run.Results
		out, err = agent.Execute(ctx, *state)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = types.ClassifyContextErr(ctxErr)
			break
		}
		if !o.policy.ShouldRetry(err, attempts) {
			// A transient failure that outlived its retries terminates the
			// run; callers must not see it as retryable anymore.
			if types.IsTransient(err) {
				err = types.Fatal(fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err))
			}
			break
		}
		delay := o.policy.NextDelay(attempts)
		logging.Pipeline("[Orchestrator] run=%s stage=%s attempt %d failed, retrying in %v: %v", run.ID, stage, attempts, delay, err)
		if sleepErr := o.policy.Sleep(ctx, delay); sleepErr != nil {
			err = sleepErr
			break
		}
	}
	timer.Stop()

	result := types.StageResult{
		Stage:      stage,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Attempts:   attempts,
	}

	if err != nil {
		// A cancelled stage leaves no result: the run's record keeps only
		// the stages that actually ran to a verdict.
		if types.IsCancellation(err) {
			return types.StageOutput{}, err
		}
		result.Status = types.StageFailed
		result.Error = err.Error()
		run.Results = append(run.Results, result)
		run.UpdatedAt = time.Now()
		onUpdate(run)
		o.publish(run.ID, stage, types.EventFailed, err.Error())
		return types.StageOutput{}, err
	}

	result.Status = types.StageOK
	if attempts > 1 {
		result.Status = types.StageRetried
	}
	result.Output = out
	run.Results = append(run.Results, result)
	run.UpdatedAt = time.Now()
	onUpdate(run)
	state.Results = run.Results
	o.publish(run.ID, stage, types.EventCompleted, "")
	return out, nil
}

// appendSkipped records the branch that was not chosen.
func (o *Orchestrator) appendSkipped(run *types.Run, stage types.Stage, onUpdate func(*types.Run)) {
	now := time.Now()
	run.Results = append(run.Results, types.StageResult{
		Stage:      stage,
		Status:     types.StageSkipped,
		StartedAt:  now,
		FinishedAt: now,
	})
	run.UpdatedAt = now
	onUpdate(run)
}

// terminate settles the run into its terminal status for the given error.
func (o *Orchestrator) terminate(run *types.Run, stage types.Stage, err error, onUpdate func(*types.Run)) error {
	run.UpdatedAt = time.Now()
	if types.IsCancellation(err) {
		run.Status = types.RunCancelled
		run.Error = "cancelled"
		onUpdate(run)
		logging.Pipeline("[Orchestrator] run=%s cancelled at stage %s", run.ID, stage)
		return nil
	}

	run.Status = types.RunFailed
	run.Error = fmt.Sprintf("stage %s: %v", stage, err)
	onUpdate(run)
	o.publish(run.ID, stage, types.EventFailed, err.Error())
	logging.PipelineError("[Orchestrator] run=%s failed at stage %s: %v", run.ID, stage, err)
	return err
}

func (o *Orchestrator) publish(runID string, stage types.Stage, st types.EventState, errMsg string) {
	if o.events == nil {
		return
	}
	o.events.Publish(types.StatusEvent{
		RunID:     runID,
		Stage:     stage,
		State:     st,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// critiqueGuidance folds the latest critique findings into rerun guidance.
func critiqueGuidance(state *types.RunState) string {
	out := state.Output(types.StageCritique)
	if out == nil || out.Critique == nil {
		return ""
	}
	if len(out.Critique.Findings) == 0 {
		return fmt.Sprintf("previous attempt scored %.2f, improve grounding and relevance", out.Critique.Score)
	}
	return strings.Join(out.Critique.Findings, "; ")
}
