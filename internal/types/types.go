// Package types defines the core data model shared across the pipeline:
// runs, stage results, status events, context chunks, and the collaborator
// interfaces the pipeline consumes.
package types

import (
	"time"
)

// RunStatus is the terminal/lifecycle status of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Stage names one step in the pipeline graph.
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageProfile   Stage = "profile"
	StagePlan      Stage = "plan"
	StageInsight   Stage = "insight"
	StageVisualize Stage = "visualize"
	StageCritique  Stage = "critique"
	StageDebate    Stage = "debate"
	StageReport    Stage = "report"
)

// StageStatus records how a stage invocation ended.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageRetried StageStatus = "retried" // completed, but only after at least one retry
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped" // the non-chosen branch, recorded for audit
)

// Route is the branch decision emitted by the Plan stage.
type Route string

const (
	RouteInsight   Route = "insight"
	RouteVisualize Route = "visualize"
)

// BranchStage maps a route to the stage that executes it.
func (r Route) BranchStage() Stage {
	if r == RouteVisualize {
		return StageVisualize
	}
	return StageInsight
}

// Sibling returns the branch stage that was NOT chosen by this route.
func (r Route) Sibling() Stage {
	if r == RouteVisualize {
		return StageInsight
	}
	return StageVisualize
}

// Run is one end-to-end pipeline execution for a (file, question) pair.
// Mutated only by the orchestrator; StageResults are append-only.
type Run struct {
	ID           string        `json:"id"`
	FileID       string        `json:"file_id"`
	Question     string        `json:"question"`
	Status       RunStatus     `json:"status"`
	CurrentStage Stage         `json:"current_stage"`
	Results      []StageResult `json:"results"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy suitable for handing to callers as a snapshot.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Results = make([]StageResult, len(r.Results))
	copy(cp.Results, r.Results)
	return &cp
}

// LastResult returns the most recent StageResult for the given stage,
// or nil if the stage has not produced one.
func (r *Run) LastResult(stage Stage) *StageResult {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].Stage == stage {
			return &r.Results[i]
		}
	}
	return nil
}

// StageResult is the immutable record of one agent invocation.
type StageResult struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Attempts   int         `json:"attempts"`
	Output     StageOutput `json:"output"`
	Error      string      `json:"error,omitempty"`
}

// StageOutput carries the stage-specific structured payload. Only the field
// belonging to the producing stage is populated; the orchestrator merges it
// into the run, agents never write the run directly.
type StageOutput struct {
	Ingest   *IngestOutput   `json:"ingest,omitempty"`
	Profile  *DataProfile    `json:"profile,omitempty"`
	Plan     *PlanOutput     `json:"plan,omitempty"`
	Analysis *AnalysisOutput `json:"analysis,omitempty"`
	Critique *CritiqueOutput `json:"critique,omitempty"`
	Debate   *DebateOutput   `json:"debate,omitempty"`
	Report   *ReportOutput   `json:"report,omitempty"`
}

// IngestOutput summarizes context-store seeding.
type IngestOutput struct {
	FileID      string `json:"file_id"`
	ChunksNew   int    `json:"chunks_new"`
	ChunksTotal int    `json:"chunks_total"`
}

// Column describes one column of the tabular source.
type Column struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // numeric, text, date, bool
}

// DataProfile is the structured shape of the source file, supplied by the
// raw file accessor. The pipeline treats it as already-parsed input.
type DataProfile struct {
	FileID     string     `json:"file_id"`
	RowCount   int        `json:"row_count"`
	Columns    []Column   `json:"columns"`
	SampleRows [][]string `json:"sample_rows"`
}

// PlanOutput is the routing decision from the Plan stage.
type PlanOutput struct {
	Route     Route  `json:"route"`
	Rationale string `json:"rationale,omitempty"`
	// Fallback is set when the model's answer could not be decoded into a
	// valid route and the deterministic default was used instead.
	Fallback bool `json:"fallback,omitempty"`
	// Forced is set when a zero-row profile constrained the route to insight.
	Forced bool `json:"forced,omitempty"`
}

// ChartSpec is the visualization specification produced by the Visualize stage.
type ChartSpec struct {
	Type   string `json:"type"` // bar, line, scatter, pie
	Title  string `json:"title"`
	XField string `json:"x_field"`
	YField string `json:"y_field"`
}

// AnalysisOutput is produced by whichever branch stage executed.
type AnalysisOutput struct {
	Route    Route      `json:"route"`
	Summary  string     `json:"summary"`
	Findings []string   `json:"findings,omitempty"`
	Chart    *ChartSpec `json:"chart,omitempty"`
	// ContextChunks counts how many retrieved chunks grounded the answer.
	ContextChunks int `json:"context_chunks"`
	// Guidance echoes critique feedback when this is a debate-triggered rerun.
	Guidance string `json:"guidance,omitempty"`
}

// CritiqueOutput scores the chosen branch output.
type CritiqueOutput struct {
	Score    float64  `json:"score"` // [0,1]
	Findings []string `json:"findings,omitempty"`
	Target   Route    `json:"target"`
}

// DebateOutput records the critique/debate reconciliation.
type DebateOutput struct {
	Accepted       bool   `json:"accepted"`
	RetryRequested bool   `json:"retry_requested"`
	RetryGranted   bool   `json:"retry_granted"`
	Resolution     string `json:"resolution,omitempty"`
}

// ReportSection is one section of the final report.
type ReportSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// ReportOutput is the final artifact assembled from every StageResult.
type ReportOutput struct {
	Title      string          `json:"title"`
	Answer     string          `json:"answer"`
	Sections   []ReportSection `json:"sections,omitempty"`
	StageCount int             `json:"stage_count"`
	Skipped    []Stage         `json:"skipped,omitempty"`
}

// EventState is the observable per-stage transition state.
type EventState string

const (
	EventWaiting    EventState = "waiting"
	EventProcessing EventState = "processing"
	EventCompleted  EventState = "completed"
	EventFailed     EventState = "failed"
)

// StatusEvent notifies observers of a stage transition. Transient: it is a
// side channel for observability and is never part of the run's durable state.
type StatusEvent struct {
	RunID     string     `json:"run_id"`
	Stage     Stage      `json:"stage"`
	State     EventState `json:"state"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ContextChunk is a fragment of source text plus its embedding and provenance.
// Immutable once stored; re-ingest of identical content converges on the
// existing chunk via the content hash.
type ContextChunk struct {
	FileID      string    `json:"file_id"`
	ContentHash string    `json:"content_hash"`
	Seq         int       `json:"seq"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding,omitempty"`
	// Similarity is populated on query results only.
	Similarity float64   `json:"similarity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunState is the read-only snapshot handed to agents. Agents return a
// StageOutput delta; they never mutate this.
type RunState struct {
	RunID    string
	FileID   string
	Question string
	Profile  *DataProfile
	Route    Route
	// Guidance carries critique findings into a debate-triggered branch rerun.
	Guidance string
	// RetryAvailable tells the Debate stage whether the orchestrator still
	// has a branch rerun left to grant.
	RetryAvailable bool
	Results        []StageResult
}

// Output returns the latest StageOutput for the given stage, or nil.
func (s *RunState) Output(stage Stage) *StageOutput {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if s.Results[i].Stage == stage && s.Results[i].Status != StageSkipped {
			return &s.Results[i].Output
		}
	}
	return nil
}
