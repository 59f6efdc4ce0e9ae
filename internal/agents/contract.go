// Package agents implements the eight pipeline agents. Every agent follows
// the same contract: it receives a read-only run snapshot, produces a
// StageOutput delta, and classifies its own errors. Agents never mutate the
// run and never retry themselves; retries belong to the orchestrator.
package agents

import (
	"context"

	"datanerd/internal/types"
)

// Agent executes one pipeline stage against a run snapshot.
type Agent interface {
	Stage() types.Stage
	Execute(ctx context.Context, state types.RunState) (types.StageOutput, error)
}

// RawSource supplies the raw text of an uploaded file for context seeding.
type RawSource interface {
	ReadRaw(ctx context.Context, fileID string) (string, error)
}

// ChunkCounter reports how many context chunks a file already has stored.
type ChunkCounter interface {
	ChunkCount(fileID string) (int, error)
}

// Deps bundles the collaborators the agents draw on. Individual agents take
// only the fields they need.
type Deps struct {
	LLM       types.LLMClient
	Files     types.FileAccessor
	Raw       RawSource
	Retriever types.ContextRetriever
	Chunks    ChunkCounter

	// RetrievalK bounds how many context chunks ground a branch answer.
	RetrievalK int
	// DebateThreshold is the minimum critique score the debate accepts.
	DebateThreshold float64
}

// NewRegistry wires one agent per stage.
func NewRegistry(deps Deps) map[types.Stage]Agent {
	return map[types.Stage]Agent{
		types.StageIngest:    NewIngestAgent(deps),
		types.StageProfile:   NewProfileAgent(deps),
		types.StagePlan:      NewPlanAgent(deps),
		types.StageInsight:   NewInsightAgent(deps),
		types.StageVisualize: NewVisualizeAgent(deps),
		types.StageCritique:  NewCritiqueAgent(deps),
		types.StageDebate:    NewDebateAgent(deps),
		types.StageReport:    NewReportAgent(deps),
	}
}
