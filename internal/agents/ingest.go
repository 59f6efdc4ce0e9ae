package agents

import (
	"context"
	"fmt"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// IngestAgent seeds the context store with the file's raw text so later
// stages can ground their answers in retrieved fragments.
type IngestAgent struct {
	raw       RawSource
	retriever types.ContextRetriever
	chunks    ChunkCounter
}

func NewIngestAgent(deps Deps) *IngestAgent {
	return &IngestAgent{raw: deps.Raw, retriever: deps.Retriever, chunks: deps.Chunks}
}

func (a *IngestAgent) Stage() types.Stage { return types.StageIngest }

func (a *IngestAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	rawText, err := a.raw.ReadRaw(ctx, state.FileID)
	if err != nil {
		return types.StageOutput{}, types.Fatal(fmt.Errorf("reading source %s: %w", state.FileID, err))
	}

	before := 0
	if a.chunks != nil {
		if n, err := a.chunks.ChunkCount(state.FileID); err == nil {
			before = n
		}
	}

	stored, err := a.retriever.Ingest(ctx, state.FileID, rawText)
	if err != nil {
		return types.StageOutput{}, err
	}

	out := &types.IngestOutput{
		FileID:      state.FileID,
		ChunksNew:   len(stored) - before,
		ChunksTotal: len(stored),
	}
	if out.ChunksNew < 0 {
		out.ChunksNew = 0
	}
	logging.Agents("[Ingest] file=%s chunks_total=%d chunks_new=%d", state.FileID, out.ChunksTotal, out.ChunksNew)
	return types.StageOutput{Ingest: out}, nil
}
