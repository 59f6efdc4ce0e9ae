package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"datanerd/internal/embedding"
	"datanerd/internal/logging"
	"datanerd/internal/store"
	"datanerd/internal/types"
)

// embedConcurrency bounds parallel embedding calls during ingest.
const embedConcurrency = 4

// ContextStore chunks, embeds, stores, and re-retrieves document context.
// It is the only shared mutable resource across concurrent runs; all
// mutation goes through Ingest, which converges concurrent ingests of the
// same fragment via the content hash.
type ContextStore struct {
	store   *store.LocalStore
	engine  embedding.Engine
	chunker *Chunker
}

// Config holds context store parameters.
type Config struct {
	ChunkTokens  int
	ChunkOverlap float64
}

// NewContextStore creates a context store over the given SQLite store and
// embedding engine.
func NewContextStore(ls *store.LocalStore, eng embedding.Engine, cfg Config) (*ContextStore, error) {
	if ls == nil {
		return nil, fmt.Errorf("store is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("embedding engine is required")
	}

	chunker, err := NewChunker(cfg.ChunkTokens, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	return &ContextStore{
		store:   ls,
		engine:  eng,
		chunker: chunker,
	}, nil
}

// Ingest splits rawText into overlapping fragments, embeds the ones not
// already stored, and upserts them keyed by (fileID, contentHash).
//
// Idempotent: re-ingesting identical content is a no-op that returns the
// existing chunks. Safe to call from a retried agent.
//
// Error semantics: malformed/empty input is fatal (not retryable);
// embedding-service unavailability is transient (retryable upstream).
func (cs *ContextStore) Ingest(ctx context.Context, fileID, rawText string) ([]types.ContextChunk, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Ingest")
	defer timer.Stop()

	if fileID == "" {
		return nil, types.Fatal(types.Validationf("fileID is required"))
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, types.Fatal(types.Validationf("empty input for file %s", fileID))
	}

	fragments := cs.chunker.Split(rawText)
	if len(fragments) == 0 {
		return nil, types.Fatal(types.Validationf("no chunkable content for file %s", fileID))
	}
	logging.Retrieval("Ingesting file %s: %d fragments", fileID, len(fragments))

	// Partition into fragments that need embedding vs already-stored ones.
	var fresh []Fragment
	for _, f := range fragments {
		exists, err := cs.store.HasChunk(fileID, f.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("dedupe check failed: %w", err)
		}
		if !exists {
			fresh = append(fresh, f)
		}
	}
	logging.RetrievalDebug("File %s: %d fresh fragments, %d already stored",
		fileID, len(fresh), len(fragments)-len(fresh))

	if len(fresh) > 0 {
		vectors := make([][]float32, len(fresh))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(embedConcurrency)

		for i := range fresh {
			i := i
			g.Go(func() error {
				vec, err := cs.engine.Embed(gctx, fresh[i].Text)
				if err != nil {
					return types.Transient(fmt.Errorf("embedding fragment %d: %w", fresh[i].Seq, err))
				}
				vectors[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		dim := cs.engine.Dimensions()
		for i, f := range fresh {
			if dim > 0 && len(vectors[i]) != dim {
				return nil, types.Fatalf("embedding dimension mismatch for fragment %d: got %d, want %d",
					f.Seq, len(vectors[i]), dim)
			}
			chunk := types.ContextChunk{
				FileID:      fileID,
				ContentHash: f.ContentHash,
				Seq:         f.Seq,
				StartOffset: f.StartOffset,
				EndOffset:   f.EndOffset,
				Text:        f.Text,
				Embedding:   vectors[i],
			}
			if _, err := cs.store.UpsertChunk(chunk); err != nil {
				return nil, fmt.Errorf("chunk upsert failed: %w", err)
			}
		}
	}

	chunks, err := cs.store.ChunksByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored chunks: %w", err)
	}
	return chunks, nil
}

// Query embeds queryText with the same engine used at ingest time and
// returns the top-k chunks for fileID ordered by descending cosine
// similarity.
func (cs *ContextStore) Query(ctx context.Context, fileID, queryText string, k int) ([]types.ContextChunk, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Query")
	defer timer.Stop()

	if fileID == "" {
		return nil, types.Validationf("fileID is required")
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, types.Validationf("empty query text")
	}
	if k <= 0 {
		k = 6
	}

	queryVec, err := cs.engine.Embed(ctx, queryText)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("embedding query: %w", err))
	}

	chunks, err := cs.store.ChunksByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	corpus := make([][]float32, len(chunks))
	for i, c := range chunks {
		corpus[i] = c.Embedding
	}

	results, err := embedding.FindTopK(queryVec, corpus, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	out := make([]types.ContextChunk, 0, len(results))
	for _, r := range results {
		c := chunks[r.Index]
		c.Similarity = r.Similarity
		out = append(out, c)
	}
	logging.RetrievalDebug("Query on file %s returned %d/%d chunks (top=%.4f)",
		fileID, len(out), len(chunks), topSimilarity(out))
	return out, nil
}

// Engine exposes the configured embedding engine (for diagnostics).
func (cs *ContextStore) Engine() embedding.Engine {
	return cs.engine
}

func topSimilarity(chunks []types.ContextChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	return chunks[0].Similarity
}
