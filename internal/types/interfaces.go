package types

import "context"

// LLMClient defines the minimal interface agents use to call a language model.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// FileAccessor supplies the already-parsed structured shape of an uploaded
// file. Implemented by the file-ingestion layer; the pipeline never touches
// raw bytes.
type FileAccessor interface {
	ReadProfile(ctx context.Context, fileID string) (*DataProfile, error)
}

// ContextRetriever is the similarity-query surface agents use to ground
// their output in source data.
type ContextRetriever interface {
	Ingest(ctx context.Context, fileID, rawText string) ([]ContextChunk, error)
	Query(ctx context.Context, fileID, queryText string, k int) ([]ContextChunk, error)
}
