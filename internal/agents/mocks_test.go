package agents

import (
	"context"

	"datanerd/internal/types"
)

// mockLLM returns canned responses, optionally per-call.
type mockLLM struct {
	response  string
	err       error
	responses []string
	calls     int
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		if len(m.responses) > 1 {
			m.responses = m.responses[1:]
		}
		return resp, nil
	}
	return m.response, nil
}

type mockRetriever struct {
	chunks    []types.ContextChunk
	ingestErr error
	queryErr  error
}

func (m *mockRetriever) Ingest(ctx context.Context, fileID, rawText string) ([]types.ContextChunk, error) {
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	return m.chunks, nil
}

func (m *mockRetriever) Query(ctx context.Context, fileID, queryText string, k int) ([]types.ContextChunk, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if k < len(m.chunks) {
		return m.chunks[:k], nil
	}
	return m.chunks, nil
}

type mockRawSource struct {
	text string
	err  error
}

func (m *mockRawSource) ReadRaw(ctx context.Context, fileID string) (string, error) {
	return m.text, m.err
}

type mockFiles struct {
	profile *types.DataProfile
	err     error
}

func (m *mockFiles) ReadProfile(ctx context.Context, fileID string) (*types.DataProfile, error) {
	return m.profile, m.err
}

type mockCounter struct{ n int }

func (m *mockCounter) ChunkCount(fileID string) (int, error) { return m.n, nil }

func sampleProfile(rows int) *types.DataProfile {
	return &types.DataProfile{
		FileID:   "sales.csv",
		RowCount: rows,
		Columns: []types.Column{
			{Name: "month", Kind: "date"},
			{Name: "revenue", Kind: "numeric"},
		},
		SampleRows: [][]string{{"2024-01", "1200"}, {"2024-02", "1350"}},
	}
}
