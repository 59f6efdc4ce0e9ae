package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// UpsertChunk stores a context chunk, de-duplicating on (file_id, content_hash).
// Returns true if a new row was inserted, false if an identical chunk already
// existed. Chunks are immutable once stored; concurrent ingests of the same
// fragment converge on one row.
func (s *LocalStore) UpsertChunk(chunk types.ContextChunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.FileID == "" || chunk.ContentHash == "" {
		return false, fmt.Errorf("chunk requires file_id and content_hash")
	}

	var embeddingJSON []byte
	if chunk.Embedding != nil {
		var err error
		embeddingJSON, err = json.Marshal(chunk.Embedding)
		if err != nil {
			return false, fmt.Errorf("failed to serialize embedding: %w", err)
		}
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO context_chunks
		 (file_id, content_hash, seq, start_offset, end_offset, content, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.FileID, chunk.ContentHash, chunk.Seq,
		chunk.StartOffset, chunk.EndOffset, chunk.Text, nullableString(embeddingJSON),
	)
	if err != nil {
		return false, fmt.Errorf("failed to store chunk: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("Stored chunk %s seq=%d for file %s", chunk.ContentHash[:12], chunk.Seq, chunk.FileID)
	}
	return n > 0, nil
}

// HasChunk reports whether a chunk with the given content hash exists for the file.
func (s *LocalStore) HasChunk(fileID, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM context_chunks WHERE file_id = ? AND content_hash = ?",
		fileID, contentHash,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ChunksByFile returns all chunks stored for a file, in ingestion order.
func (s *LocalStore) ChunksByFile(fileID string) ([]types.ContextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT file_id, content_hash, seq, start_offset, end_offset, content, embedding, created_at
		 FROM context_chunks WHERE file_id = ? ORDER BY seq ASC, id ASC`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.ContextChunk
	for rows.Next() {
		var c types.ContextChunk
		var embeddingJSON *string
		if err := rows.Scan(&c.FileID, &c.ContentHash, &c.Seq, &c.StartOffset, &c.EndOffset,
			&c.Text, &embeddingJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if embeddingJSON != nil && *embeddingJSON != "" {
			if err := json.Unmarshal([]byte(*embeddingJSON), &c.Embedding); err != nil {
				logging.Get(logging.CategoryStore).Warn("Skipping undecodable embedding for chunk %s: %v", c.ContentHash, err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkCount returns the number of chunks stored for a file.
func (s *LocalStore) ChunkCount(fileID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM context_chunks WHERE file_id = ?", fileID).Scan(&n)
	return n, err
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
