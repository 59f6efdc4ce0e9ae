package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"datanerd/internal/types"
)

// SaveRun persists a run snapshot and its stage results in one transaction.
// Stage results are written by sequence number; existing rows are replaced so
// repeated saves of a growing run stay consistent.
func (s *LocalStore) SaveRun(run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run == nil || run.ID == "" {
		return fmt.Errorf("run requires an ID")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, file_id, question, status, current_stage, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   current_stage = excluded.current_stage,
		   error = excluded.error,
		   updated_at = excluded.updated_at`,
		run.ID, run.FileID, run.Question, string(run.Status), string(run.CurrentStage),
		run.Error, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for seq, result := range run.Results {
		outputJSON, err := json.Marshal(result.Output)
		if err != nil {
			return fmt.Errorf("failed to serialize stage output: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO stage_results (run_id, seq, stage, status, started_at, finished_at, attempts, output, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, seq) DO UPDATE SET
			   stage = excluded.stage,
			   status = excluded.status,
			   started_at = excluded.started_at,
			   finished_at = excluded.finished_at,
			   attempts = excluded.attempts,
			   output = excluded.output,
			   error = excluded.error`,
			run.ID, seq, string(result.Stage), string(result.Status),
			result.StartedAt, result.FinishedAt, result.Attempts, string(outputJSON), result.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to save stage result %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a run and its ordered stage results.
// Returns (nil, nil) when the run does not exist.
func (s *LocalStore) GetRun(runID string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run := &types.Run{}
	var status, stage string
	err := s.db.QueryRow(
		`SELECT id, file_id, question, status, current_stage, error, created_at, updated_at
		 FROM runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.FileID, &run.Question, &status, &stage, &run.Error,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	run.Status = types.RunStatus(status)
	run.CurrentStage = types.Stage(stage)

	rows, err := s.db.Query(
		`SELECT stage, status, started_at, finished_at, attempts, output, error
		 FROM stage_results WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r types.StageResult
		var stg, st, outputJSON string
		if err := rows.Scan(&stg, &st, &r.StartedAt, &r.FinishedAt, &r.Attempts, &outputJSON, &r.Error); err != nil {
			return nil, err
		}
		r.Stage = types.Stage(stg)
		r.Status = types.StageStatus(st)
		if outputJSON != "" {
			if err := json.Unmarshal([]byte(outputJSON), &r.Output); err != nil {
				return nil, fmt.Errorf("failed to decode stage output: %w", err)
			}
		}
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns run snapshots ordered by creation time, newest first.
// Stage results are not loaded; use GetRun for the full record.
func (s *LocalStore) ListRuns(limit int) ([]types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, file_id, question, status, current_stage, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		var run types.Run
		var status, stage string
		if err := rows.Scan(&run.ID, &run.FileID, &run.Question, &status, &stage,
			&run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.Status = types.RunStatus(status)
		run.CurrentStage = types.Stage(stage)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun evicts a run and its stage results.
func (s *LocalStore) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM stage_results WHERE run_id = ?", runID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", runID); err != nil {
		return err
	}
	return tx.Commit()
}
