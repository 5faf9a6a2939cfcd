package db

import (
	"context"
	"database/sql"
	"time"

	"bothost/internal/models"
)

// RecordRunStart inserts a new run.
func (s *Store) RecordRunStart(ctx context.Context, run *models.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_run (run_id, bot_id, pid, language, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.BotID, run.PID, run.Language, toMillis(run.StartedAt),
	)
	return err
}

// RecordRunExit closes a run.
func (s *Store) RecordRunExit(ctx context.Context, runID string, exitCode int, reason models.StopReason, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bot_run SET ended_at = ?, exit_code = ?, reason = ? WHERE run_id = ?`,
		toMillis(endedAt), exitCode, string(reason), runID,
	)
	return err
}

// ListRuns returns the most recent runs of a bot, newest first.
func (s *Store) ListRuns(ctx context.Context, botID string, limit int) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, bot_id, pid, language, started_at, ended_at, exit_code, reason
		 FROM bot_run WHERE bot_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		botID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var (
			r         models.Run
			startedAt int64
			endedAt   sql.NullInt64
			exitCode  sql.NullInt64
			reason    string
		)
		if err := rows.Scan(&r.ID, &r.BotID, &r.PID, &r.Language, &startedAt, &endedAt, &exitCode, &reason); err != nil {
			return nil, err
		}
		r.StartedAt = fromMillis(startedAt)
		if endedAt.Valid {
			t := fromMillis(endedAt.Int64)
			r.EndedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		r.Reason = models.StopReason(reason)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
