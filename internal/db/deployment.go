package db

import (
	"context"

	"bothost/internal/models"
)

// RecordDeployment inserts d and sets its ID.
func (s *Store) RecordDeployment(ctx context.Context, d *models.Deployment) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO deployment (bot_id, revision, language, startup_file, user_id, file_count, success, phase, deployed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.BotID, d.Revision, d.Language, d.StartupFile, d.UserID, d.FileCount, d.Success, d.Phase, toMillis(d.DeployedAt),
	)
	if err != nil {
		return err
	}
	d.ID, _ = result.LastInsertId()
	return nil
}

// ListDeployments returns the most recent deployments of a bot, newest first.
func (s *Store) ListDeployments(ctx context.Context, botID string, limit int) ([]models.Deployment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bot_id, revision, language, startup_file, user_id, file_count, success, phase, deployed_at
		 FROM deployment WHERE bot_id = ? ORDER BY id DESC LIMIT ?`,
		botID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Deployment{}
	for rows.Next() {
		var (
			d          models.Deployment
			deployedAt int64
		)
		if err := rows.Scan(&d.ID, &d.BotID, &d.Revision, &d.Language, &d.StartupFile, &d.UserID,
			&d.FileCount, &d.Success, &d.Phase, &deployedAt); err != nil {
			return nil, err
		}
		d.DeployedAt = fromMillis(deployedAt)
		list = append(list, d)
	}
	return list, rows.Err()
}
