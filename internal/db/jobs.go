package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/composer/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateJobWithCompositions inserts a job and all of its compositions in one
// transaction. IDs and timestamps are filled in on success.
func (db *DB) CreateJobWithCompositions(ctx context.Context, job *models.Job, comps []*models.Composition) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO composition_jobs (id, workspace_id, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, job.ID, job.WorkspaceID, job.Status).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO video_compositions (
			workspace_id, job_id, name, hook_clip_id, body_clip_ids, cat_clip_id,
			voiceover_id, logo_overlay_path, logo_position, logo_opacity, logo_size,
			enable_captions, caption_style, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare composition insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range comps {
		bodyIDs := c.BodyClipIDs
		if bodyIDs == nil {
			bodyIDs = []int64{}
		}
		err := stmt.QueryRowContext(ctx,
			c.WorkspaceID, job.ID, c.Name, c.HookClipID, pq.Array(bodyIDs), c.CatClipID,
			c.VoiceoverID, c.LogoOverlayPath, c.LogoPosition, c.LogoOpacity, c.LogoSize,
			c.EnableCaptions, c.CaptionStyle, c.Status,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert composition %q: %w", c.Name, err)
		}
		c.JobID = job.ID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

// GetJobForUser returns a job whose workspace belongs to userID.
func (db *DB) GetJobForUser(ctx context.Context, jobID uuid.UUID, userID int64) (*models.Job, error) {
	query := `
		SELECT j.id, j.workspace_id, j.status, j.created_at, j.updated_at
		FROM composition_jobs j
		JOIN workspaces w ON w.id = j.workspace_id
		WHERE j.id = $1 AND w.user_id = $2
	`

	job := &models.Job{}
	err := db.QueryRowContext(ctx, query, jobID, userID).Scan(
		&job.ID, &job.WorkspaceID, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// GetJobCounts tallies the job's compositions by status.
func (db *DB) GetJobCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT status FROM video_compositions WHERE job_id = $1
	`, jobID)
	if err != nil {
		return models.JobCounts{}, fmt.Errorf("failed to query job compositions: %w", err)
	}
	defer rows.Close()

	var statuses []models.CompositionStatus
	for rows.Next() {
		var s models.CompositionStatus
		if err := rows.Scan(&s); err != nil {
			return models.JobCounts{}, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return models.JobCounts{}, fmt.Errorf("failed to read statuses: %w", err)
	}

	return models.CountStatuses(statuses), nil
}

// UpdateJobStatus caches the derived job status. Writing the same status twice
// leaves updated_at untouched.
func (db *DB) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) error {
	_, err := db.ExecContext(ctx, `
		UPDATE composition_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status <> $1
	`, status, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}
