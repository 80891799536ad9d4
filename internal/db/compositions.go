package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/composer/internal/models"
	"github.com/lib/pq"
)

const compositionColumns = `
	c.id, c.job_id, c.workspace_id, c.name, c.hook_clip_id, c.body_clip_ids,
	c.cat_clip_id, c.voiceover_id, c.logo_overlay_path, c.logo_position,
	c.logo_opacity, c.logo_size, c.enable_captions, c.caption_style, c.status,
	c.file_path, c.duration, c.error_message, c.created_at, c.updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComposition(row rowScanner) (*models.Composition, error) {
	c := &models.Composition{}
	err := row.Scan(
		&c.ID, &c.JobID, &c.WorkspaceID, &c.Name, &c.HookClipID, pq.Array(&c.BodyClipIDs),
		&c.CatClipID, &c.VoiceoverID, &c.LogoOverlayPath, &c.LogoPosition,
		&c.LogoOpacity, &c.LogoSize, &c.EnableCaptions, &c.CaptionStyle, &c.Status,
		&c.FilePath, &c.Duration, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) GetComposition(ctx context.Context, id int64) (*models.Composition, error) {
	query := `SELECT ` + compositionColumns + ` FROM video_compositions c WHERE c.id = $1`

	c, err := scanComposition(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get composition: %w", err)
	}
	return c, nil
}

// GetCompositionForUser returns a composition whose workspace belongs to userID.
func (db *DB) GetCompositionForUser(ctx context.Context, id, userID int64) (*models.Composition, error) {
	query := `
		SELECT ` + compositionColumns + `
		FROM video_compositions c
		JOIN workspaces w ON w.id = c.workspace_id
		WHERE c.id = $1 AND w.user_id = $2
	`

	c, err := scanComposition(db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get composition: %w", err)
	}
	return c, nil
}

// ListWorkspaceCompositions returns the workspace's compositions, newest first.
func (db *DB) ListWorkspaceCompositions(ctx context.Context, workspaceID int64) ([]models.Composition, error) {
	query := `
		SELECT ` + compositionColumns + `
		FROM video_compositions c
		WHERE c.workspace_id = $1
		ORDER BY c.created_at DESC, c.id DESC
	`
	return db.queryCompositions(ctx, query, workspaceID)
}

// GetWorkspaceCompositions returns the listed compositions that belong to the workspace.
func (db *DB) GetWorkspaceCompositions(ctx context.Context, workspaceID int64, ids []int64) ([]models.Composition, error) {
	query := `
		SELECT ` + compositionColumns + `
		FROM video_compositions c
		WHERE c.workspace_id = $1 AND c.id = ANY($2)
		ORDER BY c.id
	`
	return db.queryCompositions(ctx, query, workspaceID, pq.Array(ids))
}

func (db *DB) queryCompositions(ctx context.Context, query string, args ...any) ([]models.Composition, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query compositions: %w", err)
	}
	defer rows.Close()

	var comps []models.Composition
	for rows.Next() {
		c, err := scanComposition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composition: %w", err)
		}
		comps = append(comps, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read compositions: %w", err)
	}

	return comps, nil
}

// MarkCompositionProcessing moves a pending composition to processing.
// Returns ErrNotFound when the record is gone or no longer pending.
func (db *DB) MarkCompositionProcessing(ctx context.Context, id int64) error {
	return db.updateComposition(ctx, id, `
		UPDATE video_compositions
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
}

// CompleteComposition records a successful render. Terminal compositions are not touched.
func (db *DB) CompleteComposition(ctx context.Context, id int64, filePath string, duration float64) error {
	return db.updateComposition(ctx, id, `
		UPDATE video_compositions
		SET status = 'completed', file_path = $2, duration = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, filePath, duration)
}

// FailComposition records a failed render. Terminal compositions are not touched.
func (db *DB) FailComposition(ctx context.Context, id int64, message string) error {
	return db.updateComposition(ctx, id, `
		UPDATE video_compositions
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, message)
}

func (db *DB) DeleteComposition(ctx context.Context, id int64) error {
	return db.updateComposition(ctx, id, `DELETE FROM video_compositions WHERE id = $1`, id)
}

func (db *DB) updateComposition(ctx context.Context, id int64, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update composition %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update composition %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	return nil
}
