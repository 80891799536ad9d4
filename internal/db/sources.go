package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/composer/internal/models"
	"github.com/lib/pq"
)

// WorkspaceOwnedBy reports whether the workspace exists and belongs to userID.
func (db *DB) WorkspaceOwnedBy(ctx context.Context, workspaceID, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM workspaces WHERE id = $1 AND user_id = $2)
	`, workspaceID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workspace: %w", err)
	}
	return exists, nil
}

// ExistingClipIDs returns which of ids are clips cut from the workspace's videos.
func (db *DB) ExistingClipIDs(ctx context.Context, workspaceID int64, ids []int64) ([]int64, error) {
	return db.queryIDs(ctx, `
		SELECT vc.id
		FROM video_clips vc
		JOIN raw_videos rv ON rv.id = vc.raw_video_id
		WHERE rv.workspace_id = $1 AND vc.id = ANY($2)
	`, workspaceID, ids)
}

// ExistingVoiceoverIDs returns which of ids are voiceovers of the workspace's scripts.
func (db *DB) ExistingVoiceoverIDs(ctx context.Context, workspaceID int64, ids []int64) ([]int64, error) {
	return db.queryIDs(ctx, `
		SELECT v.id
		FROM voiceovers v
		JOIN scripts s ON s.id = v.script_id
		WHERE s.workspace_id = $1 AND v.id = ANY($2)
	`, workspaceID, ids)
}

func (db *DB) queryIDs(ctx context.Context, query string, workspaceID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, query, workspaceID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to look up ids: %w", err)
	}
	defer rows.Close()

	var found []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

// GetCompositionSources resolves the clip, voiceover and script rows a composition
// refers to. Body clips keep the composition's order; a repeated id yields the
// clip twice.
func (db *DB) GetCompositionSources(ctx context.Context, comp *models.Composition) (*models.CompositionSources, error) {
	sources := &models.CompositionSources{}

	if comp.HookClipID != nil {
		clip, err := db.getClip(ctx, *comp.HookClipID)
		if err != nil {
			return nil, fmt.Errorf("hook clip: %w", err)
		}
		sources.Hook = clip
	}

	if len(comp.BodyClipIDs) > 0 {
		body, err := db.getClips(ctx, comp.BodyClipIDs)
		if err != nil {
			return nil, fmt.Errorf("body clips: %w", err)
		}
		sources.Body = body
	}

	if comp.CatClipID != nil {
		clip, err := db.getClip(ctx, *comp.CatClipID)
		if err != nil {
			return nil, fmt.Errorf("cat clip: %w", err)
		}
		sources.Cat = clip
	}

	if comp.VoiceoverID != nil {
		var (
			vo       models.MediaFile
			duration sql.NullFloat64
			script   sql.NullString
		)
		err := db.QueryRowContext(ctx, `
			SELECT v.id, v.file_path, v.duration, s.content
			FROM voiceovers v
			LEFT JOIN scripts s ON s.id = v.script_id
			WHERE v.id = $1
		`, *comp.VoiceoverID).Scan(&vo.ID, &vo.FilePath, &duration, &script)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("voiceover %d: %w", *comp.VoiceoverID, models.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get voiceover: %w", err)
		}
		vo.Duration = duration.Float64
		sources.Voiceover = &vo
		sources.ScriptText = script.String
	}

	return sources, nil
}

func (db *DB) getClip(ctx context.Context, id int64) (*models.MediaFile, error) {
	clip := &models.MediaFile{}
	err := db.QueryRowContext(ctx, `
		SELECT id, file_path, duration FROM video_clips WHERE id = $1
	`, id).Scan(&clip.ID, &clip.FilePath, &clip.Duration)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("clip %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}
	return clip, nil
}

func (db *DB) getClips(ctx context.Context, ids []int64) ([]models.MediaFile, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, file_path, duration FROM video_clips WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]models.MediaFile, len(ids))
	for rows.Next() {
		var clip models.MediaFile
		if err := rows.Scan(&clip.ID, &clip.FilePath, &clip.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		byID[clip.ID] = clip
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read clips: %w", err)
	}

	clips := make([]models.MediaFile, 0, len(ids))
	for _, id := range ids {
		clip, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("clip %d: %w", id, models.ErrNotFound)
		}
		clips = append(clips, clip)
	}
	return clips, nil
}
