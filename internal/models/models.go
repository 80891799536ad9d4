package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a record does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("not found")

// Enums
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusPartial    JobStatus = "partial" // every composition finished, some failed
)

type CompositionStatus string

const (
	CompositionStatusPending    CompositionStatus = "pending"
	CompositionStatusProcessing CompositionStatus = "processing"
	CompositionStatusCompleted  CompositionStatus = "completed"
	CompositionStatusFailed     CompositionStatus = "failed"
)

// IsTerminal reports whether a composition can no longer change status.
func (s CompositionStatus) IsTerminal() bool {
	return s == CompositionStatusCompleted || s == CompositionStatusFailed
}

type LogoPosition string

const (
	LogoTopLeft     LogoPosition = "top-left"
	LogoTopRight    LogoPosition = "top-right"
	LogoBottomLeft  LogoPosition = "bottom-left"
	LogoBottomRight LogoPosition = "bottom-right"
	LogoCenter      LogoPosition = "center"
)

type LogoSize string

const (
	LogoSizeSmall  LogoSize = "small"
	LogoSizeMedium LogoSize = "medium"
	LogoSizeLarge  LogoSize = "large"
)

// Defaults applied to combinations that leave overlay settings unset.
const (
	DefaultLogoPosition = LogoBottomRight
	DefaultLogoOpacity  = 0.8
	DefaultLogoSize     = LogoSizeMedium
	DefaultCaptionStyle = "default"
)

// Models

type Job struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Status      JobStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Composition struct {
	ID              int64             `json:"id"`
	JobID           uuid.UUID         `json:"job_id"`
	WorkspaceID     int64             `json:"workspace_id"`
	Name            string            `json:"name"`
	HookClipID      *int64            `json:"hook_clip_id,omitempty"`
	BodyClipIDs     []int64           `json:"body_clip_ids"`
	CatClipID       *int64            `json:"cat_clip_id,omitempty"`
	VoiceoverID     *int64            `json:"voiceover_id,omitempty"`
	LogoOverlayPath *string           `json:"logo_overlay_path,omitempty"`
	LogoPosition    LogoPosition      `json:"logo_position"`
	LogoOpacity     float64           `json:"logo_opacity"`
	LogoSize        LogoSize          `json:"logo_size"`
	EnableCaptions  bool              `json:"enable_captions"`
	CaptionStyle    string            `json:"caption_style"`
	Status          CompositionStatus `json:"status"`
	FilePath        *string           `json:"file_path,omitempty"`
	Duration        *float64          `json:"duration,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasVideoSource reports whether at least one of hook, body or cat is selected.
func (c *Composition) HasVideoSource() bool {
	return c.HookClipID != nil || len(c.BodyClipIDs) > 0 || c.CatClipID != nil
}

// MediaFile is a read-only clip or voiceover as seen by the pipeline.
type MediaFile struct {
	ID       int64
	FilePath string
	Duration float64 // seconds, from stored metadata; 0 when unknown
}

// CompositionSources is everything a pipeline run needs to read from the clip,
// voiceover and script tables for one composition.
type CompositionSources struct {
	Hook       *MediaFile
	Body       []MediaFile
	Cat        *MediaFile
	Voiceover  *MediaFile
	ScriptText string
}

// JobCounts is the per-status tally of a job's compositions.
type JobCounts struct {
	Total      int `json:"total_count"`
	Pending    int `json:"pending_count"`
	Processing int `json:"processing_count"`
	Completed  int `json:"completed_count"`
	Failed     int `json:"failed_count"`
}

// CountStatuses tallies composition statuses.
func CountStatuses(statuses []CompositionStatus) JobCounts {
	counts := JobCounts{Total: len(statuses)}
	for _, s := range statuses {
		switch s {
		case CompositionStatusPending:
			counts.Pending++
		case CompositionStatusProcessing:
			counts.Processing++
		case CompositionStatusCompleted:
			counts.Completed++
		case CompositionStatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// AggregateJobStatus derives a job's status from its compositions.
//
// Precedence, first match wins:
//   - no compositions, or all pending        -> pending
//   - all completed                          -> completed
//   - all failed                             -> failed
//   - any pending or processing remaining    -> processing
//   - all terminal, mix of completed/failed  -> partial
func AggregateJobStatus(counts JobCounts) JobStatus {
	switch {
	case counts.Total == 0, counts.Pending == counts.Total:
		return JobStatusPending
	case counts.Completed == counts.Total:
		return JobStatusCompleted
	case counts.Failed == counts.Total:
		return JobStatusFailed
	case counts.Pending > 0 || counts.Processing > 0:
		return JobStatusProcessing
	default:
		return JobStatusPartial
	}
}

// DTOs for API requests and responses

type CombinationRequest struct {
	HookClipID      *int64   `json:"hook_clip_id,omitempty" validate:"omitempty,gt=0"`
	BodyClipIDs     []int64  `json:"body_clip_ids" validate:"max=20,dive,gt=0"`
	CatClipID       *int64   `json:"cat_clip_id,omitempty" validate:"omitempty,gt=0"`
	VoiceoverID     *int64   `json:"voiceover_id,omitempty" validate:"omitempty,gt=0"`
	LogoOverlayPath *string  `json:"logo_overlay_path,omitempty" validate:"omitempty,min=1,max=512"`
	LogoPosition    string   `json:"logo_position,omitempty" validate:"omitempty,oneof=top-left top-right bottom-left bottom-right center"`
	LogoOpacity     *float64 `json:"logo_opacity,omitempty" validate:"omitempty,gte=0,lte=1"`
	LogoSize        string   `json:"logo_size,omitempty" validate:"omitempty,oneof=small medium large"`
	EnableCaptions  bool     `json:"enable_captions,omitempty"`
	CaptionStyle    string   `json:"caption_style,omitempty" validate:"omitempty,oneof=default modern bold minimal"`
}

// HasVideoSource reports whether the combination selects any video clip.
func (c *CombinationRequest) HasVideoSource() bool {
	return c.HookClipID != nil || len(c.BodyClipIDs) > 0 || c.CatClipID != nil
}

type CreateJobRequest struct {
	Name         string               `json:"name" validate:"required,max=200"`
	Combinations []CombinationRequest `json:"combinations" validate:"required,min=1,max=100,dive"`
}

type JobResponse struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Status      JobStatus `json:"status"`
	JobCounts
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CompositionResponse struct {
	Composition
	OutputURL *string `json:"output_url,omitempty"`
}

type BulkDeleteRequest struct {
	CompositionIDs []int64 `json:"compositionIds" validate:"required,min=1,dive,gt=0"`
}

type BulkDeleteResponse struct {
	DeletedCount int      `json:"deleted_count"`
	Errors       []string `json:"errors,omitempty"`
}
