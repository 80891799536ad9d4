package worker

import (
	"context"
	"time"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/pipeline"
	"github.com/bobarin/composer/internal/queue"
	"github.com/google/uuid"
)

// Store is the persistence the manager needs. *db.DB implements it.
type Store interface {
	WorkspaceOwnedBy(ctx context.Context, workspaceID, userID int64) (bool, error)
	ExistingClipIDs(ctx context.Context, workspaceID int64, ids []int64) ([]int64, error)
	ExistingVoiceoverIDs(ctx context.Context, workspaceID int64, ids []int64) ([]int64, error)

	CreateJobWithCompositions(ctx context.Context, job *models.Job, comps []*models.Composition) error
	GetJobForUser(ctx context.Context, jobID uuid.UUID, userID int64) (*models.Job, error)
	GetJobCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error)
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) error

	GetComposition(ctx context.Context, id int64) (*models.Composition, error)
	GetCompositionForUser(ctx context.Context, id, userID int64) (*models.Composition, error)
	GetCompositionSources(ctx context.Context, comp *models.Composition) (*models.CompositionSources, error)
	ListWorkspaceCompositions(ctx context.Context, workspaceID int64) ([]models.Composition, error)
	GetWorkspaceCompositions(ctx context.Context, workspaceID int64, ids []int64) ([]models.Composition, error)

	MarkCompositionProcessing(ctx context.Context, id int64) error
	CompleteComposition(ctx context.Context, id int64, filePath string, duration float64) error
	FailComposition(ctx context.Context, id int64, message string) error
	DeleteComposition(ctx context.Context, id int64) error
}

// Renderer executes one pipeline run. *pipeline.Pipeline implements it.
type Renderer interface {
	Execute(ctx context.Context, run pipeline.Run) (*pipeline.Result, error)
}

// TaskQueue hands composition runs between processes. *queue.Queue implements it.
type TaskQueue interface {
	EnqueueComposition(ctx context.Context, jobID uuid.UUID, compositionID int64) error
	DequeueComposition(ctx context.Context, timeout time.Duration) (*queue.Task, error)
}

// Publisher copies finished files to remote storage. *storage.Storage implements it.
type Publisher interface {
	UploadFile(ctx context.Context, storagePath, localPath, contentType string) error
	Delete(ctx context.Context, storagePaths ...string) error
	GetPublicURL(storagePath string) string
	CompositionPath(workspaceID int64, fileName string) string
}
