package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/composer/internal/limiter"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/services"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Options configures a Manager. Queue, Publisher and Transcriber are optional.
type Options struct {
	Store       Store
	Limiter     *limiter.Limiter
	Renderer    Renderer
	Queue       TaskQueue
	Publisher   Publisher
	Transcriber services.Transcriber

	MediaRoot       string // stored clip, voiceover and logo paths are relative to it
	CompositionsDir string // output directory, relative to MediaRoot
}

// Manager accepts composition jobs, dispatches one run per composition and
// answers status queries.
type Manager struct {
	store       Store
	limiter     *limiter.Limiter
	renderer    Renderer
	queue       TaskQueue
	publisher   Publisher
	transcriber services.Transcriber
	validate    *validator.Validate

	mediaRoot       string
	compositionsDir string

	runCtx    context.Context // detached from requests; runs are never cancelled mid-pipeline
	runs      sync.WaitGroup
	uploadSem chan struct{}
	retryBase time.Duration
}

func New(opts Options) *Manager {
	lim := opts.Limiter
	if lim == nil {
		lim = limiter.New(limiter.DefaultCapacity)
	}
	compositionsDir := opts.CompositionsDir
	if compositionsDir == "" {
		compositionsDir = "uploads/compositions"
	}

	return &Manager{
		store:           opts.Store,
		limiter:         lim,
		renderer:        opts.Renderer,
		queue:           opts.Queue,
		publisher:       opts.Publisher,
		transcriber:     opts.Transcriber,
		validate:        newValidator(),
		mediaRoot:       opts.MediaRoot,
		compositionsDir: compositionsDir,
		runCtx:          context.Background(),
		uploadSem:       make(chan struct{}, 2),
		retryBase:       200 * time.Millisecond,
	}
}

// CreateJob validates the request, persists the job with one pending composition
// per combination, and schedules the runs. It returns before any rendering starts.
func (m *Manager) CreateJob(ctx context.Context, userID, workspaceID int64, req *models.CreateJobRequest) (*models.JobResponse, error) {
	if err := m.validateStruct(req); err != nil {
		return nil, err
	}
	if err := m.validateCombinations(req.Combinations); err != nil {
		return nil, err
	}
	if err := m.checkWorkspace(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	if err := m.checkReferences(ctx, workspaceID, req.Combinations); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Status:      models.JobStatusPending,
	}

	name := strings.TrimSpace(req.Name)
	comps := make([]*models.Composition, len(req.Combinations))
	for i, combo := range req.Combinations {
		comps[i] = newComposition(workspaceID, fmt.Sprintf("%s - %d", name, i+1), combo)
	}

	if err := m.store.CreateJobWithCompositions(ctx, job, comps); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	log.Printf("[Worker] Created job %s with %d composition(s) in workspace %d", job.ID, len(comps), workspaceID)

	for _, c := range comps {
		m.dispatch(job.ID, c.ID)
	}

	n := len(comps)
	return &models.JobResponse{
		ID:          job.ID,
		WorkspaceID: workspaceID,
		Status:      models.JobStatusPending,
		JobCounts:   models.JobCounts{Total: n, Pending: n},
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}, nil
}

func newComposition(workspaceID int64, name string, combo models.CombinationRequest) *models.Composition {
	c := &models.Composition{
		WorkspaceID:    workspaceID,
		Name:           name,
		HookClipID:     combo.HookClipID,
		BodyClipIDs:    append([]int64{}, combo.BodyClipIDs...),
		CatClipID:      combo.CatClipID,
		VoiceoverID:    combo.VoiceoverID,
		LogoPosition:   models.DefaultLogoPosition,
		LogoOpacity:    models.DefaultLogoOpacity,
		LogoSize:       models.DefaultLogoSize,
		EnableCaptions: combo.EnableCaptions,
		CaptionStyle:   models.DefaultCaptionStyle,
		Status:         models.CompositionStatusPending,
	}

	if combo.LogoOverlayPath != nil && *combo.LogoOverlayPath != "" {
		c.LogoOverlayPath = strPtr(*combo.LogoOverlayPath)
	}
	if combo.LogoPosition != "" {
		c.LogoPosition = models.LogoPosition(combo.LogoPosition)
	}
	if combo.LogoOpacity != nil {
		c.LogoOpacity = *combo.LogoOpacity
	}
	if combo.LogoSize != "" {
		c.LogoSize = models.LogoSize(combo.LogoSize)
	}
	if combo.CaptionStyle != "" {
		c.CaptionStyle = combo.CaptionStyle
	}
	return c
}

func (m *Manager) checkWorkspace(ctx context.Context, userID, workspaceID int64) error {
	owned, err := m.store.WorkspaceOwnedBy(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("workspace %d: %w", workspaceID, ErrNotFound)
	}
	return nil
}

// checkReferences makes sure every clip and voiceover belongs to the workspace.
func (m *Manager) checkReferences(ctx context.Context, workspaceID int64, combos []models.CombinationRequest) error {
	var clipIDs, voiceoverIDs []int64
	for _, combo := range combos {
		if combo.HookClipID != nil {
			clipIDs = append(clipIDs, *combo.HookClipID)
		}
		clipIDs = append(clipIDs, combo.BodyClipIDs...)
		if combo.CatClipID != nil {
			clipIDs = append(clipIDs, *combo.CatClipID)
		}
		if combo.VoiceoverID != nil {
			voiceoverIDs = append(voiceoverIDs, *combo.VoiceoverID)
		}
	}

	found, err := m.store.ExistingClipIDs(ctx, workspaceID, clipIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(clipIDs, found); len(missing) > 0 {
		return fmt.Errorf("%w: unknown clip ids %v", ErrValidation, missing)
	}

	found, err = m.store.ExistingVoiceoverIDs(ctx, workspaceID, voiceoverIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(voiceoverIDs, found); len(missing) > 0 {
		return fmt.Errorf("%w: unknown voiceover ids %v", ErrValidation, missing)
	}
	return nil
}

// GetJobStatus recomputes the job's status from its compositions and caches it.
func (m *Manager) GetJobStatus(ctx context.Context, userID int64, jobID uuid.UUID) (*models.JobResponse, error) {
	job, err := m.store.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	counts, err := m.store.GetJobCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status := models.AggregateJobStatus(counts)
	if status != job.Status {
		if err := m.store.UpdateJobStatus(ctx, jobID, status); err != nil {
			log.Printf("[Worker] Failed to cache status of job %s: %v", jobID, err)
		}
	}

	return &models.JobResponse{
		ID:          job.ID,
		WorkspaceID: job.WorkspaceID,
		Status:      status,
		JobCounts:   counts,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}, nil
}

// ListCompositions returns the workspace's compositions, newest first.
func (m *Manager) ListCompositions(ctx context.Context, userID, workspaceID int64) ([]models.CompositionResponse, error) {
	if err := m.checkWorkspace(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	comps, err := m.store.ListWorkspaceCompositions(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	out := make([]models.CompositionResponse, len(comps))
	for i, c := range comps {
		out[i] = models.CompositionResponse{Composition: c}
		if m.publisher != nil && c.Status == models.CompositionStatusCompleted && c.FilePath != nil {
			out[i].OutputURL = strPtr(m.publisher.GetPublicURL(m.publisher.CompositionPath(c.WorkspaceID, *c.FilePath)))
		}
	}
	return out, nil
}

// DeleteComposition removes the record, then its output files best-effort.
// A run still in flight is not interrupted.
func (m *Manager) DeleteComposition(ctx context.Context, userID, compositionID int64) error {
	comp, err := m.store.GetCompositionForUser(ctx, compositionID, userID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteComposition(ctx, compositionID); err != nil {
		return err
	}
	log.Printf("[Worker] Deleted composition %d", compositionID)

	m.removeOutput(ctx, comp.WorkspaceID, comp.FilePath)
	return nil
}

// BulkDelete deletes the listed compositions of a workspace. Ids that do not
// belong to the workspace are ignored; per-record failures are reported, not fatal.
func (m *Manager) BulkDelete(ctx context.Context, userID, workspaceID int64, req *models.BulkDeleteRequest) (*models.BulkDeleteResponse, error) {
	if err := m.validateStruct(req); err != nil {
		return nil, err
	}
	if err := m.checkWorkspace(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	comps, err := m.store.GetWorkspaceCompositions(ctx, workspaceID, req.CompositionIDs)
	if err != nil {
		return nil, err
	}
	if len(comps) == 0 {
		return nil, fmt.Errorf("no compositions found to delete: %w", ErrNotFound)
	}

	resp := &models.BulkDeleteResponse{}
	for _, c := range comps {
		if err := m.store.DeleteComposition(ctx, c.ID); err != nil {
			log.Printf("[Worker] Failed to delete composition %d: %v", c.ID, err)
			resp.Errors = append(resp.Errors, fmt.Sprintf("failed to delete composition %d", c.ID))
			continue
		}
		m.removeOutput(ctx, c.WorkspaceID, c.FilePath)
		resp.DeletedCount++
	}

	log.Printf("[Worker] Bulk deleted %d/%d composition(s) in workspace %d", resp.DeletedCount, len(comps), workspaceID)
	return resp, nil
}

// GenerateCombinations expands clip and voiceover selections into combinations
// that can be submitted to CreateJob. Nothing is persisted.
func (m *Manager) GenerateCombinations(ctx context.Context, userID, workspaceID int64, req *models.GenerateCombinationsRequest) ([]models.CombinationRequest, error) {
	if err := m.validateStruct(req); err != nil {
		return nil, err
	}
	if err := m.checkWorkspace(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	return models.GenerateCombinations(*req), nil
}

// removeOutput deletes a composition's local file and published copy. Errors are logged.
func (m *Manager) removeOutput(ctx context.Context, workspaceID int64, filePath *string) {
	if filePath == nil || *filePath == "" {
		return
	}

	abs, err := m.resolveMedia(*filePath)
	if err != nil {
		log.Printf("[Worker] Not removing %s: %v", *filePath, err)
		return
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Worker] Failed to remove %s: %v", abs, err)
	}

	if m.publisher != nil {
		if err := m.publisher.Delete(ctx, m.publisher.CompositionPath(workspaceID, *filePath)); err != nil {
			log.Printf("[Worker] Failed to remove published copy of %s: %v", *filePath, err)
		}
	}
}

// Wait blocks until every run started by this process has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for composition runs: %w", ctx.Err())
	}
}

func strPtr(s string) *string {
	return &s
}
