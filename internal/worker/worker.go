package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/pipeline"
	"github.com/google/uuid"
)

const (
	terminalWriteAttempts = 3
	dequeueTimeout        = 5 * time.Second
)

// dispatch schedules one run. With a queue the task is published for Start to
// pick up; otherwise, or if publishing fails, the run starts in this process.
func (m *Manager) dispatch(jobID uuid.UUID, compositionID int64) {
	if m.queue != nil {
		err := m.queue.EnqueueComposition(m.runCtx, jobID, compositionID)
		if err == nil {
			return
		}
		log.Printf("[Worker] Failed to enqueue composition %d, running inline: %v", compositionID, err)
	}
	m.runAsync(compositionID)
}

func (m *Manager) runAsync(compositionID int64) {
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		m.processComposition(m.runCtx, compositionID)
	}()
}

// Start consumes queued compositions until ctx is done. Without a queue it
// returns immediately since runs are dispatched inline.
func (m *Manager) Start(ctx context.Context) {
	if m.queue == nil {
		log.Println("[Worker] No queue configured, compositions run inline")
		return
	}

	log.Printf("[Worker] Consuming compositions (max %d concurrent encodes)", m.limiter.Capacity())
	for {
		select {
		case <-ctx.Done():
			log.Println("[Worker] Queue consumer shutting down...")
			return
		default:
		}

		task, err := m.queue.DequeueComposition(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[Worker] Error dequeuing composition: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue // No task available, retry
		}

		log.Printf("[Worker] Received composition %d (job %s)", task.CompositionID, task.JobID)
		m.runAsync(task.CompositionID)
	}
}

// processComposition renders one composition and records the terminal status.
// Only the encode holds a permit; transcription, publishing and status writes
// happen outside it. Failures never leave this composition.
func (m *Manager) processComposition(ctx context.Context, compositionID int64) {
	label := fmt.Sprintf("composition %d", compositionID)

	if err := m.render(ctx, compositionID); err != nil {
		log.Printf("[Worker] %s failed: %v", label, err)
		m.recordFailure(compositionID, err)
	}
}

func (m *Manager) render(ctx context.Context, compositionID int64) error {
	comp, err := m.store.GetComposition(ctx, compositionID)
	if errors.Is(err, models.ErrNotFound) {
		log.Printf("[Worker] composition %d is gone, skipping", compositionID)
		return nil
	}
	if err != nil {
		return err
	}
	sources, err := m.store.GetCompositionSources(ctx, comp)
	if err != nil {
		return fmt.Errorf("failed to resolve sources: %w", err)
	}

	relPath := filepath.Join(m.compositionsDir, outputFileName(compositionID))
	outputPath, err := m.resolveMedia(relPath)
	if err != nil {
		return err
	}

	run, err := m.buildRun(ctx, comp, sources, outputPath)
	if err != nil {
		return err
	}

	result, err := m.encode(ctx, compositionID, run)
	if err != nil || result == nil {
		return err
	}

	m.publish(ctx, comp, relPath, outputPath)

	err = m.withRetry(ctx, func(ctx context.Context) error {
		return m.store.CompleteComposition(ctx, compositionID, relPath, result.Duration)
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		// deleted while rendering
		log.Printf("[Worker] composition %d was removed during its run, discarding output", compositionID)
		m.removeOutput(ctx, comp.WorkspaceID, &relPath)
	case err != nil:
		log.Printf("[Worker] Failed to record completion of composition %d (output kept at %s): %v", compositionID, relPath, err)
	default:
		log.Printf("[Worker] composition %d completed (%.2fs, %s)", compositionID, result.Duration, relPath)
		m.refreshJobStatus(ctx, comp.JobID)
	}
	return nil
}

// encode marks the composition processing and runs the pipeline while holding an
// encode permit. A nil result with a nil error means the composition is gone or
// was already picked up.
func (m *Manager) encode(ctx context.Context, compositionID int64, run pipeline.Run) (*pipeline.Result, error) {
	var result *pipeline.Result
	err := m.limiter.Do(ctx, run.Label, func(ctx context.Context) error {
		if err := m.store.MarkCompositionProcessing(ctx, compositionID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				log.Printf("[Worker] %s is gone or no longer pending, skipping", run.Label)
				return nil
			}
			return fmt.Errorf("failed to mark processing: %w", err)
		}

		res, err := m.renderer.Execute(ctx, run)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// buildRun resolves stored paths and overlay settings into a pipeline run.
func (m *Manager) buildRun(ctx context.Context, comp *models.Composition, src *models.CompositionSources, outputPath string) (pipeline.Run, error) {
	run := pipeline.Run{
		Label:      fmt.Sprintf("composition %d", comp.ID),
		OutputPath: outputPath,
	}

	addSource := func(f *models.MediaFile) error {
		p, err := m.resolveMedia(f.FilePath)
		if err != nil {
			return err
		}
		run.Sources = append(run.Sources, pipeline.Source{Path: p, Duration: f.Duration})
		return nil
	}

	if src.Hook != nil {
		if err := addSource(src.Hook); err != nil {
			return run, err
		}
	}
	for i := range src.Body {
		if err := addSource(&src.Body[i]); err != nil {
			return run, err
		}
	}
	if src.Cat != nil {
		if err := addSource(src.Cat); err != nil {
			return run, err
		}
	}

	if src.Voiceover != nil {
		p, err := m.resolveMedia(src.Voiceover.FilePath)
		if err != nil {
			return run, err
		}
		run.Voiceover = &pipeline.Source{Path: p, Duration: src.Voiceover.Duration}
	}

	if comp.LogoOverlayPath != nil && *comp.LogoOverlayPath != "" {
		p, err := m.resolveMedia(*comp.LogoOverlayPath)
		if err != nil {
			return run, err
		}
		run.Logo = &pipeline.LogoOverlay{
			Path:     p,
			Position: comp.LogoPosition,
			Opacity:  comp.LogoOpacity,
			Size:     comp.LogoSize,
		}
	}

	if comp.EnableCaptions {
		run.Captions = &pipeline.Captions{
			Text:  m.captionText(ctx, src, run.Voiceover),
			Style: comp.CaptionStyle,
		}
	}

	return run, nil
}

// captionText prefers the voiceover's script, then a transcription of the voiceover.
func (m *Manager) captionText(ctx context.Context, src *models.CompositionSources, voiceover *pipeline.Source) string {
	if src.ScriptText != "" || m.transcriber == nil || voiceover == nil {
		return src.ScriptText
	}

	text, err := m.transcriber.Transcribe(ctx, voiceover.Path)
	if err != nil {
		log.Printf("[Worker] Transcription failed, using default caption: %v", err)
		return ""
	}
	return text
}

// publish uploads the finished file when remote storage is configured. The local
// file stays authoritative, so failures are only logged.
func (m *Manager) publish(ctx context.Context, comp *models.Composition, relPath, localPath string) {
	if m.publisher == nil {
		return
	}

	key := m.publisher.CompositionPath(comp.WorkspaceID, relPath)
	err := m.uploadWithLimit(ctx, fmt.Sprintf("composition %d", comp.ID), func() error {
		return m.publisher.UploadFile(ctx, key, localPath, "video/mp4")
	})
	if err != nil {
		log.Printf("[Worker] Failed to publish composition %d: %v", comp.ID, err)
	}
}

// uploadWithLimit wraps an upload call with a semaphore to prevent storage congestion.
func (m *Manager) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	log.Printf("[Upload] %s waiting for upload slot...", label)
	select {
	case m.uploadSem <- struct{}{}:
		// Acquired slot
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-m.uploadSem }()

	log.Printf("[Upload] %s uploading...", label)
	return fn()
}

// recordFailure stores the error on the composition and refreshes its job.
func (m *Manager) recordFailure(compositionID int64, cause error) {
	ctx := m.runCtx

	err := m.withRetry(ctx, func(ctx context.Context) error {
		return m.store.FailComposition(ctx, compositionID, cause.Error())
	})
	if errors.Is(err, models.ErrNotFound) {
		log.Printf("[Worker] composition %d is gone or already terminal, failure not recorded", compositionID)
		return
	}
	if err != nil {
		log.Printf("[Worker] Failed to record failure of composition %d: %v", compositionID, err)
		return
	}

	if comp, err := m.store.GetComposition(ctx, compositionID); err == nil {
		m.refreshJobStatus(ctx, comp.JobID)
	}
}

// refreshJobStatus recomputes and caches a job's status after a terminal write.
func (m *Manager) refreshJobStatus(ctx context.Context, jobID uuid.UUID) {
	counts, err := m.store.GetJobCounts(ctx, jobID)
	if err != nil {
		log.Printf("[Worker] Failed to count compositions of job %s: %v", jobID, err)
		return
	}
	if err := m.store.UpdateJobStatus(ctx, jobID, models.AggregateJobStatus(counts)); err != nil {
		log.Printf("[Worker] Failed to cache status of job %s: %v", jobID, err)
	}
}

// withRetry runs a status write up to terminalWriteAttempts times with
// exponential backoff. ErrNotFound is final and returned at once.
func (m *Manager) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < terminalWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryBase * time.Duration(1<<(attempt-1))):
			}
		}

		err = fn(ctx)
		if err == nil || errors.Is(err, models.ErrNotFound) {
			return err
		}
		log.Printf("[Worker] Status write attempt %d/%d failed: %v", attempt+1, terminalWriteAttempts, err)
	}
	return err
}

func outputFileName(compositionID int64) string {
	return fmt.Sprintf("composition_%d_%d_%s.mp4", compositionID, time.Now().UnixMilli(), uuid.NewString()[:8])
}

