// Package pipeline renders one composition: concatenate, sync to the voiceover,
// then apply overlay effects. Each stage reads only the previous stage's output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/services"
)

// ErrNoSources is returned when a run has no hook, body or CTA clip.
var ErrNoSources = errors.New("no video clips provided")

// Source is a media file with its stored duration (0 when unknown).
type Source struct {
	Path     string
	Duration float64
}

type LogoOverlay struct {
	Path     string
	Position models.LogoPosition
	Opacity  float64
	Size     models.LogoSize
}

type Captions struct {
	Text  string
	Style string
}

// Fonts are the drawtext font files. Empty uses the engine's default font.
type Fonts struct {
	Regular string
	Bold    string
}

// Run is everything needed to render one composition.
type Run struct {
	Label      string
	Sources    []Source // hook, body..., cat
	Voiceover  *Source
	Logo       *LogoOverlay
	Captions   *Captions
	OutputPath string
}

type Result struct {
	OutputPath     string
	Duration       float64
	Reconciliation *services.Reconciliation // nil without a voiceover
}

type Pipeline struct {
	runner  *services.StageRunner
	tempDir string
	fonts   Fonts
}

func New(runner *services.StageRunner, tempDir string, fonts Fonts) *Pipeline {
	return &Pipeline{
		runner:  runner,
		tempDir: tempDir,
		fonts:   fonts,
	}
}

// Execute runs the stages in order inside a private working directory, which is
// removed before returning. On success the final file is at run.OutputPath; on
// failure nothing is written there.
func (p *Pipeline) Execute(ctx context.Context, run Run) (*Result, error) {
	if len(run.Sources) == 0 {
		return nil, ErrNoSources
	}
	if run.OutputPath == "" {
		return nil, errors.New("no output path")
	}

	if p.tempDir != "" {
		if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(p.tempDir, "compose-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create working dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	start := time.Now()
	log.Printf("[Pipeline] %s: %d source(s), voiceover=%v, logo=%v, captions=%v",
		run.Label, len(run.Sources), run.Voiceover != nil, run.Logo != nil, run.Captions != nil)

	result := &Result{OutputPath: run.OutputPath}

	// Stage 1: concatenate
	current := filepath.Join(workDir, "01_concat.mp4")
	if err := p.runner.RunStage(ctx, concatStage(run.Sources, current)); err != nil {
		return nil, err
	}

	// Stage 2: fit the timeline to the voiceover
	if run.Voiceover != nil {
		videoDur, voiceDur, err := p.probePair(ctx, current, run.Voiceover.Path)
		if err != nil {
			return nil, err
		}

		rec, err := services.Reconcile(videoDur, voiceDur)
		if err != nil {
			return nil, &services.StageError{Stage: "sync", Err: err}
		}
		log.Printf("[Pipeline] %s: video %.2fs, voiceover %.2fs -> %s", run.Label, videoDur, voiceDur, rec)

		synced := filepath.Join(workDir, "02_sync.mp4")
		if err := p.runner.RunStage(ctx, syncStage(current, run.Voiceover.Path, rec, synced)); err != nil {
			return nil, err
		}
		current = synced
		result.Reconciliation = &rec
		result.Duration = voiceDur
	}

	// Stage 3: logo and captions
	if run.Logo != nil || run.Captions != nil {
		captionFile := filepath.Join(workDir, "caption.txt")
		if run.Captions != nil {
			if err := os.WriteFile(captionFile, []byte(CaptionText(run.Captions.Text)), 0o644); err != nil {
				return nil, &services.StageError{Stage: "effects", Err: fmt.Errorf("failed to write caption text: %w", err)}
			}
		}

		withEffects := filepath.Join(workDir, "03_effects.mp4")
		if err := p.runner.RunStage(ctx, effectsStage(current, run.Logo, run.Captions, captionFile, p.fonts, withEffects)); err != nil {
			return nil, err
		}
		current = withEffects
	}

	if run.Voiceover == nil {
		total, err := p.sourceDuration(ctx, run.Sources)
		if err != nil {
			return nil, err
		}
		result.Duration = total
	}

	if err := moveFile(current, run.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to store output: %w", err)
	}

	log.Printf("[Pipeline] %s: done in %v (%.2fs)", run.Label, time.Since(start).Round(time.Millisecond), result.Duration)
	return result, nil
}

// probePair measures the concatenated video and the voiceover concurrently.
func (p *Pipeline) probePair(ctx context.Context, video, voiceover string) (float64, float64, error) {
	var videoDur, voiceDur float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := p.runner.Probe(gctx, video)
		if err != nil {
			return fmt.Errorf("failed to probe concatenated video: %w", err)
		}
		videoDur = d
		return nil
	})
	g.Go(func() error {
		d, err := p.runner.Probe(gctx, voiceover)
		if err != nil {
			return fmt.Errorf("failed to probe voiceover: %w", err)
		}
		voiceDur = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, 0, &services.StageError{Stage: "sync", Err: err}
	}

	return videoDur, voiceDur, nil
}

// sourceDuration sums stored clip durations, probing clips whose duration is unknown.
func (p *Pipeline) sourceDuration(ctx context.Context, sources []Source) (float64, error) {
	var total float64
	for _, src := range sources {
		d := src.Duration
		if d <= 0 {
			probed, err := p.runner.Probe(ctx, src.Path)
			if err != nil {
				return 0, fmt.Errorf("failed to measure %s: %w", filepath.Base(src.Path), err)
			}
			d = probed
		}
		total += d
	}
	return total, nil
}

// moveFile renames src to dst, copying when they are on different filesystems.
// After a copy src is left in place for the working directory cleanup.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

// copyFile writes src to dst through a temporary sibling, so dst either holds
// the full file or does not exist.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
