package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// StageInput is one -i input with the options that must precede it.
type StageInput struct {
	Path    string
	Options []string
}

// Stage declares a single engine invocation.
type Stage struct {
	Name          string
	Inputs        []StageInput
	FilterComplex string   // -filter_complex graph, if any
	VideoFilter   string   // -filter:v chain, if any
	Maps          []string // explicit -map directives, in order
	OutputArgs    []string // codec / quality parameters
	Output        string   // must not exist yet
}

// Args renders the stage as an ffmpeg argument list.
func (s Stage) Args() []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	for _, in := range s.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if s.FilterComplex != "" {
		args = append(args, "-filter_complex", s.FilterComplex)
	}
	if s.VideoFilter != "" {
		args = append(args, "-filter:v", s.VideoFilter)
	}
	for _, m := range s.Maps {
		args = append(args, "-map", m)
	}
	args = append(args, s.OutputArgs...)
	args = append(args, "-y", s.Output)

	return args
}

// StageError records which stage failed and why.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrEmptyOutput is returned when the engine exits cleanly but writes nothing.
var ErrEmptyOutput = errors.New("engine produced an empty output file")

// StageRunner runs declarative stages against an Engine and verifies their output.
type StageRunner struct {
	engine  Engine
	timeout time.Duration // per-stage watchdog; 0 disables it
}

func NewStageRunner(engine Engine, timeout time.Duration) *StageRunner {
	return &StageRunner{
		engine:  engine,
		timeout: timeout,
	}
}

// RunStage invokes the engine once for the stage. On success the output file exists
// and is non-empty; on failure no output file is left behind.
func (r *StageRunner) RunStage(ctx context.Context, stage Stage) error {
	if err := r.checkStage(stage); err != nil {
		return &StageError{Stage: stage.Name, Err: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := r.engine.Exec(ctx, stage.Args()); err != nil {
		os.Remove(stage.Output)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %v: %w", r.timeout, err)
		}
		return &StageError{Stage: stage.Name, Err: err}
	}

	info, err := os.Stat(stage.Output)
	if err != nil {
		return &StageError{Stage: stage.Name, Err: fmt.Errorf("output missing: %w", err)}
	}
	if info.Size() == 0 {
		os.Remove(stage.Output)
		return &StageError{Stage: stage.Name, Err: ErrEmptyOutput}
	}

	log.Printf("[Stage] %s finished in %v (%.2fMB)", stage.Name, time.Since(start).Round(time.Millisecond), float64(info.Size())/1024/1024)
	return nil
}

// Probe measures a file's duration through the engine.
func (r *StageRunner) Probe(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("cannot probe %s: %w", filepath.Base(path), err)
	}
	return r.engine.Probe(ctx, path)
}

func (r *StageRunner) checkStage(stage Stage) error {
	if stage.Output == "" {
		return errors.New("no output path")
	}
	if len(stage.Inputs) == 0 {
		return errors.New("no inputs")
	}
	if _, err := os.Stat(stage.Output); err == nil {
		return fmt.Errorf("output %s already exists", stage.Output)
	}
	for _, in := range stage.Inputs {
		if in.Path == stage.Output {
			return fmt.Errorf("output %s would overwrite an input", stage.Output)
		}
		info, err := os.Stat(in.Path)
		if err != nil {
			return fmt.Errorf("missing input file %s", in.Path)
		}
		if info.IsDir() {
			return fmt.Errorf("input %s is a directory", in.Path)
		}
	}
	return nil
}
