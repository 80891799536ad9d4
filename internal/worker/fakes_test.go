package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/composer/internal/limiter"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/pipeline"
	"github.com/bobarin/composer/internal/queue"
	"github.com/bobarin/composer/internal/services"
	"github.com/google/uuid"
)

// memStore is an in-memory Store.
type memStore struct {
	mu         sync.Mutex
	owners     map[int64]int64 // workspace -> user
	clips      map[int64]models.MediaFile
	voiceovers map[int64]models.MediaFile
	scripts    map[int64]string // voiceover -> script text
	jobs       map[uuid.UUID]*models.Job
	comps      map[int64]*models.Composition
	nextID     int64
	creates    int

	completeFailures int  // transient failures before CompleteComposition succeeds
	deleteOnComplete bool // simulate a delete racing the run
}

func newMemStore() *memStore {
	return &memStore{
		owners:     map[int64]int64{},
		clips:      map[int64]models.MediaFile{},
		voiceovers: map[int64]models.MediaFile{},
		scripts:    map[int64]string{},
		jobs:       map[uuid.UUID]*models.Job{},
		comps:      map[int64]*models.Composition{},
	}
}

func (s *memStore) WorkspaceOwnedBy(ctx context.Context, workspaceID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[workspaceID]
	return ok && owner == userID, nil
}

func (s *memStore) ExistingClipIDs(ctx context.Context, workspaceID int64, ids []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []int64
	for _, id := range ids {
		if _, ok := s.clips[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (s *memStore) ExistingVoiceoverIDs(ctx context.Context, workspaceID int64, ids []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []int64
	for _, id := range ids {
		if _, ok := s.voiceovers[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (s *memStore) CreateJobWithCompositions(ctx context.Context, job *models.Job, comps []*models.Composition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	j := *job
	s.jobs[job.ID] = &j
	for _, c := range comps {
		s.nextID++
		c.ID = s.nextID
		c.JobID = job.ID
		c.CreatedAt, c.UpdatedAt = now, now
		cp := *c
		s.comps[c.ID] = &cp
	}
	return nil
}

func (s *memStore) GetJobForUser(ctx context.Context, jobID uuid.UUID, userID int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || s.owners[job.WorkspaceID] != userID {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	j := *job
	return &j, nil
}

func (s *memStore) GetJobCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var statuses []models.CompositionStatus
	for _, c := range s.comps {
		if c.JobID == jobID {
			statuses = append(statuses, c.Status)
		}
	}
	return models.CountStatuses(statuses), nil
}

func (s *memStore) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = status
	}
	return nil
}

func (s *memStore) GetComposition(ctx context.Context, id int64) (*models.Composition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok {
		return nil, fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetCompositionForUser(ctx context.Context, id, userID int64) (*models.Composition, error) {
	c, err := s.GetComposition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[c.WorkspaceID] != userID {
		return nil, fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	return c, nil
}

func (s *memStore) GetCompositionSources(ctx context.Context, comp *models.Composition) (*models.CompositionSources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := &models.CompositionSources{}
	clip := func(id int64) (*models.MediaFile, error) {
		c, ok := s.clips[id]
		if !ok {
			return nil, fmt.Errorf("clip %d: %w", id, models.ErrNotFound)
		}
		return &c, nil
	}

	var err error
	if comp.HookClipID != nil {
		if src.Hook, err = clip(*comp.HookClipID); err != nil {
			return nil, err
		}
	}
	for _, id := range comp.BodyClipIDs {
		c, err := clip(id)
		if err != nil {
			return nil, err
		}
		src.Body = append(src.Body, *c)
	}
	if comp.CatClipID != nil {
		if src.Cat, err = clip(*comp.CatClipID); err != nil {
			return nil, err
		}
	}
	if comp.VoiceoverID != nil {
		vo, ok := s.voiceovers[*comp.VoiceoverID]
		if !ok {
			return nil, fmt.Errorf("voiceover %d: %w", *comp.VoiceoverID, models.ErrNotFound)
		}
		src.Voiceover = &vo
		src.ScriptText = s.scripts[*comp.VoiceoverID]
	}
	return src, nil
}

func (s *memStore) ListWorkspaceCompositions(ctx context.Context, workspaceID int64) ([]models.Composition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Composition
	for _, c := range s.comps {
		if c.WorkspaceID == workspaceID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) GetWorkspaceCompositions(ctx context.Context, workspaceID int64, ids []int64) ([]models.Composition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Composition
	for _, id := range ids {
		if c, ok := s.comps[id]; ok && c.WorkspaceID == workspaceID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) MarkCompositionProcessing(ctx context.Context, id int64) error {
	return s.transition(id, func(c *models.Composition) bool {
		if c.Status != models.CompositionStatusPending {
			return false
		}
		c.Status = models.CompositionStatusProcessing
		return true
	})
}

func (s *memStore) CompleteComposition(ctx context.Context, id int64, filePath string, duration float64) error {
	s.mu.Lock()
	if s.completeFailures > 0 {
		s.completeFailures--
		s.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	if s.deleteOnComplete {
		delete(s.comps, id)
	}
	s.mu.Unlock()

	return s.transition(id, func(c *models.Composition) bool {
		if c.Status.IsTerminal() {
			return false
		}
		c.Status = models.CompositionStatusCompleted
		c.FilePath = &filePath
		c.Duration = &duration
		return true
	})
}

func (s *memStore) FailComposition(ctx context.Context, id int64, message string) error {
	return s.transition(id, func(c *models.Composition) bool {
		if c.Status.IsTerminal() {
			return false
		}
		c.Status = models.CompositionStatusFailed
		c.ErrorMessage = &message
		return true
	})
}

func (s *memStore) DeleteComposition(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comps[id]; !ok {
		return fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	delete(s.comps, id)
	return nil
}

func (s *memStore) transition(id int64, apply func(*models.Composition) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok || !apply(c) {
		return fmt.Errorf("composition %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *memStore) composition(t *testing.T, id int64) models.Composition {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[id]
	if !ok {
		t.Fatalf("composition %d not found", id)
	}
	return *c
}

// renderEngine writes a small file for every Exec and tracks concurrency.
type renderEngine struct {
	delay   time.Duration
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (e *renderEngine) Exec(ctx context.Context, args []string) error {
	e.calls.Add(1)
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return os.WriteFile(args[len(args)-1], []byte("rendered"), 0o644)
}

func (e *renderEngine) Probe(ctx context.Context, path string) (float64, error) {
	return 2, nil
}

// chanQueue is an in-process TaskQueue.
type chanQueue struct {
	tasks chan queue.Task
}

func (q *chanQueue) EnqueueComposition(ctx context.Context, jobID uuid.UUID, compositionID int64) error {
	q.tasks <- queue.Task{JobID: jobID, CompositionID: compositionID, EnqueuedAt: time.Now()}
	return nil
}

func (q *chanQueue) DequeueComposition(ctx context.Context, timeout time.Duration) (*queue.Task, error) {
	select {
	case t := <-q.tasks:
		return &t, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (p *fakePublisher) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded = append(p.uploaded, storagePath)
	return nil
}

func (p *fakePublisher) Delete(ctx context.Context, storagePaths ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, storagePaths...)
	return nil
}

func (p *fakePublisher) GetPublicURL(storagePath string) string {
	return "https://cdn.test/" + storagePath
}

func (p *fakePublisher) CompositionPath(workspaceID int64, fileName string) string {
	return fmt.Sprintf("workspaces/%d/%s", workspaceID, filepath.Base(fileName))
}

type stubTranscriber struct {
	text  string
	calls atomic.Int64
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	s.calls.Add(1)
	return s.text, nil
}

const (
	testUser      int64 = 7
	testWorkspace int64 = 70
)

type harness struct {
	store     *memStore
	engine    *renderEngine
	manager   *Manager
	mediaRoot string
}

type harnessOption func(*Options)

func newHarness(t *testing.T, capacity int, opts ...harnessOption) *harness {
	t.Helper()
	mediaRoot := t.TempDir()
	store := newMemStore()
	store.owners[testWorkspace] = testUser

	for id, name := range map[int64]string{1: "hook.mp4", 2: "body_a.mp4", 3: "body_b.mp4", 4: "cat.mp4"} {
		rel := filepath.Join("clips", name)
		writeMedia(t, mediaRoot, rel)
		store.clips[id] = models.MediaFile{ID: id, FilePath: rel, Duration: 3}
	}
	writeMedia(t, mediaRoot, "voiceovers/vo.mp3")
	store.voiceovers[10] = models.MediaFile{ID: 10, FilePath: "voiceovers/vo.mp3", Duration: 2}
	store.scripts[10] = "Meet the blender that does it all"

	engine := &renderEngine{}
	o := Options{
		Store:           store,
		Limiter:         limiter.New(capacity),
		Renderer:        pipeline.New(services.NewStageRunner(engine, 0), t.TempDir(), pipeline.Fonts{}),
		MediaRoot:       mediaRoot,
		CompositionsDir: "uploads/compositions",
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := New(o)
	m.retryBase = time.Millisecond
	return &harness{store: store, engine: engine, manager: m, mediaRoot: mediaRoot}
}

func writeMedia(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.manager.Wait(ctx); err != nil {
		t.Fatalf("runs did not finish: %v", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }

// blockingPublisher holds every upload until release is closed.
type blockingPublisher struct {
	fakePublisher
	started chan string
	release chan struct{}
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{started: make(chan string, 16), release: make(chan struct{})}
}

func (p *blockingPublisher) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	p.started <- storagePath
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.fakePublisher.UploadFile(ctx, storagePath, localPath, contentType)
}
