package convert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mp3forge/backend/internal/job"
	"github.com/mp3forge/backend/internal/media"
	"github.com/mp3forge/backend/internal/progress"
)

// fakeExtractor simulates conversions without running ffmpeg.
type fakeExtractor struct {
	mu       sync.Mutex
	fail     map[string]error     // input path -> error to return
	steps    []float64            // progress fractions to emit
	stepsFor map[string][]float64 // per-input override of steps
	blockOn  map[string]chan struct{}
	active   int
	maxSeen  int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		fail:     make(map[string]error),
		steps:    []float64{0.25, 0.5, 0.75, 1.0},
		stepsFor: make(map[string][]float64),
		blockOn:  make(map[string]chan struct{}),
	}
}

func (f *fakeExtractor) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeExtractor) Extract(ctx context.Context, input, output string, opts media.ExtractOptions, onProgress media.ProgressFunc) (*media.Outcome, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	block := f.blockOn[input]
	failErr := f.fail[input]
	steps := f.steps
	if override, ok := f.stepsFor[input]; ok {
		steps = override
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if onProgress != nil {
			onProgress(media.ProgressUpdate{Fraction: step})
		}
	}

	if failErr != nil {
		return nil, failErr
	}

	return &media.Outcome{
		OutputPath:     output,
		OutputSize:     1024,
		SourceDuration: 90 * time.Second,
	}, nil
}

// memStore records scheduler writes in memory.
type memStore struct {
	mu           sync.Mutex
	jobStatus    string
	jobMessage   string
	jobProgress  float64
	fileStatus   map[string]string
	fileProgress map[string]float64
	fileErrors   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		fileStatus:   make(map[string]string),
		fileProgress: make(map[string]float64),
		fileErrors:   make(map[string]string),
	}
}

func (m *memStore) UpdateJobStatus(_ context.Context, _, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus = status
	m.jobMessage = message
	return nil
}

func (m *memStore) UpdateJobProgress(_ context.Context, _ string, p float64, _, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobProgress = p
	return nil
}

func (m *memStore) UpdateFileProgress(_ context.Context, fileID, status string, p float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileStatus[fileID] = status
	m.fileProgress[fileID] = p
	return nil
}

func (m *memStore) UpdateFileResult(_ context.Context, f *job.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileStatus[f.ID] = f.Status
	m.fileProgress[f.ID] = f.Progress
	m.fileErrors[f.ID] = f.Error
	return nil
}

func makeJob(n int, policy string) *job.Job {
	j := &job.Job{
		ID:         "job-1",
		Status:     job.StatusQueued,
		TotalFiles: n,
		Config:     job.Config{Bitrate: "192k", FailurePolicy: policy},
		CreatedAt:  time.Now().UTC(),
	}
	for i := 0; i < n; i++ {
		j.Files = append(j.Files, &job.File{
			ID:        fmt.Sprintf("file-%d", i),
			JobID:     j.ID,
			Filename:  fmt.Sprintf("video%d.mp4", i),
			InputPath: fmt.Sprintf("/in/video%d.mp4", i),
			Status:    job.FileStatusPending,
		})
	}
	return j
}

func runScheduler(t *testing.T, ext media.Extractor, store Store, j *job.Job, workers int) *progress.Publisher {
	t.Helper()
	pub := progress.NewPublisherWithGrace(time.Minute)
	s := NewScheduler(ext, store, pub, nil, workers)
	s.Run(context.Background(), j)
	return pub
}

func TestAllFilesSucceed(t *testing.T) {
	ext := newFakeExtractor()
	store := newMemStore()
	j := makeJob(3, job.PolicyContinue)

	runScheduler(t, ext, store, j, 2)

	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	if j.CompletedFiles != 3 || j.FailedFiles != 0 {
		t.Errorf("counts = %d/%d, want 3/0", j.CompletedFiles, j.FailedFiles)
	}
	if j.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", j.Progress)
	}
	for _, f := range j.Files {
		if f.Status != job.FileStatusCompleted {
			t.Errorf("file %s status = %s", f.ID, f.Status)
		}
		if f.CompletedAt == nil {
			t.Errorf("file %s missing completion time", f.ID)
		}
	}
	if store.jobStatus != job.StatusCompleted {
		t.Errorf("stored status = %s", store.jobStatus)
	}
}

func TestContinuePolicyCompletesWithErrors(t *testing.T) {
	ext := newFakeExtractor()
	ext.fail["/in/video1.mp4"] = errors.New("exit status 1")
	store := newMemStore()
	j := makeJob(3, job.PolicyContinue)

	runScheduler(t, ext, store, j, 2)

	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	if j.CompletedFiles != 2 || j.FailedFiles != 1 {
		t.Errorf("counts = %d/%d, want 2/1", j.CompletedFiles, j.FailedFiles)
	}
	if !j.HasErrors() {
		t.Error("job should report errors")
	}
	if j.Message == "" {
		t.Error("expected a message naming the failures")
	}
}

func TestAllFilesFail(t *testing.T) {
	ext := newFakeExtractor()
	for i := 0; i < 2; i++ {
		ext.fail[fmt.Sprintf("/in/video%d.mp4", i)] = errors.New("boom")
	}
	store := newMemStore()
	j := makeJob(2, job.PolicyContinue)

	runScheduler(t, ext, store, j, 2)

	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
}

func TestZeroFilesFails(t *testing.T) {
	store := newMemStore()
	j := makeJob(0, job.PolicyContinue)

	runScheduler(t, newFakeExtractor(), store, j, 2)

	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed for empty job", j.Status)
	}
}

func TestFailFastSkipsRemaining(t *testing.T) {
	ext := newFakeExtractor()
	ext.fail["/in/video0.mp4"] = errors.New("boom")
	store := newMemStore()
	// Single worker forces strict ordering.
	j := makeJob(4, job.PolicyFailFast)

	runScheduler(t, ext, store, j, 1)

	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.CompletedFiles != 0 {
		t.Errorf("completed = %d, want 0", j.CompletedFiles)
	}
	skipped := 0
	for _, f := range j.Files[1:] {
		if f.Status == job.FileStatusFailed && f.Error == "skipped after earlier failure" {
			skipped++
		}
	}
	if skipped == 0 {
		t.Error("expected later files to be skipped")
	}
}

func TestCancellation(t *testing.T) {
	ext := newFakeExtractor()
	release := make(chan struct{})
	ext.blockOn["/in/video0.mp4"] = release
	ext.blockOn["/in/video1.mp4"] = release
	store := newMemStore()
	j := makeJob(2, job.PolicyContinue)

	pub := progress.NewPublisherWithGrace(time.Minute)
	s := NewScheduler(ext, store, pub, nil, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, j)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	if j.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", j.Status)
	}
}

func TestCancellationSettlesPendingFiles(t *testing.T) {
	// Single worker with the first file blocked: cancelling must leave
	// every file terminal, including the ones never dispatched.
	ext := newFakeExtractor()
	release := make(chan struct{})
	ext.blockOn["/in/video0.mp4"] = release
	store := newMemStore()
	j := makeJob(3, job.PolicyContinue)

	pub := progress.NewPublisherWithGrace(time.Minute)
	s := NewScheduler(ext, store, pub, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, j)
	}()

	waitFor(t, func() bool { return ext.activeCount() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	if j.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", j.Status)
	}
	if j.CompletedFiles+j.FailedFiles != 3 {
		t.Errorf("completed+failed = %d, want 3", j.CompletedFiles+j.FailedFiles)
	}
	for _, f := range j.Files {
		if !f.IsTerminal() {
			t.Errorf("file %s status = %s, want terminal", f.ID, f.Status)
		}
		if f.Status == job.FileStatusFailed && f.Error != "cancelled" {
			t.Errorf("file %s error = %q, want cancelled", f.ID, f.Error)
		}
	}
}

func TestFailFastLetsInFlightFinish(t *testing.T) {
	// A fail-fast abort stops dispatching but must not kill the
	// conversion already running on the other worker.
	ext := newFakeExtractor()
	release0 := make(chan struct{})
	release1 := make(chan struct{})
	ext.blockOn["/in/video0.mp4"] = release0
	ext.blockOn["/in/video1.mp4"] = release1
	ext.fail["/in/video0.mp4"] = errors.New("boom")
	store := newMemStore()
	j := makeJob(3, job.PolicyFailFast)

	pub := progress.NewPublisherWithGrace(time.Minute)
	s := NewScheduler(ext, store, pub, nil, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background(), j)
	}()

	waitFor(t, func() bool { return ext.activeCount() == 2 })
	close(release0)

	// The abort lands while the second file is still converting.
	waitFor(t, func() bool { return ext.activeCount() == 1 })
	close(release1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not finish")
	}

	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.CompletedFiles != 1 {
		t.Errorf("completed = %d, want the in-flight file to finish", j.CompletedFiles)
	}
	if got := j.Files[1].Status; got != job.FileStatusCompleted {
		t.Errorf("in-flight file status = %s, want completed", got)
	}
	if got := j.Files[2].Error; got != "skipped after earlier failure" {
		t.Errorf("undispatched file error = %q", got)
	}
}

func TestTaskTimeoutFailsFile(t *testing.T) {
	ext := newFakeExtractor()
	ext.blockOn["/in/video0.mp4"] = make(chan struct{}) // never released
	store := newMemStore()
	j := makeJob(1, job.PolicyContinue)

	pub := progress.NewPublisherWithGrace(time.Minute)
	s := NewScheduler(ext, store, pub, nil, 1)
	s.SetTaskTimeout(30 * time.Millisecond)

	s.Run(context.Background(), j)

	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.Status == job.StatusCancelled {
		t.Error("per-file timeout must not report the job cancelled")
	}
	f := j.Files[0]
	if f.Status != job.FileStatusFailed {
		t.Errorf("file status = %s, want failed", f.Status)
	}
	if !strings.Contains(f.Error, "timed out") {
		t.Errorf("file error = %q, want a timeout message", f.Error)
	}
}

func TestRepeatedRunsConvertEveryFile(t *testing.T) {
	// Short jobs back to back: the coordinator must never observe a
	// closed update channel before all files have reported.
	for i := 0; i < 30; i++ {
		ext := newFakeExtractor()
		store := newMemStore()
		j := makeJob(3, job.PolicyContinue)

		runScheduler(t, ext, store, j, 2)

		if j.Status != job.StatusCompleted || j.CompletedFiles != 3 {
			t.Fatalf("run %d: status=%s completed=%d, want completed/3", i, j.Status, j.CompletedFiles)
		}
		for _, f := range j.Files {
			if f.Status != job.FileStatusCompleted {
				t.Fatalf("run %d: file %s status = %s", i, f.ID, f.Status)
			}
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorkerLimitRespected(t *testing.T) {
	ext := newFakeExtractor()
	store := newMemStore()
	j := makeJob(6, job.PolicyContinue)

	runScheduler(t, ext, store, j, 2)

	if ext.maxSeen > 2 {
		t.Errorf("saw %d concurrent conversions, limit was 2", ext.maxSeen)
	}
}

func TestProgressEventsMonotone(t *testing.T) {
	ext := newFakeExtractor()
	store := newMemStore()
	j := makeJob(3, job.PolicyContinue)

	pub := progress.NewPublisherWithGrace(time.Minute)
	sub := pub.Subscribe(j.ID)
	defer sub.Close()

	s := NewScheduler(ext, store, pub, nil, 2)
	s.Run(context.Background(), j)

	lastJob := -1.0
	sawTerminal := false
	timeout := time.After(2 * time.Second)

	for !sawTerminal {
		select {
		case e := <-sub.Events():
			if e == nil {
				t.Fatal("feed closed before terminal event")
			}
			switch e.Type {
			case progress.EventFileProgress, progress.EventFileCompleted:
				if e.JobProgress < lastJob {
					t.Errorf("job progress decreased: %v after %v", e.JobProgress, lastJob)
				}
				lastJob = e.JobProgress
			case progress.EventJobCompleted:
				sawTerminal = true
				if e.JobProgress != 1.0 {
					t.Errorf("terminal job progress = %v, want 1.0", e.JobProgress)
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

func TestOverallProgressIsMeanDuringRun(t *testing.T) {
	// Two files, one blocked halfway: aggregate must equal the mean
	// of per-file progress at the time each event is published.
	ext := newFakeExtractor()
	ext.steps = []float64{0.5, 1.0}
	store := newMemStore()
	j := makeJob(2, job.PolicyContinue)

	pub := progress.NewPublisherWithGrace(time.Minute)
	sub := pub.Subscribe(j.ID)
	defer sub.Close()

	s := NewScheduler(ext, store, pub, nil, 1)
	s.Run(context.Background(), j)

	// After the first file completes and before the second starts,
	// the aggregate should pass through 0.5.
	sawHalf := false
	for e := range sub.Events() {
		if e.JobProgress == 0.5 {
			sawHalf = true
		}
		if e.IsTerminal() {
			break
		}
	}
	if !sawHalf {
		t.Error("aggregate progress never equalled the file mean of 0.5")
	}
}

func TestOverallProgressMatchesMeanRandomized(t *testing.T) {
	// Random progress sequences per file: every published aggregate
	// must equal the mean of per-file progress at that moment, and
	// never move backwards.
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("seed %d", seed)

	const n = 3
	ext := newFakeExtractor()
	j := makeJob(n, job.PolicyContinue)
	for i := 0; i < n; i++ {
		steps := make([]float64, 3+rng.Intn(4))
		for k := range steps {
			steps[k] = rng.Float64()
		}
		sort.Float64s(steps)
		ext.stepsFor[fmt.Sprintf("/in/video%d.mp4", i)] = steps
	}

	pub := progress.NewPublisherWithGrace(time.Minute)
	sub := pub.Subscribe(j.ID)
	defer sub.Close()

	s := NewScheduler(ext, newMemStore(), pub, nil, 1)
	s.Run(context.Background(), j)

	perFile := make(map[string]float64, n)
	lastJob := -1.0
	for e := range sub.Events() {
		if e.IsTerminal() {
			break
		}
		if e.Type != progress.EventFileProgress && e.Type != progress.EventFileCompleted {
			continue
		}
		perFile[e.FileID] = e.Progress

		sum := 0.0
		for _, p := range perFile {
			sum += p
		}
		mean := sum / n
		if math.Abs(e.JobProgress-mean) > 1e-9 {
			t.Fatalf("job progress %v, want file mean %v (seed %d)", e.JobProgress, mean, seed)
		}
		if e.JobProgress < lastJob {
			t.Fatalf("job progress decreased: %v after %v (seed %d)", e.JobProgress, lastJob, seed)
		}
		lastJob = e.JobProgress
	}
}
