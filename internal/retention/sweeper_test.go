package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	ids    []string
	err    error
	cutoff time.Time
}

func (f *fakeStore) DeleteJobsOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	f.cutoff = cutoff
	return f.ids, f.err
}

type fakeCleaner struct {
	mu      sync.Mutex
	cleaned []string
	err     error
}

func (f *fakeCleaner) Cleanup(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, jobID)
	return f.err
}

type fakeRemover struct {
	prefixes []string
}

func (f *fakeRemover) DeletePrefix(_ context.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	return nil
}

func TestSweepRemovesFilesAndArtifacts(t *testing.T) {
	store := &fakeStore{ids: []string{"job-1", "job-2"}}
	cleaner := &fakeCleaner{}
	remover := &fakeRemover{}

	s := NewSweeper(store, cleaner, remover, 7*24*time.Hour)

	n, err := s.Sweep(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if len(cleaner.cleaned) != 2 {
		t.Errorf("cleaned %v, want both jobs", cleaner.cleaned)
	}
	if len(remover.prefixes) != 2 || remover.prefixes[0] != "jobs/job-1/" {
		t.Errorf("artifact prefixes = %v", remover.prefixes)
	}
}

func TestSweepCutoff(t *testing.T) {
	store := &fakeStore{}
	s := NewSweeper(store, &fakeCleaner{}, nil, time.Hour)

	before := time.Now().UTC().Add(-24 * time.Hour)
	if _, err := s.Sweep(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// Cutoff should be about 24h in the past.
	if d := store.cutoff.Sub(before); d < -time.Minute || d > time.Minute {
		t.Errorf("cutoff = %v, want about %v", store.cutoff, before)
	}
}

func TestSweepStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	s := NewSweeper(store, &fakeCleaner{}, nil, time.Hour)

	if _, err := s.Sweep(context.Background(), time.Hour); err == nil {
		t.Error("expected error from store")
	}
}

func TestSweepCleanupErrorsAreNonFatal(t *testing.T) {
	store := &fakeStore{ids: []string{"job-1"}}
	cleaner := &fakeCleaner{err: errors.New("disk error")}
	s := NewSweeper(store, cleaner, nil, time.Hour)

	n, err := s.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Sweep should tolerate cleanup errors: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
}
