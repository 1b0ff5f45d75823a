package job

import (
	"context"
	"testing"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !r.Add("job-1", cancel) {
		t.Fatal("first Add should succeed")
	}
	if r.Add("job-1", cancel) {
		t.Error("duplicate Add should fail")
	}
	if !r.IsActive("job-1") {
		t.Error("job-1 should be active")
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}

	r.Remove("job-1")
	if r.IsActive("job-1") {
		t.Error("job-1 should be removed")
	}
	r.Remove("job-1") // no-op
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	r.Add("job-1", cancel)

	if !r.Cancel("job-1") {
		t.Fatal("Cancel should report success for active job")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("context should be cancelled")
	}

	if r.Cancel("unknown") {
		t.Error("Cancel should report failure for unknown job")
	}
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	r.Add("job-1", cancel1)
	r.Add("job-2", cancel2)

	r.CancelAll()

	for name, ctx := range map[string]context.Context{"job-1": ctx1, "job-2": ctx2} {
		select {
		case <-ctx.Done():
		default:
			t.Errorf("%s context should be cancelled", name)
		}
	}
}
