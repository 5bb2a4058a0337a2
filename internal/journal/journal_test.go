package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{ID: "job-1", Status: "completed", Duration: 1200 * time.Millisecond, Created: time.Unix(100, 0)},
		{ID: "job-2", Status: "failed", Error: "CUDA out of memory", Duration: 300 * time.Millisecond, Created: time.Unix(200, 0)},
		{ID: "job-3", Status: "completed", Duration: 900 * time.Millisecond, Created: time.Unix(300, 0)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].ID != "job-3" || got[1].ID != "job-2" {
		t.Errorf("Expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}
	if got[1].Error != "CUDA out of memory" {
		t.Errorf("Unexpected error field %q", got[1].Error)
	}
	if got[0].Duration != 900*time.Millisecond {
		t.Errorf("Unexpected duration %v", got[0].Duration)
	}
}

func TestRecordUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Entry{ID: "job-1", Status: "failed", Error: "transient"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	// A requeued job overwrites its earlier outcome
	if err := s.Record(ctx, Entry{ID: "job-1", Status: "completed", Duration: 500 * time.Millisecond}); err != nil {
		t.Fatalf("Record upsert failed: %v", err)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected single row after upsert, got %d", len(got))
	}
	if got[0].Status != "completed" || got[0].Error != "" {
		t.Errorf("Expected overwritten outcome, got %+v", got[0])
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
