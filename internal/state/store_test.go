package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if err := s.BeginRun(ctx, "run-1", started); err != nil {
		t.Fatal(err)
	}
	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Outcome != "running" {
		t.Fatalf("runs = %+v", runs)
	}
	if !runs[0].StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", runs[0].StartedAt, started)
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Errorf("unfinished run has finish time %v", runs[0].FinishedAt)
	}

	finished := started.Add(3 * time.Minute)
	if err := s.FinishRun(ctx, "run-1", "DONE", finished); err != nil {
		t.Fatal(err)
	}
	runs, err = s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].Outcome != "DONE" || !runs[0].FinishedAt.Equal(finished) {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := s.BeginRun(ctx, id, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want limit applied", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestUnitEventsInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if err := s.BeginRun(ctx, "run-1", at); err != nil {
		t.Fatal(err)
	}
	transitions := []string{"RENDERING", "DEPLOYING", "AWAITING_HEALTH", "HEALTHY"}
	for _, st := range transitions {
		if err := s.RecordUnitEvent(ctx, "run-1", "postgres", st, "", at); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordUnitEvent(ctx, "run-2", "traefik", "RENDERING", "", at); err != nil {
		t.Fatal(err)
	}

	events, err := s.UnitEvents(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(transitions) {
		t.Fatalf("events = %d, want %d (other runs excluded)", len(events), len(transitions))
	}
	for i, ev := range events {
		if ev.State != transitions[i] {
			t.Errorf("event %d = %s, want %s", i, ev.State, transitions[i])
		}
		if ev.Unit != "postgres" {
			t.Errorf("event %d unit = %s", i, ev.Unit)
		}
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.BeginRun(context.Background(), "run-1", time.Now()); err != nil {
		t.Fatal(err)
	}
}
