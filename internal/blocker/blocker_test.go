package blocker

import (
	"testing"
	"time"
)

func testClock() func() time.Time {
	now := time.Unix(1_700_000_000, 0).UTC()
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry(WithClock(testClock()))
	first := r.Create(1, "backend-worker-001", 10, KindSync, "which schema?")
	second := r.Create(1, "backend-worker-001", 11, KindAsync, "naming?")
	if first.ID != "blocker-001" || second.ID != "blocker-002" {
		t.Fatalf("unexpected ids: %s, %s", first.ID, second.ID)
	}
	if first.Status != StatusPending {
		t.Fatalf("new blocker must be pending, got %s", first.Status)
	}
}

func TestResolveRecordsAnswer(t *testing.T) {
	r := NewRegistry(WithClock(testClock()))
	b := r.Create(1, "backend-worker-001", 10, KindSync, "which schema?")
	resolved, err := r.Resolve(b.ID, "use v2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.Answer != "use v2" {
		t.Fatalf("unexpected blocker after resolve: %+v", resolved)
	}
}

func TestTransitionRejectsClosedBlockers(t *testing.T) {
	r := NewRegistry(WithClock(testClock()))
	b := r.Create(1, "backend-worker-001", 10, KindSync, "which schema?")
	if _, err := r.Expire(b.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if _, err := r.Resolve(b.ID, "too late"); err == nil {
		t.Fatal("resolving an expired blocker must fail")
	}
	if _, err := r.Resolve("blocker-999", "nobody home"); err == nil {
		t.Fatal("resolving an unknown blocker must fail")
	}
}

func TestPendingForReturnsOldestFirst(t *testing.T) {
	r := NewRegistry(WithClock(testClock()))
	first := r.Create(1, "backend-worker-001", 10, KindSync, "first")
	r.Create(1, "frontend-worker-001", 20, KindSync, "other worker")
	second := r.Create(1, "backend-worker-001", 11, KindAsync, "second")
	if _, err := r.Resolve(second.ID, "answered"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	third := r.Create(1, "backend-worker-001", 12, KindSync, "third")

	pending := r.PendingFor("backend-worker-001")
	if len(pending) != 2 {
		t.Fatalf("expected two pending blockers, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != third.ID {
		t.Fatalf("unexpected order: %s, %s", pending[0].ID, pending[1].ID)
	}
}

func TestCountByStatus(t *testing.T) {
	r := NewRegistry(WithClock(testClock()))
	a := r.Create(1, "w", 1, KindSync, "a")
	b := r.Create(1, "w", 2, KindSync, "b")
	r.Create(1, "w", 3, KindSync, "c")
	if _, err := r.Resolve(a.ID, "done"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Expire(b.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	counts := r.CountByStatus()
	if counts[StatusPending] != 1 || counts[StatusResolved] != 1 || counts[StatusExpired] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
