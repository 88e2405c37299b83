package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/crucible/internal/event"
	"github.com/kingrea/crucible/internal/journal"
	"github.com/kingrea/crucible/internal/model"
	"github.com/kingrea/crucible/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Memory, *journal.Journal, *Router) {
	t.Helper()
	st := store.NewMemory()
	jnl, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	router := NewRouter()
	settings := Settings{Enabled: true, Host: DefaultHost, Port: DefaultPort, MaxBodyBytes: DefaultMaxBodyBytes}
	srv, err := NewServer(settings, st, jnl, router, zap.NewNop(),
		ServerWithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000).UTC() }),
		ServerWithIDSource(func() string { return "generated-id" }),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, st, jnl, router
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != string(StatusStarting) {
		t.Fatalf("unexpected lifecycle state %q", resp.Status)
	}
}

func TestIngestAcceptsCommitPassThrough(t *testing.T) {
	srv, _, jnl, router := newTestServer(t)
	sub := router.Subscribe(1)
	defer sub.Close()

	body := []byte(`{"type":"commit_created","project_id":1,"task_id":4,"commit_hash":"abc123","commit_message":"implement resolver"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	entries := jnl.Since(0)
	if len(entries) != 1 {
		t.Fatalf("expected the commit journaled, got %d entries", len(entries))
	}
	evt := entries[0].Event
	if evt.ID != "generated-id" {
		t.Fatalf("missing generated event id: %q", evt.ID)
	}
	if evt.Timestamp != 1_700_000_000_000 {
		t.Fatalf("missing server timestamp: %v", evt.Timestamp)
	}
	if evt.Fields["commit_hash"] != "abc123" {
		t.Fatalf("payload not passed through: %v", evt.Fields)
	}
	select {
	case routed := <-sub.Events:
		if routed.Type != event.TypeCommitCreated {
			t.Fatalf("unexpected routed type %s", routed.Type)
		}
	default:
		t.Fatal("commit not routed to subscribers")
	}
}

func TestIngestRejectsCoordinatorEventTypes(t *testing.T) {
	srv, _, jnl, _ := newTestServer(t)
	body := []byte(`{"type":"task_status_changed","project_id":1,"task_id":4,"status":"completed"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for injected coordinator event, got %d", rec.Code)
	}
	if got := jnl.Since(0); len(got) != 0 {
		t.Fatalf("rejected event was journaled: %v", got)
	}
}

func TestIngestValidatesCommitPayload(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	body := []byte(`{"type":"commit_created","project_id":1,"commit_hash":"abc123"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for commit without message, got %d", rec.Code)
	}
}

func TestIngestRejectsInvalidJSON(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte("{nope"))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestTailReturnsEntriesAfterSeq(t *testing.T) {
	srv, _, jnl, _ := newTestServer(t)
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		jnl.Emit(event.Event{ID: id, Type: event.TypeActivityUpdate, ProjectID: 1, Timestamp: 1})
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?since=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp tailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode tail: %v", err)
	}
	if resp.LastSeq != 3 || len(resp.Entries) != 2 {
		t.Fatalf("unexpected tail: lastSeq=%d entries=%d", resp.LastSeq, len(resp.Entries))
	}
	if resp.Entries[0].Event.ID != "evt-2" {
		t.Fatalf("unexpected first entry: %s", resp.Entries[0].Event.ID)
	}
}

func TestStateEndpointsServeStoreData(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	st.PutWorker(1, model.Worker{ID: "backend-worker-001", Type: model.WorkerBackend, Status: model.WorkerIdle, Provider: "anthropic"})
	st.PutTask(1, model.Task{ID: 1, ProjectID: 1, Status: model.TaskPending, UpdatedAt: 100})
	st.PutTask(1, model.Task{ID: 2, ProjectID: 1, Status: model.TaskCompleted, UpdatedAt: 200})
	st.AppendActivity(1, model.ActivityItem{Message: "hello"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/workers?project_id=1", nil))
	var workers []model.Worker
	if err := json.Unmarshal(rec.Body.Bytes(), &workers); err != nil {
		t.Fatalf("decode workers: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != "backend-worker-001" {
		t.Fatalf("unexpected workers: %v", workers)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/tasks?project_id=1&limit=1", nil))
	var tasks []model.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != 2 {
		t.Fatalf("expected most recently updated task only, got %v", tasks)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/activity?project_id=1", nil))
	var activity []model.ActivityItem
	if err := json.Unmarshal(rec.Body.Bytes(), &activity); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if len(activity) != 1 || activity[0].Message != "hello" {
		t.Fatalf("unexpected activity: %v", activity)
	}
}

func TestStateEndpointsRequireProjectID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/workers", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without project_id, got %d", rec.Code)
	}
}
