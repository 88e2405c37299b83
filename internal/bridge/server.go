package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/crucible/internal/event"
	"github.com/kingrea/crucible/internal/journal"
	"github.com/kingrea/crucible/internal/model"
	"github.com/kingrea/crucible/internal/store"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("bridge: server disabled")

// Server exposes the event stream and the resynchronization queries over
// HTTP. POST /events accepts version control pass-through events from
// external collaborators; GET /events tails the journal; the /state endpoints
// answer the three resynchronization queries from the authoritative store.
type Server struct {
	settings Settings
	store    *store.Memory
	journal  *journal.Journal
	router   *Router
	log      *zap.Logger
	clock    func() time.Time
	newID    func() string

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// ServerOption customizes server construction.
type ServerOption func(*Server)

// ServerWithClock allows tests to control timestamps.
func ServerWithClock(clock func() time.Time) ServerOption {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// ServerWithIDSource overrides event id generation for ingested events.
func ServerWithIDSource(newID func() string) ServerOption {
	return func(s *Server) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewServer prepares a bridge server using the provided settings.
func NewServer(settings Settings, st *store.Memory, jnl *journal.Journal, router *Router, log *zap.Logger, opts ...ServerOption) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("bridge: store is required")
	}
	if jnl == nil {
		return nil, fmt.Errorf("bridge: journal is required")
	}
	if router == nil {
		return nil, fmt.Errorf("bridge: router is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		settings: settings,
		store:    st,
		journal:  jnl,
		router:   router,
		log:      log,
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Handler returns the HTTP mux serving all bridge routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/state/workers", s.handleWorkers)
	mux.HandleFunc("/state/tasks", s.handleTasks)
	mux.HandleFunc("/state/activity", s.handleActivity)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve error", zap.Error(err))
		}
	}()
	s.log.Info("bridge listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	LastSeq       int64  `json:"last_seq"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		LastSeq:       s.journal.LastSeq(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleTail(w, r)
	case http.MethodPost:
		s.handleIngest(w, r)
	default:
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodPost))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

type tailResponse struct {
	Entries []journal.Entry `json:"entries"`
	LastSeq int64           `json:"last_seq"`
}

func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since"})
			return
		}
		since = parsed
	}
	entries := s.journal.Since(since)
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, tailResponse{Entries: entries, LastSeq: s.journal.LastSeq()})
}

// handleIngest accepts version control events from external collaborators and
// passes them through unchanged: journaled, routed, never reinterpreted.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var evt event.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := validateIngest(evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if evt.ID == "" {
		evt.ID = s.newID()
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = float64(s.now().UnixMilli())
	}
	s.journal.Emit(evt)
	s.router.Route(evt)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "event_id": evt.ID})
}

// validateIngest admits only the version control pass-through types; every
// other event type originates inside the coordinator and cannot be injected.
func validateIngest(evt event.Event) error {
	if evt.ProjectID == 0 {
		return fmt.Errorf("project_id is required")
	}
	switch evt.Type {
	case event.TypeCommitCreated:
		if stringPayload(evt, "commit_hash") == "" || stringPayload(evt, "commit_message") == "" {
			return fmt.Errorf("commit_created requires commit_hash and commit_message")
		}
	case event.TypeBranchCreated:
		branch, ok := evt.Fields["branch"].(map[string]any)
		if !ok {
			return fmt.Errorf("branch_created requires a branch record")
		}
		if name, _ := branch["name"].(string); name == "" {
			return fmt.Errorf("branch record requires a name")
		}
	default:
		return fmt.Errorf("event type %q is not accepted here", evt.Type)
	}
	return nil
}

func stringPayload(evt event.Event, key string) string {
	value, _ := evt.Fields[key].(string)
	return value
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectParam(w, r)
	if !ok {
		return
	}
	workers := s.store.Workers(projectID)
	if workers == nil {
		workers = []model.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectParam(w, r)
	if !ok {
		return
	}
	tasks := s.store.RecentTasks(projectID, limitParam(r))
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectParam(w, r)
	if !ok {
		return
	}
	activity := s.store.RecentActivity(projectID, limitParam(r))
	if activity == nil {
		activity = []model.ActivityItem{}
	}
	writeJSON(w, http.StatusOK, activity)
}

func (s *Server) projectParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return 0, false
	}
	raw := r.URL.Query().Get("project_id")
	projectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || projectID < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project_id"})
		return 0, false
	}
	return projectID, true
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
