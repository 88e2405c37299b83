package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/crucible/internal/event"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers events to per-project subscribers with buffering,
// deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[int64]map[*subscriber]struct{}
	backlog      map[int64][]event.Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	log          *zap.Logger
}

// Subscription represents an active project subscription.
type Subscription struct {
	Events <-chan event.Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[int64]map[*subscriber]struct{}{},
		backlog:      map[int64][]event.Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop diagnostics.
func RouterWithLogger(log *zap.Logger) RouterOption {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events keyed by project ID.
func (r *Router) Subscribe(projectID int64) Subscription {
	sub := newSubscriber(r.channelSize, r.log)
	var backlog []event.Event
	r.mu.Lock()
	if r.subscribers[projectID] == nil {
		r.subscribers[projectID] = map[*subscriber]struct{}{}
	}
	r.subscribers[projectID][sub] = struct{}{}
	if existing := r.backlog[projectID]; len(existing) > 0 {
		backlog = append(backlog, existing...)
		delete(r.backlog, projectID)
	}
	r.mu.Unlock()
	for _, evt := range backlog {
		sub.deliver(evt)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(projectID, sub)
		},
	}
}

// Emit implements event.Sink so the router can sit directly behind the
// encoder.
func (r *Router) Emit(evt event.Event) {
	r.Route(evt)
}

// Route delivers the event to subscribers or buffers it when no subscriber
// exists yet.
func (r *Router) Route(evt event.Event) {
	if evt.ID != "" && r.isDuplicate(evt.ID) {
		return
	}
	if evt.ProjectID == 0 {
		return
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(evt.ProjectID)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(evt.ProjectID, evt)
		return
	}
	for _, sub := range subs {
		sub.deliver(evt)
	}
}

func (r *Router) snapshotSubscribers(projectID int64) []*subscriber {
	live := r.subscribers[projectID]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(projectID int64, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[projectID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, projectID)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(projectID int64, evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[projectID]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		r.log.Debug("backlog drop",
			zap.Int64("project_id", projectID),
			zap.Int("limit", r.backlogLimit))
	}
	queue = append(queue, evt)
	r.backlog[projectID] = queue
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan event.Event
	log     *zap.Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, log *zap.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:  make(chan event.Event, capacity),
		log: log,
	}
}

func (s *subscriber) channel() <-chan event.Event {
	return s.ch
}

func (s *subscriber) deliver(evt event.Event) {
	if s.isClosed() {
		return
	}
	select {
	case s.ch <- evt:
		return
	default:
		oldest := <-s.ch
		if shouldDropOldest(oldest, evt) {
			s.logDrop(oldest, "queue overflow")
			s.ch <- evt
		} else {
			s.ch <- oldest
			s.logDrop(evt, "queue overflow:incoming")
		}
	}
}

func (s *subscriber) logDrop(evt event.Event, reason string) {
	s.log.Debug("dropped event",
		zap.String("type", string(evt.Type)),
		zap.String("reason", reason))
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.closeMu.Unlock()
}

func (s *subscriber) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// shouldDropOldest decides which side of an overflow to shed. Activity and
// progress events are refreshed constantly and are the preferred drops;
// lifecycle transitions are not, since an observer that misses one must
// resynchronize to recover.
func shouldDropOldest(oldest, incoming event.Event) bool {
	oldestPreferred := isPreferredDrop(oldest.Type)
	incomingPreferred := isPreferredDrop(incoming.Type)
	if oldestPreferred && !incomingPreferred {
		return true
	}
	if !oldestPreferred && incomingPreferred {
		return false
	}
	return true
}

func isPreferredDrop(kind event.Type) bool {
	return kind == event.TypeActivityUpdate || kind == event.TypeProgressUpdate
}
