// Package store holds the authoritative per-project state the coordinator
// mutates and the resynchronization queries read. The in-memory
// implementation is the source of truth for this process; a durable engine
// behind the same query shape is an external concern.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/crucible/internal/model"
)

// ErrNotFound is returned when a worker or task lookup misses.
var ErrNotFound = fmt.Errorf("store: not found")

type projectState struct {
	workers  map[string]model.Worker
	tasks    map[int64]model.Task
	activity []model.ActivityItem
	progress model.Progress
}

// Memory is the in-process authoritative store, keyed by project id. All
// methods are safe for concurrent use; the coordinator's per-project
// serialization happens above this layer.
type Memory struct {
	mu       sync.RWMutex
	projects map[int64]*projectState
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{projects: make(map[int64]*projectState)}
}

func (m *Memory) project(id int64) *projectState {
	p, ok := m.projects[id]
	if !ok {
		p = &projectState{
			workers: make(map[string]model.Worker),
			tasks:   make(map[int64]model.Task),
		}
		m.projects[id] = p
	}
	return p
}

// PutWorker inserts or replaces a worker.
func (m *Memory) PutWorker(projectID int64, w model.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project(projectID).workers[w.ID] = w.Clone()
}

// Worker fetches one worker by id.
func (m *Memory) Worker(projectID int64, id string) (model.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return model.Worker{}, ErrNotFound
	}
	w, ok := p.workers[id]
	if !ok {
		return model.Worker{}, ErrNotFound
	}
	return w.Clone(), nil
}

// RemoveWorker deletes a worker from the pool.
func (m *Memory) RemoveWorker(projectID int64, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[projectID]; ok {
		delete(p.workers, id)
	}
}

// Workers lists every worker for the project, ordered by id for deterministic
// iteration.
func (m *Memory) Workers(projectID int64) []model.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	out := make([]model.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutTask inserts or replaces a task.
func (m *Memory) PutTask(projectID int64, t model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project(projectID).tasks[t.ID] = t.Clone()
}

// Task fetches one task by id.
func (m *Memory) Task(projectID, id int64) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	t, ok := p.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

// Tasks lists every task for the project in ascending id order.
func (m *Memory) Tasks(projectID int64) []model.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	out := make([]model.Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecentTasks lists up to limit tasks ordered by most recent update first.
// A limit <= 0 means no bound.
func (m *Memory) RecentTasks(projectID int64, limit int) []model.Task {
	out := m.Tasks(projectID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AppendActivity records an activity entry, evicting the oldest beyond the
// feed bound.
func (m *Memory) AppendActivity(projectID int64, item model.ActivityItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.project(projectID)
	p.activity = model.AppendActivity(p.activity, item)
}

// RecentActivity lists up to limit of the newest activity entries, oldest
// first. A limit <= 0 returns the whole bounded feed.
func (m *Memory) RecentActivity(projectID int64, limit int) []model.ActivityItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	items := p.activity
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]model.ActivityItem, len(items))
	copy(out, items)
	return out
}

// SetProgress replaces the project progress summary outright.
func (m *Memory) SetProgress(projectID int64, p model.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project(projectID).progress = p
}

// Progress returns the last stored progress summary.
func (m *Memory) Progress(projectID int64) model.Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return model.Progress{}
	}
	return p.progress
}

// ProjectIDs lists every project with state, ascending.
func (m *Memory) ProjectIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.projects))
	for id := range m.projects {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
