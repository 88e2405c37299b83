package observer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/crucible/internal/model"
)

// Resync fetch bounds. Workers are few enough to fetch whole; tasks and
// activity are bounded to the recent window the dashboard shows.
const (
	ResyncTaskLimit     = 200
	ResyncActivityLimit = model.ActivityLimit
)

// Source answers the three resynchronization queries. The bridge client is
// the usual implementation; tests plug in fakes.
type Source interface {
	Workers(ctx context.Context, projectID int64) ([]model.Worker, error)
	RecentTasks(ctx context.Context, projectID int64, limit int) ([]model.Task, error)
	RecentActivity(ctx context.Context, projectID int64, limit int) ([]model.ActivityItem, error)
}

// Controller heals an observer after a connectivity gap by fetching a full
// authoritative snapshot and replacing local collections outright.
type Controller struct {
	source    Source
	projectID int64
	clock     func() time.Time
}

// ControllerOption customizes controller construction.
type ControllerOption func(*Controller)

// WithControllerClock injects a deterministic clock for tests.
func WithControllerClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewController wires a resync controller to its query source.
func NewController(projectID int64, source Source, opts ...ControllerOption) (*Controller, error) {
	if source == nil {
		return nil, fmt.Errorf("observer: resync source is required")
	}
	c := &Controller{
		source:    source,
		projectID: projectID,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Resync issues the three queries concurrently and commits the merged result
// only once all three succeed. Any single failure fails the whole attempt and
// returns the prior snapshot untouched; the caller retries. On success the
// worker and task collections are replaced outright and the snapshot is
// stamped with the synchronization time so future gaps are detectable.
func (c *Controller) Resync(ctx context.Context, prior Snapshot) (Snapshot, error) {
	var (
		workers  []model.Worker
		tasks    []model.Task
		activity []model.ActivityItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		workers, err = c.source.Workers(gctx, c.projectID)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = c.source.RecentTasks(gctx, c.projectID, ResyncTaskLimit)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = c.source.RecentActivity(gctx, c.projectID, ResyncActivityLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return prior, fmt.Errorf("observer: resync project %d: %w", c.projectID, err)
	}

	next := NewSnapshot()
	for _, w := range workers {
		next.Workers[w.ID] = w.Clone()
	}
	for _, t := range tasks {
		next.Tasks[t.ID] = t.Clone()
	}
	for _, item := range activity {
		next.Activity = model.AppendActivity(next.Activity, item)
	}
	next.Progress = prior.cloneProgress()
	next.Progress[c.projectID] = model.ComputeProgress(tasks)
	next.Commits = append([]CommitRecord(nil), prior.Commits...)
	next.Branches = append([]BranchRecord(nil), prior.Branches...)
	next.LastSyncedAt = float64(c.clock().UnixMilli())
	return next, nil
}
