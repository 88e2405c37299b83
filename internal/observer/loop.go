package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// resyncBackoff is the delay between failed resynchronization attempts.
const resyncBackoff = 2 * time.Second

// Loop is the single-threaded observer runtime. One goroutine owns the
// snapshot: it resynchronizes on start and after every reconnect signal, maps
// raw wire events to commands, and folds commands into the snapshot. Readers
// pull the latest snapshot from Updates or Current and never see one
// mid-reduction.
type Loop struct {
	mapper     *Mapper
	controller *Controller
	log        *zap.Logger

	mu      sync.Mutex
	current Snapshot
	updates chan Snapshot
}

// NewLoop assembles an observer runtime.
func NewLoop(mapper *Mapper, controller *Controller, log *zap.Logger) (*Loop, error) {
	if mapper == nil {
		return nil, fmt.Errorf("observer: mapper is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("observer: resync controller is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		mapper:     mapper,
		controller: controller,
		log:        log,
		current:    NewSnapshot(),
		updates:    make(chan Snapshot, 1),
	}, nil
}

// Updates delivers the latest snapshot after each change. The channel holds
// one element; a slow reader sees the newest snapshot, not every intermediate
// one.
func (l *Loop) Updates() <-chan Snapshot {
	return l.updates
}

// Current returns the most recently published snapshot.
func (l *Loop) Current() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Run consumes raw events until ctx is cancelled. Each value on reconnects
// marks a healed connectivity gap and triggers a full resynchronization
// before further events apply.
func (l *Loop) Run(ctx context.Context, events <-chan map[string]any, reconnects <-chan struct{}) error {
	if err := l.resync(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnects:
			if err := l.resync(ctx); err != nil {
				return err
			}
		case raw, ok := <-events:
			if !ok {
				return nil
			}
			cmd, mapped := l.mapper.Map(raw)
			if !mapped {
				continue
			}
			l.publish(Reduce(l.Current(), cmd))
		}
	}
}

// resync retries until a full snapshot lands or ctx is cancelled. Local state
// stays untouched across failed attempts.
func (l *Loop) resync(ctx context.Context) error {
	for {
		next, err := l.controller.Resync(ctx, l.Current())
		if err == nil {
			l.publish(next)
			return nil
		}
		l.log.Warn("resync failed, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resyncBackoff):
		}
	}
}

func (l *Loop) publish(next Snapshot) {
	l.mu.Lock()
	l.current = next
	l.mu.Unlock()
	select {
	case l.updates <- next:
	default:
		// Replace the stale pending snapshot.
		select {
		case <-l.updates:
		default:
		}
		select {
		case l.updates <- next:
		default:
		}
	}
}
