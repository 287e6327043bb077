package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/aura/underwriting/internal/events"
)

// Invalidator drops a cached underwriting view after its factors change.
// The redis cache client satisfies it.
type Invalidator interface {
	InvalidateSnapshot(ctx context.Context, underwritingID string)
}

// Listener watches workflow completions on the in-process bus and, for
// each successful run, invalidates the read cache and archives the
// resulting factor set. Archive failures are logged, never propagated:
// the workflow already committed.
type Listener struct {
	bus      *events.EventBus
	archiver Archiver
	inv      Invalidator
	logger   *slog.Logger
	done     chan struct{}
}

func NewListener(bus *events.EventBus, archiver Archiver, inv Invalidator) *Listener {
	return &Listener{
		bus:      bus,
		archiver: archiver,
		inv:      inv,
		logger:   slog.With("component", "snapshot"),
		done:     make(chan struct{}),
	}
}

// Run drains workflow completion events until Stop is called.
func (l *Listener) Run() {
	sub := l.bus.Subscribe(events.TypeWorkflowCompleted)
	defer l.bus.Unsubscribe(sub)

	for {
		select {
		case <-l.done:
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			l.handle(event)
		}
	}
}

func (l *Listener) Stop() { close(l.done) }

func (l *Listener) handle(event *events.CloudEvent) {
	underwritingID := event.Subject
	if underwritingID == "" {
		return
	}
	success, _ := event.Data["success"].(bool)
	if !success {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if l.inv != nil {
		l.inv.InvalidateSnapshot(ctx, underwritingID)
	}

	if l.archiver == nil {
		return
	}
	workflow, _ := event.Data["workflow"].(string)
	if _, err := l.archiver.Archive(ctx, underwritingID, workflow); err != nil {
		l.logger.Error("factor snapshot archive failed",
			"underwriting_id", underwritingID,
			"workflow", workflow,
			"error", err,
		)
	}
}
