package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/aura/underwriting/internal/monitoring"
)

// Scheduler serializes workflow dispatch per underwriting: two workflows
// for the same key run one after the other, workflows for different keys
// run in parallel. This keeps every read-modify-write of
// currentExecutionsList single-threaded without database locks.
type Scheduler struct {
	mu      sync.Mutex
	locks   map[string]*keyLock
	metrics *monitoring.Metrics
	logger  *log.Logger
}

type keyLock struct {
	slot chan struct{} // capacity 1
	refs int
}

// NewScheduler creates an empty scheduler.
func NewScheduler(metrics *monitoring.Metrics) *Scheduler {
	return &Scheduler{
		locks:   make(map[string]*keyLock),
		metrics: metrics,
		logger:  log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags),
	}
}

// Do runs fn while holding the lock for key. The call blocks until the
// key is free or ctx is done; a panic inside fn is recovered and
// returned as an error so a poisoned workflow cannot wedge its key.
func (s *Scheduler) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if key == "" {
		key = "_unkeyed"
	}

	kl := s.acquireRef(key)
	s.metrics.SetQueueDepth(1)

	select {
	case kl.slot <- struct{}{}:
		s.metrics.SetQueueDepth(-1)
	case <-ctx.Done():
		s.metrics.SetQueueDepth(-1)
		s.releaseRef(key, kl)
		return ctx.Err()
	}

	defer func() {
		<-kl.slot
		s.releaseRef(key, kl)
	}()

	return s.run(ctx, key, fn)
}

func (s *Scheduler) run(ctx context.Context, key string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("❌ workflow panic for key %s: %v", key, r)
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return fn(ctx)
}

// PendingKeys reports how many keys currently hold or await a lock.
func (s *Scheduler) PendingKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Scheduler) acquireRef(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		s.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (s *Scheduler) releaseRef(key string, kl *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(s.locks, key)
	}
}
