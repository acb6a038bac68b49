// Package task runs detached background work.  A detached task never blocks or fails the caller
// that spawned it; its error is delivered on the spawner's error channel, which is logged.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Length of the error channel.
const errChanLen = 64

// Func is a unit of detached work.
type Func func(ctx context.Context) error

// Failure describes a detached task that returned an error or panicked.
type Failure struct {
	ID   string
	Name string
	Err  error
	At   time.Time
}

func (f Failure) Error() string {
	return fmt.Sprintf("task %s (%s): %v", f.Name, f.ID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Spawner starts detached tasks bound to its own context, not the caller's.
type Spawner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan Failure
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]string // id -> name
	closed  bool
}

// NewSpawner creates a spawner.  Call Start to begin logging task failures, and Close to cancel
// outstanding tasks.
func NewSpawner() *Spawner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Spawner{
		ctx:     ctx,
		cancel:  cancel,
		errs:    make(chan Failure, errChanLen),
		logger:  log.With().Str("module", "task").Logger(),
		running: make(map[string]string),
	}
}

// SpawnDetached runs fn in a new goroutine and returns its id immediately.  The caller's context
// is not inherited; the task is canceled only when the spawner closes.  A spawner
// that has been closed runs nothing and returns an empty id.
func (s *Spawner) SpawnDetached(name string, fn Func) string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug().Str("task", name).Msg("Spawner closed, task dropped")
		return ""
	}
	id := uuid.NewString()
	s.running[id] = name
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
		if err := s.run(fn); err != nil {
			s.report(Failure{ID: id, Name: name, Err: err, At: time.Now()})
		}
	}()
	return id
}

// Errors returns the channel of task failures.  Start drains it; callers that consume it
// themselves should not also call Start.
func (s *Spawner) Errors() <-chan Failure {
	return s.errs
}

// Start logs task failures until ctx is canceled.
func (s *Spawner) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.errs:
			s.logger.Warn().Str("task", f.Name).Str("id", f.ID).Err(f.Err).
				Msg("Detached task failed")
		}
	}
}

// Running returns the number of tasks still in flight.
func (s *Spawner) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Wait blocks until every spawned task has returned.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

// Close cancels outstanding tasks and waits for them to return.
func (s *Spawner) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Spawner) run(fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		// Canceled by Close.
		return nil
	}
	return err
}

// report delivers f without blocking; failures beyond the channel capacity are logged directly.
func (s *Spawner) report(f Failure) {
	select {
	case s.errs <- f:
	default:
		s.logger.Warn().Str("task", f.Name).Str("id", f.ID).Err(f.Err).
			Msg("Detached task failed, error channel full")
	}
}
