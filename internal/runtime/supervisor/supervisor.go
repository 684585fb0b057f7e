// Package supervisor runs the bot's long-lived goroutines under one context,
// recovering panics and restarting loops that are expected to self-heal.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "scuttlebot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // error
	wg          sync.WaitGroup
	doneOnce    sync.Once
	doneCh      chan struct{}

	mu    sync.Mutex
	tasks map[string]*TaskStats
}

// TaskStats is a best-effort view of one named goroutine, for health output.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Starts    int       `json:"starts"`
	Panics    int       `json:"panics"`
	LastErr   string    `json:"last_err,omitempty"`
	LastStart time.Time `json:"last_start"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every task when one returns a non-nil error.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, doneCh: make(chan struct{}), tasks: map[string]*TaskStats{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err is the first error any task returned.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) setErr(err error) {
	if err != nil {
		s.errOnce.Do(func() { s.firstErr.Store(err) })
	}
}

// Snapshot lists tasks sorted by name.
func (s *Supervisor) Snapshot() []TaskStats {
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) track(name string, fn func(t *TaskStats)) {
	s.mu.Lock()
	t := s.tasks[name]
	if t == nil {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	fn(t)
	s.mu.Unlock()
}

// runOnce calls fn, converting a panic into an error.
func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	s.track(name, func(t *TaskStats) {
		t.Running = true
		t.Starts++
		t.LastStart = time.Now()
	})
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.track(name, func(t *TaskStats) { t.Panics++ })
			err = fmt.Errorf("panic: %v", r)
		}
		s.track(name, func(t *TaskStats) {
			t.Running = false
			if err != nil && !errors.Is(err, context.Canceled) {
				t.LastErr = err.Error()
			}
		})
	}()
	return fn(s.ctx)
}

// Go runs fn once. context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.runOnce(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.setErr(fmt.Errorf("%s: %w", name, err))
			if s.cancelOnErr {
				s.cancel()
			}
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// GoRestart runs fn and restarts it with exponential backoff whenever it
// fails or panics. A nil return or a cancelled context ends the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, maxBackoff time.Duration) {
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = min(250*time.Millisecond, maxBackoff)
		bo.MaxInterval = maxBackoff
		bo.MaxElapsedTime = 0

		for {
			started := time.Now()
			err := s.runOnce(name, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			// A long healthy run earns a fresh backoff window.
			if time.Since(started) >= 30*time.Second {
				bo.Reset()
			}
			wait := bo.NextBackOff()
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
}

// Stop cancels every task and waits for them up to ctx's deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
