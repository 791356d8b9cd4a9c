// Package uiloop provides the single execution context that surfaces are
// driven from. Everything a surface sees (renders, artwork, session events)
// is funneled through one Loop so surfaces never need their own locking.
package uiloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrRunning is returned when Run is called on a loop that already runs.
var ErrRunning = errors.New("ui loop already running")

// Executor runs functions on a surface's execution context.
type Executor interface {
	Post(fn func())
}

// Inline runs posted functions immediately on the caller's goroutine.
type Inline struct{}

// Post calls fn.
func (Inline) Post(fn func()) { fn() }

// Loop is a FIFO executor backed by one goroutine. Post never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool
	log     zerolog.Logger
}

// New creates a loop. It does nothing until Run is called.
func New(log zerolog.Logger) *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  log.With().Str("Component", "uiloop").Logger(),
	}
}

// Post queues fn. Functions run in the order they were posted.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits until it ran. It must not be called from the loop
// itself. If the loop stops before fn runs, Do returns false.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Run executes posted functions until ctx is done. Functions still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(l.done)

	for {
		batch := l.take()
		for _, fn := range batch {
			if ctx.Err() != nil {
				return nil
			}
			l.call(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("Method", "Run").Str("Panic", fmt.Sprint(r)).Msg("posted function panicked")
		}
	}()
	fn()
}
