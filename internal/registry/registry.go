// Package registry fans session events out to every attached surface.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"go2tv.app/castcompanion/internal/metrics"
	"go2tv.app/castcompanion/internal/session"
	"go2tv.app/castcompanion/internal/uiloop"
)

var (
	// ErrDispatchFailed wraps the error or panic of a single consumer.
	ErrDispatchFailed = errors.New("consumer failed to handle event")
	// ErrStarted is returned by Start when the registry already runs.
	ErrStarted = errors.New("registry already started")
)

// Consumer handles session events. Implementations are used as map keys
// and must be comparable, which in practice means pointer receivers.
type Consumer interface {
	HandleEvent(ev session.Event) error
}

type subscription struct {
	consumer Consumer
	removed  atomic.Bool
}

// Registry owns the session client and distributes its events.
type Registry struct {
	client session.Client
	exec   uiloop.Executor
	log    zerolog.Logger

	mu     sync.Mutex
	subs   []*subscription
	index  map[Consumer]*subscription
	dead   int
	cancel context.CancelFunc
	pumped chan struct{}

	queued      []session.Event
	dispatching bool
}

// New creates a registry for client. Events read from the client are
// dispatched through exec; a nil exec dispatches on the reading goroutine.
func New(client session.Client, exec uiloop.Executor, log zerolog.Logger) *Registry {
	if exec == nil {
		exec = uiloop.Inline{}
	}
	return &Registry{
		client: client,
		exec:   exec,
		log:    log.With().Str("Component", "registry").Logger(),
		index:  make(map[Consumer]*subscription),
	}
}

// Subscribe adds c. Subscribing an already subscribed consumer is a no-op.
func (r *Registry) Subscribe(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[c]; ok {
		return
	}
	s := &subscription{consumer: c}
	r.index[c] = s
	r.subs = append(r.subs, s)
}

// Unsubscribe removes c. Once it returns, c does not start handling any
// further event, including one whose dispatch is already under way.
func (r *Registry) Unsubscribe(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.index[c]
	if !ok {
		return
	}
	s.removed.Store(true)
	delete(r.index, c)
	r.dead++
	if r.dead > len(r.subs)/2 {
		r.compactLocked()
	}
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

func (r *Registry) compactLocked() {
	live := make([]*subscription, 0, len(r.index))
	for _, s := range r.subs {
		if !s.removed.Load() {
			live = append(live, s)
		}
	}
	r.subs = live
	r.dead = 0
}

// Dispatch delivers ev to every consumer subscribed when its delivery
// starts, in subscription order. Dispatches never interleave: an event
// dispatched while another is being delivered, including from inside a
// handler, is queued and delivered by the goroutine already dispatching
// once the current event is done. A failing consumer is logged and skipped.
func (r *Registry) Dispatch(ev session.Event) {
	r.mu.Lock()
	r.queued = append(r.queued, ev)
	if r.dispatching {
		r.mu.Unlock()
		return
	}
	r.dispatching = true
	r.mu.Unlock()

	for {
		r.mu.Lock()
		if len(r.queued) == 0 {
			r.dispatching = false
			r.mu.Unlock()
			return
		}
		next := r.queued[0]
		r.queued = r.queued[1:]
		snapshot := append([]*subscription(nil), r.subs...)
		r.mu.Unlock()

		r.dispatchOne(next, snapshot)
	}
}

func (r *Registry) dispatchOne(ev session.Event, snapshot []*subscription) {
	for _, s := range snapshot {
		if s.removed.Load() {
			continue
		}
		if err := r.deliver(s.consumer, ev); err != nil {
			metrics.IncDispatchFailure(ev.Kind.String())
			r.log.Error().Str("Method", "Dispatch").Str("Kind", ev.Kind.String()).
				Str("Consumer", fmt.Sprintf("%T", s.consumer)).Err(err).Msg("consumer failed")
		}
	}
}

func (r *Registry) deliver(c Consumer, ev session.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrapf(ErrDispatchFailed, "panic: %v", p)
		}
	}()
	if herr := c.HandleEvent(ev); herr != nil {
		return errors.Wrapf(ErrDispatchFailed, "%v", herr)
	}
	return nil
}

// Current asks the session client for its present state.
func (r *Registry) Current() (session.Snapshot, error) {
	if r.client == nil {
		return session.Snapshot{}, nil
	}
	snap, err := r.client.Current()
	if err != nil {
		return session.Snapshot{}, errors.Wrap(err, "current session state")
	}
	return snap, nil
}

// Start initialises the session client and begins forwarding its events.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.pumped = make(chan struct{})
	pumped := r.pumped
	r.mu.Unlock()

	if err := r.client.Init(ctx); err != nil {
		cancel()
		r.mu.Lock()
		r.cancel, r.pumped = nil, nil
		r.mu.Unlock()
		return errors.Wrap(err, "init session client")
	}

	go r.pump(ctx, pumped)
	return nil
}

func (r *Registry) pump(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := r.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.log.Debug().Str("Method", "pump").Str("Kind", ev.Kind.String()).
				Str("State", ev.Snapshot.PlayerState.String()).Msg("session event")
			r.exec.Post(func() { r.Dispatch(ev) })
		}
	}
}

// Stop shuts the session client down and waits for the event pump to exit.
func (r *Registry) Stop() error {
	r.mu.Lock()
	cancel, pumped := r.cancel, r.pumped
	r.cancel, r.pumped = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	err := r.client.Shutdown()
	<-pumped
	if err != nil {
		return errors.Wrap(err, "shutdown session client")
	}
	return nil
}
