package registry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go2tv.app/castcompanion/internal/playback"
	"go2tv.app/castcompanion/internal/session"
)

type recorder struct {
	name   string
	log    *[]string
	handle func(ev session.Event) error
}

func (r *recorder) HandleEvent(ev session.Event) error {
	*r.log = append(*r.log, r.name)
	if r.handle != nil {
		return r.handle(ev)
	}
	return nil
}

type fakeClient struct {
	mu       sync.Mutex
	events   chan session.Event
	current  session.Snapshot
	inited   bool
	shutdown bool
	initErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan session.Event, 8)}
}

func (f *fakeClient) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inited = true
	return f.initErr
}

func (f *fakeClient) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shutdown {
		f.shutdown = true
		close(f.events)
	}
	return nil
}

func (f *fakeClient) Events() <-chan session.Event { return f.events }

func (f *fakeClient) Current() (session.Snapshot, error) { return f.current, nil }

func statusEvent(state playback.PlayerState) session.Event {
	return session.Event{Kind: session.KindStatus, Snapshot: session.Snapshot{PlayerState: state, Connected: true}}
}

func TestDispatchInSubscriptionOrder(t *testing.T) {
	var log []string
	r := New(nil, nil, zerolog.Nop())
	for _, n := range []string{"mini", "notification", "dialog", "player"} {
		r.Subscribe(&recorder{name: n, log: &log})
	}

	r.Dispatch(statusEvent(playback.StatePlaying))
	require.Equal(t, []string{"mini", "notification", "dialog", "player"}, log)
}

func TestSubscribeTwiceIsNoop(t *testing.T) {
	var log []string
	r := New(nil, nil, zerolog.Nop())
	c := &recorder{name: "a", log: &log}
	r.Subscribe(c)
	r.Subscribe(c)

	r.Dispatch(statusEvent(playback.StatePaused))
	require.Equal(t, []string{"a"}, log)
	require.Equal(t, 1, r.Len())
}

func TestFailingConsumerDoesNotBlockOthers(t *testing.T) {
	var (
		log []string
		out bytes.Buffer
	)
	r := New(nil, nil, zerolog.New(&out))
	r.Subscribe(&recorder{name: "erroring", log: &log, handle: func(session.Event) error { return errors.New("render failed") }})
	r.Subscribe(&recorder{name: "panicking", log: &log, handle: func(session.Event) error { panic("nil view") }})
	r.Subscribe(&recorder{name: "healthy", log: &log})

	require.NotPanics(t, func() { r.Dispatch(statusEvent(playback.StatePlaying)) })
	require.Equal(t, []string{"erroring", "panicking", "healthy"}, log)
	require.Equal(t, 2, strings.Count(out.String(), "consumer failed"))
}

func TestDeliverWrapsErrors(t *testing.T) {
	var log []string
	r := New(nil, nil, zerolog.Nop())
	err := r.deliver(&recorder{name: "x", log: &log, handle: func(session.Event) error { panic("boom") }}, session.Event{})
	require.True(t, errors.Is(err, ErrDispatchFailed))
}

func TestUnsubscribeMidDispatchSkipsUnvisited(t *testing.T) {
	var log []string
	r := New(nil, nil, zerolog.Nop())
	late := &recorder{name: "late", log: &log}
	first := &recorder{name: "first", log: &log, handle: func(session.Event) error {
		r.Unsubscribe(late)
		return nil
	}}
	r.Subscribe(first)
	r.Subscribe(late)

	r.Dispatch(statusEvent(playback.StatePlaying))
	require.Equal(t, []string{"first"}, log)

	r.Dispatch(statusEvent(playback.StatePaused))
	require.Equal(t, []string{"first", "first"}, log)
}

func TestSubscribeMidDispatchMissesCurrentEvent(t *testing.T) {
	var log []string
	r := New(nil, nil, zerolog.Nop())
	added := &recorder{name: "added", log: &log}
	var once sync.Once
	r.Subscribe(&recorder{name: "first", log: &log, handle: func(session.Event) error {
		once.Do(func() { r.Subscribe(added) })
		return nil
	}})

	r.Dispatch(statusEvent(playback.StatePlaying))
	require.Equal(t, []string{"first"}, log)

	r.Dispatch(statusEvent(playback.StatePaused))
	require.Equal(t, []string{"first", "first", "added"}, log)
}

func TestCompactionKeepsOrder(t *testing.T) {
	var log []string
	r := New(nil, nil, zerolog.Nop())
	consumers := make([]*recorder, 10)
	for i := range consumers {
		consumers[i] = &recorder{name: string(rune('a' + i)), log: &log}
		r.Subscribe(consumers[i])
	}
	for i := 0; i < 8; i++ {
		r.Unsubscribe(consumers[i])
	}
	r.Subscribe(consumers[0])

	r.Dispatch(statusEvent(playback.StatePlaying))
	require.Equal(t, []string{"i", "j", "a"}, log)
	require.Equal(t, 3, r.Len())
}

func TestDispatchFromHandlerIsQueued(t *testing.T) {
	r := New(nil, nil, zerolog.Nop())
	var log []string
	nested := false
	r.Subscribe(&recorder{name: "a", log: &log, handle: func(ev session.Event) error {
		if !nested {
			nested = true
			r.Dispatch(statusEvent(playback.StatePaused))
		}
		return nil
	}})
	r.Subscribe(&recorder{name: "b", log: &log})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Dispatch(statusEvent(playback.StatePlaying))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch() from a handler deadlocked")
	}

	// The nested event waits until every consumer saw the first one.
	require.Equal(t, []string{"a", "b", "a", "b"}, log)
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	r := New(nil, nil, zerolog.Nop())
	var mu sync.Mutex
	count := 0
	counter := func(session.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				var log []string
				c := &recorder{name: "c", log: &log, handle: counter}
				r.Subscribe(c)
				r.Unsubscribe(c)
			}
		}()
	}
	for range 50 {
		r.Dispatch(statusEvent(playback.StateBuffering))
	}
	wg.Wait()
	require.Zero(t, r.Len())
}

func TestStartPumpsClientEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	client := newFakeClient()
	client.current = session.Snapshot{PlayerState: playback.StatePaused, Connected: true}
	r := New(client, nil, zerolog.Nop())

	got := make(chan session.Event, 4)
	var log []string
	r.Subscribe(&recorder{name: "a", log: &log, handle: func(ev session.Event) error {
		got <- ev
		return nil
	}})

	require.NoError(t, r.Start(context.Background()))
	require.ErrorIs(t, r.Start(context.Background()), ErrStarted)

	snap, err := r.Current()
	require.NoError(t, err)
	require.Equal(t, playback.StatePaused, snap.PlayerState)

	client.events <- statusEvent(playback.StatePlaying)
	select {
	case ev := <-got:
		require.Equal(t, playback.StatePlaying, ev.Snapshot.PlayerState)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched")
	}

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	require.True(t, client.shutdown)
}

func TestStartFailsWhenInitFails(t *testing.T) {
	client := newFakeClient()
	client.initErr = errors.New("no device")
	r := New(client, nil, zerolog.Nop())

	require.Error(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())

	client.initErr = nil
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}
