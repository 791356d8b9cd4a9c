package castprotocol

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go2tv.app/castcompanion/internal/playback"
	"go2tv.app/castcompanion/internal/session"
)

const (
	DefaultPollInterval    = time.Second
	DefaultDisconnectAfter = 3
	eventBuffer            = 16
)

// ErrNotConnected is returned by Session.Current before the first successful poll.
var ErrNotConnected = errors.New("cast session not connected")

// StatusSource is the part of CastClient a Session needs.
type StatusSource interface {
	Connect() error
	GetStatus() (*CastStatus, error)
	Close(stopMedia bool) error
}

// SessionOptions configures a Session. Zero values select the defaults.
type SessionOptions struct {
	PollInterval    time.Duration
	DisconnectAfter int
	Logger          zerolog.Logger
}

// Session turns periodic status polls into session events.
type Session struct {
	src             StatusSource
	limiter         *rate.Limiter
	disconnectAfter int
	log             zerolog.Logger
	events          chan session.Event

	mu       sync.Mutex
	last     session.Snapshot
	haveLast bool
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown bool
}

var _ session.Client = (*Session)(nil)

// NewSession creates a session on top of src. Nothing is sent to the device
// until Init.
func NewSession(src StatusSource, opts SessionOptions) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DisconnectAfter <= 0 {
		opts.DisconnectAfter = DefaultDisconnectAfter
	}
	return &Session{
		src:             src,
		limiter:         rate.NewLimiter(rate.Every(opts.PollInterval), 1),
		disconnectAfter: opts.DisconnectAfter,
		log:             opts.Logger.With().Str("Component", "session").Logger(),
		events:          make(chan session.Event, eventBuffer),
	}
}

// Init connects, reads the initial state and starts polling.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.New("session already shut down")
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.src.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	st, err := s.src.GetStatus()
	if err != nil {
		_ = s.src.Close(false)
		return errors.Wrap(err, "initial status")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.last = snapshotOf(st)
	s.haveLast = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.log.Debug().Str("Method", "Init").Str("State", st.PlayerState).Msg("session started")
	go s.poll(ctx, done)
	return nil
}

// Events returns the event stream. It is closed by Shutdown.
func (s *Session) Events() <-chan session.Event {
	return s.events
}

// Current returns the last polled state.
func (s *Session) Current() (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveLast {
		return session.Snapshot{}, ErrNotConnected
	}
	return s.last, nil
}

// Shutdown stops polling, closes the event stream and disconnects without
// stopping playback on the device.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		close(s.events)
		return nil
	}
	cancel()
	<-done
	close(s.events)
	if err := s.src.Close(false); err != nil {
		return errors.Wrap(err, "close cast client")
	}
	return nil
}

func (s *Session) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		st, err := s.src.GetStatus()
		if err != nil {
			failures++
			s.log.Debug().Str("Method", "poll").Int("Failures", failures).Err(err).Msg("status poll failed")
			if failures == s.disconnectAfter {
				s.markDisconnected(ctx)
			}
			continue
		}
		failures = 0
		s.update(ctx, snapshotOf(st))
	}
}

func (s *Session) markDisconnected(ctx context.Context) {
	s.mu.Lock()
	s.last = session.Snapshot{}
	s.mu.Unlock()
	s.log.Warn().Str("Method", "poll").Msg("receiver unreachable")
	s.emit(ctx, session.Event{Kind: session.KindDisconnected})
}

func (s *Session) update(ctx context.Context, next session.Snapshot) {
	s.mu.Lock()
	prev := s.last
	s.last = next
	s.mu.Unlock()

	for _, kind := range diff(prev, next) {
		s.emit(ctx, session.Event{Kind: kind, Snapshot: next})
	}
}

func (s *Session) emit(ctx context.Context, ev session.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// diff lists the events that lead from prev to next. Metadata goes first so
// that surfaces see the new artwork before they react to the new state.
func diff(prev, next session.Snapshot) []session.Kind {
	var kinds []session.Kind
	if prev.MediaID != next.MediaID || prev.ArtworkURL != next.ArtworkURL || prev.Title != next.Title {
		kinds = append(kinds, session.KindMetadata)
	}
	if prev.PlayerState != next.PlayerState || prev.IdleReason != next.IdleReason ||
		prev.StreamType != next.StreamType || prev.Connected != next.Connected {
		kinds = append(kinds, session.KindStatus)
	}
	return kinds
}

func snapshotOf(st *CastStatus) session.Snapshot {
	return session.Snapshot{
		PlayerState: playback.ParsePlayerState(st.PlayerState),
		IdleReason:  playback.ParseIdleReason(st.IdleReason),
		StreamType:  playback.ParseStreamType(st.StreamType),
		MediaID:     st.ContentID,
		ArtworkURL:  st.ArtworkURL,
		Title:       st.MediaTitle,
		Connected:   true,
	}
}
