// Package surface binds display surfaces to the session registry and the
// artwork cache.
package surface

import (
	"image"
	"sync"

	"github.com/rs/zerolog"

	"go2tv.app/castcompanion/internal/imagecache"
	"go2tv.app/castcompanion/internal/playback"
	"go2tv.app/castcompanion/internal/registry"
	"go2tv.app/castcompanion/internal/session"
)

// Surface is anything that shows playback controls and artwork. Both methods
// are called on the UI loop.
type Surface interface {
	Render(d playback.Directive)
	SetImage(img image.Image)
}

// Titled is implemented by surfaces that show the media title. SetTitle is
// called on the UI loop whenever the receiver reports a new, non-empty title.
type Titled interface {
	SetTitle(title string)
}

// Binding keeps one Surface in sync with the session while it is attached.
// Attach, Detach and MarkLoadStarted must be called on the UI loop.
type Binding struct {
	name    string
	surface Surface
	reg     *registry.Registry
	cache   *imagecache.Cache
	log     zerolog.Logger
	fresh   playback.Freshness

	mu          sync.Mutex
	attached    bool
	generation  uint64
	hasRendered bool
	last        playback.Directive
	lastURL     string
	lastTitle   string
	req         *imagecache.Request
}

// NewBinding creates a detached binding.
func NewBinding(name string, s Surface, reg *registry.Registry, cache *imagecache.Cache, log zerolog.Logger) *Binding {
	return &Binding{
		name:    name,
		surface: s,
		reg:     reg,
		cache:   cache,
		log:     log.With().Str("Component", "surface").Str("Surface", name).Logger(),
	}
}

// Name returns the surface name given to NewBinding.
func (b *Binding) Name() string { return b.name }

// Attached reports whether the binding currently receives events.
func (b *Binding) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

// Attach subscribes to session events and renders the current session state
// right away. If the current state cannot be read the surface is hidden and
// the error returned; the binding stays attached and recovers on the next event.
func (b *Binding) Attach() error {
	b.mu.Lock()
	if b.attached {
		b.mu.Unlock()
		return nil
	}
	b.attached = true
	b.generation++
	b.hasRendered = false
	b.lastURL = ""
	b.lastTitle = ""
	b.mu.Unlock()

	b.reg.Subscribe(b)

	snap, err := b.reg.Current()
	if err != nil {
		b.log.Warn().Str("Method", "Attach").Err(err).Msg("cannot read session state")
		snap = session.Snapshot{}
	}
	b.apply(snap, false, true)
	return err
}

// Detach stops event delivery and drops any pending artwork request.
func (b *Binding) Detach() {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return
	}
	b.attached = false
	b.generation++
	req := b.req
	b.req = nil
	b.hasRendered = false
	b.lastURL = ""
	b.lastTitle = ""
	b.mu.Unlock()

	b.reg.Unsubscribe(b)
	b.cache.Cancel(req)
	b.fresh.Reset()
}

// MarkLoadStarted tells the binding that a new item is being loaded, so
// IDLE/FINISHED reports belong to the previous item until the receiver
// shows the new one playing, paused or buffering.
func (b *Binding) MarkLoadStarted() {
	b.fresh.MarkLoad()
}

// HandleEvent implements registry.Consumer.
func (b *Binding) HandleEvent(ev session.Event) error {
	snap := ev.Snapshot
	if ev.Kind == session.KindDisconnected {
		snap = session.Snapshot{}
	}
	b.apply(snap, ev.Kind == session.KindStatus, false)
	return nil
}

// apply renders snap. Only status reports may settle the freshness flag;
// metadata and attach renders just read it.
func (b *Binding) apply(snap session.Snapshot, status, attaching bool) {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return
	}
	d := playback.Directive{SurfaceHidden: true}
	url := ""
	if snap.Connected {
		fresh := b.fresh.Armed()
		if status {
			fresh = b.fresh.Observe(snap.PlayerState)
		}
		d = snap.Directive(fresh)
		url = snap.ArtworkURL
	}
	render := !b.hasRendered || d != b.last
	b.hasRendered = true
	b.last = d
	refetch := attaching || url != b.lastURL
	b.lastURL = url
	retitle := snap.Title != "" && snap.Title != b.lastTitle
	if retitle {
		b.lastTitle = snap.Title
	}
	gen := b.generation
	prev := b.req
	b.mu.Unlock()

	if t, ok := b.surface.(Titled); ok && retitle {
		t.SetTitle(snap.Title)
	}
	if render {
		b.surface.Render(d)
	}
	if !refetch {
		return
	}

	req := b.cache.Rebind(prev, url, func(img image.Image) {
		b.deliverImage(gen, url, img)
	})

	b.mu.Lock()
	if b.attached && b.generation == gen && b.lastURL == url {
		b.req = req
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.cache.Cancel(req)
}

func (b *Binding) deliverImage(gen uint64, url string, img image.Image) {
	b.mu.Lock()
	current := b.attached && b.generation == gen && b.lastURL == url
	b.mu.Unlock()
	if !current {
		b.log.Debug().Str("Method", "deliverImage").Str("URL", url).Msg("discarding artwork for superseded request")
		return
	}
	b.surface.SetImage(img)
}
