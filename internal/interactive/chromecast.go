// Package interactive is the terminal mini controller.
package interactive

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"go2tv.app/castcompanion/castprotocol"
	"go2tv.app/castcompanion/internal/playback"
)

// Controller is the part of the cast client the keys drive.
type Controller interface {
	Play() error
	Reload() error
	Pause() error
	Stop() error
	Seek(seconds int) error
	SetMuted(muted bool) error
	SetVolume(level float32) error
	GetStatus() (*castprotocol.CastStatus, error)
}

// ChromecastScreen draws the session on a terminal and turns key presses
// into cast commands. Render and SetImage may be called from any goroutine.
type ChromecastScreen struct {
	Current     tcell.Screen
	Client      Controller
	Log         zerolog.Logger
	exitCTXfunc context.CancelFunc
	finiOnce    sync.Once

	mu         sync.RWMutex
	started    bool
	mediaTitle string
	directive  playback.Directive
	rendered   bool
	artwork    image.Point
	hasArtwork bool
	muted      bool
}

// NewChromecastScreen wraps s. cancel is called when the user exits.
func NewChromecastScreen(s tcell.Screen, client Controller, cancel context.CancelFunc, title string) *ChromecastScreen {
	return &ChromecastScreen{
		Current:     s,
		Client:      client,
		Log:         zerolog.Nop(),
		exitCTXfunc: cancel,
		mediaTitle:  title,
	}
}

// InitChromecastScreen creates a screen on the controlling terminal.
func InitChromecastScreen(client Controller, cancel context.CancelFunc, title string) (*ChromecastScreen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, errors.Wrap(err, "chromecast interactive")
	}
	return NewChromecastScreen(s, client, cancel, title), nil
}

func (p *ChromecastScreen) emitStr(x, y int, style tcell.Style, str string) {
	s := p.Current
	for _, c := range str {
		var comb []rune
		w := runewidth.RuneWidth(c)
		if w == 0 {
			comb = []rune{c}
			c = ' '
			w = 1
		}
		s.SetContent(x, y, c, comb, style)
		x += w
	}
}

func (p *ChromecastScreen) emitCentered(y int, style tcell.Style, str string) {
	w, _ := p.Current.Size()
	p.emitStr(w/2-runewidth.StringWidth(str)/2, y, style, str)
}

// Render implements surface.Surface.
func (p *ChromecastScreen) Render(d playback.Directive) {
	p.mu.Lock()
	p.directive = d
	p.rendered = true
	p.mu.Unlock()
	p.draw()
}

// SetImage implements surface.Surface. A terminal cannot show the artwork,
// so only its size is displayed.
func (p *ChromecastScreen) SetImage(img image.Image) {
	p.mu.Lock()
	p.hasArtwork = img != nil
	if img != nil {
		p.artwork = img.Bounds().Size()
	}
	p.mu.Unlock()
	p.draw()
}

// SetTitle changes the displayed media title.
func (p *ChromecastScreen) SetTitle(title string) {
	p.mu.Lock()
	p.mediaTitle = title
	p.mu.Unlock()
	p.draw()
}

// stateText describes a directive the way the status line shows it.
func stateText(d playback.Directive, rendered bool) string {
	switch {
	case !rendered:
		return "Waiting for status..."
	case d.SurfaceHidden:
		return "Stopped"
	case d.LoadingVisible:
		return "Buffering..."
	case d.PlayControlVisible && d.PlayControlGlyph == playback.GlyphPause:
		return "Playing"
	case d.PlayControlVisible && d.PlayControlGlyph == playback.GlyphStop:
		return "Playing (live)"
	case d.PlayControlVisible && d.PlayControlGlyph == playback.GlyphPlay:
		return "Paused"
	default:
		return "Idle"
	}
}

// playPauseAction is what "p" does for the glyph on screen.
func playPauseAction(d playback.Directive) string {
	if !d.PlayControlVisible || d.SurfaceHidden {
		return ""
	}
	switch d.PlayControlGlyph {
	case playback.GlyphPause:
		return "Pause"
	case playback.GlyphStop:
		return "Stop"
	default:
		return "Play"
	}
}

// sessionEnded reports whether the receiver has no media session to resume,
// as after a live stream was cancelled.
func sessionEnded(status *castprotocol.CastStatus) bool {
	return status.PlayerState == "IDLE"
}

const seekStep = 10

// seekTarget is the position a seek key moves to, kept inside the media.
func seekTarget(status *castprotocol.CastStatus, forward bool) int {
	pos := int(status.CurrentTime)
	if forward {
		pos += seekStep
	} else {
		pos -= seekStep
	}
	if status.Duration > 0 {
		pos = min(pos, int(status.Duration))
	}
	return max(pos, 0)
}

func (p *ChromecastScreen) draw() {
	p.mu.RLock()
	title := p.mediaTitle
	state := stateText(p.directive, p.rendered)
	artwork := "No artwork"
	if p.hasArtwork {
		artwork = "Artwork: " + strconv.Itoa(p.artwork.X) + "x" + strconv.Itoa(p.artwork.Y)
	}
	muted := p.muted
	started := p.started
	p.mu.RUnlock()
	if !started {
		return
	}

	s := p.Current
	_, h := s.Size()
	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)
	blinkStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Blink(true)

	s.Clear()
	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to stop and exit.")
	p.emitCentered(h/2-4, tcell.StyleDefault, "Title: "+title)
	p.emitCentered(h/2-2, tcell.StyleDefault, artwork)
	switch state {
	case "Waiting for status...", "Buffering...":
		p.emitCentered(h/2, blinkStyle, state)
	default:
		p.emitCentered(h/2, boldStyle, state)
	}
	if muted {
		p.emitCentered(h/2+2, blinkStyle, "MUTED")
	}
	p.emitCentered(h/2+4, tcell.StyleDefault, `"p" (Play/Pause)`)
	p.emitCentered(h/2+6, tcell.StyleDefault, `"m" (Mute/Unmute)`)
	p.emitCentered(h/2+8, tcell.StyleDefault, `"Page Up" "Page Down" (Volume Up/Down)`)
	p.emitCentered(h/2+10, tcell.StyleDefault, `"Left" "Right" (Seek -/+10s)`)
	s.Show()
}

// Run initialises the terminal and handles input until the user exits or
// ctx is done.
func (p *ChromecastScreen) Run(ctx context.Context) error {
	if err := p.start(); err != nil {
		return err
	}
	s := p.Current

	stop := context.AfterFunc(ctx, p.fini)
	defer stop()

	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			s.Sync()
			p.draw()
		case *tcell.EventKey:
			p.HandleKeyEvent(ev)
		}
	}
}

func (p *ChromecastScreen) start() error {
	s := p.Current
	if err := s.Init(); err != nil {
		return errors.Wrap(err, "chromecast interactive")
	}
	s.SetStyle(tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite))

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	p.draw()
	return nil
}

// HandleKeyEvent handles key press events.
func (p *ChromecastScreen) HandleKeyEvent(ev *tcell.EventKey) {
	if p.Client == nil {
		return
	}

	switch ev.Key() {
	case tcell.KeyEscape:
		p.logErr("Stop", p.Client.Stop())
		p.Fini()
		return
	case tcell.KeyPgUp, tcell.KeyPgDn:
		status, err := p.Client.GetStatus()
		if err != nil {
			p.logErr("GetStatus", err)
			return
		}
		delta := float32(0.05)
		if ev.Key() == tcell.KeyPgDn {
			delta = -delta
		}
		p.logErr("SetVolume", p.Client.SetVolume(min(max(status.Volume+delta, 0), 1)))
		return
	case tcell.KeyLeft, tcell.KeyRight:
		status, err := p.Client.GetStatus()
		if err != nil {
			p.logErr("GetStatus", err)
			return
		}
		p.logErr("Seek", p.Client.Seek(seekTarget(status, ev.Key() == tcell.KeyRight)))
		return
	}

	switch ev.Rune() {
	case 'p':
		p.mu.RLock()
		action := playPauseAction(p.directive)
		p.mu.RUnlock()
		switch action {
		case "Pause":
			p.logErr("Pause", p.Client.Pause())
		case "Play":
			status, err := p.Client.GetStatus()
			if err != nil {
				p.logErr("GetStatus", err)
				return
			}
			if sessionEnded(status) {
				p.logErr("Reload", p.Client.Reload())
				return
			}
			p.logErr("Play", p.Client.Play())
		case "Stop":
			p.logErr("Stop", p.Client.Stop())
		}
	case 'm':
		status, err := p.Client.GetStatus()
		if err != nil {
			p.logErr("GetStatus", err)
			return
		}
		muted := !status.Muted
		if err := p.Client.SetMuted(muted); err != nil {
			p.logErr("SetMuted", err)
			return
		}
		p.mu.Lock()
		p.muted = muted
		p.mu.Unlock()
		p.draw()
	}
}

func (p *ChromecastScreen) logErr(method string, err error) {
	if err != nil {
		p.Log.Error().Str("Method", method).Err(err).Msg("command failed")
	}
}

// Fini closes the screen and signals exit.
func (p *ChromecastScreen) Fini() {
	p.fini()
	if p.exitCTXfunc != nil {
		p.exitCTXfunc()
	}
}

func (p *ChromecastScreen) fini() {
	p.finiOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.started = false
		p.mu.Unlock()
		if started {
			p.Current.Fini()
		}
	})
}
