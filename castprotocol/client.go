package castprotocol

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vishen/go-chromecast/application"
	"github.com/vishen/go-chromecast/cast"
)

const (
	defaultPort      = 8009
	loadAttempts     = 5
	transportRetries = 8
	defaultWakeWait  = 4 * time.Second
)

// ErrNothingLoaded is returned by Reload before this client loaded anything.
var ErrNothingLoaded = errors.New("no media was loaded by this client")

// ErrNoTransport is returned when the media receiver never reported a transport ID.
var ErrNoTransport = errors.New("media receiver has no transport id")

// CastClient wraps go-chromecast Application for simplified API
type CastClient struct {
	app         *application.Application
	conn        cast.Conn // keep reference to connection for custom commands
	mu          sync.RWMutex
	host        string
	port        int
	connected   bool
	wakeWait    time.Duration
	artwork     map[string]string // content id -> artwork url of our own loads
	lastLoad    *LoadRequest
	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (c *CastClient) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// NewCastClient prepares a client for deviceAddr, e.g. "http://192.168.1.20:8009".
// A bare host is accepted as well.
func NewCastClient(deviceAddr string) (*CastClient, error) {
	host, port, err := parseDeviceAddr(deviceAddr)
	if err != nil {
		return nil, err
	}

	// Create our own connection that we can use for custom commands
	conn := cast.NewConnection()

	app := application.NewApplication(
		application.WithConnection(conn),
		application.WithConnectionRetries(5), // slow TVs need time to wake
	)

	return &CastClient{
		app:      app,
		conn:     conn,
		host:     host,
		port:     port,
		wakeWait: defaultWakeWait,
		artwork:  make(map[string]string),
	}, nil
}

func parseDeviceAddr(deviceAddr string) (string, int, error) {
	if deviceAddr == "" {
		return "", 0, errors.New("empty device address")
	}
	addr := deviceAddr
	if !strings.Contains(addr, "://") {
		addr = "//" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", 0, errors.Wrap(err, "parse device addr")
	}

	host := u.Hostname()
	if host == "" {
		return "", 0, errors.Errorf("no host in device address %q", deviceAddr)
	}
	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, errors.Wrapf(err, "parse port of %q", deviceAddr)
		}
	}
	return host, port, nil
}

// Connect establishes connection to the Chromecast device.
// The library handles retries internally with WithConnectionRetries.
func (c *CastClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.app == nil {
		return errors.New("chromecast connect: app is nil")
	}

	c.Log().Debug().Str("Method", "Connect").Str("Host", c.host).Int("Port", c.port).Msg("connecting")
	if err := c.app.Start(c.host, c.port); err != nil {
		c.Log().Error().Str("Method", "Connect").Err(err).Msg("connection failed")
		return errors.Wrap(err, "chromecast connect")
	}
	c.connected = true
	c.Log().Debug().Str("Method", "Connect").Msg("connected successfully")
	return nil
}

// isTimeoutError checks if an error is a timeout/deadline exceeded error.
// This typically happens when the TV needs to wake from sleep.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// errClosed aborts a load loop silently when Close ran concurrently.
var errClosed = errors.New("connection closed")

// retryOnWake runs fn up to loadAttempts times, sleeping between attempts
// that failed with a timeout.
func (c *CastClient) retryOnWake(method string, fn func() error) error {
	var lastErr error
	for attempt := range loadAttempts {
		if !c.IsConnected() {
			return errClosed
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTimeoutError(err) && !errors.Is(err, ErrNoTransport) {
			return err
		}
		c.Log().Debug().Str("Method", method).Int("Attempt", attempt).Err(err).Msg("timeout, TV may be waking up, retrying...")
		time.Sleep(c.wakeWait)
	}
	return lastErr
}

// Load loads media onto the Chromecast. Requests carrying a title, artwork,
// subtitles, a duration or a live stream go through a custom LOAD; the rest
// use the library's own.
func (c *CastClient) Load(r LoadRequest) error {
	log := c.Log().With().Str("Method", "Load").Logger()
	log.Debug().Str("URL", r.MediaURL).Str("ContentType", r.ContentType).Int("StartTime", r.StartTime).
		Bool("HasArtwork", r.ArtworkURL != "").Bool("HasSubs", r.SubtitleURL != "").Bool("Live", r.Live).Msg("loading media")

	if !c.IsConnected() {
		log.Debug().Msg("connection closed, reconnecting")
		if err := c.Connect(); err != nil {
			return errors.Wrap(err, "reconnect before load")
		}
	}

	c.rememberLoad(r)

	var err error
	if !r.needsCustomLoad() {
		err = c.retryOnWake("Load", func() error {
			return c.app.Load(r.MediaURL, r.StartTime, r.ContentType, false, false, false)
		})
	} else {
		err = c.retryOnWake("Load", func() error { return c.customLoad(r) })
	}

	switch {
	case errors.Is(err, errClosed):
		log.Debug().Msg("connection closed during load, aborting silently")
		return nil
	case err != nil:
		log.Error().Err(err).Msg("load failed")
		return err
	}
	log.Debug().Msg("load success")
	return nil
}

// customLoad launches the receiver first without loading media, then sends
// our LOAD. This avoids double playback.
func (c *CastClient) customLoad(r LoadRequest) error {
	if err := LaunchDefaultReceiver(c.conn); err != nil {
		return err
	}
	transportId, err := c.transportID(transportRetries)
	if err != nil {
		return err
	}

	// Live streams load paused and get an immediate PLAY; autoplay makes
	// receivers buffer aggressively first.
	if err := LoadMedia(c.conn, transportId, r, !r.Live); err != nil {
		return err
	}
	if r.Live {
		c.playAfterLoad()
	}
	return nil
}

func (c *CastClient) transportID(tries int) (string, error) {
	for i := range tries {
		if !c.IsConnected() {
			return "", errClosed
		}
		if err := c.app.Update(); err != nil {
			c.Log().Debug().Str("Method", "transportID").Int("Attempt", i+1).Err(err).Msg("app.Update retry")
			time.Sleep(time.Duration(i+1) * 500 * time.Millisecond)
			continue
		}
		if app := c.app.App(); app != nil && app.TransportId != "" {
			return app.TransportId, nil
		}
		time.Sleep(time.Duration(i+1) * 500 * time.Millisecond)
	}
	return "", ErrNoTransport
}

func (c *CastClient) playAfterLoad() {
	var playErr error
	for i := range 3 {
		// Unpause needs the mediaSessionId from the LOAD response.
		if err := c.app.Update(); err != nil {
			playErr = err
			time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
			continue
		}
		if playErr = c.app.Unpause(); playErr == nil {
			c.Log().Debug().Str("Method", "Load").Int("Attempt", i+1).Msg("play command sent")
			return
		}
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	c.Log().Warn().Str("Method", "Load").Err(playErr).Msg("play command failed after retries")
}

func (c *CastClient) rememberLoad(r LoadRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLoad = &r
	if r.ArtworkURL == "" {
		delete(c.artwork, r.MediaURL)
		return
	}
	c.artwork[r.MediaURL] = r.ArtworkURL
}

// Reload loads the last LoadRequest again. A media session that ended, such
// as a cancelled live stream, cannot be resumed with Play.
func (c *CastClient) Reload() error {
	c.mu.RLock()
	last := c.lastLoad
	c.mu.RUnlock()
	if last == nil {
		return ErrNothingLoaded
	}
	return c.Load(*last)
}

// ArtworkFor returns the artwork URL that was sent along with contentID.
func (c *CastClient) ArtworkFor(contentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.artwork[contentID]
}

// Play resumes playback.
func (c *CastClient) Play() error {
	return c.command("Play", c.app.Unpause)
}

// Pause pauses playback.
func (c *CastClient) Pause() error {
	return c.command("Pause", c.app.Pause)
}

// Stop stops playback and closes the media session.
func (c *CastClient) Stop() error {
	return c.command("Stop", c.app.Stop)
}

// Seek seeks to position in seconds from start.
func (c *CastClient) Seek(seconds int) error {
	return c.command("Seek", func() error { return c.app.SeekFromStart(seconds) })
}

// SetVolume sets volume (0.0 to 1.0).
func (c *CastClient) SetVolume(level float32) error {
	return c.command("SetVolume", func() error { return c.app.SetVolume(level) })
}

// SetMuted sets mute state.
func (c *CastClient) SetMuted(muted bool) error {
	return c.command("SetMuted", func() error { return c.app.SetMuted(muted) })
}

func (c *CastClient) command(method string, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Log().Debug().Str("Method", method).Msg("sending command")
	if err := fn(); err != nil {
		c.Log().Error().Str("Method", method).Err(err).Msg("failed")
		return errors.Wrap(err, method)
	}
	return nil
}

// GetStatus returns current playback status.
// No mutex needed around the library, it has its own sync.
func (c *CastClient) GetStatus() (*CastStatus, error) {
	if err := c.app.Update(); err != nil {
		c.Log().Debug().Str("Method", "GetStatus").Err(err).Msg("app.Update failed")
		return nil, errors.Wrap(err, "update status")
	}
	_, media, vol := c.app.Status()
	status := &CastStatus{PlayerState: "IDLE"}
	if vol != nil {
		status.Volume = float32(vol.Level)
		status.Muted = vol.Muted
	}
	if media != nil {
		status.PlayerState = media.PlayerState
		status.IdleReason = media.IdleReason
		status.CurrentTime = media.CurrentTime
		if media.Media.Duration > 0 {
			status.Duration = media.Media.Duration
		}
		status.StreamType = media.Media.StreamType
		status.ContentID = media.Media.ContentId
		status.ContentType = media.Media.ContentType
		status.MediaTitle = media.Media.Metadata.Title
		status.ArtworkURL = c.ArtworkFor(status.ContentID)
	}
	return status, nil
}

// Close disconnects from the Chromecast device.
func (c *CastClient) Close(stopMedia bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Log().Debug().Str("Method", "Close").Bool("StopMedia", stopMedia).Msg("closing connection")
	c.connected = false
	if err := c.app.Close(stopMedia); err != nil {
		c.Log().Error().Str("Method", "Close").Err(err).Msg("failed")
		return errors.Wrap(err, "close")
	}
	return nil
}

// IsConnected returns whether client is connected.
func (c *CastClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
