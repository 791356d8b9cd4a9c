package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go2tv.app/castcompanion/castprotocol"
	"go2tv.app/castcompanion/devices"
	"go2tv.app/castcompanion/internal/config"
	"go2tv.app/castcompanion/internal/imagecache"
	"go2tv.app/castcompanion/internal/interactive"
	"go2tv.app/castcompanion/internal/metrics"
	"go2tv.app/castcompanion/internal/registry"
	"go2tv.app/castcompanion/internal/surface"
	"go2tv.app/castcompanion/internal/uiloop"
)

var (
	version     string
	build       string
	deviceURL   string
	listPtr     = flag.Bool("l", false, "List all available Chromecast receivers.")
	targetPtr   = flag.String("t", "", "Cast receiver to follow, e.g. http://192.168.1.20:8009.")
	mediaArg    = flag.String("u", "", "Media URL to load. Without it the companion follows whatever plays.")
	artworkArg  = flag.String("a", "", "Artwork image URL sent along with -u.")
	titleArg    = flag.String("title", "", "Title sent along with -u.")
	liveArg     = flag.Bool("live", false, "Load -u as a live stream.")
	configArg   = flag.String("config", "", "Path to the settings file (.json or .yaml).")
	metricsArg  = flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9100.")
	headlessArg = flag.Bool("headless", false, "Do not open the terminal controller, only log.")
	versionPtr  = flag.Bool("version", false, "Print version.")
)

func main() {
	flag.Parse()

	conf, err := config.Load(*configArg)
	check(err)
	applyFlags(conf)
	check(conf.Validate())

	logger, closeLog, err := newLogger(conf)
	check(err)
	defer closeLog()

	discovery := devices.NewDiscovery(logger)
	exit, err := checkflags(discovery, conf)
	check(err)
	if exit {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, discovery, logger); err != nil {
		closeLog()
		check(err)
	}
}

func check(err error) {
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

// newLogger writes JSON lines to the configured log file. Without one, the
// console gets human readable output in headless mode and nothing otherwise,
// since the terminal controller owns the screen.
func newLogger(conf *config.Config) (zerolog.Logger, func(), error) {
	var out io.Writer
	closeFn := func() {}
	switch {
	case conf.LogFile != "":
		f, err := os.OpenFile(conf.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, errors.Wrap(err, "open log file")
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case *headlessArg:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	default:
		return zerolog.Nop(), closeFn, nil
	}
	return zerolog.New(out).Level(conf.Level()).With().Timestamp().Logger(), closeFn, nil
}

func run(ctx context.Context, conf *config.Config, discovery *devices.Discovery, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := castprotocol.NewCastClient(deviceURL)
	if err != nil {
		return errors.Wrap(err, "cast client")
	}
	client.Logger = logger.With().Str("Component", "castclient").Logger()

	sess := castprotocol.NewSession(client, castprotocol.SessionOptions{
		PollInterval:    conf.PollInterval,
		DisconnectAfter: conf.DisconnectAfter,
		Logger:          logger,
	})

	loop := uiloop.New(logger)
	cache := imagecache.New(imagecache.NewHTTPFetcher(conf.Cache.FetchRetries), imagecache.Options{
		MaxEntries:           conf.Cache.MaxEntries,
		MaxBytes:             conf.Cache.MaxBytes,
		FetchTimeout:         conf.Cache.FetchTimeout,
		MaxConcurrentFetches: conf.Cache.MaxConcurrentFetches,
		Executor:             loop,
		Logger:               logger,
	})
	defer cache.Close()

	reg := registry.New(sess, loop, logger)

	bindings := []*surface.Binding{
		surface.NewBinding("notification", &surface.LogSurface{Name: "notification", Log: logger}, reg, cache, logger),
	}
	var screen *interactive.ChromecastScreen
	if !*headlessArg {
		screen, err = interactive.InitChromecastScreen(client, cancel, *titleArg)
		if err != nil {
			return err
		}
		screen.Log = logger
		bindings = append(bindings, surface.NewBinding("mini", screen, reg, cache, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if conf.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, conf.MetricsAddr, logger) })
	}
	if screen != nil {
		g.Go(func() error { return screen.Run(gctx) })
	}
	if conf.Device == "" {
		// The receiver was picked by discovery; keep watching it.
		discovery.OnLost(warnIfFollowed(deviceURL, logger))
		g.Go(func() error { return discovery.Run(gctx) })
	}

	g.Go(func() error {
		if err := reg.Start(gctx); err != nil {
			return err
		}
		defer func() {
			detach := func() {
				for _, b := range bindings {
					b.Detach()
				}
			}
			// The loop may already be gone; nothing else drives the surfaces then.
			if !loop.Do(detach) {
				detach()
			}
			if err := reg.Stop(); err != nil {
				logger.Error().Str("Method", "run").Err(err).Msg("stopping session")
			}
		}()

		loop.Do(func() {
			for _, b := range bindings {
				if err := b.Attach(); err != nil {
					logger.Warn().Str("Method", "run").Str("Surface", b.Name()).Err(err).Msg("attach")
				}
			}
		})

		if *mediaArg != "" {
			if err := loadMedia(client, loop, bindings); err != nil {
				return err
			}
		}

		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// warnIfFollowed logs when the lost receiver is the one at addr.
func warnIfFollowed(addr string, logger zerolog.Logger) func(devices.Device) {
	return func(dev devices.Device) {
		if dev.Addr != addr {
			return
		}
		logger.Warn().Str("Method", "run").Str("Device", dev.Label()).Msg("followed receiver disappeared from the network")
	}
}

func loadMedia(client *castprotocol.CastClient, loop *uiloop.Loop, bindings []*surface.Binding) error {
	loop.Do(func() {
		for _, b := range bindings {
			b.MarkLoadStarted()
		}
	})
	req := castprotocol.LoadRequest{
		MediaURL:    *mediaArg,
		ContentType: contentTypeOf(*mediaArg),
		Title:       *titleArg,
		ArtworkURL:  *artworkArg,
		Live:        *liveArg,
	}
	return errors.Wrap(client.Load(req), "load media")
}
