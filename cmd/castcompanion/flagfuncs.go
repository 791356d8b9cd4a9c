package main

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"go2tv.app/castcompanion/devices"
	"go2tv.app/castcompanion/internal/config"
)

const discoveryTimeout = 2 * time.Second

// applyFlags lets command line flags override the settings file.
func applyFlags(conf *config.Config) {
	if *targetPtr != "" {
		conf.Device = *targetPtr
	}
	if *metricsArg != "" {
		conf.MetricsAddr = *metricsArg
	}
}

func checkflags(d *devices.Discovery, conf *config.Config) (exit bool, err error) {
	checkVerflag()

	list, err := checkLflag(d)
	if err != nil {
		return false, errors.Wrap(err, "checkflags error")
	}
	if list {
		return true, nil
	}

	if err := checkTflag(d, conf); err != nil {
		return false, errors.Wrap(err, "checkflags error")
	}

	if err := checkUflag(); err != nil {
		return false, errors.Wrap(err, "checkflags error")
	}

	return false, nil
}

func checkTflag(d *devices.Discovery, conf *config.Config) error {
	if conf.Device == "" {
		devs, err := d.LoadDevices(discoveryTimeout)
		if err != nil {
			return errors.Wrap(err, "checkTflag service loading error")
		}

		dev, err := devices.DevicePicker(devs, 1)
		if err != nil {
			return errors.Wrap(err, "checkTflag device picker error")
		}
		deviceURL = dev.Addr
		return nil
	}

	// Validate URL before proceeding.
	if _, err := url.ParseRequestURI(conf.Device); err != nil {
		return errors.Wrap(err, "checkTflag parse error")
	}
	deviceURL = conf.Device
	return nil
}

func checkUflag() error {
	if *mediaArg == "" {
		if *artworkArg != "" || *titleArg != "" || *liveArg {
			return errors.New("checkUflag error: -a, -title and -live need -u")
		}
		return nil
	}
	for _, raw := range []string{*mediaArg, *artworkArg} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return errors.Wrap(err, "checkUflag parse error")
		}
	}
	return nil
}

func checkLflag(d *devices.Discovery) (bool, error) {
	if !*listPtr {
		return false, nil
	}
	if *targetPtr != "" {
		return false, errors.New("-l and -t can't be used together")
	}
	devs, err := d.LoadDevices(discoveryTimeout)
	if err != nil {
		return false, errors.Wrap(err, "checkLflag error")
	}
	listFlagFunction(devs)
	return true, nil
}

func listFlagFunction(devs []devices.Device) {
	fmt.Println()

	boldStart := ""
	boldEnd := ""
	if runtime.GOOS == "linux" {
		boldStart = "\033[1m"
		boldEnd = "\033[0m"
	}

	for i, dev := range devs {
		fmt.Printf("%sDevice %v%s\n", boldStart, i+1, boldEnd)
		fmt.Printf("%s--------%s\n", boldStart, boldEnd)
		fmt.Printf("%sModel:%s %s\n", boldStart, boldEnd, dev.Label())
		fmt.Printf("%sURL:%s   %s\n", boldStart, boldEnd, dev.Addr)
		fmt.Println()
	}
}

func checkVerflag() {
	if *versionPtr {
		fmt.Printf("castcompanion Version: %s, ", version)
		fmt.Printf("Build: %s\n", build)
		os.Exit(0)
	}
}

// contentTypeOf guesses the MIME type from the URL path, defaulting to MP4.
func contentTypeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "video/mp4"
	}
	if ct := mime.TypeByExtension(path.Ext(u.Path)); ct != "" {
		return ct
	}
	return "video/mp4"
}
