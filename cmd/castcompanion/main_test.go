package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"go2tv.app/castcompanion/devices"
)

func TestWarnIfFollowed(t *testing.T) {
	var buf bytes.Buffer
	warn := warnIfFollowed("http://10.0.0.1:8009", zerolog.New(&buf))

	warn(devices.Device{Name: "Kitchen", Addr: "http://10.0.0.2:8009"})
	if buf.Len() != 0 {
		t.Fatalf("warnIfFollowed() logged %q for another receiver", buf.String())
	}

	warn(devices.Device{Name: "Living Room", Addr: "http://10.0.0.1:8009"})
	if !strings.Contains(buf.String(), "Living Room") {
		t.Fatalf("warnIfFollowed() logged %q, want the followed receiver", buf.String())
	}
}
