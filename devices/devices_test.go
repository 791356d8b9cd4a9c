package devices

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

func entry(name string, ip string, port int, txt ...string) *mdns.ServiceEntry {
	return &mdns.ServiceEntry{
		Name:       name,
		AddrV4:     net.ParseIP(ip),
		Port:       port,
		InfoFields: txt,
	}
}

func TestUpsertParsesTXTRecords(t *testing.T) {
	d := NewDiscovery(zerolog.Nop())
	d.upsert(entry("Chromecast-abc._googlecast._tcp.local.", "192.168.1.20", 8009, "id=abc", "fn=Living Room", "ca=201221"))
	d.upsert(entry("Speaker-1._googlecast._tcp.local.", "192.168.1.21", 8009, "fn=Kitchen", "ca=2052"))
	d.upsert(entry("Printer._ipp._tcp.local.", "192.168.1.30", 631))
	d.upsert(&mdns.ServiceEntry{Name: "NoAddr._googlecast._tcp.local."})
	d.upsert(nil)

	devs := d.Devices()
	if len(devs) != 2 {
		t.Fatalf("Devices() len = %d, want 2", len(devs))
	}
	if devs[0].Name != "Kitchen" || !devs[0].IsAudioOnly {
		t.Fatalf("Devices()[0] = %+v, want audio-only Kitchen", devs[0])
	}
	if devs[1].Name != "Living Room" || devs[1].IsAudioOnly {
		t.Fatalf("Devices()[1] = %+v, want video Living Room", devs[1])
	}
	if devs[1].Addr != "http://192.168.1.20:8009" {
		t.Fatalf("Devices()[1].Addr = %q, want http://192.168.1.20:8009", devs[1].Addr)
	}
	if got := devs[0].Label(); got != "Kitchen (Chromecast Audio)" {
		t.Fatalf("Label() = %q, want %q", got, "Kitchen (Chromecast Audio)")
	}
}

func TestUpsertFallsBackToServiceName(t *testing.T) {
	d := NewDiscovery(zerolog.Nop())
	d.upsert(entry("Bedroom TV._googlecast._tcp.local.", "10.0.0.4", 8009))

	devs := d.Devices()
	if len(devs) != 1 || devs[0].Name != "Bedroom TV" {
		t.Fatalf("Devices() = %+v, want Bedroom TV", devs)
	}
}

func TestScanCollectsQueryResults(t *testing.T) {
	d := NewDiscovery(zerolog.Nop())
	d.query = func(p *mdns.QueryParam) error {
		if p.Service != googlecastService {
			t.Errorf("query service = %q, want %q", p.Service, googlecastService)
		}
		p.Entries <- entry("Den._googlecast._tcp.local.", "10.0.0.5", 8009, "fn=Den", "ca=5")
		return nil
	}

	devs, err := d.LoadDevices(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("LoadDevices() err = %v, want nil", err)
	}
	if len(devs) != 1 || devs[0].Name != "Den" {
		t.Fatalf("LoadDevices() = %+v, want Den", devs)
	}
}

func TestLoadDevicesNothingFound(t *testing.T) {
	d := NewDiscovery(zerolog.Nop())
	d.query = func(*mdns.QueryParam) error { return nil }

	if _, err := d.LoadDevices(time.Millisecond); err != ErrNoDeviceAvailable {
		t.Fatalf("LoadDevices() err = %v, want %v", err, ErrNoDeviceAvailable)
	}
}

func TestHealthCheckDropsDeadDevices(t *testing.T) {
	d := NewDiscovery(zerolog.Nop())
	d.upsert(entry("A._googlecast._tcp.local.", "10.0.0.1", 8009, "fn=A"))
	d.upsert(entry("B._googlecast._tcp.local.", "10.0.0.2", 8009, "fn=B"))
	d.alive = func(address string) bool { return address == "10.0.0.2:8009" }
	var lost []Device
	d.OnLost(func(dev Device) { lost = append(lost, dev) })

	d.healthCheck()

	if len(lost) != 1 || lost[0].Addr != "http://10.0.0.1:8009" || lost[0].Name != "A" {
		t.Fatalf("OnLost got %+v, want only A at http://10.0.0.1:8009", lost)
	}

	devs := d.Devices()
	if len(devs) != 1 || devs[0].Name != "B" {
		t.Fatalf("Devices() after health check = %+v, want only B", devs)
	}
	if got := d.pollInterval(); got != chromecastPollIntervalSlow {
		t.Fatalf("pollInterval() = %v, want %v", got, chromecastPollIntervalSlow)
	}
}

func TestRunScansUntilCancelled(t *testing.T) {
	d := NewDiscovery(zerolog.Nop())
	var scans atomic.Int32
	d.query = func(p *mdns.QueryParam) error {
		scans.Add(1)
		p.Entries <- entry("Den._googlecast._tcp.local.", "10.0.0.5", 8009, "fn=Den")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(d.Devices()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run() found no device")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if scans.Load() == 0 {
		t.Fatal("Run() never queried")
	}
}

func TestIsChromecastAudioOnly(t *testing.T) {
	tests := map[string]bool{
		"4101":   false,
		"201221": false,
		"2052":   true,
		"0":      true,
		"bogus":  false,
	}
	for in, want := range tests {
		if got := isChromecastAudioOnly(in); got != want {
			t.Errorf("isChromecastAudioOnly(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDevicePicker(t *testing.T) {
	devs := []Device{{Name: "A"}, {Name: "B"}}

	got, err := DevicePicker(devs, 2)
	if err != nil || got.Name != "B" {
		t.Fatalf("DevicePicker(2) = %+v, %v, want B", got, err)
	}
	for _, n := range []int{0, 3, -1} {
		if _, err := DevicePicker(devs, n); err != ErrDeviceNotAvailable {
			t.Fatalf("DevicePicker(%d) err = %v, want %v", n, err, ErrDeviceNotAvailable)
		}
	}
}
