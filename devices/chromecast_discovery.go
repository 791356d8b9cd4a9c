package devices

import (
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

const (
	// CapabilityVideoOut is the bitmask for video output capability (bit 0)
	CapabilityVideoOut = 1

	googlecastService = "_googlecast._tcp"
	// mDNS query timeout per request
	chromecastQueryTimeout = 750 * time.Millisecond
	// Faster polling while cache is empty for quick first discovery
	chromecastPollIntervalFast = 1 * time.Second
	// Slower polling once at least one device is known to reduce network load
	chromecastPollIntervalSlow = 4 * time.Second
	healthCheckInterval        = 5 * time.Second
)

type castDevice struct {
	Name        string
	IsAudioOnly bool
}

// Discovery keeps a live set of cast receivers found over mDNS.
type Discovery struct {
	log   zerolog.Logger
	query func(*mdns.QueryParam) error
	alive func(address string) bool

	mu      sync.Mutex
	devices map[string]castDevice // key: "host:port"
	onLost  func(Device)
}

// OnLost registers fn to be called from Run when a known receiver stops
// accepting connections.
func (d *Discovery) OnLost(fn func(Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLost = fn
}

// NewDiscovery returns an empty discovery cache.
func NewDiscovery(logger zerolog.Logger) *Discovery {
	return &Discovery{
		log:     logger.With().Str("Component", "devices").Logger(),
		query:   mdns.Query,
		alive:   HostPortIsAlive,
		devices: make(map[string]castDevice),
	}
}

func (d *Discovery) upsert(entry *mdns.ServiceEntry) {
	if entry == nil || entry.AddrV4 == nil {
		return
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return
	}

	address := net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port))
	friendlyName := entry.Name
	isAudioOnly := false
	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "fn="); ok {
			friendlyName = after
		}
		if after, ok := strings.CutPrefix(txt, "ca="); ok {
			isAudioOnly = isChromecastAudioOnly(after)
		}
	}
	if idx := strings.Index(friendlyName, "._googlecast"); idx > 0 {
		friendlyName = friendlyName[:idx]
	}

	d.mu.Lock()
	_, known := d.devices[address]
	d.devices[address] = castDevice{Name: friendlyName, IsAudioOnly: isAudioOnly}
	d.mu.Unlock()

	if !known {
		d.log.Debug().Str("Method", "upsert").Str("Name", friendlyName).Str("Address", address).Msg("found receiver")
	}
}

// Scan queries every active interface once and waits for the answers.
func (d *Discovery) Scan(timeout time.Duration) {
	entriesCh := make(chan *mdns.ServiceEntry, 256)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			d.upsert(entry)
		}
	}()

	queryIface := func(iface *net.Interface) {
		params := mdns.DefaultParams(googlecastService)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		params.WantUnicastResponse = true
		params.Logger = log.New(io.Discard, "", 0)
		params.Interface = iface
		if err := d.query(params); err != nil {
			d.log.Debug().Str("Method", "Scan").Err(err).Msg("mdns query failed")
		}
	}

	// Query every adapter: the default one is often a VPN or a container bridge.
	interfaces := getActiveNetworkInterfaces()
	if len(interfaces) > 0 {
		var wg sync.WaitGroup
		for _, iface := range interfaces {
			wg.Add(1)
			go func() {
				defer wg.Done()
				queryIface(&iface)
			}()
		}
		wg.Wait()
	} else {
		queryIface(nil)
	}

	close(entriesCh)
	<-doneCh
}

func (d *Discovery) pollInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.devices) > 0 {
		return chromecastPollIntervalSlow
	}
	return chromecastPollIntervalFast
}

// Run keeps scanning until ctx is done, polling quickly while nothing is
// known, and drops receivers that stop accepting connections.
func (d *Discovery) Run(ctx context.Context) error {
	pollTimer := time.NewTimer(0)
	defer pollTimer.Stop()
	health := time.NewTicker(healthCheckInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTimer.C:
			d.Scan(chromecastQueryTimeout)
			pollTimer.Reset(d.pollInterval())
		case <-health.C:
			d.healthCheck()
		}
	}
}

func (d *Discovery) healthCheck() {
	d.mu.Lock()
	addrs := make([]string, 0, len(d.devices))
	for address := range d.devices {
		addrs = append(addrs, address)
	}
	d.mu.Unlock()

	for _, address := range addrs {
		if d.alive(address) {
			continue
		}
		d.mu.Lock()
		dev, ok := d.devices[address]
		delete(d.devices, address)
		onLost := d.onLost
		d.mu.Unlock()
		if !ok {
			continue
		}
		d.log.Debug().Str("Method", "healthCheck").Str("Address", address).Msg("receiver gone")
		if onLost != nil {
			onLost(Device{Name: dev.Name, Addr: "http://" + address, IsAudioOnly: dev.IsAudioOnly})
		}
	}
}

// Devices returns the known receivers sorted by name.
func (d *Discovery) Devices() []Device {
	d.mu.Lock()
	result := make([]Device, 0, len(d.devices))
	for address, device := range d.devices {
		result = append(result, Device{
			Name:        device.Name,
			Addr:        "http://" + address,
			IsAudioOnly: device.IsAudioOnly,
		})
	}
	d.mu.Unlock()

	sortDevices(result)
	return result
}

// LoadDevices runs a single scan and returns what it found.
func (d *Discovery) LoadDevices(timeout time.Duration) ([]Device, error) {
	d.Scan(timeout)
	devs := d.Devices()
	if len(devs) == 0 {
		return nil, ErrNoDeviceAvailable
	}
	return devs, nil
}

// getActiveNetworkInterfaces returns all network interfaces that are up,
// multicast-capable, not loopback, and have an IPv4 address.
func getActiveNetworkInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				active = append(active, iface)
				break
			}
		}
	}
	return active
}

// HostPortIsAlive checks if a device at the given address is reachable via TCP connection.
func HostPortIsAlive(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isChromecastAudioOnly checks the "ca" capability bitmask of the TXT record.
// Without the video out bit the device is audio-only (Chromecast Audio,
// Google Home speakers). Unparsable values count as video devices.
func isChromecastAudioOnly(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
