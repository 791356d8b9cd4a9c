// Package devices finds cast receivers on the local network.
package devices

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrNoDeviceAvailable  = errors.New("no cast receivers found")
	ErrDeviceNotAvailable = errors.New("devicePicker: Requested device not available")
)

// Device is a discovered cast receiver.
type Device struct {
	Name        string
	Addr        string // "http://host:port"
	IsAudioOnly bool
}

// Label is the name shown in device lists.
func (d Device) Label() string {
	if d.IsAudioOnly {
		return d.Name + " (Chromecast Audio)"
	}
	return d.Name + " (Chromecast)"
}

func sortDevices(devs []Device) {
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Name != devs[j].Name {
			return devs[i].Name < devs[j].Name
		}
		return devs[i].Addr < devs[j].Addr
	})
}

// DevicePicker picks the nth (1-based) device of a sorted device list.
func DevicePicker(devs []Device, n int) (Device, error) {
	if n > len(devs) || len(devs) == 0 || n <= 0 {
		return Device{}, ErrDeviceNotAvailable
	}
	return devs[n-1], nil
}
