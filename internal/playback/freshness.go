package playback

import "sync/atomic"

// Freshness remembers that a load was just issued so that the IDLE/FINISHED
// report of the previous item is not mistaken for the end of the session.
// The flag stays armed until the receiver reports the new item as playing,
// paused or buffering.
type Freshness struct {
	armed atomic.Bool
}

// MarkLoad arms the flag.
func (f *Freshness) MarkLoad() {
	f.armed.Store(true)
}

// Armed reports the flag without changing it.
func (f *Freshness) Armed() bool {
	return f.armed.Load()
}

// Observe is called for every player state report. It returns the flag as
// it was before the report and disarms it once state shows the new item
// is active.
func (f *Freshness) Observe(state PlayerState) bool {
	switch state {
	case StatePlaying, StatePaused, StateBuffering:
		return f.armed.Swap(false)
	default:
		return f.armed.Load()
	}
}

// Reset disarms the flag.
func (f *Freshness) Reset() {
	f.armed.Store(false)
}
