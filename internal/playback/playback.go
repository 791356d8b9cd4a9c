// Package playback maps raw Cast media status into the display directive
// shared by every surface.
package playback

import "strings"

// PlayerState is the receiver's media player state.
type PlayerState int

const (
	StateUnknown PlayerState = iota
	StateIdle
	StatePlaying
	StatePaused
	StateBuffering
)

// IdleReason explains an Idle player state. It is ignored for every other state.
type IdleReason int

const (
	IdleNone IdleReason = iota
	IdleFinished
	IdleCanceled
	IdleError
	IdleInterrupted
)

// StreamType is fixed for the lifetime of a media item.
type StreamType int

const (
	StreamBuffered StreamType = iota
	StreamLive
)

// Glyph is the icon drawn on the play control.
type Glyph int

const (
	GlyphPlay Glyph = iota
	GlyphPause
	GlyphStop
)

// Directive is what a surface should show. The zero value hides the play
// control and the loading indicator but keeps the surface itself visible.
type Directive struct {
	PlayControlVisible bool
	PlayControlGlyph   Glyph
	LoadingVisible     bool
	SurfaceHidden      bool
}

// Project computes the directive for a status triple. fresh must be true
// while a load is pending, since receivers briefly report IDLE/FINISHED for
// the previous item before buffering the new one.
func Project(state PlayerState, reason IdleReason, stream StreamType, fresh bool) Directive {
	switch state {
	case StatePlaying:
		glyph := GlyphPause
		if stream == StreamLive {
			glyph = GlyphStop
		}
		return Directive{PlayControlVisible: true, PlayControlGlyph: glyph}
	case StatePaused:
		return Directive{PlayControlVisible: true, PlayControlGlyph: GlyphPlay}
	case StateBuffering:
		return Directive{LoadingVisible: true}
	case StateIdle:
		switch {
		case reason == IdleFinished && !fresh:
			return Directive{SurfaceHidden: true}
		case reason == IdleCanceled && stream == StreamLive:
			// A live stream stopped by the user can be resumed.
			return Directive{PlayControlVisible: true, PlayControlGlyph: GlyphPlay}
		}
		return Directive{}
	default:
		return Directive{}
	}
}

// ParsePlayerState converts a Cast playerState string.
func ParsePlayerState(s string) PlayerState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IDLE":
		return StateIdle
	case "PLAYING":
		return StatePlaying
	case "PAUSED":
		return StatePaused
	case "BUFFERING":
		return StateBuffering
	default:
		return StateUnknown
	}
}

// ParseIdleReason converts a Cast idleReason string.
func ParseIdleReason(s string) IdleReason {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FINISHED":
		return IdleFinished
	case "CANCELLED", "CANCELED":
		return IdleCanceled
	case "ERROR":
		return IdleError
	case "INTERRUPTED":
		return IdleInterrupted
	default:
		return IdleNone
	}
}

// ParseStreamType converts a Cast streamType string. Anything that is not
// LIVE is treated as buffered.
func ParseStreamType(s string) StreamType {
	if strings.EqualFold(strings.TrimSpace(s), "LIVE") {
		return StreamLive
	}
	return StreamBuffered
}

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateBuffering:
		return "BUFFERING"
	default:
		return "UNKNOWN"
	}
}

func (r IdleReason) String() string {
	switch r {
	case IdleFinished:
		return "FINISHED"
	case IdleCanceled:
		return "CANCELLED"
	case IdleError:
		return "ERROR"
	case IdleInterrupted:
		return "INTERRUPTED"
	default:
		return ""
	}
}

func (t StreamType) String() string {
	if t == StreamLive {
		return "LIVE"
	}
	return "BUFFERED"
}

func (g Glyph) String() string {
	switch g {
	case GlyphPause:
		return "pause"
	case GlyphStop:
		return "stop"
	default:
		return "play"
	}
}
