// Package session describes what the cast session client reports to the
// rest of the program.
package session

import (
	"context"

	"go2tv.app/castcompanion/internal/playback"
)

// Kind tags an Event.
type Kind int

const (
	// KindStatus is raised when player state, idle reason or stream type change.
	KindStatus Kind = iota
	// KindMetadata is raised when the loaded media or its artwork changes.
	KindMetadata
	// KindDisconnected is raised when the receiver can no longer be reached.
	KindDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindMetadata:
		return "metadata"
	case KindDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Snapshot is the session state as last reported by the receiver.
type Snapshot struct {
	PlayerState playback.PlayerState
	IdleReason  playback.IdleReason
	StreamType  playback.StreamType
	MediaID     string
	ArtworkURL  string
	Title       string
	Connected   bool
}

// Directive projects the snapshot.
func (s Snapshot) Directive(fresh bool) playback.Directive {
	return playback.Project(s.PlayerState, s.IdleReason, s.StreamType, fresh)
}

// Event is a single session change.
type Event struct {
	Kind     Kind
	Snapshot Snapshot
}

// Client is the cast session as seen by the registry.
// Events is closed after Shutdown returns.
type Client interface {
	Init(ctx context.Context) error
	Shutdown() error
	Events() <-chan Event
	Current() (Snapshot, error)
}
