package castprotocol

// CastStatus represents current Chromecast playback state.
type CastStatus struct {
	PlayerState string // "PLAYING", "PAUSED", "IDLE", "BUFFERING"
	IdleReason  string // "FINISHED", "CANCELLED", "ERROR", "INTERRUPTED"
	StreamType  string // "BUFFERED", "LIVE"
	CurrentTime float32
	Duration    float32
	Volume      float32 // 0.0 to 1.0
	Muted       bool
	ContentID   string
	MediaTitle  string
	ContentType string
	ArtworkURL  string
}
