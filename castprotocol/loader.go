package castprotocol

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/vishen/go-chromecast/cast"
)

const (
	defaultReceiverAppID = "CC1AD845"
	namespaceReceiver    = "urn:x-cast:com.google.cast.receiver"
	namespaceMedia       = "urn:x-cast:com.google.cast.media"
	senderID             = "sender-0"
	receiverID           = "receiver-0"
)

// Request ID counter for Chromecast messages
var requestIDCounter atomic.Int32

func nextRequestID() int {
	return int(requestIDCounter.Add(1))
}

// LoadRequest describes the media to cast.
type LoadRequest struct {
	MediaURL    string
	ContentType string
	Title       string
	ArtworkURL  string
	SubtitleURL string
	StartTime   int     // seconds
	Duration    float64 // seconds, 0 lets the receiver detect it
	Live        bool
}

// needsCustomLoad reports whether the library's own LOAD is not enough:
// it always sends BUFFERED and carries neither metadata nor tracks.
func (r LoadRequest) needsCustomLoad() bool {
	return r.Title != "" || r.ArtworkURL != "" || r.SubtitleURL != "" || r.Duration > 0 || r.Live
}

// CustomLoadPayload is a LoadMediaCommand with metadata and tracks support.
type CustomLoadPayload struct {
	Type           string              `json:"type"`
	RequestId      int                 `json:"requestId"`
	Media          MediaItemWithTracks `json:"media"`
	CurrentTime    int                 `json:"currentTime"`
	Autoplay       bool                `json:"autoplay"`
	ActiveTrackIds []int               `json:"activeTrackIds,omitempty"`
}

// SetRequestId implements cast.Payload interface
func (p *CustomLoadPayload) SetRequestId(id int) {
	p.RequestId = id
}

type launchPayload struct {
	Type      string `json:"type"`
	RequestId int    `json:"requestId"`
	AppId     string `json:"appId"`
}

func (p *launchPayload) SetRequestId(id int) {
	p.RequestId = id
}

var (
	_ cast.Payload = (*CustomLoadPayload)(nil)
	_ cast.Payload = (*launchPayload)(nil)
)

// NewLoadPayload builds the LOAD message for r.
func NewLoadPayload(r LoadRequest, autoplay bool) *CustomLoadPayload {
	media := MediaItemWithTracks{
		ContentId:   r.MediaURL,
		ContentType: r.ContentType,
		StreamType:  StreamTypeBuffered,
	}
	if r.Live {
		media.StreamType = StreamTypeLive
	}
	if r.Duration > 0 && !r.Live {
		media.Duration = float32(r.Duration)
	}
	if r.Title != "" || r.ArtworkURL != "" {
		meta := &MediaMeta{MetadataType: MetadataGeneric, Title: r.Title}
		if r.ArtworkURL != "" {
			meta.Images = []MediaImage{{URL: r.ArtworkURL}}
		}
		media.Metadata = meta
	}

	payload := &CustomLoadPayload{
		Type:        "LOAD",
		Media:       media,
		CurrentTime: r.StartTime,
		Autoplay:    autoplay,
	}
	if r.SubtitleURL != "" {
		payload.Media.Tracks = []MediaTrack{NewSubtitleTrack(1, r.SubtitleURL, "Subtitles", "en")}
		payload.ActiveTrackIds = []int{1}
	}
	return payload
}

// LoadMedia sends a custom LOAD command to the media receiver identified by
// transportId. The default media receiver must already be running.
func LoadMedia(conn cast.Conn, transportId string, r LoadRequest, autoplay bool) error {
	payload := NewLoadPayload(r, autoplay)
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	if err := conn.Send(requestID, payload, senderID, transportId, namespaceMedia); err != nil {
		return errors.Wrap(err, "send load")
	}
	return nil
}

// LaunchDefaultReceiver asks the device to start the default media receiver
// without loading anything, so that a custom LOAD can follow.
func LaunchDefaultReceiver(conn cast.Conn) error {
	payload := &launchPayload{Type: "LAUNCH", AppId: defaultReceiverAppID}
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	if err := conn.Send(requestID, payload, senderID, receiverID, namespaceReceiver); err != nil {
		return errors.Wrap(err, "launch default receiver")
	}
	return nil
}
