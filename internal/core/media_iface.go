package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/crms-dev/oathcall/internal/domain"
)

// StreamInfo describes one stream announced by the room.
type StreamInfo struct {
	ID    domain.StreamID      `json:"streamId"`
	Owner domain.ParticipantID `json:"owner"`
}

type PresenceKind string

const (
	PresenceAdd    PresenceKind = "ADD"
	PresenceDelete PresenceKind = "DELETE"
)

// PresenceEvent is delivered by the room when streams are added to or
// removed from it.
type PresenceEvent struct {
	Kind    PresenceKind
	Streams []StreamInfo
}

// LocalStream is the agent's own capture. Exclusively owned by the
// media session engine; adapters only read it.
type LocalStream interface {
	ID() domain.StreamID
	Tracks() []webrtc.TrackLocal
	// Track-enable flags are independent of publish state.
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
	// Close stops every underlying capture track and releases the
	// hardware. Must be idempotent.
	Close()
}

// RemoteMedia is one playing subscription to a remote stream.
type RemoteMedia interface {
	Info() StreamInfo
	Close()
}

// CaptureDevice acquires the local camera and microphone.
type CaptureDevice interface {
	// ConfigureCodecs registers the device's encoders with a media
	// engine so published tracks negotiate correctly.
	ConfigureCodecs(*webrtc.MediaEngine) error
	Open(ctx context.Context, id domain.StreamID) (LocalStream, error)
}
