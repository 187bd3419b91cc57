// Package engine manages exactly one room join's full lifecycle:
// credential, login, local capture, publish, remote subscriptions and
// teardown.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

const playTimeout = 15 * time.Second

// RemoteStream is one entry of the engine's arrival-ordered remote
// collection. Media stays nil until the subscription completes.
type RemoteStream struct {
	Info  core.StreamInfo
	Media core.RemoteMedia
}

type Engine struct {
	creds    core.CredentialSource
	provider core.Provider
	capture  core.CaptureDevice

	mu            sync.Mutex
	active        bool
	joined        bool
	roomID        domain.RoomID
	room          core.RoomClient
	local         core.LocalStream
	remotes       []RemoteStream
	micEnabled    bool
	cameraEnabled bool
}

func New(creds core.CredentialSource, provider core.Provider, capture core.CaptureDevice) *Engine {
	return &Engine{creds: creds, provider: provider, capture: capture}
}

// Initialize joins the room end to end. Any failure after capture was
// acquired stops the capture tracks before returning; no path leaves
// a device open.
func (e *Engine) Initialize(ctx context.Context, roomID domain.RoomID, p *domain.Participant) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrSessionActive
	}
	e.active = true
	e.mu.Unlock()

	cred, err := e.creds.RoomCredential(ctx, roomID, p.ID)
	if err != nil {
		e.clearActive()
		return &InitError{Stage: StageCredential, Err: err}
	}

	rc, err := e.provider.NewRoomClient(cred.AppID)
	if err != nil {
		e.clearActive()
		return &InitError{Stage: StageProvider, Err: err}
	}

	// Handler before login: a remote participant already present must
	// be discoverable at login time.
	rc.OnPresence(e.handlePresence)

	e.mu.Lock()
	e.room = rc
	e.roomID = roomID
	e.mu.Unlock()

	if err := rc.Login(ctx, cred, p); err != nil {
		e.Leave()
		return &InitError{Stage: StageLogin, Err: err}
	}

	local, err := e.capture.Open(ctx, p.StreamName())
	if err != nil {
		e.Leave()
		return &InitError{Stage: StageCapture, Err: err}
	}

	if err := rc.Publish(ctx, local); err != nil {
		local.Close()
		e.Leave()
		return &InitError{Stage: StagePublish, Err: err}
	}

	e.mu.Lock()
	if !e.active {
		// Leave ran while we were connecting.
		e.mu.Unlock()
		local.Close()
		rc.Logout()
		return ErrSessionClosed
	}
	e.local = local
	e.micEnabled = local.AudioEnabled()
	e.cameraEnabled = local.VideoEnabled()
	e.joined = true
	e.mu.Unlock()

	log.Info().Str("module", "engine").Str("room", string(roomID)).Str("user", string(p.ID)).Msg("joined room")
	return nil
}

func (e *Engine) clearActive() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

func (e *Engine) handlePresence(ev core.PresenceEvent) {
	switch ev.Kind {
	case core.PresenceAdd:
		e.addStreams(ev.Streams)
	case core.PresenceDelete:
		e.removeStreams(ev.Streams)
	}
}

// addStreams reserves arrival-ordered slots under the lock, then
// subscribes concurrently. Entry order follows event arrival, not
// subscription completion, so the rendered order stays stable.
func (e *Engine) addStreams(streams []core.StreamInfo) {
	e.mu.Lock()
	room := e.room
	if room == nil {
		e.mu.Unlock()
		return
	}
	added := make([]core.StreamInfo, 0, len(streams))
	for _, info := range streams {
		if e.hasStreamLocked(info.ID) {
			continue
		}
		e.remotes = append(e.remotes, RemoteStream{Info: info})
		added = append(added, info)
	}
	e.mu.Unlock()

	for _, info := range added {
		go e.play(room, info)
	}
}

func (e *Engine) play(room core.RoomClient, info core.StreamInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	media, err := room.Play(ctx, info)
	if err != nil {
		// One stream failing must not affect the others.
		log.Error().Err(err).Str("module", "engine").Str("stream", string(info.ID)).Msg("play failed")
		return
	}

	e.mu.Lock()
	for i := range e.remotes {
		if e.remotes[i].Info.ID == info.ID {
			e.remotes[i].Media = media
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()

	// Slot removed while the subscription was in flight.
	media.Close()
}

func (e *Engine) removeStreams(streams []core.StreamInfo) {
	gone := make(map[domain.StreamID]bool, len(streams))
	for _, info := range streams {
		gone[info.ID] = true
	}

	e.mu.Lock()
	kept := make([]RemoteStream, 0, len(e.remotes))
	var closing []core.RemoteMedia
	for _, rs := range e.remotes {
		if gone[rs.Info.ID] {
			if rs.Media != nil {
				closing = append(closing, rs.Media)
			}
			continue
		}
		kept = append(kept, rs)
	}
	e.remotes = kept
	e.mu.Unlock()

	for _, m := range closing {
		m.Close()
	}
}

func (e *Engine) hasStreamLocked(id domain.StreamID) bool {
	for _, rs := range e.remotes {
		if rs.Info.ID == id {
			return true
		}
	}
	return false
}

// ToggleMicrophone flips the local audio track's enabled flag. No-op
// without a local stream; returns the resulting state.
func (e *Engine) ToggleMicrophone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return false
	}
	e.micEnabled = !e.micEnabled
	e.local.SetAudioEnabled(e.micEnabled)
	return e.micEnabled
}

func (e *Engine) ToggleCamera() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return false
	}
	e.cameraEnabled = !e.cameraEnabled
	e.local.SetVideoEnabled(e.cameraEnabled)
	return e.cameraEnabled
}

// Leave releases everything this join holds: capture hardware first,
// then remote subscriptions, then the room itself. Safe to call any
// number of times and on every exit path, including mid-initialize.
func (e *Engine) Leave() {
	e.mu.Lock()
	room, local, remotes := e.room, e.local, e.remotes
	e.room, e.local, e.remotes = nil, nil, nil
	e.active, e.joined = false, false
	e.micEnabled, e.cameraEnabled = false, false
	roomID := e.roomID
	e.roomID = ""
	e.mu.Unlock()

	if local != nil {
		local.Close()
	}
	for _, rs := range remotes {
		if rs.Media != nil {
			rs.Media.Close()
		}
	}
	if room != nil {
		room.Logout()
		log.Info().Str("module", "engine").Str("room", string(roomID)).Msg("left room")
	}
}

func (e *Engine) Joined() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joined
}

// RemoteView is a transport-free projection for rendering.
type RemoteView struct {
	StreamID domain.StreamID      `json:"streamId"`
	Owner    domain.ParticipantID `json:"owner"`
	Playing  bool                 `json:"playing"`
}

type Snapshot struct {
	RoomID        domain.RoomID   `json:"roomId"`
	Joined        bool            `json:"joined"`
	MicEnabled    bool            `json:"micEnabled"`
	CameraEnabled bool            `json:"cameraEnabled"`
	LocalStream   domain.StreamID `json:"localStream,omitempty"`
	RemoteStreams []RemoteView    `json:"remoteStreams"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		RoomID:        e.roomID,
		Joined:        e.joined,
		MicEnabled:    e.micEnabled,
		CameraEnabled: e.cameraEnabled,
		RemoteStreams: make([]RemoteView, 0, len(e.remotes)),
	}
	if e.local != nil {
		snap.LocalStream = e.local.ID()
	}
	for _, rs := range e.remotes {
		snap.RemoteStreams = append(snap.RemoteStreams, RemoteView{
			StreamID: rs.Info.ID,
			Owner:    rs.Info.Owner,
			Playing:  rs.Media != nil,
		})
	}
	return snap
}
