// Package rtc is the default real-time provider adapter: a websocket
// signaling client plus one pion peer connection per room join.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

var (
	ErrEmptyAppID    = errors.New("rtc: empty app id")
	ErrAlreadyLogged = errors.New("rtc: already logged in")
	ErrLoggedOut     = errors.New("rtc: logged out")
	ErrLoginRejected = errors.New("rtc: login rejected")
)

type Provider struct {
	endpoint  string
	configure func(*webrtc.MediaEngine) error
	dialer    *websocket.Dialer
}

// NewProvider binds room clients to the signaling endpoint. configure
// registers the capture device's encoders on each peer connection and
// may be nil.
func NewProvider(endpoint string, configure func(*webrtc.MediaEngine) error) *Provider {
	return &Provider{
		endpoint:  strings.TrimRight(endpoint, "/"),
		configure: configure,
		dialer:    websocket.DefaultDialer,
	}
}

// NewRoomClient derives the room's signaling URL from the app id. No
// network traffic happens until Login.
func (p *Provider) NewRoomClient(appID string) (core.RoomClient, error) {
	if appID == "" {
		return nil, ErrEmptyAppID
	}
	return &roomClient{
		url:       fmt.Sprintf("%s/app/%s/ws", p.endpoint, appID),
		dialer:    p.dialer,
		configure: p.configure,
		loginCh:   make(chan error, 1),
		answerCh:  make(chan webrtc.SessionDescription, 1),
		remotes:   make(map[domain.StreamID]*remoteMedia),
	}, nil
}

type roomClient struct {
	url       string
	dialer    *websocket.Dialer
	configure func(*webrtc.MediaEngine) error

	// negotiating serializes offer/answer rounds; the provider answers
	// one renegotiation at a time.
	negotiating sync.Mutex

	mu         sync.Mutex
	conn       *signalConn
	pc         *peerConnection
	cancel     context.CancelFunc
	onPresence func(core.PresenceEvent)
	remotes    map[domain.StreamID]*remoteMedia
	closed     bool

	loginCh  chan error
	answerCh chan webrtc.SessionDescription
}

func (c *roomClient) OnPresence(fn func(core.PresenceEvent)) {
	c.mu.Lock()
	c.onPresence = fn
	c.mu.Unlock()
}

func (c *roomClient) Login(ctx context.Context, cred *core.Credential, p *domain.Participant) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrLoggedOut
	}
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyLogged
	}
	c.mu.Unlock()

	pc, err := newPeerConnection(string(cred.RoomID), c.configure)
	if err != nil {
		return fmt.Errorf("rtc: peer connection: %w", err)
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		pc.close()
		return fmt.Errorf("rtc: dial %s: %w", c.url, err)
	}
	conn := newSignalConn(ws)

	runCtx, cancel := context.WithCancel(context.Background())

	pc.onICE = func(ci webrtc.ICECandidateInit) {
		c.sendCandidate(ci)
	}
	pc.onTrack = func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.handleTrack(trackCtx, track)
	}
	pc.start(runCtx)

	c.mu.Lock()
	c.conn = conn
	c.pc = pc
	c.cancel = cancel
	c.mu.Unlock()

	go conn.writePump(runCtx)
	go conn.readPump(runCtx, c.handleMessage)

	err = conn.trySend(signalMessage{
		Type:        msgLogin,
		Token:       cred.Token,
		Room:        string(cred.RoomID),
		Participant: string(p.ID),
		DisplayName: p.DisplayName,
	})
	if err != nil {
		c.Logout()
		return fmt.Errorf("rtc: send login: %w", err)
	}

	select {
	case <-ctx.Done():
		c.Logout()
		return ctx.Err()
	case err := <-c.loginCh:
		if err != nil {
			c.Logout()
			return err
		}
	}

	log.Info().Str("module", "rtc").Str("room", string(cred.RoomID)).Str("user", string(p.ID)).Msg("logged into room")
	return nil
}

func (c *roomClient) Publish(ctx context.Context, ls core.LocalStream) error {
	c.mu.Lock()
	pc, conn := c.pc, c.conn
	c.mu.Unlock()
	if pc == nil || conn == nil {
		return ErrLoggedOut
	}

	for _, track := range ls.Tracks() {
		if _, err := pc.addLocalTrack(track); err != nil {
			return fmt.Errorf("rtc: add local track: %w", err)
		}
	}

	if err := c.negotiate(ctx, msgPublish, string(ls.ID())); err != nil {
		return fmt.Errorf("rtc: publish %s: %w", ls.ID(), err)
	}
	log.Info().Str("module", "rtc").Str("stream", string(ls.ID())).Msg("published local stream")
	return nil
}

func (c *roomClient) Play(ctx context.Context, info core.StreamInfo) (core.RemoteMedia, error) {
	c.mu.Lock()
	pc, conn := c.pc, c.conn
	if pc == nil || conn == nil {
		c.mu.Unlock()
		return nil, ErrLoggedOut
	}
	rm := newRemoteMedia(info, c.stopStream)
	c.remotes[info.ID] = rm
	c.mu.Unlock()

	fail := func(err error) (core.RemoteMedia, error) {
		c.mu.Lock()
		delete(c.remotes, info.ID)
		c.mu.Unlock()
		return nil, err
	}

	if err := pc.addRecvTransceiver(webrtc.RTPCodecTypeVideo); err != nil {
		return fail(fmt.Errorf("rtc: play %s: %w", info.ID, err))
	}
	if err := pc.addRecvTransceiver(webrtc.RTPCodecTypeAudio); err != nil {
		return fail(fmt.Errorf("rtc: play %s: %w", info.ID, err))
	}
	if err := c.negotiate(ctx, msgPlay, string(info.ID)); err != nil {
		return fail(fmt.Errorf("rtc: play %s: %w", info.ID, err))
	}
	return rm, nil
}

// negotiate runs one offer/answer round over the signaling socket.
func (c *roomClient) negotiate(ctx context.Context, t messageType, streamID string) error {
	c.negotiating.Lock()
	defer c.negotiating.Unlock()

	c.mu.Lock()
	pc, conn := c.pc, c.conn
	c.mu.Unlock()
	if pc == nil || conn == nil {
		return ErrLoggedOut
	}

	offer, err := pc.createAndSetOffer()
	if err != nil {
		return err
	}
	if err := conn.trySend(signalMessage{Type: t, Stream: streamID, SDP: offer.SDP}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case answer := <-c.answerCh:
		return pc.applyAnswer(answer)
	}
}

func (c *roomClient) handleMessage(msg signalMessage) {
	switch msg.Type {
	case msgLoginOK:
		select {
		case c.loginCh <- nil:
		default:
		}
	case msgError:
		log.Error().Str("module", "rtc").Str("error", msg.Error).Msg("provider error")
		select {
		case c.loginCh <- fmt.Errorf("%w: %s", ErrLoginRejected, msg.Error):
		default:
		}
	case msgAnswer:
		select {
		case c.answerCh <- webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}:
		default:
			log.Warn().Str("module", "rtc").Msg("unexpected answer dropped")
		}
	case msgCandidate:
		if msg.Candidate == nil {
			return
		}
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if pc == nil {
			return
		}
		ci := webrtc.ICECandidateInit{
			Candidate:     msg.Candidate.Candidate,
			SDPMid:        msg.Candidate.SDPMid,
			SDPMLineIndex: msg.Candidate.SDPMLineIndex,
		}
		if err := pc.addICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("add ice candidate")
		}
	case msgPresence:
		c.mu.Lock()
		fn := c.onPresence
		c.mu.Unlock()
		if fn == nil {
			return
		}
		fn(core.PresenceEvent{
			Kind:    core.PresenceKind(msg.Kind),
			Streams: msg.Streams,
		})
	default:
		log.Warn().Str("module", "rtc").Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

func (c *roomClient) handleTrack(ctx context.Context, track *webrtc.TrackRemote) {
	id := domain.StreamID(track.StreamID())
	c.mu.Lock()
	rm, ok := c.remotes[id]
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "rtc").Str("stream", string(id)).Msg("track for unknown stream")
		return
	}
	rm.attach(ctx, track)
}

func (c *roomClient) sendCandidate(ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.trySend(signalMessage{
		Type: msgCandidate,
		Candidate: &candidatePayload{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		},
	})
}

func (c *roomClient) stopStream(id domain.StreamID) {
	c.mu.Lock()
	conn := c.conn
	delete(c.remotes, id)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.trySend(signalMessage{Type: msgStop, Stream: string(id)})
	}
}

// Logout tears down transport state only; the engine owns the local
// capture. Idempotent.
func (c *roomClient) Logout() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, pc, cancel := c.conn, c.pc, c.cancel
	c.conn, c.pc, c.cancel = nil, nil, nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.trySend(signalMessage{Type: msgLogout})
	}
	if cancel != nil {
		cancel()
	}
	if pc != nil {
		pc.close()
	}
	if conn != nil {
		conn.close()
	}
	log.Info().Str("module", "rtc").Msg("logged out of room")
}
