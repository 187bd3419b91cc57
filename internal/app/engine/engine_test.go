package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

type fakeCreds struct {
	err   error
	calls int
}

func (f *fakeCreds) RoomCredential(_ context.Context, roomID domain.RoomID, pid domain.ParticipantID) (*core.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &core.Credential{Token: "tok", AppID: "app-1", RoomID: roomID, ParticipantID: pid}, nil
}

type fakeProvider struct {
	rc  *fakeRoomClient
	err error
}

func (f *fakeProvider) NewRoomClient(string) (core.RoomClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rc, nil
}

type fakeRoomClient struct {
	mu         sync.Mutex
	calls      []string
	handler    func(core.PresenceEvent)
	loginErr   error
	publishErr error
	playErr    map[domain.StreamID]error
	media      map[domain.StreamID]*fakeMedia
}

func newFakeRoomClient() *fakeRoomClient {
	return &fakeRoomClient{
		playErr: make(map[domain.StreamID]error),
		media:   make(map[domain.StreamID]*fakeMedia),
	}
}

func (f *fakeRoomClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRoomClient) callSeq() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRoomClient) OnPresence(fn func(core.PresenceEvent)) {
	f.record("presence-handler")
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

func (f *fakeRoomClient) Login(context.Context, *core.Credential, *domain.Participant) error {
	f.record("login")
	return f.loginErr
}

func (f *fakeRoomClient) Publish(_ context.Context, ls core.LocalStream) error {
	f.record("publish:" + string(ls.ID()))
	return f.publishErr
}

func (f *fakeRoomClient) Play(_ context.Context, info core.StreamInfo) (core.RemoteMedia, error) {
	f.record("play:" + string(info.ID))
	f.mu.Lock()
	err := f.playErr[info.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m := &fakeMedia{info: info}
	f.mu.Lock()
	f.media[info.ID] = m
	f.mu.Unlock()
	return m, nil
}

func (f *fakeRoomClient) Logout() { f.record("logout") }

func (f *fakeRoomClient) presence(ev core.PresenceEvent) {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	fn(ev)
}

func (f *fakeRoomClient) mediaFor(id domain.StreamID) *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.media[id]
}

type fakeMedia struct {
	info core.StreamInfo

	mu     sync.Mutex
	closed bool
}

func (m *fakeMedia) Info() core.StreamInfo { return m.info }

func (m *fakeMedia) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeCapture struct {
	openErr error
	stream  *fakeLocalStream
}

func (f *fakeCapture) ConfigureCodecs(*webrtc.MediaEngine) error { return nil }

func (f *fakeCapture) Open(_ context.Context, id domain.StreamID) (core.LocalStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.stream = &fakeLocalStream{id: id, audio: true, video: true}
	return f.stream, nil
}

type fakeLocalStream struct {
	id domain.StreamID

	mu        sync.Mutex
	audio     bool
	video     bool
	stopCalls int
}

func (s *fakeLocalStream) ID() domain.StreamID         { return s.id }
func (s *fakeLocalStream) Tracks() []webrtc.TrackLocal { return nil }

func (s *fakeLocalStream) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audio = on
	s.mu.Unlock()
}

func (s *fakeLocalStream) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.video = on
	s.mu.Unlock()
}

func (s *fakeLocalStream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *fakeLocalStream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *fakeLocalStream) Close() {
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()
}

func (s *fakeLocalStream) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

func testParticipant(t *testing.T) *domain.Participant {
	t.Helper()
	p, err := domain.NewParticipant("u-1", "Jordan Doe", domain.RoleDeponent)
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	return p
}

func newTestEngine(rc *fakeRoomClient) (*Engine, *fakeCreds, *fakeCapture) {
	creds := &fakeCreds{}
	cap := &fakeCapture{}
	eng := New(creds, &fakeProvider{rc: rc}, cap)
	return eng, creds, cap
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitializeRegistersPresenceBeforeLogin(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, _ := newTestEngine(rc)

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Leave()

	seq := rc.callSeq()
	handlerAt, loginAt := -1, -1
	for i, call := range seq {
		switch call {
		case "presence-handler":
			handlerAt = i
		case "login":
			loginAt = i
		}
	}
	if handlerAt == -1 || loginAt == -1 {
		t.Fatalf("missing calls in %v", seq)
	}
	if handlerAt > loginAt {
		t.Fatalf("presence handler registered after login: %v", seq)
	}
	if !eng.Joined() {
		t.Fatal("expected joined after initialize")
	}
}

func TestInitializeCredentialFailure(t *testing.T) {
	rc := newFakeRoomClient()
	eng, creds, _ := newTestEngine(rc)
	creds.err = errors.New("broker down")

	err := eng.Initialize(context.Background(), "room-1", testParticipant(t))
	var ie *InitError
	if !errors.As(err, &ie) || ie.Stage != StageCredential {
		t.Fatalf("expected credential init error, got %v", err)
	}
	if len(rc.callSeq()) != 0 {
		t.Fatalf("no room calls expected, got %v", rc.callSeq())
	}
	// A failed initialize must not wedge the engine.
	creds.err = nil
	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("second initialize blocked: %v", err)
	}
	eng.Leave()
}

func TestInitializeCaptureFailureLogsOut(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, cap := newTestEngine(rc)
	cap.openErr = errors.New("camera busy")

	err := eng.Initialize(context.Background(), "room-1", testParticipant(t))
	var ie *InitError
	if !errors.As(err, &ie) || ie.Stage != StageCapture {
		t.Fatalf("expected capture init error, got %v", err)
	}
	seq := rc.callSeq()
	if seq[len(seq)-1] != "logout" {
		t.Fatalf("expected trailing logout, got %v", seq)
	}
	if eng.Joined() {
		t.Fatal("must not report joined")
	}
}

func TestInitializePublishFailureReleasesCapture(t *testing.T) {
	rc := newFakeRoomClient()
	rc.publishErr = errors.New("publish rejected")
	eng, _, cap := newTestEngine(rc)

	err := eng.Initialize(context.Background(), "room-1", testParticipant(t))
	var ie *InitError
	if !errors.As(err, &ie) || ie.Stage != StagePublish {
		t.Fatalf("expected publish init error, got %v", err)
	}
	if cap.stream.stops() == 0 {
		t.Fatal("capture must be stopped on partial initialization")
	}
	if eng.Joined() {
		t.Fatal("must not report joined")
	}
}

func TestInitializeWhileActive(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, _ := newTestEngine(rc)

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Leave()

	if err := eng.Initialize(context.Background(), "room-2", testParticipant(t)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, cap := newTestEngine(rc)

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	eng.Leave()
	eng.Leave()

	if got := cap.stream.stops(); got != 1 {
		t.Fatalf("capture stopped %d times, want 1", got)
	}
	snap := eng.Snapshot()
	if snap.Joined || snap.LocalStream != "" || len(snap.RemoteStreams) != 0 {
		t.Fatalf("state not cleared: %+v", snap)
	}
}

func TestPresenceAddDelete(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, _ := newTestEngine(rc)

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Leave()

	a := core.StreamInfo{ID: "a", Owner: "p-a"}
	b := core.StreamInfo{ID: "b", Owner: "p-b"}
	rc.presence(core.PresenceEvent{Kind: core.PresenceAdd, Streams: []core.StreamInfo{a, b}})

	// Slots appear in arrival order immediately; playback completes async.
	snap := eng.Snapshot()
	if len(snap.RemoteStreams) != 2 || snap.RemoteStreams[0].StreamID != "a" || snap.RemoteStreams[1].StreamID != "b" {
		t.Fatalf("unexpected remote order: %+v", snap.RemoteStreams)
	}

	waitFor(t, "both streams playing", func() bool {
		s := eng.Snapshot()
		return len(s.RemoteStreams) == 2 && s.RemoteStreams[0].Playing && s.RemoteStreams[1].Playing
	})

	rc.presence(core.PresenceEvent{Kind: core.PresenceDelete, Streams: []core.StreamInfo{a}})

	snap = eng.Snapshot()
	if len(snap.RemoteStreams) != 1 || snap.RemoteStreams[0].StreamID != "b" {
		t.Fatalf("expected exactly stream b, got %+v", snap.RemoteStreams)
	}
	if !rc.mediaFor("a").isClosed() {
		t.Fatal("deleted stream's media must be closed")
	}
	if rc.mediaFor("b").isClosed() {
		t.Fatal("surviving stream's media must stay open")
	}
}

func TestPresenceDuplicateAddIgnored(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, _ := newTestEngine(rc)

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Leave()

	a := core.StreamInfo{ID: "a", Owner: "p-a"}
	rc.presence(core.PresenceEvent{Kind: core.PresenceAdd, Streams: []core.StreamInfo{a}})
	rc.presence(core.PresenceEvent{Kind: core.PresenceAdd, Streams: []core.StreamInfo{a}})

	if snap := eng.Snapshot(); len(snap.RemoteStreams) != 1 {
		t.Fatalf("duplicate add created extra entries: %+v", snap.RemoteStreams)
	}
}

func TestPlayFailureIsolated(t *testing.T) {
	rc := newFakeRoomClient()
	rc.playErr["a"] = errors.New("subscribe refused")
	eng, _, _ := newTestEngine(rc)

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Leave()

	rc.presence(core.PresenceEvent{Kind: core.PresenceAdd, Streams: []core.StreamInfo{
		{ID: "a", Owner: "p-a"},
		{ID: "b", Owner: "p-b"},
	}})

	waitFor(t, "stream b playing despite a failing", func() bool {
		s := eng.Snapshot()
		return len(s.RemoteStreams) == 2 && s.RemoteStreams[1].Playing
	})
}

func TestToggles(t *testing.T) {
	rc := newFakeRoomClient()
	eng, _, cap := newTestEngine(rc)

	// Without a local stream both toggles are no-ops.
	if eng.ToggleMicrophone() || eng.ToggleCamera() {
		t.Fatal("toggle must be a no-op without a local stream")
	}

	if err := eng.Initialize(context.Background(), "room-1", testParticipant(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Leave()

	if on := eng.ToggleMicrophone(); on {
		t.Fatal("first toggle should mute")
	}
	if cap.stream.AudioEnabled() {
		t.Fatal("local track flag must mirror the toggle")
	}
	if on := eng.ToggleMicrophone(); !on {
		t.Fatal("second toggle should unmute")
	}
	if on := eng.ToggleCamera(); on {
		t.Fatal("camera toggle should disable")
	}
}
