package rtc

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

func TestNewRoomClientURL(t *testing.T) {
	p := NewProvider("wss://rtc.example.com/", nil)

	rc, err := p.NewRoomClient("12345")
	if err != nil {
		t.Fatalf("new room client: %v", err)
	}
	got := rc.(*roomClient).url
	if got != "wss://rtc.example.com/app/12345/ws" {
		t.Fatalf("url %q", got)
	}
}

func TestNewRoomClientEmptyAppID(t *testing.T) {
	p := NewProvider("wss://rtc.example.com", nil)
	if _, err := p.NewRoomClient(""); !errors.Is(err, ErrEmptyAppID) {
		t.Fatalf("expected ErrEmptyAppID, got %v", err)
	}
}

func newUnconnectedClient(t *testing.T) *roomClient {
	t.Helper()
	rc, err := NewProvider("wss://rtc.example.com", nil).NewRoomClient("12345")
	if err != nil {
		t.Fatalf("new room client: %v", err)
	}
	return rc.(*roomClient)
}

func TestHandleMessageLogin(t *testing.T) {
	c := newUnconnectedClient(t)

	c.handleMessage(signalMessage{Type: msgLoginOK})
	select {
	case err := <-c.loginCh:
		if err != nil {
			t.Fatalf("login_ok delivered %v", err)
		}
	default:
		t.Fatal("login_ok not delivered")
	}

	c.handleMessage(signalMessage{Type: msgError, Error: "bad token"})
	select {
	case err := <-c.loginCh:
		if !errors.Is(err, ErrLoginRejected) {
			t.Fatalf("expected ErrLoginRejected, got %v", err)
		}
	default:
		t.Fatal("error not delivered")
	}
}

func TestHandleMessageAnswer(t *testing.T) {
	c := newUnconnectedClient(t)

	c.handleMessage(signalMessage{Type: msgAnswer, SDP: "v=0 answer"})
	select {
	case answer := <-c.answerCh:
		if answer.Type != webrtc.SDPTypeAnswer || answer.SDP != "v=0 answer" {
			t.Fatalf("answer %+v", answer)
		}
	default:
		t.Fatal("answer not delivered")
	}

	// A second unsolicited answer is dropped, not blocked on.
	c.handleMessage(signalMessage{Type: msgAnswer, SDP: "one"})
	c.handleMessage(signalMessage{Type: msgAnswer, SDP: "two"})
}

func TestHandleMessagePresence(t *testing.T) {
	c := newUnconnectedClient(t)

	var mu sync.Mutex
	var got []core.PresenceEvent
	c.OnPresence(func(ev core.PresenceEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	c.handleMessage(signalMessage{
		Type:    msgPresence,
		Kind:    string(core.PresenceAdd),
		Streams: []core.StreamInfo{{ID: "stream-a", Owner: "alice"}},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("%d presence events, want 1", len(got))
	}
	if got[0].Kind != core.PresenceAdd || len(got[0].Streams) != 1 || got[0].Streams[0].ID != "stream-a" {
		t.Fatalf("event %+v", got[0])
	}
}

func TestHandleMessagePresenceWithoutHandler(t *testing.T) {
	c := newUnconnectedClient(t)
	// Must not panic when no handler is registered yet.
	c.handleMessage(signalMessage{Type: msgPresence, Kind: string(core.PresenceDelete)})
}

func TestPublishBeforeLogin(t *testing.T) {
	c := newUnconnectedClient(t)
	if err := c.Publish(t.Context(), nil); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut, got %v", err)
	}
	if _, err := c.Play(t.Context(), core.StreamInfo{ID: "stream-a"}); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut, got %v", err)
	}
}

func TestLogoutIdempotentWithoutLogin(t *testing.T) {
	c := newUnconnectedClient(t)
	c.Logout()
	c.Logout()
}

func TestStopStreamUnregisters(t *testing.T) {
	c := newUnconnectedClient(t)
	c.remotes["stream-a"] = newRemoteMedia(core.StreamInfo{ID: "stream-a"}, func(domain.StreamID) {})

	c.stopStream("stream-a")
	if _, ok := c.remotes["stream-a"]; ok {
		t.Fatal("stream still registered after stop")
	}
}

// echoServer upgrades the request and echoes frames back until the
// peer goes away.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSignalConnRoundTrip(t *testing.T) {
	srv := echoServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := newSignalConn(ws)

	received := make(chan signalMessage, 1)
	go conn.writePump(t.Context())
	go conn.readPump(t.Context(), func(msg signalMessage) {
		select {
		case received <- msg:
		default:
		}
	})

	if err := conn.trySend(signalMessage{Type: msgPublish, Stream: "stream-a"}); err != nil {
		t.Fatalf("trySend: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != msgPublish || msg.Stream != "stream-a" {
			t.Fatalf("echoed %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}

	conn.close()
	conn.close()
	if err := conn.trySend(signalMessage{Type: msgLogout}); err == nil {
		t.Fatal("trySend after close must fail")
	}
}

func TestSignalConnBackpressure(t *testing.T) {
	srv := echoServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := newSignalConn(ws)
	defer conn.close()

	// No writePump draining: the queue fills and then drops.
	var backpressured bool
	for i := 0; i < sendQueueLen+1; i++ {
		if err := conn.trySend(signalMessage{Type: msgCandidate}); errors.Is(err, ErrBackpressure) {
			backpressured = true
			break
		}
	}
	if !backpressured {
		t.Fatal("expected ErrBackpressure once the queue filled")
	}
}
