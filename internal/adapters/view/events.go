package view

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const snapshotEvery = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The surface binds to loopback; the browser page it serves is
	// the only expected origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventsHandler pushes the combined snapshot whenever it changes, so
// the page re-renders on reference change instead of re-polling.
func eventsHandler(sess Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "view").Msg("ws upgrade failed")
			return
		}
		defer ws.Close()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		t := time.NewTicker(snapshotEvery)
		defer t.Stop()

		var last []byte
		for {
			select {
			case <-closed:
				return
			case <-c.Request.Context().Done():
				return
			case <-t.C:
				cur, err := json.Marshal(sess.Snapshot())
				if err != nil {
					log.Error().Err(err).Str("module", "view").Msg("snapshot marshal")
					continue
				}
				if string(cur) == string(last) {
					continue
				}
				last = cur
				if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
					return
				}
				if err := ws.WriteMessage(websocket.TextMessage, cur); err != nil {
					return
				}
			}
		}
	}
}
