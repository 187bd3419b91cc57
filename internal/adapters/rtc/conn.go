package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("rtc: signal backpressure")

const (
	sendQueueLen  = 64
	writeDeadline = 5 * time.Second
)

// signalConn wraps one provider websocket. Writes go through a
// bounded queue; a full queue drops the frame rather than blocking
// the caller.
type signalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newSignalConn(conn *websocket.Conn) *signalConn {
	return &signalConn{
		conn: conn,
		send: make(chan []byte, sendQueueLen),
	}
}

func (c *signalConn) trySend(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("rtc: connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *signalConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *signalConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "rtc").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "rtc").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump delivers every inbound frame to handle until the socket or
// ctx dies, then closes the connection.
func (c *signalConn) readPump(ctx context.Context, handle func(signalMessage)) {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("module", "rtc").Msg("readPump read error")
				}
				return
			}
			var msg signalMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Error().Err(err).Str("module", "rtc").Msg("bad signal json")
				continue
			}
			handle(msg)
		}
	}
}
