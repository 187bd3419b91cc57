package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

// remoteMedia is one playing subscription. Inbound RTP is drained so
// the receiver's buffers keep moving even when nothing downstream
// consumes the frames.
type remoteMedia struct {
	info core.StreamInfo
	stop func(domain.StreamID)

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

func newRemoteMedia(info core.StreamInfo, stop func(domain.StreamID)) *remoteMedia {
	return &remoteMedia{info: info, stop: stop}
}

func (m *remoteMedia) Info() core.StreamInfo { return m.info }

func (m *remoteMedia) attach(ctx context.Context, track *webrtc.TrackRemote) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	drainCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.drain(drainCtx, track)
}

func (m *remoteMedia) drain(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := track.ReadRTP(); err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "rtc").Str("stream", string(m.info.ID)).Msg("remote track ended")
			}
			return
		}
	}
}

func (m *remoteMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if m.stop != nil {
		m.stop(m.info.ID)
	}
}
