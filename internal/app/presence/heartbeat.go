package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
)

const beatTimeout = 5 * time.Second

// Heartbeat fires a fire-and-forget liveness ping on a fixed interval.
// Failures are swallowed: this signal is best-effort and must never
// interrupt the primary flow.
type Heartbeat struct {
	backend core.Backend
	every   time.Duration
}

func NewHeartbeat(backend core.Backend, every time.Duration) *Heartbeat {
	return &Heartbeat{backend: backend, every: every}
}

// Run beats until ctx is cancelled. The ticker is owned here and dies
// with the context.
func (h *Heartbeat) Run(ctx context.Context) {
	h.beat(ctx)

	t := time.NewTicker(h.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	beatCtx, cancel := context.WithTimeout(ctx, beatTimeout)
	defer cancel()
	if err := h.backend.Heartbeat(beatCtx); err != nil {
		log.Debug().Err(err).Str("module", "presence").Msg("heartbeat dropped")
	}
}
