// Package app wires the engine, reconciler and pollers into one
// agent owning a single oath encounter.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/app/engine"
	"github.com/crms-dev/oathcall/internal/app/presence"
	"github.com/crms-dev/oathcall/internal/app/reconcile"
)

type Agent struct {
	Engine     *engine.Engine
	Reconciler *reconcile.Reconciler
	Heartbeat  *presence.Heartbeat
}

func NewAgent(eng *engine.Engine, rec *reconcile.Reconciler, hb *presence.Heartbeat) *Agent {
	return &Agent{Engine: eng, Reconciler: rec, Heartbeat: hb}
}

// Run drives the record poller and heartbeat until ctx is cancelled,
// then tears the media session down. Teardown is unconditional: no
// exit path may leave a capture device open.
func (a *Agent) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Reconciler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Heartbeat.Run(ctx)
	}()
	wg.Wait()

	a.Engine.Leave()
	log.Info().Str("module", "app").Msg("agent stopped")
}

// Snapshot is the combined render state for the view surface.
type Snapshot struct {
	Phase   reconcile.Phase `json:"phase"`
	Session engine.Snapshot `json:"session"`
}

func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		Phase:   a.Reconciler.Phase(),
		Session: a.Engine.Snapshot(),
	}
}

func (a *Agent) ToggleMicrophone() bool { return a.Engine.ToggleMicrophone() }
func (a *Agent) ToggleCamera() bool     { return a.Engine.ToggleCamera() }

func (a *Agent) RequestOath(ctx context.Context) error { return a.Reconciler.RequestOath(ctx) }
func (a *Agent) Join(ctx context.Context) error        { return a.Reconciler.Join(ctx) }
func (a *Agent) End(ctx context.Context) error         { return a.Reconciler.End(ctx) }
