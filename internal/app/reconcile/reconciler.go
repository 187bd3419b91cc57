// Package reconcile maps server-reported affidavit state onto the
// agent's local call phase and drives the backend audit trail for
// user intents.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseNoRequest    Phase = "no_request"
	PhaseCheckingIn   Phase = "checking_in"
	PhaseReady        Phase = "ready"
	PhaseJoined       Phase = "joined"
	PhaseWaiting      Phase = "waiting"
)

var (
	ErrNoEligibleRecord = errors.New("reconcile: no eligible record")
	ErrNoRoom           = errors.New("reconcile: no room to join")
	ErrNotJoined        = errors.New("reconcile: not in a session")
)

// MediaSession is the engine surface the reconciler drives once a
// join is resolved.
type MediaSession interface {
	Initialize(ctx context.Context, roomID domain.RoomID, p *domain.Participant) error
	Leave()
}

type Reconciler struct {
	backend core.Backend
	session MediaSession
	self    *domain.Participant
	every   time.Duration

	mu     sync.Mutex
	phase  Phase
	record *domain.Affidavit
	roomID domain.RoomID
	joined bool
}

func New(backend core.Backend, session MediaSession, self *domain.Participant, pollEvery time.Duration) *Reconciler {
	return &Reconciler{
		backend: backend,
		session: session,
		self:    self,
		every:   pollEvery,
		phase:   PhaseInitializing,
	}
}

// Run polls the backend on a fixed cadence until ctx is cancelled.
// The ticker is owned here and dies with the context.
func (r *Reconciler) Run(ctx context.Context) {
	r.poll(ctx)

	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.poll(ctx)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	records, err := r.backend.RecordsForUser(ctx, r.self.ID)
	if err != nil {
		// A failed poll keeps the last known phase; stale beats flapping.
		log.Error().Err(err).Str("module", "reconcile").Msg("poll failed")
		return
	}
	r.Apply(records)
}

// Apply folds one poll result into the phase machine. Local joined
// state is sticky: once joined, no poll result moves the phase — only
// an explicit End does.
func (r *Reconciler) Apply(records []domain.Affidavit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.joined {
		return
	}

	cand := selectRecord(records)
	if cand == nil {
		r.phase = PhaseNoRequest
		r.record = nil
		r.roomID = ""
		return
	}

	r.record = cand
	if cand.MeetingID != "" {
		r.roomID = cand.MeetingID
		r.phase = PhaseReady
	} else {
		r.roomID = ""
		r.phase = PhaseCheckingIn
	}
}

// selectRecord picks the record an oath session may attach to. Any
// submitted record qualifies; ones with oath activity win ties so a
// half-finished encounter is resumed before a fresh filing.
func selectRecord(records []domain.Affidavit) *domain.Affidavit {
	var fallback *domain.Affidavit
	for i := range records {
		rec := &records[i]
		if !rec.SessionEligible() {
			continue
		}
		if rec.OathState == domain.OathRequested || rec.OathState == domain.OathCompleted || rec.MeetingID != "" {
			return rec
		}
		if fallback == nil {
			fallback = rec
		}
	}
	return fallback
}

// RequestOath creates a session for the current record: allocates a
// room, marks the oath requested and opens the audit trail, then
// joins. Backend mutation failures here are the user-visible kind.
func (r *Reconciler) RequestOath(ctx context.Context) error {
	r.mu.Lock()
	rec := r.record
	r.mu.Unlock()
	if rec == nil {
		return ErrNoEligibleRecord
	}

	meeting := domain.RoomID(uuid.NewString())

	if err := r.backend.AssignMeeting(ctx, meeting); err != nil {
		return fmt.Errorf("reconcile: assign meeting: %w", err)
	}
	if err := r.backend.RequestOath(ctx, rec.ID, meeting); err != nil {
		return fmt.Errorf("reconcile: request oath: %w", err)
	}
	if err := r.backend.StartSession(ctx, rec.ID, meeting); err != nil {
		return fmt.Errorf("reconcile: start session: %w", err)
	}

	r.mu.Lock()
	r.roomID = meeting
	r.joined = true
	r.phase = PhaseJoined
	r.mu.Unlock()
	log.Info().Str("module", "reconcile").Str("room", string(meeting)).Str("affidavit", string(rec.ID)).Msg("session created")

	return r.session.Initialize(ctx, meeting, r.self)
}

// Join enters an existing session using the room the poll reported.
// The deponent rejoining is not a backend mutation; only the verifier
// side records its arrival on the audit trail, best-effort.
func (r *Reconciler) Join(ctx context.Context) error {
	r.mu.Lock()
	if r.phase != PhaseReady || r.roomID == "" {
		r.mu.Unlock()
		return ErrNoRoom
	}
	meeting := r.roomID
	r.joined = true
	r.phase = PhaseJoined
	r.mu.Unlock()

	if r.self.Role == domain.RoleVerifier {
		if err := r.backend.JoinSession(ctx, meeting); err != nil {
			log.Warn().Err(err).Str("module", "reconcile").Msg("join audit failed")
		}
	}

	log.Info().Str("module", "reconcile").Str("room", string(meeting)).Msg("joining session")
	return r.session.Initialize(ctx, meeting, r.self)
}

// End leaves the room and closes the audit trail. Teardown happens
// unconditionally; the backend error, if any, is still surfaced.
func (r *Reconciler) End(ctx context.Context) error {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return ErrNotJoined
	}
	meeting := r.roomID
	r.joined = false
	r.roomID = ""
	r.phase = PhaseWaiting
	r.mu.Unlock()

	r.session.Leave()
	log.Info().Str("module", "reconcile").Str("room", string(meeting)).Msg("session ended")

	if err := r.backend.EndSession(ctx, meeting); err != nil {
		return fmt.Errorf("reconcile: end session: %w", err)
	}
	return nil
}

func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Reconciler) RoomID() domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// Record returns the reconciler's current candidate, nil when none.
func (r *Reconciler) Record() *domain.Affidavit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return nil
	}
	rec := *r.record
	return &rec
}
