package core

import (
	"context"

	"github.com/crms-dev/oathcall/internal/domain"
)

// Backend is the CRMS REST API the agent polls and reports to. Record
// reads feed the reconciler; the mutation calls form the audit trail
// of an oath session.
type Backend interface {
	RecordsForUser(ctx context.Context, user domain.ParticipantID) ([]domain.Affidavit, error)
	Record(ctx context.Context, id domain.AffidavitID) (*domain.Affidavit, error)

	AssignMeeting(ctx context.Context, meeting domain.RoomID) error
	RequestOath(ctx context.Context, id domain.AffidavitID, meeting domain.RoomID) error

	StartSession(ctx context.Context, id domain.AffidavitID, meeting domain.RoomID) error
	JoinSession(ctx context.Context, meeting domain.RoomID) error
	EndSession(ctx context.Context, meeting domain.RoomID) error

	Heartbeat(ctx context.Context) error
}
