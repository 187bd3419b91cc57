package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrParticipantIDEmpty = errors.New("participant id empty")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUnknownRole        = errors.New("unknown role")
)

type ParticipantID string

// Role distinguishes the two parties of an oath encounter. The call
// flow is identical for both; role is configuration, not a separate
// code path.
type Role string

const (
	RoleDeponent Role = "deponent"
	RoleVerifier Role = "verifier"
)

func (r Role) Valid() bool {
	return r == RoleDeponent || r == RoleVerifier
}

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	Role        Role          `json:"role"`
}

// NewParticipant keeps construction obvious and avoids ad-hoc struct
// literals in adapters.
func NewParticipant(id, displayName string, role Role) (*Participant, error) {
	if id == "" {
		return nil, ErrParticipantIDEmpty
	}
	if displayName == "" {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	return &Participant{ID: ParticipantID(id), DisplayName: displayName, Role: role}, nil
}

// StreamName derives the identifier the participant publishes its
// local stream under.
func (p *Participant) StreamName() StreamID {
	return StreamID("stream-" + string(p.ID))
}
