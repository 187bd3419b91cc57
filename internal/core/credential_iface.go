package core

import (
	"context"
	"time"

	"github.com/crms-dev/oathcall/internal/domain"
)

// Credential is a single-use, (room, identity)-scoped join grant
// issued by the token broker. ExpiresAt is zero when the broker token
// carries no readable expiry claim.
type Credential struct {
	Token         string
	AppID         string
	RoomID        domain.RoomID
	ParticipantID domain.ParticipantID
	ExpiresAt     time.Time
}

// CredentialSource requests join grants from the broker. No retries
// and no caching; a credential is good for exactly one join attempt.
type CredentialSource interface {
	RoomCredential(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) (*Credential, error)
}
