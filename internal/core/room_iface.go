package core

import (
	"context"

	"github.com/crms-dev/oathcall/internal/domain"
)

// RoomClient is one room join's transport endpoint. Construction does
// not touch the network. OnPresence must be called before Login so
// that streams already present in the room are delivered.
type RoomClient interface {
	OnPresence(func(PresenceEvent))
	Login(ctx context.Context, cred *Credential, p *domain.Participant) error
	Publish(ctx context.Context, ls LocalStream) error
	Play(ctx context.Context, info StreamInfo) (RemoteMedia, error)
	// Logout unpublishes, tears down transport state and must be
	// idempotent. It never touches the local capture; that is the
	// engine's job.
	Logout()
}

// Provider constructs room clients bound to the signaling endpoint
// derived from a credential's app id.
type Provider interface {
	NewRoomClient(appID string) (RoomClient, error)
}
