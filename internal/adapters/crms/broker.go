package crms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/core"
	"github.com/crms-dev/oathcall/internal/domain"
)

var (
	ErrEmptyRoomID      = errors.New("broker: room id empty")
	ErrEmptyParticipant = errors.New("broker: participant id empty")
	// ErrCredentialExpired means the broker handed out a token that is
	// already past its expiry claim; joining with it would only fail
	// later and more confusingly.
	ErrCredentialExpired = errors.New("broker: credential already expired")
)

// TokenBroker fetches short-lived room join grants from the backend's
// token endpoint. It does not retry and does not cache; retry policy
// belongs to the caller.
type TokenBroker struct {
	base  string
	token string
	hc    *http.Client
	now   func() time.Time
}

func NewTokenBroker(baseURL, authToken string, timeout time.Duration) *TokenBroker {
	return &TokenBroker{
		base:  baseURL,
		token: authToken,
		hc:    &http.Client{Timeout: timeout},
		now:   time.Now,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
	AppID string `json:"appId"`
}

func (b *TokenBroker) RoomCredential(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) (*core.Credential, error) {
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}
	if pid == "" {
		return nil, ErrEmptyParticipant
	}

	q := url.Values{}
	q.Set("userId", string(pid))
	q.Set("roomId", string(roomID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+"/zego/token?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.hc.Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Str("room", string(roomID)).Msg("token request failed")
		return nil, fmt.Errorf("broker: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Str("module", "broker").Str("room", string(roomID)).Int("status", resp.StatusCode).Msg("token request rejected")
		return nil, fmt.Errorf("broker: token request: unexpected status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("broker: decode token response: %w", err)
	}
	if tr.Token == "" || tr.AppID == "" {
		return nil, errors.New("broker: incomplete token response")
	}

	cred := &core.Credential{
		Token:         tr.Token,
		AppID:         tr.AppID,
		RoomID:        roomID,
		ParticipantID: pid,
	}

	// Provider tokens are often proprietary blobs; only when the token
	// parses as a JWT do we honor its expiry claim.
	if exp, ok := peekExpiry(tr.Token); ok {
		if !exp.After(b.now()) {
			return nil, ErrCredentialExpired
		}
		cred.ExpiresAt = exp
	}

	log.Info().Str("module", "broker").Str("room", string(roomID)).Str("user", string(pid)).Msg("credential issued")
	return cred, nil
}

func peekExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
