// Package crms talks to the court-registry backend over REST. The
// backend is an opaque collaborator; paths here must match it exactly.
package crms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/domain"
)

type Client struct {
	base  string
	token string
	hc    *http.Client
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		base:  baseURL,
		token: authToken,
		hc:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) RecordsForUser(ctx context.Context, user domain.ParticipantID) ([]domain.Affidavit, error) {
	var out []domain.Affidavit
	path := "/affidavits/user/" + url.PathEscape(string(user))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Record(ctx context.Context, id domain.AffidavitID) (*domain.Affidavit, error) {
	var out domain.Affidavit
	path := "/affidavits/" + url.PathEscape(string(id))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignMeeting associates a room with the current user.
func (c *Client) AssignMeeting(ctx context.Context, meeting domain.RoomID) error {
	body := map[string]string{"meetingId": string(meeting)}
	return c.do(ctx, http.MethodPut, "/user/meeting", body, nil)
}

// RequestOath marks the affidavit's oath as requested and records the
// room it will be taken in.
func (c *Client) RequestOath(ctx context.Context, id domain.AffidavitID, meeting domain.RoomID) error {
	body := map[string]string{
		"status":    string(domain.OathRequested),
		"meetingId": string(meeting),
	}
	path := "/affidavits/" + url.PathEscape(string(id)) + "/virtual-oath"
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) StartSession(ctx context.Context, id domain.AffidavitID, meeting domain.RoomID) error {
	body := map[string]string{
		"affidavitId": string(id),
		"meetingId":   string(meeting),
	}
	return c.do(ctx, http.MethodPost, "/oath/sessions/start", body, nil)
}

func (c *Client) JoinSession(ctx context.Context, meeting domain.RoomID) error {
	body := map[string]string{"meetingId": string(meeting)}
	return c.do(ctx, http.MethodPost, "/oath/sessions/join", body, nil)
}

func (c *Client) EndSession(ctx context.Context, meeting domain.RoomID) error {
	body := map[string]string{"meetingId": string(meeting)}
	return c.do(ctx, http.MethodPost, "/oath/sessions/end", body, nil)
}

// Heartbeat is a best-effort liveness ping; callers swallow its error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/user/heartbeat", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("crms: encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("crms: %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "crms").Str("path", path).Msg("request failed")
		return fmt.Errorf("crms: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Str("module", "crms").Str("path", path).Int("status", resp.StatusCode).Msg("unexpected status")
		return fmt.Errorf("crms: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crms: decode %s %s: %w", method, path, err)
	}
	return nil
}
