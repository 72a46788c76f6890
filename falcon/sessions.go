package falcon

import (
	"context"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// InitSession opens an RTR session against agentID. The response MUST carry
// status "created" and a session id; anything else is a
// SessionLost condition since the session manager cannot proceed.
func (c *Client) InitSession(ctx context.Context, agentID string) (SessionInitResponse, error) {
	var resp SessionInitResponse

	req := struct {
		DeviceID string `json:"device_id"`
	}{DeviceID: agentID}

	if err := c.doJSON(ctx, "POST", "/real-time-response/entities/sessions/v1", req, &resp); err != nil {
		return SessionInitResponse{}, errors.Wrap(err, "init session")
	}

	if resp.Status != "created" || resp.SessionID == "" {
		return SessionInitResponse{}, errors.Wrapf(errors.ErrSessionLost, "init session returned status=%q session_id=%q", resp.Status, resp.SessionID)
	}

	return resp, nil
}

// PulseSession refreshes a session's keepalive. Pulses are re-entrant and
// idempotent; a failing pulse is the session manager's signal
// that the session is likely lost.
func (c *Client) PulseSession(ctx context.Context, sessionID string) error {
	req := struct {
		DeviceID  string `json:"device_id"`
		SessionID string `json:"session_id"`
	}{SessionID: sessionID}

	if err := c.doJSON(ctx, "POST", "/real-time-response/entities/refresh-session/v1", req, nil); err != nil {
		return errors.Wrapf(errors.ErrSessionLost, "pulse session %s: %v", sessionID, err)
	}

	return nil
}

// DeleteSession closes a session. Callers MUST invoke this on every exit
// path of a collection.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/real-time-response/entities/sessions/v1?session_id=" + sessionID
	if err := c.doJSON(ctx, "DELETE", path, nil, nil); err != nil {
		return errors.Wrapf(err, "delete session %s", sessionID)
	}
	return nil
}
