package falcon

import (
	"context"
	"strconv"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// ExecuteCommand submits a verb+cmdline against an open session and returns
// the cloud_request_id used to poll for completion.
func (c *Client) ExecuteCommand(ctx context.Context, sessionID, verb, cmdline string) (CommandSubmitResponse, error) {
	return c.submitCommand(ctx, "/real-time-response/entities/command/v1", sessionID, verb, cmdline)
}

// ExecuteAdminCommand submits a verb+cmdline requiring admin scope (e.g.
// `put`, `runscript`, `unzip`).
func (c *Client) ExecuteAdminCommand(ctx context.Context, sessionID, verb, cmdline string) (CommandSubmitResponse, error) {
	return c.submitCommand(ctx, "/real-time-response/entities/admin-command/v1", sessionID, verb, cmdline)
}

// ExecuteActiveResponder submits a verb+cmdline from the active-responder
// class of commands — the only class able to retrieve
// files from the endpoint via `get`.
func (c *Client) ExecuteActiveResponder(ctx context.Context, agentID, sessionID, verb, cmdline string) (CommandSubmitResponse, error) {
	req := struct {
		DeviceID  string `json:"device_id"`
		SessionID string `json:"session_id"`
		BaseCmd   string `json:"base_command"`
		Cmdline   string `json:"command_string"`
	}{DeviceID: agentID, SessionID: sessionID, BaseCmd: verb, Cmdline: cmdline}

	var resp CommandSubmitResponse
	if err := c.doJSON(ctx, "POST", "/real-time-response/entities/active-responder-command/v1", req, &resp); err != nil {
		return CommandSubmitResponse{}, errors.Wrapf(err, "execute active-responder command %q", verb)
	}
	return resp, nil
}

func (c *Client) submitCommand(ctx context.Context, path, sessionID, verb, cmdline string) (CommandSubmitResponse, error) {
	req := struct {
		SessionID string `json:"session_id"`
		BaseCmd   string `json:"base_command"`
		Cmdline   string `json:"command_string"`
	}{SessionID: sessionID, BaseCmd: verb, Cmdline: cmdline}

	var resp CommandSubmitResponse
	if err := c.doJSON(ctx, "POST", path, req, &resp); err != nil {
		return CommandSubmitResponse{}, errors.Wrapf(err, "execute command %q", verb)
	}
	return resp, nil
}

// CheckCommandStatus polls for a submitted command's completion. seq is the
// sequence id the vendor API expects for multi-chunk reads (kept at 0 for
// single-chunk results, the only case this engine needs).
func (c *Client) CheckCommandStatus(ctx context.Context, cloudRequestID string, seq int) (CommandResult, error) {
	var resp CommandResult
	path := statusPath("/real-time-response/entities/command/v1", cloudRequestID, seq)
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return CommandResult{}, errors.Wrapf(err, "check command status %s", cloudRequestID)
	}
	return resp, nil
}

// CheckActiveResponderStatus polls an active-responder command (`get`) for
// completion.
func (c *Client) CheckActiveResponderStatus(ctx context.Context, cloudRequestID string, seq int) (CommandResult, error) {
	var resp CommandResult
	path := statusPath("/real-time-response/entities/active-responder-command/v1", cloudRequestID, seq)
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return CommandResult{}, errors.Wrapf(err, "check active-responder status %s", cloudRequestID)
	}
	return resp, nil
}

func statusPath(base, cloudRequestID string, seq int) string {
	return base + "?cloud_request_id=" + cloudRequestID + "&sequence_id=" + strconv.Itoa(seq)
}
