package falcon

import (
	"context"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// BatchInitSessions opens sessions against many agent ids in one call.
// Supported by the control plane but not used by the per-host
// collection pipelines — see DESIGN.md's open-question decision on why the
// engine still opens one session per worker.
func (c *Client) BatchInitSessions(ctx context.Context, agentIDs []string) (BatchInitResponse, error) {
	var resp BatchInitResponse

	req := struct {
		HostIDs []string `json:"host_ids"`
	}{HostIDs: agentIDs}

	if err := c.doJSON(ctx, "POST", "/real-time-response/combined/batch-init-session/v1", req, &resp); err != nil {
		return BatchInitResponse{}, errors.Wrap(err, "batch init sessions")
	}
	return resp, nil
}

// BatchRefreshSessions pulses every session in a batch at once.
func (c *Client) BatchRefreshSessions(ctx context.Context, batchID string) error {
	req := struct {
		BatchID string `json:"batch_id"`
	}{BatchID: batchID}

	if err := c.doJSON(ctx, "POST", "/real-time-response/combined/batch-refresh-session/v1", req, nil); err != nil {
		return errors.Wrapf(errors.ErrSessionLost, "batch refresh sessions %s: %v", batchID, err)
	}
	return nil
}

// BatchCommand submits a verb+cmdline against every session in a batch.
func (c *Client) BatchCommand(ctx context.Context, batchID, verb, cmdline string) (map[string]CommandResult, error) {
	var resp struct {
		Combined struct {
			Resources map[string]CommandResult `json:"resources"`
		} `json:"combined"`
	}

	req := struct {
		BatchID string `json:"batch_id"`
		BaseCmd string `json:"base_command"`
		Cmdline string `json:"command_string"`
	}{BatchID: batchID, BaseCmd: verb, Cmdline: cmdline}

	if err := c.doJSON(ctx, "POST", "/real-time-response/combined/batch-command/v1", req, &resp); err != nil {
		return nil, errors.Wrap(err, "batch command")
	}
	return resp.Combined.Resources, nil
}

// BatchGetCommand submits a `get` against every session in a batch.
func (c *Client) BatchGetCommand(ctx context.Context, batchID, path string) (map[string]string, error) {
	var resp struct {
		BatchGetCmdReqID string `json:"batch_get_cmd_req_id"`
	}

	req := struct {
		BatchID string `json:"batch_id"`
		FilePath string `json:"file_path"`
	}{BatchID: batchID, FilePath: path}

	if err := c.doJSON(ctx, "POST", "/real-time-response/combined/batch-get-command/v1", req, &resp); err != nil {
		return nil, errors.Wrap(err, "batch get command")
	}

	return map[string]string{"batch_get_cmd_req_id": resp.BatchGetCmdReqID}, nil
}

// BatchGetCommandStatus polls a batch `get` for completion.
func (c *Client) BatchGetCommandStatus(ctx context.Context, batchReqID string) (map[string]SessionFile, error) {
	var resp struct {
		Resources map[string]SessionFile `json:"resources"`
	}

	path := "/real-time-response/combined/batch-get-command/v1?timeout=30&batch_get_cmd_req_id=" + batchReqID
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "batch get command status")
	}
	return resp.Resources, nil
}
