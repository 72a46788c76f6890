package falcon

import (
	"context"
	"fmt"
	"net/url"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// QueryHosts issues a substring-match host query and returns matching agent
// ids. An empty result is not itself an error; the resolver treats it as
// NotFound.
func (c *Client) QueryHosts(ctx context.Context, filter HostQueryFilter) ([]string, error) {
	var resp struct {
		Resources []string `json:"resources"`
	}

	q := url.Values{}
	q.Set("filter", fmt.Sprintf("hostname:*'%s'*", filter.HostnameSubstring))

	if err := c.doJSON(ctx, "GET", "/devices/queries/devices/v1?"+q.Encode(), nil, &resp); err != nil {
		return nil, errors.Wrap(err, "query hosts")
	}

	return resp.Resources, nil
}

// GetHostDetails fetches device-detail records for the given agent ids.
func (c *Client) GetHostDetails(ctx context.Context, agentIDs []string) ([]HostRecord, error) {
	var resp struct {
		Resources []HostRecord `json:"resources"`
	}

	req := struct {
		IDs []string `json:"ids"`
	}{IDs: agentIDs}

	if err := c.doJSON(ctx, "POST", "/devices/entities/devices/v2", req, &resp); err != nil {
		return nil, errors.Wrap(err, "get host details")
	}

	return resp.Resources, nil
}
