package falcon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// ListPutFiles lists every put-file in the caller's customer-id scope.
func (c *Client) ListPutFiles(ctx context.Context) ([]string, error) {
	var resp struct {
		Resources []string `json:"resources"`
	}
	if err := c.doJSON(ctx, "GET", "/real-time-response/queries/put-files/v1", nil, &resp); err != nil {
		return nil, errors.Wrap(err, "list put files")
	}
	return resp.Resources, nil
}

// GetPutFiles fetches metadata for the given put-file ids.
func (c *Client) GetPutFiles(ctx context.Context, ids []string) ([]CloudFile, error) {
	var resp struct {
		Resources []CloudFile `json:"resources"`
	}

	path := "/real-time-response/entities/put-files/v2"
	for i, id := range ids {
		if i == 0 {
			path += "?ids=" + id
		} else {
			path += "&ids=" + id
		}
	}

	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "get put files")
	}
	return resp.Resources, nil
}

// CreatePutFile uploads a payload (collector bundle or launcher script) to
// the put-file repository. A name is unique within a customer-id scope;
// callers implementing re-upload must delete-by-id first.
func (c *Client) CreatePutFile(ctx context.Context, name string, content []byte, comment, description string) (CloudFile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("name", name); err != nil {
		return CloudFile{}, errors.Wrap(err, "write name field")
	}
	if err := w.WriteField("comments_for_audit_log", comment); err != nil {
		return CloudFile{}, errors.Wrap(err, "write comment field")
	}
	if err := w.WriteField("description", description); err != nil {
		return CloudFile{}, errors.Wrap(err, "write description field")
	}

	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return CloudFile{}, errors.Wrap(err, "create form file")
	}
	if _, err := part.Write(content); err != nil {
		return CloudFile{}, errors.Wrap(err, "write file content")
	}
	if err := w.Close(); err != nil {
		return CloudFile{}, errors.Wrap(err, "close multipart writer")
	}

	tok, err := c.token(ctx)
	if err != nil {
		return CloudFile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/real-time-response/entities/put-files/v1", &buf)
	if err != nil {
		return CloudFile{}, errors.Wrap(err, "build create-put-file request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CloudFile{}, errors.Wrap(err, "create put file")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CloudFile{}, errors.Wrap(err, "read create-put-file response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return CloudFile{}, errors.Wrapf(errors.ErrRemoteError, "create put file %q failed with status %d: %s", name, resp.StatusCode, string(respBody))
	}

	var created struct {
		Resources []CloudFile `json:"resources"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return CloudFile{}, errors.Wrap(err, "decode create-put-file response")
	}
	if len(created.Resources) == 0 {
		return CloudFile{}, errors.Newf("create put file %q returned no resources", name)
	}

	return created.Resources[0], nil
}

// DeletePutFile removes a put-file by id.
func (c *Client) DeletePutFile(ctx context.Context, id string) error {
	path := "/real-time-response/entities/put-files/v1?ids=" + id
	if err := c.doJSON(ctx, "DELETE", path, nil, nil); err != nil {
		return errors.Wrapf(err, "delete put file %s", id)
	}
	return nil
}
