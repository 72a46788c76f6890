package falcon

import (
	"context"
	"io"
	"net/http"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// ListSessionFiles lists files the control plane has ingested for sessionID
//.
func (c *Client) ListSessionFiles(ctx context.Context, sessionID string) ([]SessionFile, error) {
	var resp struct {
		Resources []SessionFile `json:"resources"`
	}

	path := "/real-time-response/entities/file/v2?session_id=" + sessionID
	if err := c.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "list session files for %s", sessionID)
	}

	return resp.Resources, nil
}

// GetExtractedFile fetches the raw bytes of a previously-ingested file. The control plane re-frames the content into a 7z
// container; callers must rename the local extension to .7z regardless of
// filename's original extension.
func (c *Client) GetExtractedFile(ctx context.Context, sessionID, sha256, filename string) (ExtractedFile, error) {
	path := "/real-time-response/entities/extracted-file-contents/v1?session_id=" + sessionID + "&sha256=" + sha256 + "&filename=" + filename

	tok, err := c.token(ctx)
	if err != nil {
		return ExtractedFile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return ExtractedFile{}, errors.Wrap(err, "build extracted-file request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ExtractedFile{}, errors.Wrap(err, "fetch extracted file")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ExtractedFile{}, ErrUnknownFile
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ExtractedFile{}, errors.Wrapf(errors.ErrTransferFailed, "extracted file fetch status %d: %s", resp.StatusCode, string(body))
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExtractedFile{}, errors.Wrap(err, "read extracted file body")
	}

	return ExtractedFile{
		SHA256:   sha256,
		Size:     int64(len(content)),
		Filename: filename,
		Content:  content,
	}, nil
}

// ErrUnknownFile is returned by GetExtractedFile when the control plane
// reports the file is not yet (or never) available; callers should keep
// polling rather than treat this as fatal.
var ErrUnknownFile = errors.New("unknown file")

// IsUnknownFile reports whether err indicates a not-yet-ready extracted
// file, as opposed to a fatal structured error.
func IsUnknownFile(err error) bool {
	return errors.Is(err, ErrUnknownFile)
}
