package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// Download timing constants.
const (
	MinCommandTimeout  = 600 * time.Second
	WorstCaseRateBps   = 30 * 1024 // 30 KiB/s
	shaRetrievalPoll   = 5 * time.Second
	shaRetrievalPulse  = 300 * time.Second
	ShaRetrievalDeadline = 2000 * time.Second
	contentFetchPoll   = 5 * time.Second
	contentFetchPulse  = 300 * time.Second
	ContentFetchDeadline = 18000 * time.Second
)

// SizeAwareCommandTimeout computes Phase A's timeout: the larger of 600s
// or fileSize/30KiB-per-second, the tested worst-case transfer rate.
func SizeAwareCommandTimeout(fileSize int64) time.Duration {
	if fileSize <= 0 {
		return MinCommandTimeout
	}
	bySize := time.Duration(fileSize/WorstCaseRateBps) * time.Second
	if bySize > MinCommandTimeout {
		return bySize
	}
	return MinCommandTimeout
}

// Download pulls remotePath off the endpoint through sess and writes it
// under destDir, returning the local path. expectedSize, if known, sizes
// Phase A's command timeout; 0 falls back to the minimum.
func (m *Manager) Download(ctx context.Context, sess *rtrsession.Session, remotePath, destDir string, expectedSize int64) (string, error) {
	timeout := SizeAwareCommandTimeout(expectedSize)

	result, err := m.sessions.ExecuteActiveResponder(ctx, sess, "get", remotePath, timeout)
	if err != nil {
		return "", errors.Wrapf(err, "download command for %s", remotePath)
	}
	cloudRequestID := result.CloudRequestID

	sha, filename, err := m.awaitSHAWithDeadline(ctx, sess, cloudRequestID, ShaRetrievalDeadline, shaRetrievalPoll)
	if err != nil {
		return "", errors.Wrapf(err, "await sha256 for %s", remotePath)
	}

	return m.fetchContentWithPoll(ctx, sess, cloudRequestID, sha, filename, destDir, contentFetchPoll)
}

// awaitSHAWithDeadline polls list_session_files until the entry for
// cloudRequestID carries a sha256, waiting up to deadline and polling every
// poll interval. Never re-issues the get command on timeout — that would
// duplicate remote artifacts.
func (m *Manager) awaitSHAWithDeadline(ctx context.Context, sess *rtrsession.Session, cloudRequestID string, deadline, poll time.Duration) (sha, filename string, err error) {
	giveUpAt := time.Now().Add(deadline)
	lastPulse := time.Now()

	for {
		files, err := m.falcon.ListSessionFiles(ctx, sess.SessionID)
		if err != nil {
			return "", "", err
		}
		for _, f := range files {
			if f.CloudRequestID == cloudRequestID && f.SHA256 != "" {
				return f.SHA256, f.Name, nil
			}
		}

		if time.Now().After(giveUpAt) {
			return "", "", errors.Wrapf(errors.ErrTransferFailed, "sha256 never arrived for %s within %s", cloudRequestID, deadline)
		}
		if time.Since(lastPulse) >= shaRetrievalPulse {
			if err := m.sessions.Pulse(ctx, sess); err != nil {
				return "", "", errors.Wrapf(err, "pulse during sha retrieval for %s", cloudRequestID)
			}
			lastPulse = time.Now()
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(poll):
		}
	}
}

// fetchContentWithPoll polls get_extracted_file every poll interval until
// the payload arrives, giving up after ContentFetchDeadline. The control
// plane re-frames the payload as 7z; the engine always renames the local
// extension to .7z regardless of source.
func (m *Manager) fetchContentWithPoll(ctx context.Context, sess *rtrsession.Session, cloudRequestID, sha, filename, destDir string, poll time.Duration) (string, error) {
	deadline := time.Now().Add(ContentFetchDeadline)
	lastPulse := time.Now()

	for {
		extracted, err := m.falcon.GetExtractedFile(ctx, sess.SessionID, sha, filename)
		if err != nil {
			if falcon.IsUnknownFile(err) {
				if time.Now().After(deadline) {
					return "", errors.Wrapf(errors.ErrTransferFailed, "content for %s never became available within %s", cloudRequestID, ContentFetchDeadline)
				}
			} else {
				return "", errors.Wrapf(err, "fetch extracted content for %s", cloudRequestID)
			}
		} else {
			return writeContentAtomically(destDir, filename, extracted.Content)
		}

		if time.Since(lastPulse) >= contentFetchPulse {
			if err := m.sessions.Pulse(ctx, sess); err != nil {
				return "", errors.Wrapf(err, "pulse during content fetch for %s", cloudRequestID)
			}
			lastPulse = time.Now()
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(poll):
		}
	}
}

// writeContentAtomically writes content to a temp file under destDir then
// renames it into place with a .7z extension, verifying the on-disk size
// matches the received buffer length.
func writeContentAtomically(destDir, filename string, content []byte) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create destination directory")
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	finalPath := filepath.Join(destDir, base+".7z")
	tmpPath := finalPath + ".part"

	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return "", errors.Wrap(err, "write temp file")
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "stat temp file")
	}
	if info.Size() != int64(len(content)) {
		os.Remove(tmpPath)
		return "", errors.Newf("on-disk size %d does not match received buffer length %d", info.Size(), len(content))
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", errors.Wrap(err, "rename temp file into place")
	}
	return finalPath, nil
}
