package cleanup

import (
	"context"

	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// PostCollection runs on every exit path of a collection — success, upload
// failure, download failure, or monitoring failure. It releases any handle
// the RTR working directory holds inside the workspace before removing it.
func (e *Engine) PostCollection(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	if err := e.releaseWorkingDirectory(ctx, sess, host); err != nil {
		return err
	}
	return e.removeWorkspace(ctx, sess, host, workspace)
}

func (e *Engine) releaseWorkingDirectory(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo) error {
	if host.Platform == resolver.PlatformWindows {
		_, err := e.sessions.Execute(ctx, sess, "cd", `C:\`, false)
		return err
	}
	_, err := e.sessions.Execute(ctx, sess, "cd", "/", false)
	return err
}

// EmergencyCleanup is invoked when the normal post-collection path fails.
// It ignores individual command failures — reporting the last one it saw
// only for diagnostics — since its purpose is best-effort hygiene, not a
// guaranteed outcome. Callers may pass a session freshly opened solely to
// run this.
func (e *Engine) EmergencyCleanup(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	var lastErr error

	if err := e.releaseWorkingDirectory(ctx, sess, host); err != nil {
		lastErr = err
	}
	if err := e.removeWorkspace(ctx, sess, host, workspace); err != nil {
		lastErr = err
	}

	return lastErr
}
