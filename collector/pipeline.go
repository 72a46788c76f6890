package collector

import (
	"context"

	"github.com/0x4n6nerd/rtrtriage/cleanup"
	"github.com/0x4n6nerd/rtrtriage/logger"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// RunPipeline drives one full Deploy/Supervise/Evacuate cycle against c: it
// opens the session, runs the three phases in order, and always runs
// cleanup and closes the session on the way out, win or lose. Any phase
// failure triggers EmergencyCleanup instead of the normal post-collection
// path, since the workspace state at that point is unknown.
func RunPipeline(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c Collector, host resolver.HostInfo, job Job, workspace string) (Result, error) {
	sess, err := sessions.Start(ctx, host.AgentID)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := sessions.End(ctx, sess); err != nil {
			logger.Warnw("failed to close session", "hostname", host.Hostname, "error", err)
		}
	}()

	state, err := c.Deploy(ctx, sess, host, job)
	if err != nil {
		emergencyCleanup(ctx, ce, sess, host, workspace)
		return Result{}, err
	}

	archiveName, err := c.Supervise(ctx, sess, host, job, state)
	if err != nil {
		emergencyCleanup(ctx, ce, sess, host, workspace)
		return Result{}, err
	}

	result, err := c.Evacuate(ctx, sess, host, job, state, archiveName)
	if err != nil {
		emergencyCleanup(ctx, ce, sess, host, workspace)
		return Result{}, err
	}

	if err := ce.PostCollection(ctx, sess, host, workspace); err != nil {
		logger.Warnw("post-collection cleanup failed", "hostname", host.Hostname, "error", err)
		return result, err
	}
	return result, nil
}

func emergencyCleanup(ctx context.Context, ce *cleanup.Engine, sess *rtrsession.Session, host resolver.HostInfo, workspace string) {
	if err := ce.EmergencyCleanup(ctx, sess, host, workspace); err != nil {
		logger.Warnw("emergency cleanup failed", "hostname", host.Hostname, "error", err)
	}
}
