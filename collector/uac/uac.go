// Package uac implements the Unix (mac/linux) UAC collection pipeline:
// stage uac.zip via the put-file repository, unpack and launch it in a
// backgrounded subshell, tail its log for progress, wait for the output
// archive to stabilize, and evacuate it.
package uac

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0x4n6nerd/rtrtriage/cleanup"
	"github.com/0x4n6nerd/rtrtriage/collector"
	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/internal/retrieve"
	"github.com/0x4n6nerd/rtrtriage/logger"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
	"github.com/0x4n6nerd/rtrtriage/transfer"
)

// Default profile and timing constants.
const (
	DefaultProfile = "ir_triage"

	uploadPropagationWait = 30 * time.Second
	postLaunchSettle      = 3 * time.Second
	monitorPoll           = 30 * time.Second
	monitorPulse          = 300 * time.Second
	stabilityPoll         = 10 * time.Second
	stabilityMinGap       = 10 * time.Second
	stabilityTimeout      = 30 * time.Minute
	postExitArchiveGrace  = 15 * time.Minute
	pidStillLiveExtension = 30 * time.Minute
)

var (
	progressPattern = regexp.MustCompile(`\[(\d+)/(\d+)\]`)
	benignPattern   = regexp.MustCompile(`__EOF__.*artifact not found`)
	archivePattern  = regexp.MustCompile(`uac-[^/\s]+-\w+-\d{14}\.tar\.gz`)
)

// sessionRunner is the subset of rtrsession.Manager the collector drives.
type sessionRunner interface {
	Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error)
	Pulse(ctx context.Context, sess *rtrsession.Session) error
}

// transferManager is the subset of transfer.Manager the collector drives.
type transferManager interface {
	Upload(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, spec transfer.UploadSpec) error
	Download(ctx context.Context, sess *rtrsession.Session, remotePath, destDir string, expectedSize int64) (string, error)
}

// putFileRepo is the subset of transfer.PutFileRepo the collector drives.
type putFileRepo interface {
	EnsureUploaded(ctx context.Context, customerID, name, localPath, comment, description string) (falcon.CloudFile, error)
	Confirm(ctx context.Context, id string) (falcon.CloudFile, error)
}

// cleanupEngine is the subset of cleanup.Engine the collector drives.
type cleanupEngine interface {
	EnsureClean(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error
}

// bundleResolver resolves a local-path-or-URL collector bundle to a staged
// local file. A field on Collector so tests can stub it out.
type bundleResolver func(ctx context.Context, name, source string, log *zap.SugaredLogger) (*retrieve.Bundle, error)

// Collector runs the UAC pipeline against mac/linux endpoints.
type Collector struct {
	sessions        sessionRunner
	cleanup         cleanupEngine
	transfer        transferManager
	putFiles        putFileRepo
	resolve         bundleResolver
	uacZipSource    string
	workspace       string
	proxyHost       string
	proxyIP         string
	proxyOn         bool
	hostEntries     []transfer.HostEntry
	profileTimeouts map[string]int // profile name -> max seconds
	log             *zap.SugaredLogger
}

// New builds a Collector. workspace is the Unix deploy root (e.g.
// /opt/0x4n6nerd). profileTimeouts maps profile name to its maximum
// monitoring duration in seconds; a profile absent from the map falls back
// to DefaultProfileTimeout. hostEntries are injected into the endpoint's
// /etc/hosts before an upload that rewrites the presigned URL to proxyHost.
func New(sessions *rtrsession.Manager, tm *transfer.Manager, ce *cleanup.Engine, putFiles *transfer.PutFileRepo, uacZipSource, workspace, proxyHost, proxyIP string, proxyOn bool, hostEntries []transfer.HostEntry, profileTimeouts map[string]int) *Collector {
	return &Collector{
		sessions:        sessions,
		cleanup:         ce,
		transfer:        tm,
		putFiles:        putFiles,
		resolve:         retrieve.Resolve,
		uacZipSource:    uacZipSource,
		workspace:       workspace,
		proxyHost:       proxyHost,
		proxyIP:         proxyIP,
		proxyOn:         proxyOn,
		hostEntries:     hostEntries,
		profileTimeouts: profileTimeouts,
		log:             logger.ComponentLogger("collector.uac"),
	}
}

// DefaultProfileTimeout bounds monitoring when a profile has no entry in
// profile_timeouts.
const DefaultProfileTimeout = 2 * time.Hour

func (c *Collector) profileTimeout(profile string) time.Duration {
	if seconds, ok := c.profileTimeouts[profile]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return DefaultProfileTimeout
}

// Name identifies this collector; the registry keys collectors by platform.
func (c *Collector) Name() string { return "uac" }

// Deploy always re-uploads uac.zip (profile contents may have changed),
// cleans the workspace, stages and unpacks the bundle, and launches UAC
// in a backgrounded subshell.
func (c *Collector) Deploy(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job) (collector.State, error) {
	return c.deployWithSettle(ctx, sess, host, job, uploadPropagationWait, postLaunchSettle)
}

func (c *Collector) deployWithSettle(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, propagationWait, launchSettle time.Duration) (collector.State, error) {
	if !host.IsUnix() {
		return collector.State{}, errors.Newf("uac collector cannot run against platform %s", host.Platform)
	}
	profile := job.Target
	if profile == "" {
		profile = DefaultProfile
	}

	uacZip, err := c.forceReupload(ctx, host.CustomerID, propagationWait)
	if err != nil {
		return collector.State{}, err
	}

	if err := c.cleanup.EnsureClean(ctx, sess, host, c.workspace); err != nil {
		return collector.State{}, err
	}

	if _, err := c.sessions.Execute(ctx, sess, "cd", c.workspace, false); err != nil {
		return collector.State{}, errors.Wrap(err, "cd into workspace")
	}
	if result, err := c.sessions.Execute(ctx, sess, "pwd", "", false); err != nil || !strings.Contains(result.Stdout, c.workspace) {
		return collector.State{}, errors.Wrapf(errors.ErrPreconditionFailed, "workspace %s not current after cd", c.workspace)
	}

	if _, err := c.sessions.Execute(ctx, sess, "put", uacZip.Name, true); err != nil {
		return collector.State{}, errors.Wrap(err, "put uac.zip")
	}
	if _, err := c.sessions.Execute(ctx, sess, "runscript", "-Raw=unzip -o uac.zip", true); err != nil {
		return collector.State{}, errors.Wrap(err, "unzip uac.zip")
	}

	findResult, err := c.sessions.Execute(ctx, sess, "runscript",
		fmt.Sprintf("-Raw=find %s -maxdepth 1 -type d -name 'uac*' | head -1", c.workspace), true)
	if err != nil {
		return collector.State{}, errors.Wrap(err, "locate extracted uac directory")
	}
	extractDir := strings.TrimSpace(findResult.Stdout)
	if extractDir == "" {
		return collector.State{}, errors.Wrap(errors.ErrCollectorFailed, "no extracted uac* directory found")
	}

	if _, err := c.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=chmod +x %s/uac", extractDir), true); err != nil {
		return collector.State{}, errors.Wrap(err, "chmod +x uac binary")
	}

	launch := fmt.Sprintf(
		"-Raw=(cd %s && ./uac -p %s --output-format tar %s/evidence < /dev/null > %s/uac_output.log 2>&1 ; echo $? > %s/uac_exit_code) & echo $! > %s/uac.pid",
		extractDir, profile, c.workspace, c.workspace, c.workspace, c.workspace,
	)
	if _, err := c.sessions.Execute(ctx, sess, "runscript", launch, true); err != nil {
		return collector.State{}, errors.Wrap(err, "launch uac")
	}

	time.Sleep(launchSettle)
	if result, err := c.sessions.Execute(ctx, sess, "cat", c.workspace+"/uac.pid", false); err != nil || strings.TrimSpace(result.Stdout) == "" {
		return collector.State{}, errors.Wrap(errors.ErrCollectorFailed, "uac.pid never appeared after launch")
	}

	return collector.State{Workspace: c.workspace, ExtractDir: extractDir}, nil
}

// forceReupload deletes and recreates the uac.zip put-file entry, waits
// for propagation, and re-lists to confirm the new entry is visible
// before handing it back for a put command.
func (c *Collector) forceReupload(ctx context.Context, customerID string, propagationWait time.Duration) (falcon.CloudFile, error) {
	bundle, err := c.resolve(ctx, "uac.zip", c.uacZipSource, c.log)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrap(err, "resolve uac.zip bundle")
	}
	defer bundle.Cleanup()

	cf, err := c.putFiles.EnsureUploaded(ctx, customerID, "uac.zip", bundle.LocalPath, "rtrtriage", "uac bundle")
	if err != nil {
		return falcon.CloudFile{}, err
	}

	time.Sleep(propagationWait)

	confirmed, err := c.putFiles.Confirm(ctx, cf.ID)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrap(err, "confirm uac.zip propagation")
	}
	return confirmed, nil
}

// Supervise tails uac_output.log for progress, pulses periodically, and
// polls the evidence directory for the finished archive, applying the
// exit-code-before-archive grace window and the PID-still-live timeout
// extension.
func (c *Collector) Supervise(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State) (string, error) {
	profile := job.Target
	if profile == "" {
		profile = DefaultProfile
	}
	return c.supervise(ctx, sess, state, c.profileTimeout(profile), monitorPoll, monitorPulse, postExitArchiveGrace)
}

func (c *Collector) supervise(ctx context.Context, sess *rtrsession.Session, state collector.State, timeout, poll, pulse, exitGrace time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	lastPulse := time.Now()
	exitSeenAt := time.Time{}

	for {
		if archive, ok := c.pollEvidence(ctx, sess, state); ok {
			return archive, nil
		}

		if exitSeenAt.IsZero() && c.exitFilePresent(ctx, sess, state) {
			exitSeenAt = time.Now()
		}
		if !exitSeenAt.IsZero() && time.Since(exitSeenAt) > exitGrace {
			return "", errors.Wrapf(errors.ErrCollectorFailed, "uac exited without producing an archive within %s", exitGrace)
		}

		if time.Now().After(deadline) {
			if c.pidLive(ctx, sess, state) {
				deadline = deadline.Add(pidStillLiveExtension)
			} else {
				return "", errors.Wrapf(errors.ErrCollectorFailed, "uac did not finish within %s", timeout)
			}
		}

		if time.Since(lastPulse) >= pulse {
			if err := c.sessions.Pulse(ctx, sess); err != nil {
				return "", errors.Wrap(err, "pulse during uac supervision")
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

func (c *Collector) pollEvidence(ctx context.Context, sess *rtrsession.Session, state collector.State) (string, bool) {
	logResult, err := c.sessions.Execute(ctx, sess, "cat", state.Workspace+"/uac_output.log", false)
	if err == nil {
		logProgress(logResult.Stdout, c.log)
	}

	listing, err := c.sessions.Execute(ctx, sess, "ls", state.Workspace+"/evidence", false)
	if err != nil {
		return "", false
	}
	match := archivePattern.FindString(listing.Stdout)
	if match == "" {
		return "", false
	}
	return strings.TrimSuffix(match, ".tar.gz"), true
}

func logProgress(output string, log *zap.SugaredLogger) {
	for _, line := range strings.Split(output, "\n") {
		if benignPattern.MatchString(line) {
			continue
		}
		if m := progressPattern.FindStringSubmatch(line); m != nil && log != nil {
			log.Infow("uac progress", "step", m[1], "total", m[2])
		}
	}
}

func (c *Collector) exitFilePresent(ctx context.Context, sess *rtrsession.Session, state collector.State) bool {
	result, err := c.sessions.Execute(ctx, sess, "cat", state.Workspace+"/uac_exit_code", false)
	return err == nil && strings.TrimSpace(result.Stdout) != ""
}

func (c *Collector) pidLive(ctx context.Context, sess *rtrsession.Session, state collector.State) bool {
	pidResult, err := c.sessions.Execute(ctx, sess, "cat", state.Workspace+"/uac.pid", false)
	if err != nil {
		return false
	}
	pid := strings.TrimSpace(pidResult.Stdout)
	if pid == "" {
		return false
	}
	result, err := c.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=ps -p %s", pid), true)
	return err == nil && strings.Contains(result.Stdout, pid)
}

// Evacuate moves the finished archive off the endpoint: either uploaded to
// object storage via a backgrounded curl, or pulled back through the
// control plane to the operator's current directory.
func (c *Collector) Evacuate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State, archiveBaseName string) (collector.Result, error) {
	return c.evacuate(ctx, sess, host, job, state, archiveBaseName, stabilityPoll, stabilityMinGap, stabilityTimeout)
}

func (c *Collector) evacuate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State, archiveBaseName string, stablePoll, stableMinGap, stableTimeout time.Duration) (collector.Result, error) {
	archiveName := archiveBaseName + ".tar.gz"
	remotePath := state.Workspace + "/evidence/" + archiveName

	if job.Mode == collector.ModeDownload {
		local, err := c.transfer.Download(ctx, sess, remotePath, ".", 0)
		if err != nil {
			return collector.Result{}, err
		}
		return collector.Result{Hostname: host.Hostname, ArchiveName: archiveName, LocalPath: local}, nil
	}

	size, err := collector.AwaitStableSize(ctx, c.remoteSize(sess, remotePath), stablePoll, stableMinGap, stableTimeout)
	if err != nil {
		return collector.Result{}, errors.Wrapf(err, "await stable archive size for %s", remotePath)
	}

	// The uploaded key always carries the .7z suffix by convention,
	// independent of the native archive format the bytes were produced in
	// (remotePath above is still archiveBaseName+".tar.gz").
	objectKey := archiveBaseName + ".7z"
	spec := transfer.UploadSpec{
		Workspace:       state.Workspace,
		RemoteLocalPath: remotePath,
		ObjectKey:       objectKey,
		ExpectedSize:    size,
		ProxyHost:       c.proxyHost,
		ProxyIP:         c.proxyIP,
		ProxyEnabled:    c.proxyOn,
		HostEntries:     c.hostEntries,
	}
	if err := c.transfer.Upload(ctx, sess, host, spec); err != nil {
		return collector.Result{}, err
	}
	return collector.Result{Hostname: host.Hostname, ArchiveName: archiveName, ObjectKey: objectKey}, nil
}

func (c *Collector) remoteSize(sess *rtrsession.Session, remotePath string) collector.SizeFunc {
	return func(ctx context.Context) (int64, error) {
		result, err := c.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf(`-Raw=ls -la %s | awk '{print $5}'`, remotePath), true)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(result.Stdout), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse remote size output %q", result.Stdout)
		}
		return n, nil
	}
}
