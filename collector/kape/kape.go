// Package kape implements the Windows KAPE collection pipeline: stage
// kape.zip and its launcher script via the put-file repository, run KAPE
// in the background, watch for it to finish, and evacuate the resulting
// triage archive.
package kape

import (
	"context"
	"fmt"
	"os"
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

// Timing constants governing the KAPE supervision loop.
const (
	postLaunchSettle = 3 * time.Second
	monitorPoll      = 60 * time.Second
	monitorPulse     = 300 * time.Second
	monitorTimeout   = 7200 * time.Second
	stabilityPoll    = 10 * time.Second
	stabilityMinGap  = 10 * time.Second
	stabilityTimeout = 30 * time.Minute
)

var archivePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d+_[^.\s\\]+-triage(\.(vhdx|zip|7z))?`)

// triageBaseName strips whichever native archive extension KAPE happened to
// produce, leaving the "...-triage" stem the uploaded object key is built
// from.
func triageBaseName(archiveName string) string {
	for _, ext := range []string{".vhdx", ".zip", ".7z"} {
		if strings.HasSuffix(archiveName, ext) {
			return strings.TrimSuffix(archiveName, ext)
		}
	}
	return archiveName
}

// sessionRunner is the subset of rtrsession.Manager the collector drives.
type sessionRunner interface {
	Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error)
	Pulse(ctx context.Context, sess *rtrsession.Session) error
}

// cleanupEngine is the subset of cleanup.Engine the collector drives.
type cleanupEngine interface {
	EnsureClean(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error
}

// transferManager is the subset of transfer.Manager the collector drives.
type transferManager interface {
	Upload(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, spec transfer.UploadSpec) error
	Download(ctx context.Context, sess *rtrsession.Session, remotePath, destDir string, expectedSize int64) (string, error)
}

// putFileRepo is the subset of transfer.PutFileRepo the collector drives.
type putFileRepo interface {
	EnsureUploaded(ctx context.Context, customerID, name, localPath, comment, description string) (falcon.CloudFile, error)
}

// bundleResolver resolves a local-path-or-URL collector bundle to a staged
// local file. A field on Collector so tests can stub it out.
type bundleResolver func(ctx context.Context, name, source string, log *zap.SugaredLogger) (*retrieve.Bundle, error)

// BundleSources names where kape.zip and its PowerShell launcher live —
// local paths or any go-getter-understood URL.
type BundleSources struct {
	KapeZip      string
	DeployScript string
}

// Collector runs the KAPE pipeline against Windows endpoints.
type Collector struct {
	sessions  sessionRunner
	cleanup   cleanupEngine
	transfer  transferManager
	putFiles  putFileRepo
	resolve   bundleResolver
	bundles   BundleSources
	workspace   string
	proxyHost   string
	proxyIP     string
	proxyOn     bool
	hostEntries []transfer.HostEntry
	log         *zap.SugaredLogger
}

// New builds a Collector. workspace is the Windows deploy root (e.g.
// C:\0x4n6nerd). hostEntries are injected into the endpoint's hosts file
// before an upload that rewrites the presigned URL to proxyHost.
func New(sessions *rtrsession.Manager, tm *transfer.Manager, ce *cleanup.Engine, putFiles *transfer.PutFileRepo, bundles BundleSources, workspace, proxyHost, proxyIP string, proxyOn bool, hostEntries []transfer.HostEntry) *Collector {
	return &Collector{
		sessions:    sessions,
		cleanup:     ce,
		transfer:    tm,
		putFiles:    putFiles,
		resolve:     retrieve.Resolve,
		bundles:     bundles,
		workspace:   workspace,
		proxyHost:   proxyHost,
		proxyIP:     proxyIP,
		proxyOn:     proxyOn,
		hostEntries: hostEntries,
		log:         logger.ComponentLogger("collector.kape"),
	}
}

// Name identifies this collector; the registry keys collectors by platform.
func (c *Collector) Name() string { return "kape" }

// Deploy stages kape.zip and the launcher script, cleans the workspace,
// uploads both put-files to the endpoint, and launches KAPE.
func (c *Collector) Deploy(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job) (collector.State, error) {
	if host.Platform != resolver.PlatformWindows {
		return collector.State{}, errors.Newf("kape collector cannot run against platform %s", host.Platform)
	}

	kapeZip, err := c.ensureBundle(ctx, host.CustomerID, "kape.zip", c.bundles.KapeZip)
	if err != nil {
		return collector.State{}, err
	}
	deployScript, err := c.ensureBundle(ctx, host.CustomerID, "deploy_kape.ps1", c.bundles.DeployScript)
	if err != nil {
		return collector.State{}, err
	}

	if err := c.cleanup.EnsureClean(ctx, sess, host, c.workspace); err != nil {
		return collector.State{}, err
	}

	tempDir := c.workspace + `\temp`
	if _, err := c.sessions.Execute(ctx, sess, "cd", c.workspace, false); err != nil {
		return collector.State{}, errors.Wrap(err, "cd into workspace")
	}
	if _, err := c.sessions.Execute(ctx, sess, "mkdir", tempDir, false); err != nil {
		return collector.State{}, errors.Wrap(err, "mkdir temp")
	}

	if _, err := c.sessions.Execute(ctx, sess, "put", kapeZip.Name, true); err != nil {
		return collector.State{}, errors.Wrap(err, "put kape.zip")
	}
	if _, err := c.sessions.Execute(ctx, sess, "put", deployScript.Name, true); err != nil {
		return collector.State{}, errors.Wrap(err, "put deploy_kape.ps1")
	}

	launch := fmt.Sprintf(`-Raw=powershell.exe -noprofile -executionpolicy bypass -file %s\deploy_kape.ps1`, c.workspace)
	if _, err := c.sessions.Execute(ctx, sess, "runscript", launch, true); err != nil {
		return collector.State{}, errors.Wrap(err, "launch deploy_kape.ps1")
	}

	return collector.State{Workspace: c.workspace}, nil
}

func (c *Collector) ensureBundle(ctx context.Context, customerID, name, source string) (falcon.CloudFile, error) {
	bundle, err := c.resolve(ctx, name, source, c.log)
	if err != nil {
		return falcon.CloudFile{}, errors.Wrapf(err, "resolve bundle %s", name)
	}
	defer bundle.Cleanup()

	return c.putFiles.EnsureUploaded(ctx, customerID, name, bundle.LocalPath, "rtrtriage", "collector bundle")
}

// Supervise waits for kape.exe to appear, then polls until it exits,
// pulsing the session periodically, and finally reads back the name of
// the archive KAPE produced.
func (c *Collector) Supervise(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State) (string, error) {
	return c.supervise(ctx, sess, state, postLaunchSettle, monitorPoll, monitorPulse, monitorTimeout)
}

func (c *Collector) supervise(ctx context.Context, sess *rtrsession.Session, state collector.State, settle, poll, pulse, timeout time.Duration) (string, error) {
	time.Sleep(settle)

	if !c.processPresent(ctx, sess) {
		diag, _ := c.sessions.Execute(ctx, sess, "ls", state.Workspace+`\temp`, false)
		cli, _ := c.sessions.Execute(ctx, sess, "cat", state.Workspace+`\temp\_kape.cli`, false)
		return "", errors.Wrapf(errors.ErrCollectorFailed, "kape.exe never started: dir=%q cli=%q", diag.Stdout, cli.Stdout)
	}

	deadline := time.Now().Add(timeout)
	lastPulse := time.Now()
	for c.processPresent(ctx, sess) {
		if time.Now().After(deadline) {
			return "", errors.Wrapf(errors.ErrCollectorFailed, "kape did not finish within %s", timeout)
		}
		if time.Since(lastPulse) >= pulse {
			if err := c.sessions.Pulse(ctx, sess); err != nil {
				return "", errors.Wrap(err, "pulse during kape supervision")
			}
			lastPulse = time.Now()
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(poll):
		}
	}

	result, err := c.sessions.Execute(ctx, sess, "ls", state.Workspace+`\temp\`, false)
	if err != nil {
		return "", errors.Wrap(err, "list temp directory after kape exit")
	}
	match := archivePattern.FindString(result.Stdout)
	if match == "" {
		return "", errors.Wrapf(errors.ErrCollectorFailed, "no triage archive found in %q", result.Stdout)
	}
	return match, nil
}

func (c *Collector) processPresent(ctx context.Context, sess *rtrsession.Session) bool {
	result, err := c.sessions.Execute(ctx, sess, "ps", "", false)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(result.Stdout), "kape.exe")
}

// Evacuate moves the finished archive off the endpoint: either uploaded to
// object storage via a presigned URL, or pulled back through the control
// plane to the operator's current directory.
func (c *Collector) Evacuate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State, archiveName string) (collector.Result, error) {
	return c.evacuate(ctx, sess, host, job, state, archiveName, stabilityPoll, stabilityMinGap, stabilityTimeout)
}

func (c *Collector) evacuate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State, archiveName string, stablePoll, stableMinGap, stableTimeout time.Duration) (collector.Result, error) {
	remotePath := state.Workspace + `\temp\` + archiveName

	if job.Mode == collector.ModeDownload {
		cwd, err := os.Getwd()
		if err != nil {
			return collector.Result{}, errors.Wrap(err, "determine operator working directory")
		}
		local, err := c.transfer.Download(ctx, sess, remotePath, cwd, 0)
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
	// independent of which native archive format KAPE actually produced.
	objectKey := triageBaseName(archiveName) + ".7z"
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
		result, err := c.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf(`-Raw=(Get-Item '%s').Length`, remotePath), true)
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
