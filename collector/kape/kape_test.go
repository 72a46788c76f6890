package kape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0x4n6nerd/rtrtriage/collector"
	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/internal/retrieve"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
	"github.com/0x4n6nerd/rtrtriage/transfer"
)

type fakeSessions struct {
	execFn   func(verb, cmdline string, admin bool) (falcon.CommandResult, error)
	execCalls int
	pulseErr error
	pulses   int
}

func (f *fakeSessions) Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error) {
	f.execCalls++
	if f.execFn != nil {
		return f.execFn(verb, cmdline, admin)
	}
	return falcon.CommandResult{Complete: true}, nil
}

func (f *fakeSessions) Pulse(ctx context.Context, sess *rtrsession.Session) error {
	f.pulses++
	return f.pulseErr
}

type fakeCleanup struct {
	err error
}

func (f *fakeCleanup) EnsureClean(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	return f.err
}

type fakeTransfer struct {
	uploadErr    error
	downloadPath string
	downloadErr  error
	uploadCalls  int
	downloadCalls int
}

func (f *fakeTransfer) Upload(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, spec transfer.UploadSpec) error {
	f.uploadCalls++
	return f.uploadErr
}

func (f *fakeTransfer) Download(ctx context.Context, sess *rtrsession.Session, remotePath, destDir string, expectedSize int64) (string, error) {
	f.downloadCalls++
	return f.downloadPath, f.downloadErr
}

type fakePutFiles struct {
	cf  falcon.CloudFile
	err error
}

func (f *fakePutFiles) EnsureUploaded(ctx context.Context, customerID, name, localPath, comment, description string) (falcon.CloudFile, error) {
	return falcon.CloudFile{ID: "cf-" + name, Name: name}, f.err
}

func newTestCollector(fs *fakeSessions, fc *fakeCleanup, ft *fakeTransfer, fp *fakePutFiles) *Collector {
	return &Collector{
		sessions:  fs,
		cleanup:   fc,
		transfer:  ft,
		putFiles:  fp,
		resolve:   func(ctx context.Context, name, source string, log *zap.SugaredLogger) (*retrieve.Bundle, error) {
			return &retrieve.Bundle{Name: name, LocalPath: "/tmp/" + name}, nil
		},
		bundles:   BundleSources{KapeZip: "kape.zip", DeployScript: "deploy_kape.ps1"},
		workspace: `C:\0x4n6nerd`,
		log:       zap.NewNop().Sugar(),
	}
}

func TestDeployRejectsNonWindowsHost(t *testing.T) {
	c := newTestCollector(&fakeSessions{}, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})
	_, err := c.Deploy(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformLinux}, collector.Job{})
	require.Error(t, err)
}

func TestDeployHappyPath(t *testing.T) {
	fs := &fakeSessions{}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	state, err := c.Deploy(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformWindows}, collector.Job{})
	require.NoError(t, err)
	assert.Equal(t, `C:\0x4n6nerd`, state.Workspace)
	assert.GreaterOrEqual(t, fs.execCalls, 4)
}

func TestDeployPropagatesCleanupFailure(t *testing.T) {
	c := newTestCollector(&fakeSessions{}, &fakeCleanup{err: errors.New("dirty workspace")}, &fakeTransfer{}, &fakePutFiles{})
	_, err := c.Deploy(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformWindows}, collector.Job{})
	require.Error(t, err)
}

func TestSuperviseFailsWhenKapeNeverStarts(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		return falcon.CommandResult{Stdout: "explorer.exe"}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	_, err := c.supervise(t.Context(), &rtrsession.Session{}, collector.State{Workspace: `C:\0x4n6nerd`}, time.Millisecond, time.Millisecond, time.Hour, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCollectorFailed))
}

func TestSuperviseFindsArchiveAfterExit(t *testing.T) {
	calls := 0
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		calls++
		switch {
		case verb == "ps" && calls <= 2:
			return falcon.CommandResult{Stdout: "kape.exe"}, nil
		case verb == "ps":
			return falcon.CommandResult{Stdout: "explorer.exe"}, nil
		case verb == "ls":
			return falcon.CommandResult{Stdout: "2026-07-30T120000_HOST-triage.vhdx"}, nil
		}
		return falcon.CommandResult{}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	archive, err := c.supervise(t.Context(), &rtrsession.Session{}, collector.State{Workspace: `C:\0x4n6nerd`}, time.Millisecond, time.Millisecond, time.Hour, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-30T120000_HOST-triage.vhdx", archive)
}

func TestSuperviseTimesOut(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		return falcon.CommandResult{Stdout: "kape.exe"}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	_, err := c.supervise(t.Context(), &rtrsession.Session{}, collector.State{Workspace: `C:\0x4n6nerd`}, time.Millisecond, time.Millisecond, time.Hour, 5*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCollectorFailed))
}

func TestEvacuateDownloadMode(t *testing.T) {
	ft := &fakeTransfer{downloadPath: "/tmp/out.7z"}
	c := newTestCollector(&fakeSessions{}, &fakeCleanup{}, ft, &fakePutFiles{})

	result, err := c.Evacuate(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Hostname: "h1"}, collector.Job{Mode: collector.ModeDownload}, collector.State{Workspace: `C:\0x4n6nerd`}, "out.vhdx")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.7z", result.LocalPath)
	assert.Equal(t, 1, ft.downloadCalls)
}

func TestEvacuateUploadMode(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		return falcon.CommandResult{Stdout: "1024"}, nil
	}}
	ft := &fakeTransfer{}
	c := newTestCollector(fs, &fakeCleanup{}, ft, &fakePutFiles{})

	result, err := c.evacuate(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Hostname: "h1", CustomerID: "cust-1"}, collector.Job{Mode: collector.ModeUpload}, collector.State{Workspace: `C:\0x4n6nerd`}, "out.vhdx", time.Millisecond, 2*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "out.7z", result.ObjectKey)
	assert.Equal(t, 1, ft.uploadCalls)
}

func TestEvacuatePropagatesUploadFailure(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		return falcon.CommandResult{Stdout: "1024"}, nil
	}}
	ft := &fakeTransfer{uploadErr: errors.New("presign failed")}
	c := newTestCollector(fs, &fakeCleanup{}, ft, &fakePutFiles{})

	_, err := c.evacuate(t.Context(), &rtrsession.Session{}, resolver.HostInfo{CustomerID: "cust-1"}, collector.Job{Mode: collector.ModeUpload}, collector.State{Workspace: `C:\0x4n6nerd`}, "out.vhdx", time.Millisecond, 2*time.Millisecond, time.Second)
	require.Error(t, err)
}

func TestTriageBaseNameStripsNativeExtension(t *testing.T) {
	assert.Equal(t, "2026-07-30T120000_host-triage", triageBaseName("2026-07-30T120000_host-triage.vhdx"))
	assert.Equal(t, "2026-07-30T120000_host-triage", triageBaseName("2026-07-30T120000_host-triage.zip"))
	assert.Equal(t, "2026-07-30T120000_host-triage", triageBaseName("2026-07-30T120000_host-triage.7z"))
	assert.Equal(t, "2026-07-30T120000_host-triage", triageBaseName("2026-07-30T120000_host-triage"))
}
