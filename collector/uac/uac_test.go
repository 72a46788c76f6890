package uac

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0x4n6nerd/rtrtriage/collector"
	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/internal/retrieve"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
	"github.com/0x4n6nerd/rtrtriage/transfer"
)

type fakeSessions struct {
	execFn    func(verb, cmdline string, admin bool) (falcon.CommandResult, error)
	execCalls int
}

func (f *fakeSessions) Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error) {
	f.execCalls++
	if f.execFn != nil {
		return f.execFn(verb, cmdline, admin)
	}
	return falcon.CommandResult{Complete: true}, nil
}

func (f *fakeSessions) Pulse(ctx context.Context, sess *rtrsession.Session) error { return nil }

type fakeCleanup struct{ err error }

func (f *fakeCleanup) EnsureClean(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	return f.err
}

type fakeTransfer struct {
	uploadErr     error
	downloadPath  string
	downloadErr   error
	uploadCalls   int
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
	confirmErr error
}

func (f *fakePutFiles) EnsureUploaded(ctx context.Context, customerID, name, localPath, comment, description string) (falcon.CloudFile, error) {
	return falcon.CloudFile{ID: "cf-" + name, Name: name}, nil
}

func (f *fakePutFiles) Confirm(ctx context.Context, id string) (falcon.CloudFile, error) {
	return falcon.CloudFile{ID: id}, f.confirmErr
}

func newTestCollector(fs *fakeSessions, fc *fakeCleanup, ft *fakeTransfer, fp *fakePutFiles) *Collector {
	return &Collector{
		sessions: fs,
		cleanup:  fc,
		transfer: ft,
		putFiles: fp,
		resolve: func(ctx context.Context, name, source string, log *zap.SugaredLogger) (*retrieve.Bundle, error) {
			return &retrieve.Bundle{Name: name, LocalPath: "/tmp/" + name}, nil
		},
		uacZipSource:    "uac.zip",
		workspace:       "/opt/0x4n6nerd",
		profileTimeouts: map[string]int{"ir_triage": 7200},
		log:             zap.NewNop().Sugar(),
	}
}

func TestDeployRejectsWindowsHost(t *testing.T) {
	c := newTestCollector(&fakeSessions{}, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})
	_, err := c.Deploy(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformWindows}, collector.Job{})
	require.Error(t, err)
}

func TestDeployHappyPath(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		switch verb {
		case "pwd":
			return falcon.CommandResult{Stdout: "/opt/0x4n6nerd"}, nil
		case "runscript":
			if strings.Contains(cmdline, "find") {
				return falcon.CommandResult{Stdout: "/opt/0x4n6nerd/uac-main"}, nil
			}
			return falcon.CommandResult{Complete: true}, nil
		case "cat":
			return falcon.CommandResult{Stdout: "4242"}, nil
		}
		return falcon.CommandResult{Complete: true}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	state, err := c.deployWithSettle(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformLinux}, collector.Job{}, time.Millisecond, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "/opt/0x4n6nerd", state.Workspace)
	assert.Equal(t, "/opt/0x4n6nerd/uac-main", state.ExtractDir)
}

func TestDeployFailsWhenPropagationNeverConfirms(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		if verb == "pwd" {
			return falcon.CommandResult{Stdout: "/opt/0x4n6nerd"}, nil
		}
		return falcon.CommandResult{Complete: true}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{confirmErr: errors.New("not visible yet")})

	_, err := c.deployWithSettle(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformLinux}, collector.Job{}, time.Millisecond, time.Millisecond)
	require.Error(t, err)
}

func TestDeployFailsWhenWorkspaceVerifyMismatches(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		if verb == "pwd" {
			return falcon.CommandResult{Stdout: "/somewhere/else"}, nil
		}
		return falcon.CommandResult{Complete: true}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	_, err := c.deployWithSettle(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformLinux}, collector.Job{}, time.Millisecond, time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPreconditionFailed))
}

func TestSuperviseFindsArchive(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		switch verb {
		case "ls":
			return falcon.CommandResult{Stdout: "uac-host1-linux-20260730120000.tar.gz"}, nil
		case "cat":
			return falcon.CommandResult{Stdout: "[1/5] collecting"}, nil
		}
		return falcon.CommandResult{}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	archive, err := c.supervise(t.Context(), &rtrsession.Session{}, collector.State{Workspace: "/opt/0x4n6nerd"}, time.Second, time.Millisecond, time.Hour, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "uac-host1-linux-20260730120000", archive)
}

func TestSuperviseFailsAfterExitWithoutArchive(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		switch verb {
		case "ls":
			return falcon.CommandResult{}, errors.New("no evidence dir")
		case "cat":
			if strings.Contains(cmdline, "exit_code") {
				return falcon.CommandResult{Stdout: "0"}, nil
			}
			return falcon.CommandResult{Stdout: ""}, nil
		}
		return falcon.CommandResult{}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	_, err := c.supervise(t.Context(), &rtrsession.Session{}, collector.State{Workspace: "/opt/0x4n6nerd"}, time.Hour, time.Millisecond, time.Hour, 5*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCollectorFailed))
}

func TestSuperviseExtendsDeadlineWhilePidLive(t *testing.T) {
	calls := 0
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		calls++
		switch {
		case verb == "ls":
			if calls > 6 {
				return falcon.CommandResult{Stdout: "uac-host1-linux-20260730120000.tar.gz"}, nil
			}
			return falcon.CommandResult{}, errors.New("not yet")
		case verb == "cat" && strings.Contains(cmdline, "uac.pid"):
			return falcon.CommandResult{Stdout: "99"}, nil
		case verb == "runscript" && strings.Contains(cmdline, "ps -p"):
			return falcon.CommandResult{Stdout: "99"}, nil
		}
		return falcon.CommandResult{}, nil
	}}
	c := newTestCollector(fs, &fakeCleanup{}, &fakeTransfer{}, &fakePutFiles{})

	archive, err := c.supervise(t.Context(), &rtrsession.Session{}, collector.State{Workspace: "/opt/0x4n6nerd"}, time.Nanosecond, time.Millisecond, time.Hour, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "uac-host1-linux-20260730120000", archive)
}

func TestLogProgressFiltersBenignLines(t *testing.T) {
	// Exercise the filter directly rather than through the session fake.
	core, logs := observer.New(zap.InfoLevel)
	logProgress("[1/5] __EOF__ xyz artifact not found\n[2/5] collecting processes", zap.New(core).Sugar())

	entries := logs.FilterMessage("uac progress").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].ContextMap()["step"])
}

func TestEvacuateDownloadMode(t *testing.T) {
	ft := &fakeTransfer{downloadPath: "./uac-host1-linux-20260730120000.7z"}
	c := newTestCollector(&fakeSessions{}, &fakeCleanup{}, ft, &fakePutFiles{})

	result, err := c.Evacuate(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Hostname: "host1"}, collector.Job{Mode: collector.ModeDownload}, collector.State{Workspace: "/opt/0x4n6nerd"}, "uac-host1-linux-20260730120000")
	require.NoError(t, err)
	assert.Equal(t, 1, ft.downloadCalls)
	assert.Equal(t, "uac-host1-linux-20260730120000.tar.gz", result.ArchiveName)
	assert.Equal(t, "./uac-host1-linux-20260730120000.7z", result.LocalPath)
}

func TestEvacuateUploadMode(t *testing.T) {
	fs := &fakeSessions{execFn: func(verb, cmdline string, admin bool) (falcon.CommandResult, error) {
		return falcon.CommandResult{Stdout: "2048"}, nil
	}}
	ft := &fakeTransfer{}
	c := newTestCollector(fs, &fakeCleanup{}, ft, &fakePutFiles{})

	result, err := c.evacuate(t.Context(), &rtrsession.Session{}, resolver.HostInfo{CustomerID: "cust-1"}, collector.Job{Mode: collector.ModeUpload}, collector.State{Workspace: "/opt/0x4n6nerd"}, "uac-host1-linux-20260730120000", time.Millisecond, 2*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "uac-host1-linux-20260730120000.7z", result.ObjectKey)
	assert.Equal(t, 1, ft.uploadCalls)
}
