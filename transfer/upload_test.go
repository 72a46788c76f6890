package transfer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

func TestUploadTimeBudgetClampsSafetyFactor(t *testing.T) {
	low := UploadTimeBudget(0, 0.1, UploadMinBudget, 0)
	assert.Equal(t, UploadMinBudget, low)

	// safetyFactor outside [1.5, 2.5] clamps to the nearest bound, so a
	// factor of 0.1 below and 10 above the range both collapse to the
	// budget computed at their respective clamp edge.
	atLowerClamp := UploadTimeBudget(10*1024*1024, 1.5, 0, 0)
	belowLowerClamp := UploadTimeBudget(10*1024*1024, 0.1, 0, 0)
	assert.Equal(t, atLowerClamp, belowLowerClamp)

	atUpperClamp := UploadTimeBudget(10*1024*1024, 2.5, 0, 0)
	aboveUpperClamp := UploadTimeBudget(10*1024*1024, 10, 0, 0)
	assert.Equal(t, atUpperClamp, aboveUpperClamp)
}

func TestUploadTimeBudgetRespectsMinAndMax(t *testing.T) {
	tiny := UploadTimeBudget(1, 2.0, time.Minute, 0)
	assert.Equal(t, time.Minute, tiny)

	huge := UploadTimeBudget(1000*1024*1024*1024, 2.0, 0, 10*time.Minute)
	assert.Equal(t, 10*time.Minute, huge)
}

func TestJoinWorkspacePath(t *testing.T) {
	assert.Equal(t, `C:\0x4n6nerd\upload.pid`, joinWorkspacePath(`C:\0x4n6nerd`, "upload.pid"))
	assert.Equal(t, "/opt/0x4n6nerd/upload.pid", joinWorkspacePath("/opt/0x4n6nerd", "upload.pid"))
}

func TestRewriteHost(t *testing.T) {
	rewritten := rewriteHost("https://bucket.s3.amazonaws.com/key/path?sig=abc", "proxy.internal")
	assert.Equal(t, "https://proxy.internal/key/path?sig=abc", rewritten)
}

func TestRewriteHostLeavesMalformedURLAlone(t *testing.T) {
	assert.Equal(t, "not-a-url", rewriteHost("not-a-url", "proxy.internal"))
}

func TestLaunchWindowsUploadBuildsRunscript(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Complete: true}}
	m := newTestManager(&fakeControlPlane{}, fs, &fakeObjectStore{})
	spec := UploadSpec{Workspace: `C:\0x4n6nerd`, RemoteLocalPath: `C:\0x4n6nerd\out.7z`}

	err := m.launchWindowsUpload(t.Context(), &rtrsession.Session{}, spec, "https://example/put", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fs.executeCall)
}

func TestLaunchUnixUploadQuotesCurlArgs(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Complete: true}}
	m := newTestManager(&fakeControlPlane{}, fs, &fakeObjectStore{})
	spec := UploadSpec{Workspace: "/opt/0x4n6nerd", RemoteLocalPath: "/opt/0x4n6nerd/out's.7z"}

	err := m.launchUnixUpload(t.Context(), &rtrsession.Session{}, spec, "https://example/put?x=1", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fs.executeCall)
	assert.True(t, strings.Contains(spec.pidFile(), "upload.pid"))
	require.Len(t, fs.cmdlines, 1)
	assert.True(t, strings.Contains(fs.cmdlines[0], `/opt/0x4n6nerd/out\'s.7z`), "path with a quote must be shell-escaped")
}

func TestLaunchUnixUploadAvoidsNohupAndAddsResilienceFlags(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Complete: true}}
	m := newTestManager(&fakeControlPlane{}, fs, &fakeObjectStore{})
	spec := UploadSpec{Workspace: "/opt/0x4n6nerd", RemoteLocalPath: "/opt/0x4n6nerd/out.7z"}

	err := m.launchUnixUpload(t.Context(), &rtrsession.Session{}, spec, "https://example/put", time.Minute)
	require.NoError(t, err)
	require.Len(t, fs.cmdlines, 1)
	script := fs.cmdlines[0]

	assert.False(t, strings.Contains(script, "nohup"), "RTR sessions have no TTY; nohup fails there")
	assert.True(t, strings.HasPrefix(strings.TrimPrefix(script, "-Raw="), "("), "Unix upload must background via a subshell")
	assert.True(t, strings.Contains(script, "--connect-timeout 30"))
	assert.True(t, strings.Contains(script, "--retry 3"))
	assert.True(t, strings.Contains(script, "--retry-delay 5"))
	assert.True(t, strings.Contains(script, "--fail"))
}

func TestSuperviseUploadReturnsOnExitFile(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Stdout: "0"}}
	m := newTestManager(&fakeControlPlane{}, fs, &fakeObjectStore{})
	spec := UploadSpec{Workspace: "/opt/0x4n6nerd", ObjectKey: "key"}

	err := m.superviseUpload(t.Context(), &rtrsession.Session{}, spec, time.Minute)
	require.NoError(t, err)
}

func TestSuperviseUploadTimesOut(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Stdout: ""}}
	m := newTestManager(&fakeControlPlane{}, fs, &fakeObjectStore{})
	spec := UploadSpec{Workspace: "/opt/0x4n6nerd", ObjectKey: "key"}

	err := m.superviseUpload(t.Context(), &rtrsession.Session{}, spec, 1*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransferFailed))
}

func TestUploadHappyPathUnix(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Stdout: "0"}}
	fo := &fakeObjectStore{presignedURL: "https://bucket.s3.amazonaws.com/key"}
	m := newTestManager(&fakeControlPlane{}, fs, fo)

	host := resolver.HostInfo{Platform: resolver.PlatformLinux}
	spec := UploadSpec{Workspace: "/opt/0x4n6nerd", RemoteLocalPath: "/opt/0x4n6nerd/out.7z", ObjectKey: "key", ExpectedSize: 1024}

	err := m.upload(t.Context(), &rtrsession.Session{}, host, spec, time.Millisecond)
	require.NoError(t, err)
}

func TestHostFileLinesEmptyWithoutProxy(t *testing.T) {
	spec := UploadSpec{ProxyEnabled: false, ProxyIP: "10.0.0.5", ProxyHost: "proxy.internal"}
	assert.Empty(t, hostFileLines(spec))
}

func TestHostFileLinesIncludesProxyAndExtraEntries(t *testing.T) {
	spec := UploadSpec{
		ProxyEnabled: true,
		ProxyIP:      "10.0.0.5",
		ProxyHost:    "proxy.internal",
		HostEntries:  []HostEntry{{IP: "10.0.0.9", Hostname: "bucket.s3.amazonaws.com"}},
	}
	lines := hostFileLines(spec)
	assert.Equal(t, []string{"10.0.0.5 proxy.internal", "10.0.0.9 bucket.s3.amazonaws.com"}, lines)
}

func TestUploadInjectsHostEntriesBeforeLaunch(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Stdout: "0"}}
	fo := &fakeObjectStore{presignedURL: "https://bucket.s3.amazonaws.com/key"}
	m := newTestManager(&fakeControlPlane{}, fs, fo)

	host := resolver.HostInfo{Platform: resolver.PlatformLinux}
	spec := UploadSpec{
		Workspace:       "/opt/0x4n6nerd",
		RemoteLocalPath: "/opt/0x4n6nerd/out.7z",
		ObjectKey:       "key",
		ExpectedSize:    1024,
		ProxyEnabled:    true,
		ProxyHost:       "proxy.internal",
		ProxyIP:         "10.0.0.5",
	}

	err := m.upload(t.Context(), &rtrsession.Session{}, host, spec, time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(fs.cmdlines), 2)
	assert.True(t, strings.Contains(fs.cmdlines[0], "/etc/hosts"))
	assert.True(t, strings.Contains(fs.cmdlines[0], "10.0.0.5 proxy.internal"))
}

func TestInjectHostEntriesUsesWindowsHostsFileOnWindows(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Complete: true}}
	m := newTestManager(&fakeControlPlane{}, fs, &fakeObjectStore{})

	err := m.injectHostEntries(t.Context(), &rtrsession.Session{}, resolver.HostInfo{Platform: resolver.PlatformWindows}, []string{"10.0.0.5 proxy.internal"})
	require.NoError(t, err)
	require.Len(t, fs.cmdlines, 1)
	assert.True(t, strings.Contains(fs.cmdlines[0], `drivers\etc\hosts`))
	assert.True(t, strings.Contains(fs.cmdlines[0], "Add-Content"))
}

func TestUploadPropagatesPresignFailure(t *testing.T) {
	fo := &fakeObjectStore{presignErr: errors.New("no credentials")}
	m := newTestManager(&fakeControlPlane{}, &fakeSessionRunner{}, fo)

	host := resolver.HostInfo{Platform: resolver.PlatformWindows}
	spec := UploadSpec{Workspace: `C:\0x4n6nerd`, ObjectKey: "key"}

	err := m.upload(t.Context(), &rtrsession.Session{}, host, spec, time.Millisecond)
	require.Error(t, err)
}

func TestUploadPropagatesVerifyFailure(t *testing.T) {
	fs := &fakeSessionRunner{executeResult: falcon.CommandResult{Stdout: "0"}}
	fo := &fakeObjectStore{presignedURL: "https://bucket.s3.amazonaws.com/key", verifyErr: errors.Wrap(errors.ErrTransferFailed, "size mismatch")}
	m := newTestManager(&fakeControlPlane{}, fs, fo)

	host := resolver.HostInfo{Platform: resolver.PlatformLinux}
	spec := UploadSpec{Workspace: "/opt/0x4n6nerd", RemoteLocalPath: "/opt/0x4n6nerd/out.7z", ObjectKey: "key"}

	err := m.upload(t.Context(), &rtrsession.Session{}, host, spec, time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransferFailed))
}
