package transfer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// Upload-time budget constants.
const (
	UploadAssumedRateBps  = 2 * 1024 * 1024 // 2 MB/s
	UploadMinBudget       = 5 * time.Minute
	UploadMaxBudgetWindows = 30 * time.Minute
	uploadSupervisePoll   = 5 * time.Second
	uploadSupervisePulse  = 300 * time.Second
	uploadPostExitSettle  = 30 * time.Second
)

// UploadTimeBudget computes the remote command's time budget from fileSize
// at the assumed worst-case rate, applying safetyFactor (clamped to a
// 1.5x-2.5x range) and the given bounds. max of 0 means uncapped.
func UploadTimeBudget(fileSize int64, safetyFactor float64, min, max time.Duration) time.Duration {
	if safetyFactor < 1.5 {
		safetyFactor = 1.5
	}
	if safetyFactor > 2.5 {
		safetyFactor = 2.5
	}

	seconds := float64(fileSize) / float64(UploadAssumedRateBps) * safetyFactor
	budget := time.Duration(seconds * float64(time.Second))

	if budget < min {
		budget = min
	}
	if max > 0 && budget > max {
		budget = max
	}
	return budget
}

// HostEntry is an FQDN->IP mapping injected into the endpoint's hosts file
// before an upload that rewrites the presigned URL to a proxy, so the
// rewritten hostname still resolves on the endpoint.
type HostEntry struct {
	IP       string
	Hostname string
}

// UploadSpec describes a single push-to-object-storage operation.
type UploadSpec struct {
	Workspace       string // remote workspace root, e.g. C:\0x4n6nerd or /opt/0x4n6nerd
	RemoteLocalPath string // path to the archive on the endpoint
	ObjectKey       string // destination key in the bucket
	ExpectedSize    int64
	ProxyHost       string // optional FQDN rewrite target
	ProxyIP         string // optional IP the proxy FQDN must resolve to
	ProxyEnabled    bool
	HostEntries     []HostEntry // additional hosts-file lines to inject before upload
}

const (
	windowsHostsFile = `C:\Windows\System32\drivers\etc\hosts`
	unixHostsFile    = "/etc/hosts"
)

// hostFileLines builds the "ip hostname" lines an upload needs injected into
// the endpoint's hosts file: the proxy FQDN's own IP, plus any additional
// entries configured. Empty when the proxy rewrite is off.
func hostFileLines(spec UploadSpec) []string {
	if !spec.ProxyEnabled {
		return nil
	}
	var lines []string
	if spec.ProxyIP != "" && spec.ProxyHost != "" {
		lines = append(lines, spec.ProxyIP+" "+spec.ProxyHost)
	}
	for _, e := range spec.HostEntries {
		if e.IP == "" || e.Hostname == "" {
			continue
		}
		lines = append(lines, e.IP+" "+e.Hostname)
	}
	return lines
}

func (s UploadSpec) pidFile() string  { return joinWorkspacePath(s.Workspace, "upload.pid") }
func (s UploadSpec) logFile() string  { return joinWorkspacePath(s.Workspace, "upload.log") }
func (s UploadSpec) exitFile() string { return joinWorkspacePath(s.Workspace, "upload.exit") }

func joinWorkspacePath(workspace, name string) string {
	if strings.Contains(workspace, `\`) {
		return workspace + `\` + name
	}
	return workspace + "/" + name
}

// Upload generates a presigned PUT URL, launches a backgrounded upload
// command on the endpoint, supervises it to completion via its PID/log/
// exit-code file triplet, and authoritatively verifies the result with a
// HEAD request. Completion is judged solely by HeadObject;
// the remote process's own exit code is informational only.
func (m *Manager) Upload(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, spec UploadSpec) error {
	return m.upload(ctx, sess, host, spec, uploadPostExitSettle)
}

func (m *Manager) upload(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, spec UploadSpec, settle time.Duration) error {
	url, err := m.objects.PresignPut(ctx, spec.ObjectKey, 0)
	if err != nil {
		return errors.Wrapf(err, "presign upload for %s", spec.ObjectKey)
	}
	if spec.ProxyEnabled && spec.ProxyHost != "" {
		url = rewriteHost(url, spec.ProxyHost)
	}

	if lines := hostFileLines(spec); len(lines) > 0 {
		if err := m.injectHostEntries(ctx, sess, host, lines); err != nil {
			return errors.Wrapf(err, "inject host entries for %s", spec.ObjectKey)
		}
	}

	budget := UploadTimeBudget(spec.ExpectedSize, 2.0, UploadMinBudget, platformMaxBudget(host.Platform))

	var launchErr error
	if host.Platform == resolver.PlatformWindows {
		launchErr = m.launchWindowsUpload(ctx, sess, spec, url, budget)
	} else {
		launchErr = m.launchUnixUpload(ctx, sess, spec, url, budget)
	}
	if launchErr != nil {
		return errors.Wrapf(launchErr, "launch background upload for %s", spec.ObjectKey)
	}

	if err := m.superviseUpload(ctx, sess, spec, budget); err != nil {
		return err
	}

	time.Sleep(settle)
	return m.objects.VerifyUpload(ctx, spec.ObjectKey, spec.ExpectedSize)
}

func platformMaxBudget(platform resolver.Platform) time.Duration {
	if platform == resolver.PlatformWindows {
		return UploadMaxBudgetWindows
	}
	return 0 // Unix cap is profile-specific; callers pass it via ExpectedSize-derived budget only.
}

func rewriteHost(rawURL, proxyHost string) string {
	schemeSplit := strings.SplitN(rawURL, "://", 2)
	if len(schemeSplit) != 2 {
		return rawURL
	}
	rest := schemeSplit[1]
	pathSplit := strings.SplitN(rest, "/", 2)
	if len(pathSplit) != 2 {
		return schemeSplit[0] + "://" + proxyHost
	}
	return schemeSplit[0] + "://" + proxyHost + "/" + pathSplit[1]
}

// injectHostEntries appends FQDN->IP lines to the endpoint's hosts file so a
// proxy-rewritten presigned URL still resolves on the endpoint. Run as a
// pre-flight, before the upload command is launched.
func (m *Manager) injectHostEntries(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, lines []string) error {
	if host.Platform == resolver.PlatformWindows {
		var sb strings.Builder
		for _, l := range lines {
			sb.WriteString(fmt.Sprintf(`Add-Content -Path '%s' -Value '%s'; `, windowsHostsFile, l))
		}
		_, err := m.sessions.Execute(ctx, sess, "runscript", "-Raw="+sb.String(), true)
		return err
	}

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("echo '%s' >> %s; ", l, unixHostsFile))
	}
	_, err := m.sessions.Execute(ctx, sess, "runscript", "-Raw="+sb.String(), true)
	return err
}

func (m *Manager) launchWindowsUpload(ctx context.Context, sess *rtrsession.Session, spec UploadSpec, url string, budget time.Duration) error {
	script := fmt.Sprintf(
		`$p = Start-Process powershell -WindowStyle Hidden -PassThru -RedirectStandardOutput '%s' `+
			`-ArgumentList '-noprofile','-command',"try { Invoke-WebRequest -Method PUT -InFile '%s' -Uri '%s' -MaximumRedirection 0 -TimeoutSec %d } finally { $LASTEXITCODE | Out-File '%s' }"; `+
			`$p.Id | Out-File '%s'`,
		spec.logFile(), spec.RemoteLocalPath, url, int(budget.Seconds()), spec.exitFile(), spec.pidFile(),
	)
	_, err := m.sessions.Execute(ctx, sess, "runscript", "-Raw="+script, true)
	return err
}

func (m *Manager) launchUnixUpload(ctx context.Context, sess *rtrsession.Session, spec UploadSpec, url string, budget time.Duration) error {
	curlArgs := []string{
		"curl", "-X", "PUT", "-T", spec.RemoteLocalPath,
		"-H", "Content-Type:",
		"--max-time", strconv.Itoa(int(budget.Seconds())),
		"--connect-timeout", "30", "--retry", "3", "--retry-delay", "5", "--fail",
		url,
	}
	quoted := shellquote.Join(curlArgs...)
	// RTR sessions have no TTY, so nohup fails; background with a
	// parenthesized subshell instead (matches collector/uac's launch).
	script := fmt.Sprintf(
		"(%s > %s 2>&1 ; echo $? > %s) & echo $! > %s",
		quoted, spec.logFile(), spec.exitFile(), spec.pidFile(),
	)
	_, err := m.sessions.Execute(ctx, sess, "runscript", "-Raw="+script, true)
	return err
}

// superviseUpload polls for the exit-code file the backgrounded command
// writes on completion, pulsing the session at the default cadence while
// it waits. The remote exit code's value is not inspected, only its
// presence — HeadObject decides success.
func (m *Manager) superviseUpload(ctx context.Context, sess *rtrsession.Session, spec UploadSpec, budget time.Duration) error {
	deadline := time.Now().Add(budget + uploadPostExitSettle)
	lastPulse := time.Now()

	for {
		result, err := m.sessions.Execute(ctx, sess, "cat", spec.exitFile(), false)
		if err == nil && strings.TrimSpace(result.Stdout) != "" {
			return nil
		}

		if time.Now().After(deadline) {
			return errors.Wrapf(errors.ErrTransferFailed, "background upload for %s did not complete within %s", spec.ObjectKey, budget)
		}
		if time.Since(lastPulse) >= uploadSupervisePulse {
			if err := m.sessions.Pulse(ctx, sess); err != nil {
				return errors.Wrapf(err, "pulse during upload supervision for %s", spec.ObjectKey)
			}
			lastPulse = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(uploadSupervisePoll):
		}
	}
}
