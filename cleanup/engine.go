// Package cleanup ensures every collection starts from, and leaves behind,
// a clean remote workspace: sweep and terminate leftover
// collector processes, remove and recreate the workspace, then verify it
// is empty. Any step failure aborts the collection with ErrPreconditionFailed
// rather than risk running into a dirty workspace.
package cleanup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// Timing constants for workspace sweep and recreation.
const (
	sweepTimeout            = 30 * time.Second
	workspaceStabilitySleep = 8 * time.Second
)

// commandRunner is the subset of rtrsession.Manager the cleanup engine
// needs, narrowed to an interface so tests can substitute a fake session
// driver instead of standing up real control-plane calls.
type commandRunner interface {
	Execute(ctx context.Context, sess *rtrsession.Session, verb, cmdline string, admin bool) (falcon.CommandResult, error)
}

// Engine runs the pre/post cleanup sequence against an open session.
type Engine struct {
	sessions commandRunner
}

// New builds an Engine driving commands through sessions.
func New(sessions *rtrsession.Manager) *Engine {
	return &Engine{sessions: sessions}
}

// EnsureClean runs process sweep, workspace removal, recreation, and
// verification in sequence. host.Platform selects the command dialect.
func (e *Engine) EnsureClean(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	if err := e.sweepAndTerminate(ctx, sess, host, workspace); err != nil {
		return errors.Wrapf(errors.ErrPreconditionFailed, "process sweep: %s", err)
	}
	if err := e.removeWorkspace(ctx, sess, host, workspace); err != nil {
		return errors.Wrapf(errors.ErrPreconditionFailed, "workspace removal: %s", err)
	}
	if err := e.recreateWorkspace(ctx, sess, host, workspace); err != nil {
		return errors.Wrapf(errors.ErrPreconditionFailed, "workspace recreate: %s", err)
	}
	if err := e.verifyEmpty(ctx, sess, host, workspace); err != nil {
		return errors.Wrapf(errors.ErrPreconditionFailed, "workspace verify: %s", err)
	}
	return nil
}

func (e *Engine) sweepAndTerminate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	deadline := time.Now().Add(sweepTimeout)

	for {
		lines, err := e.listProcesses(ctx, sess, host, workspace)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		for _, line := range lines {
			if err := e.terminate(ctx, sess, host, line.pid); err != nil {
				return err
			}
		}

		if time.Now().After(deadline) {
			return errors.Newf("process sweep did not return empty within %s", sweepTimeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (e *Engine) listProcesses(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) ([]processLine, error) {
	if host.Platform == resolver.PlatformWindows {
		result, err := e.sessions.Execute(ctx, sess, "ps", "", false)
		if err != nil {
			return nil, err
		}
		return parseWindowsTasklist(result.Stdout, windowsPatterns()), nil
	}

	result, err := e.sessions.Execute(ctx, sess, "ps", "", false)
	if err != nil {
		return nil, err
	}
	return parseUnixPS(result.Stdout, unixPatterns(workspace)), nil
}

func (e *Engine) terminate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, pid string) error {
	if host.Platform == resolver.PlatformWindows {
		_, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=taskkill /F /PID %s", pid), true)
		return err
	}
	_, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=kill -9 %s", pid), true)
	return err
}

func (e *Engine) removeWorkspace(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	if host.Platform == resolver.PlatformWindows {
		return e.removeWorkspaceWindows(ctx, sess, workspace)
	}
	return e.removeWorkspaceUnix(ctx, sess, workspace)
}

func (e *Engine) removeWorkspaceWindows(ctx context.Context, sess *rtrsession.Session, workspace string) error {
	script := strings.Join([]string{
		"Start-Sleep 2",
		fmt.Sprintf("if (Test-Path '%s') { Remove-Item -Recurse -Force '%s' }", workspace, workspace),
	}, "; ")
	if _, err := e.sessions.Execute(ctx, sess, "runscript", "-Raw="+script, true); err == nil {
		return e.verifyAbsentWindows(ctx, sess, workspace)
	}

	if _, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf(`-Raw=cmd /c rmdir /s /q "%s"`, workspace), true); err == nil {
		if err := e.verifyAbsentWindows(ctx, sess, workspace); err == nil {
			return nil
		}
	}

	resetScript := fmt.Sprintf(`takeown /f "%s" /r /d y; icacls "%s" /reset /t; Remove-Item -Recurse -Force "%s"`, workspace, workspace, workspace)
	if _, err := e.sessions.Execute(ctx, sess, "runscript", "-Raw="+resetScript, true); err != nil {
		return err
	}
	return e.verifyAbsentWindows(ctx, sess, workspace)
}

func (e *Engine) removeWorkspaceUnix(ctx context.Context, sess *rtrsession.Session, workspace string) error {
	script := fmt.Sprintf("rm -rf %s/* ; rm -rf %s ; sync ; sleep 2", workspace, workspace)
	if _, err := e.sessions.Execute(ctx, sess, "runscript", "-Raw="+script, true); err == nil {
		if err := e.verifyAbsentUnix(ctx, sess, workspace); err == nil {
			return nil
		}
	}

	resetScript := fmt.Sprintf("chmod -R u+rwx %s 2>/dev/null; find %s -depth -exec rm -rf {} + ; rm -rf %s", workspace, workspace, workspace)
	if _, err := e.sessions.Execute(ctx, sess, "runscript", "-Raw="+resetScript, true); err != nil {
		return err
	}
	return e.verifyAbsentUnix(ctx, sess, workspace)
}

func (e *Engine) verifyAbsentWindows(ctx context.Context, sess *rtrsession.Session, workspace string) error {
	result, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=Test-Path '%s'", workspace), true)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(result.Stdout), "true") {
		return errors.Newf("workspace %s still present", workspace)
	}
	return nil
}

func (e *Engine) verifyAbsentUnix(ctx context.Context, sess *rtrsession.Session, workspace string) error {
	result, err := e.sessions.Execute(ctx, sess, "ls", workspace, false)
	if err == nil && strings.TrimSpace(result.Stdout) != "" {
		return errors.Newf("workspace %s still present", workspace)
	}
	return nil
}

func (e *Engine) recreateWorkspace(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	if host.Platform == resolver.PlatformWindows {
		_, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf(`-Raw=New-Item -ItemType Directory -Force -Path "%s"`, workspace), true)
		if err != nil {
			return err
		}
	} else {
		_, err := e.sessions.Execute(ctx, sess, "mkdir", workspace, false)
		if err != nil {
			return err
		}
	}
	time.Sleep(workspaceStabilitySleep)
	return nil
}

func (e *Engine) verifyEmpty(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, workspace string) error {
	if host.Platform == resolver.PlatformWindows {
		result, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=(Get-ChildItem '%s' | Measure-Object).Count", workspace), true)
		if err != nil {
			return err
		}
		count := strings.TrimSpace(result.Stdout)
		if count != "0" && count != "" {
			return errors.Newf("workspace %s not empty after recreate (count=%s)", workspace, count)
		}
		return nil
	}

	result, err := e.sessions.Execute(ctx, sess, "runscript", fmt.Sprintf("-Raw=ls -la %s | wc -l", workspace), true)
	if err != nil {
		return err
	}
	count := strings.TrimSpace(result.Stdout)
	if count != "" && !isAtMost(count, 3) {
		return errors.Newf("workspace %s not empty after recreate (wc -l=%s)", workspace, count)
	}
	return nil
}

func isAtMost(numeric string, max int) bool {
	n := 0
	for _, r := range numeric {
		if r < '0' || r > '9' {
			return true
		}
		n = n*10 + int(r-'0')
	}
	return n <= max
}
