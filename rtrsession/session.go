// Package rtrsession manages the lifecycle of a single RTR session: open,
// pulse-keepalive, command execution with polling, and close.
//
// The pulse contract is the crux of this package: the control plane
// terminates a session after roughly ten minutes of inactivity, so any wait
// longer than the pulse interval must interleave a pulse or risk the
// session being silently recycled out from under a long-running command.
package rtrsession

import (
	"context"
	"time"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
)

// Defaults for session polling cadence and per-command timeouts.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultCommandTimeout = 600 * time.Second
	DefaultPulseInterval  = 5 * time.Minute
)

// Session is a single open RTR session against one agent. The zero value is
// not usable; obtain one from Manager.Start.
type Session struct {
	SessionID   string
	AgentID     string
	CreatedAt   time.Time
	LastPulseAt time.Time
	BatchID     string
}

// controlPlane is the subset of falcon.Client the session manager drives.
type controlPlane interface {
	InitSession(ctx context.Context, agentID string) (falcon.SessionInitResponse, error)
	PulseSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	ExecuteCommand(ctx context.Context, sessionID, verb, cmdline string) (falcon.CommandSubmitResponse, error)
	ExecuteAdminCommand(ctx context.Context, sessionID, verb, cmdline string) (falcon.CommandSubmitResponse, error)
	ExecuteActiveResponder(ctx context.Context, agentID, sessionID, verb, cmdline string) (falcon.CommandSubmitResponse, error)
	CheckCommandStatus(ctx context.Context, cloudRequestID string, seq int) (falcon.CommandResult, error)
	CheckActiveResponderStatus(ctx context.Context, cloudRequestID string, seq int) (falcon.CommandResult, error)
}

// Manager opens, drives, and closes RTR sessions.
type Manager struct {
	client         controlPlane
	pollInterval   time.Duration
	commandTimeout time.Duration
	pulseInterval  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval overrides the default status-poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithCommandTimeout overrides the default total-wait deadline for Execute.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) { m.commandTimeout = d }
}

// WithPulseInterval overrides the default keepalive cadence used while
// polling for a long-running command.
func WithPulseInterval(d time.Duration) Option {
	return func(m *Manager) { m.pulseInterval = d }
}

// New builds a Manager backed by client.
func New(client *falcon.Client, opts ...Option) *Manager {
	m := &Manager{
		client:         client,
		pollInterval:   DefaultPollInterval,
		commandTimeout: DefaultCommandTimeout,
		pulseInterval:  DefaultPulseInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session against agentID. The response must carry status
// "created" and a session id or the underlying call itself already wraps
// the failure as ErrSessionLost (falcon.Client.InitSession).
func (m *Manager) Start(ctx context.Context, agentID string) (*Session, error) {
	resp, err := m.client.InitSession(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Session{
		SessionID:   resp.SessionID,
		AgentID:     agentID,
		CreatedAt:   now,
		LastPulseAt: now,
	}, nil
}

// Pulse refreshes sess's keepalive. Pulses are re-entrant and idempotent;
// a failed pulse signals the session is likely lost and callers should
// recover by starting a new one rather than trusting further results.
func (m *Manager) Pulse(ctx context.Context, sess *Session) error {
	if err := m.client.PulseSession(ctx, sess.SessionID); err != nil {
		return err
	}
	sess.LastPulseAt = time.Now()
	return nil
}

// End closes sess. Callers must invoke this on every exit path of a
// collection, including failure paths.
func (m *Manager) End(ctx context.Context, sess *Session) error {
	return m.client.DeleteSession(ctx, sess.SessionID)
}

// Execute submits verb+cmdline against sess (admin scope if admin is true)
// and polls until completion or m.commandTimeout elapses.
func (m *Manager) Execute(ctx context.Context, sess *Session, verb, cmdline string, admin bool) (falcon.CommandResult, error) {
	return m.ExecuteWithTimeout(ctx, sess, verb, cmdline, admin, m.commandTimeout)
}

// ExecuteWithTimeout is Execute with an explicit total-wait deadline, used
// by callers that size the timeout from a file size or collector profile
// rather than relying on the manager default.
func (m *Manager) ExecuteWithTimeout(ctx context.Context, sess *Session, verb, cmdline string, admin bool, timeout time.Duration) (falcon.CommandResult, error) {
	var submit falcon.CommandSubmitResponse
	var err error
	if admin {
		submit, err = m.client.ExecuteAdminCommand(ctx, sess.SessionID, verb, cmdline)
	} else {
		submit, err = m.client.ExecuteCommand(ctx, sess.SessionID, verb, cmdline)
	}
	if err != nil {
		return falcon.CommandResult{}, errors.Wrapf(err, "submit command %q", verb)
	}

	return m.pollUntilComplete(ctx, sess, submit.CloudRequestID, timeout, false)
}

// ExecuteActiveResponder submits a `get`-class command — the only command
// class able to retrieve files from the endpoint — and polls until
// completion or timeout elapses.
func (m *Manager) ExecuteActiveResponder(ctx context.Context, sess *Session, verb, cmdline string, timeout time.Duration) (falcon.CommandResult, error) {
	submit, err := m.client.ExecuteActiveResponder(ctx, sess.AgentID, sess.SessionID, verb, cmdline)
	if err != nil {
		return falcon.CommandResult{}, errors.Wrapf(err, "submit active-responder command %q", verb)
	}

	return m.pollUntilComplete(ctx, sess, submit.CloudRequestID, timeout, true)
}

// pollUntilComplete polls a submitted command's status at m.pollInterval,
// pulsing sess at m.pulseInterval cadence, until the result is complete,
// the context is cancelled, or timeout elapses (ErrCommandTimeout).
func (m *Manager) pollUntilComplete(ctx context.Context, sess *Session, cloudRequestID string, timeout time.Duration, activeResponder bool) (falcon.CommandResult, error) {
	deadline := time.Now().Add(timeout)
	lastPulse := time.Now()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		var result falcon.CommandResult
		var err error
		if activeResponder {
			result, err = m.client.CheckActiveResponderStatus(ctx, cloudRequestID, 0)
		} else {
			result, err = m.client.CheckCommandStatus(ctx, cloudRequestID, 0)
		}
		if err != nil {
			return falcon.CommandResult{}, errors.Wrapf(err, "check status for %s", cloudRequestID)
		}
		if result.Complete {
			if activeResponder && result.Stderr != "" {
				return result, errors.Wrapf(errors.ErrRemoteError, "command %s completed with stderr: %s", cloudRequestID, result.Stderr)
			}
			return result, nil
		}

		if time.Now().After(deadline) {
			return falcon.CommandResult{}, errors.Wrapf(errors.ErrCommandTimeout, "command %s timed out after %s", cloudRequestID, timeout)
		}

		if time.Since(lastPulse) >= m.pulseInterval {
			if err := m.Pulse(ctx, sess); err != nil {
				return falcon.CommandResult{}, errors.Wrapf(err, "pulse during poll of %s", cloudRequestID)
			}
			lastPulse = time.Now()
		}

		select {
		case <-ctx.Done():
			return falcon.CommandResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
