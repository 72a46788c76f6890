package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x4n6nerd/rtrtriage/cleanup"
	"github.com/0x4n6nerd/rtrtriage/collector"
	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

type fakeResolver struct {
	byHostname map[string]resolver.HostInfo
	failFor    map[string]error
}

func (f *fakeResolver) Resolve(ctx context.Context, hostname string) (resolver.HostInfo, error) {
	if err, ok := f.failFor[hostname]; ok {
		return resolver.HostInfo{}, err
	}
	return f.byHostname[hostname], nil
}

type fakeCollector struct{}

func (fakeCollector) Name() string { return "fake" }
func (fakeCollector) Deploy(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job) (collector.State, error) {
	return collector.State{}, nil
}
func (fakeCollector) Supervise(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State) (string, error) {
	return "", nil
}
func (fakeCollector) Evacuate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job collector.Job, state collector.State, archiveName string) (collector.Result, error) {
	return collector.Result{}, nil
}

func newTestRegistry() *collector.Registry {
	r := collector.NewRegistry()
	r.Register(resolver.PlatformWindows, fakeCollector{})
	r.Register(resolver.PlatformLinux, fakeCollector{})
	return r
}

func alwaysWorkspace(workspace string) WorkspaceFor {
	return func(resolver.Platform) string { return workspace }
}

func TestRunAggregatesAcrossCustomers(t *testing.T) {
	hosts := map[string]resolver.HostInfo{
		"win1": {Hostname: "win1", CustomerID: "cust-a", Platform: resolver.PlatformWindows},
		"lin1": {Hostname: "lin1", CustomerID: "cust-b", Platform: resolver.PlatformLinux},
	}
	o := New(nil, nil, nil, newTestRegistry(), alwaysWorkspace("/ws"))
	o.hosts = &fakeResolver{byHostname: hosts}
	o.runHost = func(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c collector.Collector, host resolver.HostInfo, job collector.Job, workspace string) (collector.Result, error) {
		return collector.Result{Hostname: host.Hostname, ArchiveName: "archive.7z"}, nil
	}

	results, allOK := o.Run(t.Context(), Request{Hosts: []HostTarget{{Hostname: "win1"}, {Hostname: "lin1"}}})
	require.True(t, allOK)
	assert.Equal(t, map[string]bool{"win1": true, "lin1": true}, results)
}

func TestRunRecordsUnresolvedHostAsFailure(t *testing.T) {
	o := New(nil, nil, nil, newTestRegistry(), alwaysWorkspace("/ws"))
	o.hosts = &fakeResolver{
		byHostname: map[string]resolver.HostInfo{"win1": {Hostname: "win1", CustomerID: "cust-a", Platform: resolver.PlatformWindows}},
		failFor:    map[string]error{"ghost": errors.ErrNotFound},
	}
	o.runHost = func(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c collector.Collector, host resolver.HostInfo, job collector.Job, workspace string) (collector.Result, error) {
		return collector.Result{}, nil
	}

	results, allOK := o.Run(t.Context(), Request{Hosts: []HostTarget{{Hostname: "win1"}, {Hostname: "ghost"}}})
	require.False(t, allOK)
	assert.True(t, results["win1"])
	assert.False(t, results["ghost"])
}

func TestRunAggregateFailsWhenAnyHostFails(t *testing.T) {
	hosts := map[string]resolver.HostInfo{
		"win1": {Hostname: "win1", CustomerID: "cust-a", Platform: resolver.PlatformWindows},
		"win2": {Hostname: "win2", CustomerID: "cust-a", Platform: resolver.PlatformWindows},
	}
	o := New(nil, nil, nil, newTestRegistry(), alwaysWorkspace("/ws"))
	o.hosts = &fakeResolver{byHostname: hosts}
	o.runHost = func(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c collector.Collector, host resolver.HostInfo, job collector.Job, workspace string) (collector.Result, error) {
		if host.Hostname == "win2" {
			return collector.Result{}, errors.ErrCollectorFailed
		}
		return collector.Result{Hostname: host.Hostname}, nil
	}

	results, allOK := o.Run(t.Context(), Request{Hosts: []HostTarget{{Hostname: "win1"}, {Hostname: "win2"}}})
	require.False(t, allOK)
	assert.True(t, results["win1"])
	assert.False(t, results["win2"])
}

func TestRunRecordsFailureForUnregisteredPlatform(t *testing.T) {
	hosts := map[string]resolver.HostInfo{
		"mac1": {Hostname: "mac1", CustomerID: "cust-a", Platform: resolver.PlatformMac},
	}
	o := New(nil, nil, nil, newTestRegistry(), alwaysWorkspace("/ws"))
	o.hosts = &fakeResolver{byHostname: hosts}
	o.runHost = func(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c collector.Collector, host resolver.HostInfo, job collector.Job, workspace string) (collector.Result, error) {
		t.Fatal("runHost should not be called for an unregistered platform")
		return collector.Result{}, nil
	}

	results, allOK := o.Run(t.Context(), Request{Hosts: []HostTarget{{Hostname: "mac1"}}})
	require.False(t, allOK)
	assert.False(t, results["mac1"])
}

func TestRunRespectsMaxConcurrentHostsPerCustomer(t *testing.T) {
	hosts := make(map[string]resolver.HostInfo, 6)
	targets := make([]HostTarget, 0, 6)
	for i := 0; i < 6; i++ {
		name := string(rune('a' + i))
		hosts[name] = resolver.HostInfo{Hostname: name, CustomerID: "cust-a", Platform: resolver.PlatformWindows}
		targets = append(targets, HostTarget{Hostname: name})
	}

	var inFlight, maxInFlight int32
	o := New(nil, nil, nil, newTestRegistry(), alwaysWorkspace("/ws"))
	o.hosts = &fakeResolver{byHostname: hosts}
	o.runHost = func(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c collector.Collector, host resolver.HostInfo, job collector.Job, workspace string) (collector.Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return collector.Result{Hostname: host.Hostname}, nil
	}

	_, allOK := o.Run(t.Context(), Request{Hosts: targets, MaxConcurrentHosts: 2})
	require.True(t, allOK)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}
