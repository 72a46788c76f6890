// Package batch runs a collection pipeline against many hosts at once: it
// resolves every requested hostname, partitions the resolved hosts by
// customer-id, and runs a bounded worker pool per partition so put-file
// staging (which is itself memoized per customer-id) and session traffic
// stay scoped to one tenant at a time.
package batch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0x4n6nerd/rtrtriage/cleanup"
	"github.com/0x4n6nerd/rtrtriage/collector"
	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/logger"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// DefaultMaxConcurrentHosts bounds the worker pool run per customer-id when
// a Request leaves MaxConcurrentHosts unset.
const DefaultMaxConcurrentHosts = 10

// HostTarget names one host to collect from and, optionally, a
// collector-specific target: a KAPE target list name or a UAC profile.
// An empty Target lets the collector fall back to its own default.
type HostTarget struct {
	Hostname string
	Target   string
}

// Request describes one batch run.
type Request struct {
	Hosts              []HostTarget
	Mode               collector.Mode
	MaxConcurrentHosts int
}

// Outcome records what happened to a single requested host.
type Outcome struct {
	Hostname string
	OK       bool
	Err      error
	Result   collector.Result
}

// WorkspaceFor returns the deploy-root path to use for a given platform
// (distinct Windows vs. Unix roots).
type WorkspaceFor func(platform resolver.Platform) string

// hostResolver is the subset of resolver.Resolver the orchestrator drives.
type hostResolver interface {
	Resolve(ctx context.Context, hostname string) (resolver.HostInfo, error)
}

// pipelineRunner runs one host's full Deploy/Supervise/Evacuate cycle. A
// field on Orchestrator, defaulting to collector.RunPipeline, so tests can
// stub out session/cleanup plumbing entirely.
type pipelineRunner func(ctx context.Context, sessions *rtrsession.Manager, ce *cleanup.Engine, c collector.Collector, host resolver.HostInfo, job collector.Job, workspace string) (collector.Result, error)

// Orchestrator wires a host resolver, session manager, cleanup engine and
// collector registry into the batch run described above.
type Orchestrator struct {
	hosts     hostResolver
	sessions  *rtrsession.Manager
	cleanup   *cleanup.Engine
	registry  *collector.Registry
	workspace WorkspaceFor
	runHost   pipelineRunner
	log       *zap.SugaredLogger
}

// New builds an Orchestrator.
func New(hosts *resolver.Resolver, sessions *rtrsession.Manager, ce *cleanup.Engine, registry *collector.Registry, workspace WorkspaceFor) *Orchestrator {
	return &Orchestrator{
		hosts:     hosts,
		sessions:  sessions,
		cleanup:   ce,
		registry:  registry,
		workspace: workspace,
		runHost:   collector.RunPipeline,
		log:       logger.ComponentLogger("batch"),
	}
}

type resolvedJob struct {
	host   resolver.HostInfo
	target string
}

// Run resolves every requested host (skipping and recording failures),
// partitions the survivors by customer-id, and collects from each
// partition through a bounded worker pool. The returned map is
// {hostname: ok}; the bool return is the aggregate success flag (true iff
// every requested host succeeded), matching this process's exit-code
// contract.
func (o *Orchestrator) Run(ctx context.Context, req Request) (map[string]bool, bool) {
	limit := req.MaxConcurrentHosts
	if limit <= 0 {
		limit = DefaultMaxConcurrentHosts
	}

	var mu sync.Mutex
	results := make(map[string]bool, len(req.Hosts))
	outcomes := make([]Outcome, 0, len(req.Hosts))
	report := newReporter(len(req.Hosts))

	record := func(out Outcome) {
		mu.Lock()
		results[out.Hostname] = out.OK
		outcomes = append(outcomes, out)
		mu.Unlock()
		report.hostDone(out)
	}

	byCustomer := make(map[string][]resolvedJob)
	for _, h := range req.Hosts {
		info, err := o.hosts.Resolve(ctx, h.Hostname)
		if err != nil {
			record(Outcome{Hostname: h.Hostname, Err: errors.Wrapf(err, "resolve %s", h.Hostname)})
			continue
		}
		byCustomer[info.CustomerID] = append(byCustomer[info.CustomerID], resolvedJob{host: info, target: h.Target})
	}

	var wg sync.WaitGroup
	for customerID, jobs := range byCustomer {
		wg.Add(1)
		go func(customerID string, jobs []resolvedJob) {
			defer wg.Done()
			o.runCustomer(ctx, jobs, req.Mode, limit, record)
		}(customerID, jobs)
	}
	wg.Wait()

	report.summary(outcomes)

	allOK := true
	for _, ok := range results {
		if !ok {
			allOK = false
			break
		}
	}
	return results, allOK
}

// runCustomer collects from every job in jobs, all of which share a
// customer-id, through a worker pool bounded to limit concurrent hosts.
// One host's failure never cancels its siblings: errgroup's cancellation
// propagation is deliberately unused here by always returning a nil error
// from the goroutine, since a single bad host must not abort the batch.
func (o *Orchestrator) runCustomer(ctx context.Context, jobs []resolvedJob, mode collector.Mode, limit int, record func(Outcome)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			c, ok := o.registry.Get(job.host.Platform)
			if !ok {
				record(Outcome{Hostname: job.host.Hostname, Err: errors.Newf("no collector registered for platform %s", job.host.Platform)})
				return nil
			}

			workspace := o.workspace(job.host.Platform)
			result, err := o.runHost(gctx, o.sessions, o.cleanup, c, job.host, collector.Job{Target: job.target, Mode: mode}, workspace)
			record(Outcome{Hostname: job.host.Hostname, OK: err == nil, Err: err, Result: result})
			return nil
		})
	}
	_ = g.Wait()
}
