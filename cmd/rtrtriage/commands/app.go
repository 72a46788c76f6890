// Package commands wires the engine's packages into cobra subcommands and
// holds the global flags shared across kape, uac and triage runs.
package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0x4n6nerd/rtrtriage/batch"
	"github.com/0x4n6nerd/rtrtriage/cleanup"
	"github.com/0x4n6nerd/rtrtriage/collector"
	"github.com/0x4n6nerd/rtrtriage/collector/kape"
	"github.com/0x4n6nerd/rtrtriage/collector/uac"
	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/falcon"
	"github.com/0x4n6nerd/rtrtriage/internal/config"
	"github.com/0x4n6nerd/rtrtriage/internal/resolvercache"
	"github.com/0x4n6nerd/rtrtriage/logger"
	"github.com/0x4n6nerd/rtrtriage/objstore"
	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
	"github.com/0x4n6nerd/rtrtriage/transfer"
)

// globalFlags holds every persistent flag registered on the root command.
// A single struct rather than package vars per flag so subcommands can pass
// it around explicitly.
type globalFlags struct {
	configPath    string
	clientID      string
	clientSecret  string
	jsonLogs      bool
	verbosity     int
	bucket        string
	region        string
	endpointURL   string
	maxConcurrent int
	resolverCache string
}

var flags globalFlags

// app bundles the fully wired dependency graph a subcommand drives.
type app struct {
	cfg       *config.Config
	falcon    *falcon.Client
	resolver  *resolver.Resolver
	sessions  *rtrsession.Manager
	cleanup   *cleanup.Engine
	transfer  *transfer.Manager
	putFiles  *transfer.PutFileRepo
	registry  *collector.Registry
	orch      *batch.Orchestrator
	log       *zap.SugaredLogger
}

// buildApp loads configuration and constructs every collaborator needed to
// run a collection: the control-plane client, host resolver, session
// manager, object-storage client, transfer/cleanup engines, and a collector
// registry populated with windows and unix platforms.
func buildApp(ctx context.Context, f globalFlags) (*app, error) {
	if err := logger.Initialize(f.jsonLogs, f.verbosity); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}

	var falconOpts []falcon.Option
	if f.clientID != "" && f.clientSecret != "" {
		falconOpts = append(falconOpts, falcon.WithCredentials(f.clientID, f.clientSecret))
	}
	falconClient := falcon.NewClient(falconOpts...)

	var resolverOpts []resolver.Option
	if f.resolverCache != "" {
		db, err := resolvercache.OpenWithMigrations(f.resolverCache, logger.ComponentLogger("resolvercache"))
		if err != nil {
			return nil, errors.Wrapf(err, "open resolver warm cache %s", f.resolverCache)
		}
		resolverOpts = append(resolverOpts, resolver.WithWarmCache(resolvercache.New(db)))
	}
	hostResolver, err := resolver.New(falconClient, 0, 0, resolverOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "build host resolver")
	}

	sessions := rtrsession.New(falconClient)
	cleanupEngine := cleanup.New(sessions)

	bucket := cfg.S3.BucketName
	if f.bucket != "" {
		bucket = f.bucket
	}
	region := cfg.S3.Region
	if f.region != "" {
		region = f.region
	}
	endpoint := cfg.S3.EndpointURL
	if f.endpointURL != "" {
		endpoint = f.endpointURL
	}

	var objOpts []objstore.Option
	if endpoint != "" {
		objOpts = append(objOpts, objstore.WithEndpointURL(endpoint))
	}
	objects, err := objstore.New(ctx, bucket, region, objOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "build object storage client")
	}

	transferMgr := transfer.New(falconClient, sessions, objects)
	putFiles := transfer.NewPutFileRepo(falconClient)

	hostEntries := make([]transfer.HostEntry, 0, len(cfg.HostEntries))
	for _, e := range cfg.HostEntries {
		hostEntries = append(hostEntries, transfer.HostEntry{IP: e.IP, Hostname: e.Hostname})
	}

	registry := collector.NewRegistry()
	kapeCollector := kape.New(sessions, transferMgr, cleanupEngine, putFiles,
		kape.BundleSources{KapeZip: "kape.zip", DeployScript: "deploy_kape.ps1"},
		cfg.Workspace.Windows, cfg.Proxy.Host, cfg.Proxy.IP, cfg.Proxy.Enabled, hostEntries)
	registry.Register(resolver.PlatformWindows, kapeCollector)

	uacCollector := uac.New(sessions, transferMgr, cleanupEngine, putFiles,
		"uac.zip", cfg.Workspace.Unix, cfg.Proxy.Host, cfg.Proxy.IP, cfg.Proxy.Enabled, hostEntries, cfg.UAC.ProfileTimeouts)
	registry.Register(resolver.PlatformLinux, uacCollector)
	registry.Register(resolver.PlatformMac, uacCollector)

	workspaceFor := func(platform resolver.Platform) string {
		if platform == resolver.PlatformWindows {
			return cfg.Workspace.Windows
		}
		return cfg.Workspace.Unix
	}

	orch := batch.New(hostResolver, sessions, cleanupEngine, registry, workspaceFor)

	return &app{
		cfg:      cfg,
		falcon:   falconClient,
		resolver: hostResolver,
		sessions: sessions,
		cleanup:  cleanupEngine,
		transfer: transferMgr,
		putFiles: putFiles,
		registry: registry,
		orch:     orch,
		log:      logger.ComponentLogger("cli"),
	}, nil
}

// modeFromUpload turns the --upload flag value ("aws" or empty) into a
// collector.Mode. Any non-empty value selects upload; the original CLI's
// only supported destination is its "aws" choice, so no further branching
// is needed.
func modeFromUpload(upload string) collector.Mode {
	if upload != "" {
		return collector.ModeUpload
	}
	return collector.ModeDownload
}

// matchTargets pairs each hostname with a target/profile value. A single
// target is broadcast to every host; otherwise the two slices must be the
// same length, matched by position (mirroring how the devices and
// targets/profiles flags were always supplied in lockstep).
func matchTargets(hosts, targets []string) ([]batch.HostTarget, error) {
	if len(targets) == 0 {
		out := make([]batch.HostTarget, len(hosts))
		for i, h := range hosts {
			out[i] = batch.HostTarget{Hostname: h}
		}
		return out, nil
	}
	if len(targets) == 1 {
		out := make([]batch.HostTarget, len(hosts))
		for i, h := range hosts {
			out[i] = batch.HostTarget{Hostname: h, Target: targets[0]}
		}
		return out, nil
	}
	if len(targets) != len(hosts) {
		return nil, errors.Newf("%d targets given for %d hosts: supply one target for all hosts, or exactly one per host", len(targets), len(hosts))
	}
	out := make([]batch.HostTarget, len(hosts))
	for i, h := range hosts {
		out[i] = batch.HostTarget{Hostname: h, Target: targets[i]}
	}
	return out, nil
}
