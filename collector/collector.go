// Package collector defines the common Deploy/Supervise/Evacuate contract
// implemented by each platform-specific collection engine (collector/kape,
// collector/uac) and a Registry that dispatches on a resolved host's
// platform.
package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/0x4n6nerd/rtrtriage/resolver"
	"github.com/0x4n6nerd/rtrtriage/rtrsession"
)

// Mode selects how Evacuate moves the finished archive off the endpoint.
type Mode string

const (
	ModeUpload   Mode = "upload"
	ModeDownload Mode = "download"
)

// Job describes one collection request against an already-resolved host.
type Job struct {
	// Target is the KAPE target name (e.g. "!SANS_Triage") or the UAC
	// profile name (e.g. "ir_triage"), depending on which collector runs it.
	Target string
	Mode   Mode
}

// State carries whatever Deploy produced that Supervise and Evacuate need.
// Fields unused by a given collector are left zero.
type State struct {
	Workspace  string // remote workspace root used for this run
	ExtractDir string // uac: the extracted uac-* directory under Workspace
}

// Result is what Evacuate reports back to the batch orchestrator.
type Result struct {
	Hostname    string
	ArchiveName string
	LocalPath   string // set in ModeDownload
	ObjectKey   string // set in ModeUpload
}

// Collector runs one platform's collection pipeline against an open
// session. Implementations must be safe for concurrent use across
// different sessions/hosts; per-call state lives in State, not the
// receiver.
type Collector interface {
	// Name identifies the collector ("kape", "uac"). The Registry is keyed
	// by platform, not by Name.
	Name() string
	Deploy(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job Job) (State, error)
	Supervise(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job Job, state State) (archiveName string, err error)
	Evacuate(ctx context.Context, sess *rtrsession.Session, host resolver.HostInfo, job Job, state State, archiveName string) (Result, error)
}

// Registry maps a resolved host's platform to the Collector that handles
// it. Modeled directly on the mutex-guarded name->handler map idiom: a
// small, explicit registration surface rather than an init()-time global.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

// Register associates platform (resolver.PlatformWindows, PlatformMac,
// PlatformLinux) with c. Registering the same platform twice panics, since
// that can only happen from a wiring bug at startup.
func (r *Registry) Register(platform resolver.Platform, c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(platform)
	if _, exists := r.collectors[key]; exists {
		panic(fmt.Sprintf("collector: platform %q already registered", key))
	}
	r.collectors[key] = c
}

// Get returns the Collector registered for platform, if any.
func (r *Registry) Get(platform resolver.Platform) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collectors[string(platform)]
	return c, ok
}

// Has reports whether platform has a registered Collector.
func (r *Registry) Has(platform resolver.Platform) bool {
	_, ok := r.Get(platform)
	return ok
}

// Names lists the platforms currently registered, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	return names
}
