// Package orchestrator drives a BatchPlan's VMJobs wave by wave, bounding
// parallelism with the fixed set of named budgets the spec.md concurrency
// model defines, and persisting state to the statestore after every wave
// and every VM so a batch can resume from wherever it stopped.
package orchestrator

import (
	"context"
	"sync"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// semaphore is a buffered channel used as a counting semaphore, the same
// idiom pkg/scheduler's worker pool uses for its done/work channels.
type semaphore chan struct{}

func newSemaphore(n int) semaphore {
	if n < 1 {
		n = 1
	}
	return make(semaphore, n)
}

func (s semaphore) acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s semaphore) release() {
	<-s
}

// Budget is a named, acquirable resource slot. The name is carried through
// for logging and matches the fixed key space an operator dashboard
// recognizes: "global", "per_host:<host>", "conversions", "s3_upload",
// "scw_api".
type Budget struct {
	name string
	sem  semaphore
}

// Acquire blocks until a slot is free or ctx is done.
func (b *Budget) Acquire(ctx context.Context) error {
	if err := b.sem.acquire(ctx); err != nil {
		return vmerrors.NewCancelledError(b.name)
	}
	return nil
}

// Release frees the slot acquired by Acquire.
func (b *Budget) Release() {
	b.sem.release()
}

// Name reports the budget's fixed key, for logging.
func (b *Budget) Name() string { return b.name }

// BudgetManager owns the layered concurrency budgets a BatchOrchestrator
// consumes: one global ceiling, three resource-specific ceilings, and a
// per-source-host budget created lazily the first time a VM from that host
// is seen (an ESXi cluster's host count isn't known up front).
type BudgetManager struct {
	global      *Budget
	conversions *Budget
	s3Upload    *Budget
	scwAPI      *Budget

	maxPerHost int
	hostsMu    sync.Mutex
	hosts      map[string]*Budget
}

// NewBudgetManager builds a BudgetManager from a concurrency config (the
// batch commands pass the plan's, or the config file's when the plan has
// none). A zero field gets a ceiling of 1, the newSemaphore floor; it is
// not replaced by the v1.DefaultConcurrency value.
func NewBudgetManager(c v1.Concurrency) *BudgetManager {
	return &BudgetManager{
		global:      &Budget{name: "global", sem: newSemaphore(c.MaxTotalWorkers)},
		conversions: &Budget{name: "conversions", sem: newSemaphore(c.MaxConcurrentConversions)},
		s3Upload:    &Budget{name: "s3_upload", sem: newSemaphore(c.MaxConcurrentUploads)},
		scwAPI:      &Budget{name: "scw_api", sem: newSemaphore(c.MaxConcurrentImports)},
		maxPerHost:  c.MaxExportsPerHost,
		hosts:       map[string]*Budget{},
	}
}

// Global is the ceiling on total concurrently-running VM pipelines.
func (m *BudgetManager) Global() *Budget { return m.global }

// Conversions bounds concurrent disk conversion/adaptation stages.
func (m *BudgetManager) Conversions() *Budget { return m.conversions }

// S3Upload bounds concurrent object-storage uploads.
func (m *BudgetManager) S3Upload() *Budget { return m.s3Upload }

// ScwAPI bounds concurrent Scaleway target-API calls (import, verify).
func (m *BudgetManager) ScwAPI() *Budget { return m.scwAPI }

// PerHost returns the export budget for host, creating it on first use.
// An empty host falls back to "default", matching a VM whose source host
// wasn't yet known at validate time.
func (m *BudgetManager) PerHost(host string) *Budget {
	if host == "" {
		host = "default"
	}
	m.hostsMu.Lock()
	defer m.hostsMu.Unlock()
	if b, ok := m.hosts[host]; ok {
		return b
	}
	b := &Budget{name: "per_host:" + host, sem: newSemaphore(m.maxPerHost)}
	m.hosts[host] = b
	return b
}
