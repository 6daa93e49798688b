package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/pipeline"
	"github.com/scaleway/vmware2scw/internal/statestore"
)

// ProgressCallback mirrors the teacher's BatchProgressCallback protocol: a
// set of optional hooks an observer (the Dashboard, a CLI spinner) attaches
// to watch batch/wave/VM transitions without the Orchestrator knowing
// anything about what's listening. A nil field is simply never called.
type ProgressCallback struct {
	OnBatchStart    func(state *v1.BatchState)
	OnWaveStart     func(waveIndex int, waveName string, vmCount int)
	OnWaveComplete  func(waveIndex int, succeeded, failed int)
	OnVMComplete    func(job *v1.VMJob)
	OnVMFailed      func(job *v1.VMJob, err error)
	OnBatchComplete func(state *v1.BatchState)
	OnWavePause     func(waveIndex int, reason string)
}

// Orchestrator runs a BatchPlan's VMJobs wave by wave, bounded by a
// BudgetManager, persisting a BatchState checkpoint after every wave and
// after every VM so a crashed or paused batch resumes where it left off.
type Orchestrator struct {
	handlers pipeline.StageHandlers
	budgets  *BudgetManager
	store    *statestore.Store
	progress ProgressCallback

	pauseMu sync.Mutex
	pauseCh chan struct{}

	log *zap.SugaredLogger
}

// New builds an Orchestrator. handlers supplies the StageHandler for every
// stage LinuxStages/WindowsStages can name; store persists BatchState after
// every wave and VM.
func New(concurrency v1.Concurrency, handlers pipeline.StageHandlers, store *statestore.Store) *Orchestrator {
	return &Orchestrator{
		handlers: handlers,
		budgets:  NewBudgetManager(concurrency),
		store:    store,
		log:      zap.S().Named("orchestrator"),
	}
}

// SetProgress attaches cb; a zero-value ProgressCallback leaves every hook
// nil, which is the same as not attaching one.
func (o *Orchestrator) SetProgress(cb ProgressCallback) {
	o.progress = cb
}

// Unpause releases a batch blocked in Run on a "pause" or "pause_on_failure"
// wave boundary. Calling it when Run isn't paused is a no-op.
func (o *Orchestrator) Unpause() {
	o.pauseMu.Lock()
	defer o.pauseMu.Unlock()
	if o.pauseCh != nil {
		close(o.pauseCh)
		o.pauseCh = nil
	}
}

// Run executes every wave in waves against the orchestrator's budgets,
// persisting state after each wave and honoring each wave's PauseAfter
// setting before starting the next one. waves[i] is run to completion
// (every contained VMJob either completes, fails, or is skipped) before
// waves[i+1] is considered; wavePause supplies the PauseAfter value for the
// boundary after waves[i], indexed the same as waves (the final entry, with
// no following wave, is never consulted).
func (o *Orchestrator) Run(ctx context.Context, waves [][]*v1.VMJob, wavePause []v1.PauseAfter) (*v1.BatchState, error) {
	state := &v1.BatchState{
		BatchID:    uuid.NewString()[:8],
		Status:     v1.BatchStatusRunning,
		TotalWaves: len(waves),
	}
	started := time.Now()
	state.StartedAt = &started
	for _, wave := range waves {
		state.Jobs = append(state.Jobs, wave...)
	}

	if o.progress.OnBatchStart != nil {
		o.progress.OnBatchStart(state)
	}

	for waveIdx, wave := range waves {
		state.CurrentWave = waveIdx + 1
		if o.progress.OnWaveStart != nil {
			o.progress.OnWaveStart(waveIdx, waveName(waveIdx), len(wave))
		}

		o.runWave(ctx, state, wave)

		succeeded, failed := countTerminal(wave)
		if o.progress.OnWaveComplete != nil {
			o.progress.OnWaveComplete(waveIdx, succeeded, failed)
		}

		if err := o.store.Save(state); err != nil {
			o.log.Warnw("failed to save batch state after wave", "batch", state.BatchID, "error", err)
		}

		if waveIdx < len(waves)-1 && shouldPause(pauseFor(wavePause, waveIdx), failed) {
			state.Status = v1.BatchStatusPaused
			_ = o.store.Save(state)
			if o.progress.OnWavePause != nil {
				o.progress.OnWavePause(waveIdx, "waiting for operator confirmation to proceed")
			}
			if err := o.waitForUnpause(ctx); err != nil {
				state.Status = v1.BatchStatusFailed
				_ = o.store.Save(state)
				return state, err
			}
			state.Status = v1.BatchStatusRunning
		}
	}

	completed := time.Now()
	state.CompletedAt = &completed
	state.RecomputeStatus()
	if err := o.store.Save(state); err != nil {
		o.log.Warnw("failed to save final batch state", "batch", state.BatchID, "error", err)
	}
	if o.progress.OnBatchComplete != nil {
		o.progress.OnBatchComplete(state)
	}
	return state, nil
}

// Resume loads a previously checkpointed batch, resets every failed job to
// pending (clearing its error so VMPipeline.Run resumes from the stage
// after the last one in CompletedStages), and re-runs only the pending
// jobs as a single wave; completed and skipped jobs are left untouched.
// RetryCount isn't touched here: VMPipeline.Run already increments it the
// moment a stage fails, so a VM that fails once and then succeeds on
// resume ends with retry_count == 1, not 2. The original wave grouping
// isn't part of BatchState's persisted shape, so a resumed batch always
// runs its remaining work as one wave rather than replaying the original
// wave boundaries.
func (o *Orchestrator) Resume(ctx context.Context, batchID string) (*v1.BatchState, error) {
	state, err := o.store.Load(batchID)
	if err != nil {
		return nil, err
	}

	var pending []*v1.VMJob
	for _, job := range state.Jobs {
		if job.Status == v1.VMStatusFailed {
			job.Status = v1.VMStatusPending
			job.Error = ""
			job.ErrorStage = ""
		}
		if job.Status == v1.VMStatusPending {
			pending = append(pending, job)
		}
	}

	if len(pending) == 0 {
		state.RecomputeStatus()
		return state, nil
	}

	state.Status = v1.BatchStatusRunning
	state.CurrentWave++
	state.TotalWaves++
	if err := o.store.Save(state); err != nil {
		o.log.Warnw("failed to save batch state before resume wave", "batch", state.BatchID, "error", err)
	}

	if o.progress.OnWaveStart != nil {
		o.progress.OnWaveStart(state.CurrentWave-1, waveName(state.CurrentWave-1), len(pending))
	}
	o.runWave(ctx, state, pending)
	succeeded, failed := countTerminal(pending)
	if o.progress.OnWaveComplete != nil {
		o.progress.OnWaveComplete(state.CurrentWave-1, succeeded, failed)
	}

	completed := time.Now()
	state.CompletedAt = &completed
	state.RecomputeStatus()
	if err := o.store.Save(state); err != nil {
		o.log.Warnw("failed to save final batch state after resume", "batch", state.BatchID, "error", err)
	}
	if o.progress.OnBatchComplete != nil {
		o.progress.OnBatchComplete(state)
	}
	return state, nil
}

func pauseFor(wavePause []v1.PauseAfter, idx int) v1.PauseAfter {
	if idx < len(wavePause) {
		return wavePause[idx]
	}
	return v1.PauseContinue
}

func shouldPause(p v1.PauseAfter, waveFailed int) bool {
	switch p {
	case v1.PausePause:
		return true
	case v1.PausePauseOnFailure:
		return waveFailed > 0
	default:
		return false
	}
}

func (o *Orchestrator) waitForUnpause(ctx context.Context) error {
	o.pauseMu.Lock()
	o.pauseCh = make(chan struct{})
	ch := o.pauseCh
	o.pauseMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWave runs every job in wave concurrently, bounded by the global
// budget, and blocks until all of them finish, fail, or are skipped.
// Each VM's completion triggers its own state save (statestore.Store
// serializes concurrent Save calls internally), matching the teacher's
// "save state after each VM completes" behavior.
func (o *Orchestrator) runWave(ctx context.Context, state *v1.BatchState, wave []*v1.VMJob) {
	var wg sync.WaitGroup
	wg.Add(len(wave))
	for _, job := range wave {
		job := job
		go func() {
			defer wg.Done()
			o.runVMPipeline(ctx, job)
			if err := o.store.Save(state); err != nil {
				o.log.Warnw("failed to save state after vm", "vm", job.VMName, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) runVMPipeline(ctx context.Context, job *v1.VMJob) {
	if err := ctx.Err(); err != nil {
		job.Status = v1.VMStatusSkipped
		return
	}
	if err := o.budgets.Global().Acquire(ctx); err != nil {
		job.Status = v1.VMStatusSkipped
		return
	}
	defer o.budgets.Global().Release()

	p := pipeline.NewVMPipeline(o.wrapHandlers(job), nil)
	if err := p.Run(ctx, job); err != nil {
		job.Status = v1.VMStatusFailed
		o.log.Errorw("vm failed", "vm", job.VMName, "stage", job.ErrorStage, "error", err)
		if o.progress.OnVMFailed != nil {
			o.progress.OnVMFailed(job, err)
		}
		return
	}
	if o.progress.OnVMComplete != nil {
		o.progress.OnVMComplete(job)
	}
}

// wrapHandlers builds a per-job StageHandlers that acquires the right
// resource budget before delegating to the configured handler, releasing it
// once the handler returns. The mapping mirrors the teacher's
// _get_stage_semaphore: export/snapshot share a per-host budget, every
// conversion-family stage shares the conversions budget, upload gets its
// own budget, and import/verify share the Scaleway API budget.
func (o *Orchestrator) wrapHandlers(job *v1.VMJob) pipeline.StageHandlers {
	wrapped := make(pipeline.StageHandlers, len(o.handlers))
	for stage, handler := range o.handlers {
		stage, handler := stage, handler
		budget := o.budgetForStage(stage, job.SourceHost)
		if budget == nil {
			wrapped[stage] = handler
			continue
		}
		wrapped[stage] = func(ctx context.Context, job *v1.VMJob) error {
			if err := budget.Acquire(ctx); err != nil {
				return err
			}
			defer budget.Release()
			return handler(ctx, job)
		}
	}
	return wrapped
}

func (o *Orchestrator) budgetForStage(stage v1.Stage, host string) *Budget {
	switch stage {
	case v1.StageSnapshot, v1.StageExport:
		return o.budgets.PerHost(host)
	case v1.StageConvert, v1.StageAdaptGuest, v1.StageCleanTools, v1.StageInjectVirtio, v1.StageFixBootloader, v1.StageEnsureUEFI:
		return o.budgets.Conversions()
	case v1.StageUpload:
		return o.budgets.S3Upload()
	case v1.StageImport, v1.StageVerify:
		return o.budgets.ScwAPI()
	default:
		return nil
	}
}

func countTerminal(wave []*v1.VMJob) (succeeded, failed int) {
	for _, j := range wave {
		switch j.Status {
		case v1.VMStatusComplete:
			succeeded++
		case v1.VMStatusFailed:
			failed++
		}
	}
	return
}

func waveName(idx int) string {
	return "Wave " + strconv.Itoa(idx+1)
}
