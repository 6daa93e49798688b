// Package pipeline runs one VM through its ordered stage sequence,
// skipping stages a prior attempt already completed (VMJob is the
// resume point) and recording per-stage timing and error location as it
// goes, the way a BatchOrchestrator needs to persist and report on it.
package pipeline

import (
	"context"
	"time"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
	"go.uber.org/zap"
)

// ProgressFunc is invoked after every stage transition (success or
// failure) so a caller can persist the job and/or report it to a
// Dashboard sink without the pipeline knowing about either.
type ProgressFunc func(job *v1.VMJob)

// VMPipeline runs job.NextStage() in order against one VMJob, re-deriving
// the stage list after every stage so a job that starts on the Linux
// sequence can reshape onto the Windows one once validate classifies it.
type VMPipeline struct {
	handlers StageHandlers
	progress ProgressFunc
	log      *zap.SugaredLogger
}

func NewVMPipeline(handlers StageHandlers, progress ProgressFunc) *VMPipeline {
	if progress == nil {
		progress = func(*v1.VMJob) {}
	}
	return &VMPipeline{handlers: handlers, progress: progress, log: zap.S().Named("pipeline")}
}

// Run executes every nominal stage of job not already in
// job.CompletedStages, in order, stopping at the first failure. Calling
// Run again on a job that previously failed resumes from the stage after
// the last completed one — the empty CompletedStages case runs the whole
// sequence.
func (p *VMPipeline) Run(ctx context.Context, job *v1.VMJob) error {
	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}

	for {
		stage, ok := job.NextStage()
		if !ok {
			break
		}

		if err := ctx.Err(); err != nil {
			job.ErrorStage = stage
			job.Error = vmerrors.NewCancelledError(string(stage)).Error()
			p.progress(job)
			return vmerrors.NewCancelledError(string(stage))
		}

		handler, ok := p.handlers[stage]
		if !ok {
			err := vmerrors.NewConfigurationError("no handler registered for stage %s", stage)
			job.CurrentStage = stage
			job.ErrorStage = stage
			job.Error = err.Error()
			p.progress(job)
			return err
		}

		job.CurrentStage = stage
		job.Status = v1.StageToStatus(stage)
		p.log.Infow("stage starting", "vm", job.VMName, "stage", stage)
		p.progress(job)

		start := time.Now()
		err := handler(ctx, job)
		elapsed := time.Since(start).Seconds()

		if job.StageTimings == nil {
			job.StageTimings = map[v1.Stage]float64{}
		}
		job.StageTimings[stage] = elapsed

		if err != nil {
			job.ErrorStage = stage
			job.Error = err.Error()
			job.RetryCount++
			p.log.Errorw("stage failed", "vm", job.VMName, "stage", stage, "error", err)
			p.progress(job)
			return err
		}

		job.MarkStageComplete(stage)
		p.log.Infow("stage complete", "vm", job.VMName, "stage", stage, "seconds", elapsed)
		p.progress(job)
	}

	job.Status = v1.VMStatusComplete
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	job.Error = ""
	job.ErrorStage = ""
	p.progress(job)
	return nil
}
