package pipeline

import (
	"context"

	v1 "github.com/scaleway/vmware2scw/api/v1"
)

// StageHandler performs the work of a single pipeline stage against job,
// mutating job.Artifacts with whatever it produces. Returning an error
// halts the pipeline at this stage; job.CurrentStage and job.ErrorStage
// record where.
type StageHandler func(ctx context.Context, job *v1.VMJob) error

// StageHandlers maps every stage name a VMPipeline might run to its
// handler. One map serves both OS families; stages absent from
// NextStage()'s sequence for a given job are never looked up.
type StageHandlers map[v1.Stage]StageHandler
