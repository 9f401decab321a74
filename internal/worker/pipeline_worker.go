package worker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"github.com/cogniscribe/api/internal/service"
)

// PipelineWorker processes queued pipeline jobs
type PipelineWorker struct {
	pipeline *service.PipelineService
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(pipeline *service.PipelineService) *PipelineWorker {
	return &PipelineWorker{pipeline: pipeline}
}

// ProcessTask handles pipeline task processing. Stage failures are
// recorded on the job itself and are not returned, so asynq never
// retries a job that already settled into a terminal state.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := service.ParseTaskPayload(t.Payload())
	if err != nil {
		return err
	}

	log.Printf("Starting pipeline job: %s", jobID)
	if err := w.pipeline.Execute(ctx, jobID); err != nil {
		log.Printf("Pipeline job %s aborted: %v", jobID, err)
		return err
	}
	log.Printf("Pipeline job %s finished", jobID)
	return nil
}
