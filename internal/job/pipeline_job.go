package job

import (
	"context"

	"github.com/takln/trendfeed/internal/service"
)

// PipelineJob is the scheduled entry point for the embedding and
// clustering pipeline. Errors inside a pass are reported through the run
// result; only a storage outage surfaces here.
type PipelineJob struct {
	pipeline *service.PipelineService
}

func NewPipelineJob(pipeline *service.PipelineService) *PipelineJob {
	return &PipelineJob{pipeline: pipeline}
}

func (j *PipelineJob) Name() string {
	return "pipeline"
}

func (j *PipelineJob) Run(ctx context.Context) error {
	if j.pipeline == nil {
		return nil
	}
	_, err := j.pipeline.RunOnce(ctx)
	return err
}
