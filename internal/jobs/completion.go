package jobs

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/database"
	"github.com/yourusername/paper-forge-worker/internal/invoke"
	"github.com/yourusername/paper-forge-worker/internal/metrics"
)

// HandlePreprocessCompletion は前処理ファンクションからの完了通知を受け、
// 成果物を記録して pdf_preprocess の終端応答を送ります。
func (d *Dispatcher) HandlePreprocessCompletion(ctx context.Context, done invoke.Completion) error {
	jobType := JobPreprocess
	if done.JobType != "" && JobType(done.JobType) != JobPreprocess {
		return fmt.Errorf("unexpected completion job type %q", done.JobType)
	}
	job := &Job{Event: jobType, JobID: done.JobID}
	logger := d.logger.WithFields(logrus.Fields{
		"jobId":      done.JobID,
		"jobType":    jobType,
		"documentId": done.DocumentID,
	})

	if done.Error || done.ResultKey == "" {
		msg := done.Message
		if msg == "" {
			msg = "preprocess failed without a result"
		}
		d.handleCatchError(ctx, job, fmt.Errorf("preprocess failed: %s", msg))
		d.deps.Metrics.Settle(string(jobType), metrics.OutcomeFailed)
		return nil
	}

	err := d.deps.Results.CreateProcessResult(ctx, &database.ProcessResult{
		ID:         d.deps.NewID(),
		DocumentID: done.DocumentID,
		JobType:    string(jobType),
		JobID:      done.JobID,
		ResultKey:  done.ResultKey,
		CreatedAt:  d.deps.Now(),
	})
	if err != nil {
		d.handleCatchError(ctx, job, fmt.Errorf("failed to store process result: %w", err))
		d.deps.Metrics.Settle(string(jobType), metrics.OutcomeFailed)
		return nil
	}

	data := PreprocessResult{DocumentID: done.DocumentID, ResultKey: done.ResultKey}
	if err := d.deps.Responses.SendResponse(ctx, JobResponse{JobID: done.JobID, JobType: jobType, Data: data}); err != nil {
		d.handleCatchError(ctx, job, err)
		d.deps.Metrics.Settle(string(jobType), metrics.OutcomeFailed)
		return nil
	}
	d.markDone(ctx, done.JobID, data, false)
	d.deps.Metrics.Settle(string(jobType), metrics.OutcomeSucceeded)
	logger.Info("preprocess completed")
	return nil
}
