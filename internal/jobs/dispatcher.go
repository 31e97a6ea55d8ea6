package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-forge-worker/internal/metrics"
)

// Dispatcher はジョブを種別ごとのハンドラーへ振り分けます。
// ハンドラーは受信ループから切り離して実行され、必ず1件の終端応答を送ります。
type Dispatcher struct {
	deps   Deps
	routes map[JobType]route
	logger logrus.FieldLogger
	wg     sync.WaitGroup
}

// NewDispatcher は Dispatcher を初期化します。
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Responses == nil {
		return nil, errors.New("response publisher is nil")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is nil")
	}
	deps.applyDefaults()

	d := &Dispatcher{deps: deps, logger: deps.Logger}
	d.routes = d.buildRoutes()
	if err := checkRoutes(d.routes); err != nil {
		return nil, err
	}
	return d, nil
}

// Metrics は集計値を返します。
func (d *Dispatcher) Metrics() *metrics.Metrics {
	return d.deps.Metrics
}

// HandleFrames は受信したフレーム列を Job に変換して処理します。
func (d *Dispatcher) HandleFrames(frames []string) {
	job, err := ParseFrames(frames)
	if err != nil {
		// jobId が読めれば送信元に知らせる
		if len(frames) >= 2 && frames[0] != "" && frames[1] != "" {
			job := &Job{Event: JobType(frames[0]), JobID: frames[1]}
			d.detach("reject", job.JobID, func() {
				d.handleCatchError(context.Background(), job, &ValidationError{JobType: job.Event, Err: err})
			})
			return
		}
		d.logger.WithError(err).WithField("frames", len(frames)).Warn("dropping malformed job message")
		return
	}
	d.HandleJob(*job)
}

// HandleJob はジョブを振り分けます。呼び出し元をブロックせずに戻ります。
func (d *Dispatcher) HandleJob(job Job) {
	ctx := context.Background()

	r, ok := d.routes[job.Event]
	if !ok {
		d.detach("reject", job.JobID, func() {
			d.handleCatchError(ctx, &job, fmt.Errorf("%w: %s", ErrUnsupportedEvent, job.Event))
		})
		return
	}
	if job.Event == JobPing {
		d.ping(ctx, &job, r)
		return
	}

	d.deps.Metrics.IncrementTotalJobs(string(job.Event))

	d.detach("started", job.JobID, func() {
		d.deps.Responses.SendWSResponse(ctx, job.JobID, "started", "Job started")
	})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, job, r)
	}()
}

// detach は fn を受信ループから切り離して実行します。fn の panic はログに残してプロセスを止めません。
func (d *Dispatcher) detach(task, jobID string, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.WithFields(logrus.Fields{
					"jobId": jobID,
					"task":  task,
					"stack": string(debug.Stack()),
				}).Errorf("detached task panicked: %v", rec)
			}
		}()
		fn()
	}()
}

// Wait は切り離されたジョブがすべて終わるまで待ちます。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ping はログも計測も行わずに即時応答します。
func (d *Dispatcher) ping(ctx context.Context, job *Job, r route) {
	result, err := r.handle(ctx, job, PingPayload{})
	if err == nil {
		err = d.deps.Responses.SendResponse(ctx, JobResponse{JobID: job.JobID, JobType: job.Event, Data: result.Data})
	}
	if err != nil {
		d.handleCatchError(ctx, job, err)
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job, r route) {
	start := d.deps.Now()
	outcome := metrics.OutcomeFailed
	deferred := false

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.WithFields(logrus.Fields{
				"jobId": job.JobID,
				"stack": string(debug.Stack()),
			}).Error("job handler panicked")
			d.handleCatchError(ctx, &job, fmt.Errorf("job handler panicked: %v", rec))
			outcome = metrics.OutcomeFailed
			deferred = false
		}
		if deferred {
			return
		}
		elapsed := d.deps.Now().Sub(start)
		d.deps.Metrics.Observe(string(job.Event), outcome, elapsed)
		d.logger.WithFields(logrus.Fields{
			"jobId":      job.JobID,
			"jobType":    job.Event,
			"userId":     job.UserID,
			"durationMs": elapsed.Milliseconds(),
			"outcome":    outcome,
		}).Info("job finished")
	}()

	d.resolveUser(ctx, &job)
	d.track(ctx, &Record{JobID: job.JobID, JobType: job.Event, UserID: job.UserID, Status: StatusRunning})

	payload, err := r.parse(job.Data)
	if err != nil {
		d.handleCatchError(ctx, &job, &ValidationError{JobType: job.Event, Err: err})
		return
	}

	result, err := r.handle(ctx, &job, payload)
	if err != nil {
		d.handleCatchError(ctx, &job, err)
		return
	}
	if result.Deferred {
		deferred = true
		d.logger.WithFields(logrus.Fields{
			"jobId":   job.JobID,
			"jobType": job.Event,
		}).Info("job handed off; completion will be reported separately")
		return
	}

	if err := d.deps.Responses.SendResponse(ctx, JobResponse{JobID: job.JobID, JobType: job.Event, Data: result.Data}); err != nil {
		d.handleCatchError(ctx, &job, err)
		return
	}
	outcome = metrics.OutcomeSucceeded
	if result.Cached {
		outcome = metrics.OutcomeCached
	}
	d.markDone(ctx, job.JobID, result.Data, result.Cached)
}

// resolveUser はメールアドレスからユーザーを引けた場合に userId を置き換えます。失敗しても続行します。
func (d *Dispatcher) resolveUser(ctx context.Context, job *Job) {
	if job.Email == "" || d.deps.Meta == nil {
		return
	}
	userID, err := d.deps.Meta.GetUserIDByEmail(ctx, job.Email)
	if err != nil {
		d.logger.WithError(err).WithField("jobId", job.JobID).Warn("failed to resolve user by email")
		return
	}
	if userID != "" {
		job.UserID = userID
	}
}

// handleCatchError はエラーを記録し、エラー応答を送信します。
func (d *Dispatcher) handleCatchError(ctx context.Context, job *Job, err error) {
	d.logger.WithFields(logrus.Fields{
		"jobId":   job.JobID,
		"jobType": job.Event,
		"userId":  job.UserID,
		"data":    string(job.Data),
	}).WithError(err).Error("job failed")

	resp := JobResponse{
		JobID:   job.JobID,
		JobType: job.Event,
		Error:   true,
		Message: err.Error(),
	}
	if sendErr := d.deps.Responses.SendResponse(ctx, resp); sendErr != nil {
		d.logger.WithError(sendErr).WithField("jobId", job.JobID).Error("failed to publish error response")
	}
	d.markFailed(ctx, job.JobID, &ErrorInfo{Code: errorCode(err), Message: err.Error()})
}

func (d *Dispatcher) track(ctx context.Context, record *Record) {
	if d.deps.Tracker == nil {
		return
	}
	if err := d.deps.Tracker.Upsert(ctx, record); err != nil {
		d.logger.WithError(err).WithField("jobId", record.JobID).Warn("failed to record job status")
	}
}

func (d *Dispatcher) markDone(ctx context.Context, jobID string, data any, cached bool) {
	if d.deps.Tracker == nil {
		return
	}
	if err := d.deps.Tracker.MarkDone(ctx, jobID, data, cached); err != nil {
		d.logger.WithError(err).WithField("jobId", jobID).Warn("failed to record job status")
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, jobID string, info *ErrorInfo) {
	if d.deps.Tracker == nil {
		return
	}
	if err := d.deps.Tracker.MarkFailed(ctx, jobID, info); err != nil {
		d.logger.WithError(err).WithField("jobId", jobID).Warn("failed to record job status")
	}
}
