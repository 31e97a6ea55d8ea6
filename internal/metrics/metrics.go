// Package metrics はジョブ種別ごとの処理件数と所要時間を OpenTelemetry の計器で記録します。
// /metrics が返す集計値は ManualReader で収集した値から組み立てます。
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/yourusername/paper-forge-worker"

// 計器名
const (
	receivedName = "docworker.job.received"
	finishedName = "docworker.job.finished"
	inFlightName = "docworker.job.in_flight"
	durationName = "docworker.job.duration"
)

// Outcome はジョブの終了結果です。
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCached    Outcome = "cached"
)

// Metrics はプロセス内のジョブ統計です。計器は並行利用できます。
type Metrics struct {
	started  time.Time
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	received metric.Int64Counter
	finished metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

// NewMetrics は専用の MeterProvider を持つ Metrics を作成します。
func NewMetrics() *Metrics {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(meterName)

	// 生成に失敗した計器は noop になる
	received, _ := meter.Int64Counter(receivedName,
		metric.WithDescription("Jobs dispatched to a handler"),
		metric.WithUnit("{job}"),
	)
	finished, _ := meter.Int64Counter(finishedName,
		metric.WithDescription("Jobs that reached a terminal outcome"),
		metric.WithUnit("{job}"),
	)
	inFlight, _ := meter.Int64UpDownCounter(inFlightName,
		metric.WithDescription("Jobs dispatched but not yet finished"),
		metric.WithUnit("{job}"),
	)
	duration, _ := meter.Float64Histogram(durationName,
		metric.WithDescription("Handler duration of jobs finished in this process"),
		metric.WithUnit("ms"),
	)

	return &Metrics{
		started:  time.Now(),
		reader:   reader,
		provider: provider,
		received: received,
		finished: finished,
		inFlight: inFlight,
		duration: duration,
	}
}

// MeterProvider は計器の提供元を返します。
func (m *Metrics) MeterProvider() metric.MeterProvider {
	return m.provider
}

// Shutdown は MeterProvider を停止します。
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// IncrementTotalJobs はディスパッチされたジョブを数えます。
func (m *Metrics) IncrementTotalJobs(jobType string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("job_type", jobType))
	m.received.Add(ctx, 1, attrs)
	m.inFlight.Add(ctx, 1, attrs)
}

// Observe はジョブの終了結果と所要時間を記録します。
func (m *Metrics) Observe(jobType string, outcome Outcome, elapsed time.Duration) {
	m.Settle(jobType, outcome)
	m.duration.Record(context.Background(), milliseconds(elapsed), metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", string(outcome)),
	))
}

// Settle は完了が別経路で届いたジョブの結果だけを記録します。
func (m *Metrics) Settle(jobType string, outcome Outcome) {
	ctx := context.Background()
	m.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", string(outcome)),
	))
	m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("job_type", jobType)))
}

// JobTypeSnapshot は1ジョブ種別分の集計値です。
type JobTypeSnapshot struct {
	JobType     string  `json:"jobType"`
	Total       int64   `json:"total"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	Cached      int64   `json:"cached"`
	InFlight    int64   `json:"inFlight"`
	MaxDuration float64 `json:"maxDurationMs"`
	AvgDuration float64 `json:"avgDurationMs"`
}

// Snapshot は集計値の写しです。
type Snapshot struct {
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Jobs          []JobTypeSnapshot `json:"jobs"`
}

type durationTotals struct {
	count uint64
	sum   float64
	max   float64
}

// GetSnapshot は計器の現在値を収集し、ジョブ種別順に並べて返します。
func (m *Metrics) GetSnapshot(ctx context.Context) (Snapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return Snapshot{}, fmt.Errorf("collect metrics: %w", err)
	}

	byType := make(map[string]*JobTypeSnapshot)
	entry := func(jobType string) *JobTypeSnapshot {
		s, ok := byType[jobType]
		if !ok {
			s = &JobTypeSnapshot{JobType: jobType}
			byType[jobType] = s
		}
		return s
	}
	durations := make(map[string]*durationTotals)

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case receivedName:
				for _, dp := range sums(md) {
					entry(attr(dp.Attributes, "job_type")).Total += dp.Value
				}
			case inFlightName:
				for _, dp := range sums(md) {
					entry(attr(dp.Attributes, "job_type")).InFlight += dp.Value
				}
			case finishedName:
				for _, dp := range sums(md) {
					s := entry(attr(dp.Attributes, "job_type"))
					switch Outcome(attr(dp.Attributes, "outcome")) {
					case OutcomeSucceeded:
						s.Succeeded += dp.Value
					case OutcomeFailed:
						s.Failed += dp.Value
					case OutcomeCached:
						s.Succeeded += dp.Value
						s.Cached += dp.Value
					}
				}
			case durationName:
				hist, ok := md.Data.(metricdata.Histogram[float64])
				if !ok {
					continue
				}
				for _, dp := range hist.DataPoints {
					jobType := attr(dp.Attributes, "job_type")
					d, ok := durations[jobType]
					if !ok {
						d = &durationTotals{}
						durations[jobType] = d
					}
					d.count += dp.Count
					d.sum += dp.Sum
					if v, defined := dp.Max.Value(); defined && v > d.max {
						d.max = v
					}
				}
			}
		}
	}

	snap := Snapshot{
		UptimeSeconds: time.Since(m.started).Seconds(),
		Jobs:          make([]JobTypeSnapshot, 0, len(byType)),
	}
	for jobType, s := range byType {
		if d, ok := durations[jobType]; ok && d.count > 0 {
			s.AvgDuration = d.sum / float64(d.count)
			s.MaxDuration = d.max
		}
		snap.Jobs = append(snap.Jobs, *s)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].JobType < snap.Jobs[j].JobType })
	return snap, nil
}

func sums(md metricdata.Metrics) []metricdata.DataPoint[int64] {
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		return nil
	}
	return sum.DataPoints
}

func attr(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
