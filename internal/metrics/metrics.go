// Package metrics exposes Prometheus collectors for store synchronization.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "great12"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Sync records remote write and feedback outcomes. A nil *Sync discards
// observations.
type Sync struct {
	writes        *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	feedback      *prometheus.CounterVec
}

// NewSync creates the collectors and registers them on reg.
func NewSync(reg prometheus.Registerer) (*Sync, error) {
	if reg == nil {
		return nil, fmt.Errorf("metrics: registerer is required")
	}
	s := &Sync{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_writes_total",
			Help:      "Remote writes issued by the tracker store, by operation and result.",
		}, []string{"op", "result"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_write_duration_seconds",
			Help:      "Latency of remote writes, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_total",
			Help:      "Remote write attempts repeated under the retry policy.",
		}, []string{"op"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_requests_total",
			Help:      "Weekly feedback generation requests, by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{s.writes, s.writeDuration, s.retries, s.feedback} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return s, nil
}

// ObserveWrite counts one finished remote write.
func (s *Sync) ObserveWrite(op string, err error, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.writes.WithLabelValues(op, result(err)).Inc()
	s.writeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRetry counts one repeated attempt.
func (s *Sync) ObserveRetry(op string) {
	if s == nil {
		return
	}
	s.retries.WithLabelValues(op).Inc()
}

// ObserveFeedback counts one feedback request.
func (s *Sync) ObserveFeedback(err error) {
	if s == nil {
		return
	}
	s.feedback.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
