package strawdav

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type opMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newOpMetrics(reg prometheus.Registerer) (*opMetrics, error) {
	m := &opMetrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strawdav",
			Name:      "operations_total",
			Help:      "Filesystem operations dispatched, by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "strawdav",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in dispatched filesystem operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if err := reg.Register(m.total); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.total = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

// observe is safe to call on a nil receiver.
func (m *opMetrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(op, ErrorKind(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
