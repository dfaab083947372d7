package vfs

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type metrics struct {
	ops *prometheus.CounterVec
}

// newMetrics registers the operation counter with reg. Several filesystems
// may share one registry; they then share the counter.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canisterfs",
		Subsystem: "vfs",
		Name:      "operations_total",
		Help:      "Filesystem operations by name and result errno.",
	}, []string{"op", "result"})

	if err := reg.Register(ops); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return &metrics{ops: existing}
			}
		}
		Logger().Warn("metrics disabled", zap.Error(err))
		return nil
	}
	return &metrics{ops: ops}
}

func (m *metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = ErrnoOf(err).Name()
	}
	m.ops.WithLabelValues(op, result).Inc()
}
