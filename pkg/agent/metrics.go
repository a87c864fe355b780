// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the scheduler's self-observability counters. Registered
// against a caller-supplied registry (promauto.With) rather than the
// global default, so a test or an embedding binary can run more than one
// scheduler without collector-already-registered panics.
type metrics struct {
	tickDuration      prometheus.Histogram
	flowsPerSnapshot  prometheus.Gauge
	captureGoroutines prometheus.Gauge
	tickErrors        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netagent",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Time spent building and publishing one snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		flowsPerSnapshot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "netagent",
			Subsystem: "scheduler",
			Name:      "flows_per_snapshot",
			Help:      "Number of per-interface flow entries present in the most recent snapshot.",
		}),
		captureGoroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "netagent",
			Subsystem: "netcapture",
			Name:      "capture_goroutines",
			Help:      "Number of active per-interface capture goroutines.",
		}),
		tickErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "netagent",
			Subsystem: "scheduler",
			Name:      "tick_errors_total",
			Help:      "Number of ticks that failed to complete a publish.",
		}),
	}
}
