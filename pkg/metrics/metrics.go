// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Exporter interface {
	Export()
}

const (
	runCountKey      = "run_count"
	runDurationKey   = "run_duration_seconds"
	drainedLinesKey  = "drained_log_lines"
	packDurationKey  = "pack_duration_seconds"
	packedRecordsKey = "packed_records"
	namespace        = "certdp"
	subsystem        = "harness"
)

var (
	runCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      runCountKey,
			Help:      "The total number of experiment runs. Broken down by readiness mode.",
		},
		[]string{"readiness"},
	)

	runDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      runDurationKey,
			Help:      "The total wall time of launched child processes. Broken down by role.",
		},
		[]string{"role"},
	)

	drainedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      drainedLinesKey,
			Help:      "The total diagnostic lines drained from child stderr. Broken down by role.",
		},
		[]string{"role"},
	)

	packDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      packDurationKey,
			Help:      "The total duration of packing a dataset. Broken down by database name and record count.",
		},
		[]string{"database", "records"},
	)

	packedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      packedRecordsKey,
			Help:      "The total records packed into database files. Broken down by database name.",
		},
		[]string{"database"},
	)
)

var register sync.Once
var Registry *prometheus.Registry
var exporter Exporter

func sinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// Register registers metrics. This is always called only once.
func Register(exp Exporter) {
	register.Do(func() {
		Registry = prometheus.NewRegistry()
		Registry.MustRegister(runCount, runDuration, drainedLines, packDuration, packedRecords)
		exporter = exp
	})
}

func Export() {
	if exporter == nil {
		return
	}
	exporter.Export()
}

func RunCount(readiness string) {
	runCount.WithLabelValues(readiness).Inc()
}

func RunDuration(role string, d time.Duration) {
	runDuration.WithLabelValues(role).Add(d.Seconds())
}

func DrainedLines(role string, lines int) {
	drainedLines.WithLabelValues(role).Add(float64(lines))
}

func PackDuration(database string, records int, start time.Time) {
	packDuration.WithLabelValues(database, strconv.Itoa(records)).Add(sinceInSeconds(start))
}

func PackedRecords(database string, records int) {
	packedRecords.WithLabelValues(database).Add(float64(records))
}
