// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package file_exporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jlwatson/certified-dp/pkg/metrics"
)

// FileExporter dumps the harness registry to a Prometheus textfile, for
// scraping via the node exporter textfile collector.
type FileExporter struct{ name string }

func New(name string) *FileExporter {
	return &FileExporter{
		name: name,
	}
}

func (exp *FileExporter) Export() {
	if err := prometheus.WriteToTextfile(exp.name, metrics.Registry); err != nil {
		logrus.Warnf("Failed to export metrics to %s: %v", exp.name, err)
	}
}
