// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExportWithoutRegister(t *testing.T) {
	// Counters are usable and Export is a no-op until an exporter is
	// registered.
	require.NotPanics(t, func() {
		RunCount("fixed")
		RunDuration("prover", time.Second)
		DrainedLines("verifier", 7)
		Export()
	})
}

type countingExporter struct{ calls int }

func (e *countingExporter) Export() { e.calls++ }

func TestRegisterOnce(t *testing.T) {
	exp := &countingExporter{}
	Register(exp)
	require.NotNil(t, Registry)

	// Later registrations do not replace the exporter.
	Register(&countingExporter{})
	Export()
	require.Equal(t, 1, exp.calls)
}
