// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func testRunConfig(t *testing.T, proverBin, verifierBin string) *Config {
	cfg := baseConfig()
	cfg.ProverBin = proverBin
	cfg.VerifierBin = verifierBin
	cfg.WorkDir = t.TempDir()
	cfg.ProjectDir = cfg.WorkDir
	cfg.StartupDelay = 0
	return cfg
}

func TestRunCollectsOutcome(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	prover := writeScript(t, dir, "prover.sh", `
echo "commitment ready"
echo "phase: query" >&2
exit 0
`)
	verifier := writeScript(t, dir, "verifier.sh", `
echo "query answered"
echo "phase: verify" >&2
exit 3
`)

	cfg := testRunConfig(t, prover, verifier)
	console := new(bytes.Buffer)
	orchestrator, err := New(Opt{Config: cfg, Console: console})
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, result.ID)
	require.Equal(t, 0, result.Prover.ExitCode)
	require.Equal(t, 3, result.Verifier.ExitCode, "child exit codes are recorded, not turned into errors")
	require.Equal(t, 1, result.Prover.DrainedLines)
	require.Equal(t, 1, result.Verifier.DrainedLines)
	require.Greater(t, result.Prover.Duration, time.Duration(0))
	require.Contains(t, result.Prover.Command, "--max-degree 64")
	require.Contains(t, result.Verifier.Command, "--prover-address 127.0.0.1:10020")

	require.Equal(t, filepath.Join(cfg.WorkDir, "prover.log"), result.Prover.LogPath)
	proverLog, err := os.ReadFile(result.Prover.LogPath)
	require.NoError(t, err)
	require.Equal(t, "commitment ready\n", string(proverLog))

	out := console.String()
	require.Contains(t, out, "[prover  ]    phase: query")
	require.Contains(t, out, "[verifier]    phase: verify")

	proverHeader := strings.Index(out, "=== prover.log ===")
	verifierHeader := strings.Index(out, "=== verifier.log ===")
	require.NotEqual(t, -1, proverHeader)
	require.NotEqual(t, -1, verifierHeader)
	require.Less(t, proverHeader, verifierHeader, "replay is prover first")
	require.Contains(t, out[proverHeader:verifierHeader], "commitment ready")
	require.Contains(t, out[verifierHeader:], "query answered")
}

func TestRunNoLogsSkipsReplay(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	prover := writeScript(t, dir, "prover.sh", "echo primary\nexit 0\n")
	verifier := writeScript(t, dir, "verifier.sh", "exit 0\n")

	cfg := testRunConfig(t, prover, verifier)
	cfg.NoLogs = true
	console := new(bytes.Buffer)
	orchestrator, err := New(Opt{Config: cfg, Console: console})
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	require.NotContains(t, console.String(), "=== prover.log ===")
	// The log files themselves are still written.
	require.FileExists(t, result.Prover.LogPath)
	require.FileExists(t, result.Verifier.LogPath)
}

func TestRunDrainsFastEmitter(t *testing.T) {
	skipOnWindows(t)

	// seq emits far more than a pipe buffers, the run would hang without
	// a concurrent drain.
	dir := t.TempDir()
	prover := writeScript(t, dir, "prover.sh", "seq 1 20000 >&2\nexit 0\n")
	verifier := writeScript(t, dir, "verifier.sh", "exit 0\n")

	cfg := testRunConfig(t, prover, verifier)
	cfg.NoLogs = true
	orchestrator, err := New(Opt{Config: cfg, Console: io.Discard})
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20000, result.Prover.DrainedLines)
}

func TestRunDrainsOversizedDiagnosticLine(t *testing.T) {
	skipOnWindows(t)

	// A single diagnostic line past the scanner buffer cap ends the line
	// drain early, the pipe must still be emptied or the child blocks
	// writing and never exits.
	dir := t.TempDir()
	prover := writeScript(t, dir, "prover.sh", `
head -c 2097152 /dev/zero | tr '\0' 'x' >&2
echo >&2
exit 0
`)
	verifier := writeScript(t, dir, "verifier.sh", "exit 0\n")

	cfg := testRunConfig(t, prover, verifier)
	cfg.NoLogs = true
	orchestrator, err := New(Opt{Config: cfg, Console: io.Discard})
	require.NoError(t, err)

	var result *RunResult
	var runErr error
	done := make(chan struct{})
	go func() {
		result, runErr = orchestrator.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("run blocked on an oversized diagnostic line")
	}
	require.NoError(t, runErr)
	require.Equal(t, 0, result.Prover.ExitCode)
}

func TestRunWaitsReadinessBeforeVerifier(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	marker := filepath.Join(dir, "prover-started")
	prover := writeScript(t, dir, "prover.sh", fmt.Sprintf("touch %s\nsleep 1\n", marker))
	verifier := writeScript(t, dir, "verifier.sh", fmt.Sprintf("test -f %s || exit 7\nexit 0\n", marker))

	cfg := testRunConfig(t, prover, verifier)
	cfg.StartupDelay = 0.5
	orchestrator, err := New(Opt{Config: cfg, Console: io.Discard})
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Verifier.ExitCode, "verifier must launch after the prover is up")
}

func TestRunVerifierSpawnFailure(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	prover := writeScript(t, dir, "prover.sh", "sleep 30\nexit 0\n")

	cfg := testRunConfig(t, prover, filepath.Join(dir, "missing-verifier"))
	orchestrator, err := New(Opt{Config: cfg, Console: io.Discard})
	require.NoError(t, err)

	start := time.Now()
	result, err := orchestrator.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "spawn verifier")
	require.Nil(t, result)
	require.Less(t, time.Since(start), 15*time.Second, "prover must be torn down, not awaited")
}

func TestRunCanceled(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	prover := writeScript(t, dir, "prover.sh", "sleep 30\n")
	verifier := writeScript(t, dir, "verifier.sh", "sleep 30\n")

	cfg := testRunConfig(t, prover, verifier)
	cfg.NoLogs = true
	orchestrator, err := New(Opt{Config: cfg, Console: io.Discard})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := orchestrator.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "run canceled")
	require.NotNil(t, result)
	require.Equal(t, -1, result.Prover.ExitCode)
	require.Equal(t, -1, result.Verifier.ExitCode)
	require.Less(t, time.Since(start), 15*time.Second)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Opt{})
	require.Error(t, err)

	cfg := baseConfig()
	cfg.Epsilon = 0
	_, err = New(Opt{Config: cfg})
	require.Error(t, err)
	require.Contains(t, err.Error(), "epsilon must be positive")
}
