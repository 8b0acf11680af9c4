// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jlwatson/certified-dp/pkg/metrics"
)

const killGrace = 2 * time.Second

// ProcessResult records the outcome of one role binary.
type ProcessResult struct {
	Role         string
	Command      string
	LogPath      string
	ExitCode     int
	Duration     time.Duration
	DrainedLines int
}

// RunResult aggregates one paired execution. A populated result never
// implies protocol success, the exit codes carry that verdict.
type RunResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Prover     ProcessResult
	Verifier   ProcessResult
}

type Opt struct {
	Config *Config
	// Readiness overrides the strategy selected by the config.
	Readiness Readiness
	// Console receives drained diagnostics and replayed logs, stdout when
	// unset.
	Console io.Writer
}

// Orchestrator runs a prover and a verifier as one experiment.
type Orchestrator struct {
	cfg       *Config
	readiness Readiness
	console   io.Writer
}

func New(opt Opt) (*Orchestrator, error) {
	cfg := opt.Config
	if cfg == nil {
		return nil, errors.New("experiment config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	readiness := opt.Readiness
	if readiness == nil {
		r, err := NewReadiness(cfg)
		if err != nil {
			return nil, err
		}
		readiness = r
	}
	console := opt.Console
	if console == nil {
		console = os.Stdout
	}
	return &Orchestrator{
		cfg:       cfg,
		readiness: readiness,
		// Both drains write whole lines to the console concurrently.
		console: &lockedWriter{w: console},
	}, nil
}

// Run launches the prover, waits for readiness, launches the verifier and
// reaps both. Child exit codes are recorded and logged, never turned into
// an error. The error return covers harness failures only, spawn errors,
// readiness timeouts and cancellation.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if err := os.MkdirAll(o.cfg.WorkDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create work directory %s", o.cfg.WorkDir)
	}

	result := &RunResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	logrus.Infof("run %s: db-size=%d max-degree=%d sparsity=%d epsilon=%s",
		result.ID, o.cfg.DBSize, o.cfg.MaxDegree, o.cfg.Sparsity, formatFloat(o.cfg.Epsilon))

	eg := new(errgroup.Group)

	prover, err := o.launch(eg, RoleProver, o.cfg.ProverBin, ProverArgs(o.cfg))
	if err != nil {
		return nil, err
	}

	if err := o.readiness.WaitReady(ctx); err != nil {
		o.teardown(prover)
		_ = eg.Wait()
		return nil, errors.Wrap(err, "wait for prover readiness")
	}

	verifier, err := o.launch(eg, RoleVerifier, o.cfg.VerifierBin, VerifierArgs(o.cfg))
	if err != nil {
		o.teardown(prover)
		_ = eg.Wait()
		return nil, err
	}

	// Kill both process groups if the caller gives up mid-run.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logrus.Warnf("run canceled: %v", ctx.Err())
			terminateProcess(prover.cmd, killGrace)
			terminateProcess(verifier.cmd, killGrace)
		case <-watchDone:
		}
	}()

	proverErr := <-prover.waitCh
	verifierErr := <-verifier.waitCh
	close(watchDone)

	// Join both drains so every buffered line reaches the console before
	// the logs are replayed.
	_ = eg.Wait()

	o.finish(prover, proverErr, &result.Prover)
	o.finish(verifier, verifierErr, &result.Verifier)

	if !o.cfg.NoLogs {
		o.replayLogs(prover, verifier)
	}

	result.FinishedAt = time.Now()
	mode := o.cfg.ReadinessMode
	if mode == "" {
		mode = ReadinessFixed
	}
	metrics.RunCount(mode)

	if ctx.Err() != nil {
		return result, errors.Wrap(ctx.Err(), "run canceled")
	}
	return result, nil
}

type process struct {
	role      string
	binary    string
	args      []string
	cmd       *exec.Cmd
	sink      *os.File
	sinkPath  string
	startedAt time.Time
	// endedAt is written by the reaper before the waitCh send, so readers
	// past the receive see it.
	endedAt   time.Time
	waitCh    chan error
	drainDone chan struct{}
	lines     int
}

// launch starts one role binary with stdout sinked to <work-dir>/<role>.log
// and stderr piped to the drain. The drain joins through eg, the exit
// status arrives on the returned process's waitCh.
func (o *Orchestrator) launch(eg *errgroup.Group, role, override string, roleArgs []string) (*process, error) {
	binary, args := commandLine(o.cfg, role, override, roleArgs)

	sinkPath := filepath.Join(o.cfg.WorkDir, role+".log")
	sink, err := os.Create(sinkPath)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s log sink", role)
	}

	cmd := exec.Command(binary, args...)
	cmd.Dir = o.cfg.ProjectDir
	cmd.Stdout = sink
	stderr, err := cmd.StderrPipe()
	if err != nil {
		sink.Close()
		return nil, errors.Wrapf(err, "pipe %s stderr", role)
	}
	configureProcess(cmd)

	logrus.Infof("starting %s: %s %s", role, binary, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		stderr.Close()
		sink.Close()
		return nil, errors.Wrapf(err, "spawn %s", role)
	}

	proc := &process{
		role:      role,
		binary:    binary,
		args:      args,
		cmd:       cmd,
		sink:      sink,
		sinkPath:  sinkPath,
		startedAt: time.Now(),
		waitCh:    make(chan error, 1),
		drainDone: make(chan struct{}),
	}

	eg.Go(func() error {
		proc.lines = o.drain(role, stderr)
		close(proc.drainDone)
		return nil
	})
	go func() {
		// Wait closes the stderr pipe, reap only after the drain saw EOF.
		<-proc.drainDone
		err := cmd.Wait()
		proc.endedAt = time.Now()
		proc.waitCh <- err
	}()

	return proc, nil
}

// drain relays diagnostic lines to the console as they arrive. A read
// error ends the drain like an EOF, it never fails the run.
func (o *Orchestrator) drain(role string, pipe io.Reader) int {
	label := fmt.Sprintf("[%-8s]", role)
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		fmt.Fprintf(o.console, "%s    %s\n", label, strings.TrimSpace(scanner.Text()))
		lines++
	}
	if err := scanner.Err(); err != nil {
		logrus.Debugf("%s stderr drain ended: %v", role, err)
		// Keep emptying the pipe, a child blocked writing a line the
		// scanner gave up on would never exit.
		_, _ = io.Copy(io.Discard, pipe)
	}
	return lines
}

// finish closes the sink and folds the wait status into a ProcessResult.
func (o *Orchestrator) finish(proc *process, waitErr error, out *ProcessResult) {
	proc.sink.Close()

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
			logrus.Warnf("wait %s: %v", proc.role, waitErr)
		}
	}
	if code != 0 {
		logrus.Warnf("%s exited with status %d", proc.role, code)
	}

	duration := proc.endedAt.Sub(proc.startedAt)
	*out = ProcessResult{
		Role:         proc.role,
		Command:      proc.binary + " " + strings.Join(proc.args, " "),
		LogPath:      proc.sinkPath,
		ExitCode:     code,
		Duration:     duration,
		DrainedLines: proc.lines,
	}
	metrics.RunDuration(proc.role, duration)
	metrics.DrainedLines(proc.role, proc.lines)
}

// teardown terminates and reaps the given processes after a failed launch
// sequence.
func (o *Orchestrator) teardown(procs ...*process) {
	for _, proc := range procs {
		if proc == nil {
			continue
		}
		terminateProcess(proc.cmd, killGrace)
		<-proc.waitCh
		proc.sink.Close()
	}
}

// replayLogs writes both primary logs to the console, prover first.
func (o *Orchestrator) replayLogs(procs ...*process) {
	for _, proc := range procs {
		data, err := os.ReadFile(proc.sinkPath)
		if err != nil {
			logrus.Warnf("replay %s: %v", proc.sinkPath, err)
			continue
		}
		fmt.Fprintf(o.console, "\n=== %s ===\n", filepath.Base(proc.sinkPath))
		o.console.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			io.WriteString(o.console, "\n")
		}
	}
}

// lockedWriter serializes writes so concurrently drained lines stay whole.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
