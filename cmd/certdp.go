// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// The certdp CLI tool packs census datasets into the bit-packed binary
// database consumed by the prover, drives paired prover/verifier runs and
// lists the outcomes of past runs.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jlwatson/certified-dp/pkg/backend"
	"github.com/jlwatson/certified-dp/pkg/experiment"
	"github.com/jlwatson/certified-dp/pkg/hook"
	"github.com/jlwatson/certified-dp/pkg/ledger"
	"github.com/jlwatson/certified-dp/pkg/metrics"
	"github.com/jlwatson/certified-dp/pkg/metrics/file_exporter"
	"github.com/jlwatson/certified-dp/pkg/packer"
)

var versionGitCommit string
var versionBuildTime string

func isPossibleValue(excepted []string, value string) bool {
	for _, v := range excepted {
		if value == v {
			return true
		}
	}
	return false
}

func parseBackendConfig(backendConfigJSON, backendConfigFile string) (string, error) {
	if backendConfigJSON != "" && backendConfigFile != "" {
		return "", fmt.Errorf("--backend-config conflicts with --backend-config-file")
	}

	if backendConfigFile != "" {
		_backendConfigJSON, err := os.ReadFile(backendConfigFile)
		if err != nil {
			return "", errors.Wrap(err, "parse backend config file")
		}
		backendConfigJSON = string(_backendConfigJSON)
	}

	return backendConfigJSON, nil
}

func newPackBackend(c *cli.Context) (backend.Backend, error) {
	backendType := c.String("backend-type")
	if backendType == "" {
		return nil, nil
	}

	possibleBackendTypes := []string{"oss", "s3"}
	if !isPossibleValue(possibleBackendTypes, backendType) {
		return nil, fmt.Errorf("--backend-type should be one of %v", possibleBackendTypes)
	}

	backendConfig, err := parseBackendConfig(c.String("backend-config"), c.String("backend-config-file"))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(backendConfig) == "" {
		return nil, fmt.Errorf("--backend-config or --backend-config-file required")
	}

	return backend.NewBackend(backendType, []byte(backendConfig))
}

// buildRunConfig layers an optional TOML file over the defaults and
// explicit flags over the file.
func buildRunConfig(c *cli.Context) (*experiment.Config, error) {
	cfg := experiment.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := experiment.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("db-size") {
		cfg.DBSize = c.Uint64("db-size")
	}
	if c.IsSet("max-degree") {
		cfg.MaxDegree = c.Uint64("max-degree")
	}
	if c.IsSet("sparsity") {
		cfg.Sparsity = c.Uint64("sparsity")
	}
	if c.IsSet("epsilon") {
		cfg.Epsilon = c.Float64("epsilon")
	}
	if c.IsSet("delta") {
		cfg.Delta = c.Float64("delta")
	}
	if c.IsSet("dimension") {
		cfg.Dimension = c.Uint64("dimension")
	}
	if c.IsSet("num-queries") {
		cfg.NumQueries = c.Int("num-queries")
	}
	if c.IsSet("skip-dishonest") {
		cfg.SkipDishonest = c.Bool("skip-dishonest")
	}
	if c.IsSet("sparsity-experiment") {
		cfg.SparsityExperiment = c.Bool("sparsity-experiment")
	}
	if c.IsSet("db-file") {
		cfg.DBFile = c.String("db-file")
	}
	if c.IsSet("census-query") {
		cfg.CensusQuery = c.String("census-query")
	}
	if c.IsSet("entry-width") {
		cfg.EntryWidth = c.Int("entry-width")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("no-logs") {
		cfg.NoLogs = c.Bool("no-logs")
	}
	if c.IsSet("prover-address") {
		cfg.ProverAddress = c.String("prover-address")
	}
	if c.IsSet("project-dir") {
		cfg.ProjectDir = c.String("project-dir")
	}
	if c.IsSet("work-dir") {
		cfg.WorkDir = c.String("work-dir")
	}
	if c.IsSet("prover-bin") {
		cfg.ProverBin = c.String("prover-bin")
	}
	if c.IsSet("verifier-bin") {
		cfg.VerifierBin = c.String("verifier-bin")
	}
	if c.IsSet("startup-delay") {
		cfg.StartupDelay = c.Float64("startup-delay")
	}
	if c.IsSet("readiness") {
		cfg.ReadinessMode = c.String("readiness")
	}
	if c.IsSet("readiness-timeout") {
		cfg.ReadinessTimeout = c.Float64("readiness-timeout")
	}

	return cfg, nil
}

func hookBeforeRun(info *hook.Info) error {
	if hook.Caller == nil {
		return nil
	}

	logrus.Info("[HOOK] Call hook 'BeforeRun'")

	if err := hook.Caller.BeforeRun(info); err != nil {
		return errors.Wrap(err, "Failed to call hook 'BeforeRun'")
	}

	return nil
}

func hookAfterRun(info *hook.Info) error {
	if hook.Caller == nil {
		return nil
	}

	logrus.Info("[HOOK] Call hook 'AfterRun'")

	if err := hook.Caller.AfterRun(info); err != nil {
		return errors.Wrap(err, "Failed to call hook 'AfterRun'")
	}

	return nil
}

func recordRun(path string, cfg *experiment.Config, result *experiment.RunResult) error {
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.Record(cfg, result)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	version := fmt.Sprintf("%s.%s", versionGitCommit, versionBuildTime)

	app := &cli.App{
		Name:    "certdp",
		Usage:   "Experiment harness for certified differential privacy provers",
		Version: version,
	}

	logrus.Infof("Version: %s\n", version)

	app.Commands = []*cli.Command{
		{
			Name:  "pack",
			Usage: "Pack a census CSV dataset into the binary database format",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
				&cli.StringFlag{Name: "source", Required: true, TakesFile: true, Usage: "Source CSV dataset with AGEP, SEX, PINCP and SCHL columns", EnvVars: []string{"SOURCE"}},
				&cli.StringFlag{Name: "name", Value: "", Usage: "Database file name, default census_db.bin"},
				&cli.StringFlag{Name: "output-dir", Value: ".", Usage: "Directory receiving the packed database", EnvVars: []string{"OUTPUT_DIR"}},
				&cli.BoolFlag{Name: "compress", Value: false, Usage: "Also write a zstd compressed copy next to the database"},
				&cli.StringFlag{Name: "backend-type", Value: "", Usage: "Upload backend type (oss or s3), uploads are skipped when unset", EnvVars: []string{"BACKEND_TYPE"}},
				&cli.StringFlag{Name: "backend-config", Value: "", Usage: "Specify storage backend in JSON config string", EnvVars: []string{"BACKEND_CONFIG"}},
				&cli.StringFlag{Name: "backend-config-file", Value: "", TakesFile: true, Usage: "Specify storage backend config from path", EnvVars: []string{"BACKEND_CONFIG_FILE"}},
				&cli.StringFlag{Name: "metrics-file", Value: "", Usage: "Export harness metrics to the file path", EnvVars: []string{"METRICS_FILE"}},
			},
			Action: func(c *cli.Context) error {
				logLevel, err := logrus.ParseLevel(c.String("log-level"))
				if err != nil {
					return err
				}
				logrus.SetLevel(logLevel)

				bkd, err := newPackBackend(c)
				if err != nil {
					return err
				}

				if c.String("metrics-file") != "" {
					metrics.Register(file_exporter.New(c.String("metrics-file")))
				}

				p, err := packer.New(packer.Opt{
					LogLevel:  logLevel,
					OutputDir: c.String("output-dir"),
					Compress:  c.Bool("compress"),
					Backend:   bkd,
				})
				if err != nil {
					return err
				}

				result, err := p.Pack(c.Context, packer.PackRequest{
					SourcePath: c.String("source"),
					Name:       c.String("name"),
					Push:       bkd != nil,
				})
				if err != nil {
					return err
				}

				logrus.Infof("Packed %d records into %s (blake3 %s)", result.Records, result.Path, result.Digest)
				if c.String("metrics-file") != "" {
					metrics.Export()
				}
				return nil
			},
		},
		{
			Name:  "run",
			Usage: "Run one prover/verifier experiment and collect its logs",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
				&cli.StringFlag{Name: "config", Value: "", TakesFile: true, Usage: "TOML experiment file, explicit flags override its keys", EnvVars: []string{"CERTDP_CONFIG"}},
				&cli.Uint64Flag{Name: "db-size", Usage: "Number of database entries"},
				&cli.Uint64Flag{Name: "max-degree", Usage: "Maximum polynomial degree supported by the commitments"},
				&cli.Uint64Flag{Name: "sparsity", Usage: "Database row sparsity bound"},
				&cli.Float64Flag{Name: "epsilon", Usage: "Differential privacy epsilon"},
				&cli.Float64Flag{Name: "delta", Usage: "Differential privacy delta, zero drops the flag"},
				&cli.Uint64Flag{Name: "dimension", Usage: "Entry dimension, zero drops the flag"},
				&cli.IntFlag{Name: "num-queries", Value: experiment.DefaultConfig().NumQueries, Usage: "Number of verifier queries, zero drops the flag"},
				&cli.BoolFlag{Name: "skip-dishonest", Usage: "Skip the dishonest prover phase"},
				&cli.BoolFlag{Name: "sparsity-experiment", Usage: "Run the sparsity experiment variant"},
				&cli.StringFlag{Name: "db-file", Value: "", TakesFile: true, Usage: "Packed database file consumed by the prover"},
				&cli.StringFlag{Name: "census-query", Value: "", Usage: "Predefined census query evaluated by the verifier"},
				&cli.IntFlag{Name: "entry-width", Value: experiment.DefaultConfig().EntryWidth, Usage: "Backing integer width of database entries (16, 32 or 64)"},
				&cli.BoolFlag{Name: "debug", Usage: "Build and run debug binaries instead of release"},
				&cli.BoolFlag{Name: "no-logs", Usage: "Skip replaying prover.log and verifier.log after the run"},
				&cli.StringFlag{Name: "prover-address", Value: experiment.DefaultProverAddress, Usage: "Prover listen address the verifier dials"},
				&cli.StringFlag{Name: "project-dir", Value: ".", Usage: "Cargo project directory containing the prover and verifier bins", EnvVars: []string{"CERTDP_PROJECT_DIR"}},
				&cli.StringFlag{Name: "work-dir", Value: ".", Usage: "Directory receiving prover.log and verifier.log", EnvVars: []string{"WORK_DIR"}},
				&cli.StringFlag{Name: "prover-bin", Value: "", TakesFile: true, Usage: "Prebuilt prover binary, skips the cargo launch", EnvVars: []string{"CERTDP_PROVER_BIN"}},
				&cli.StringFlag{Name: "verifier-bin", Value: "", TakesFile: true, Usage: "Prebuilt verifier binary, skips the cargo launch", EnvVars: []string{"CERTDP_VERIFIER_BIN"}},
				&cli.Float64Flag{Name: "startup-delay", Value: experiment.DefaultConfig().StartupDelay, Usage: "Seconds to wait after launching the prover"},
				&cli.StringFlag{Name: "readiness", Value: experiment.ReadinessFixed, Usage: "Readiness strategy before launching the verifier (fixed or probe)"},
				&cli.Float64Flag{Name: "readiness-timeout", Value: experiment.DefaultConfig().ReadinessTimeout, Usage: "Seconds to wait for the prover listen socket in probe mode"},
				&cli.StringFlag{Name: "ledger", Value: "certdp.db", Usage: "Run history database path, empty disables recording", EnvVars: []string{"CERTDP_LEDGER"}},
				&cli.StringFlag{Name: "metrics-file", Value: "", Usage: "Export harness metrics to the file path", EnvVars: []string{"METRICS_FILE"}},
			},
			Action: func(c *cli.Context) error {
				logLevel, err := logrus.ParseLevel(c.String("log-level"))
				if err != nil {
					return err
				}
				logrus.SetLevel(logLevel)

				cfg, err := buildRunConfig(c)
				if err != nil {
					return err
				}

				if c.String("metrics-file") != "" {
					metrics.Register(file_exporter.New(c.String("metrics-file")))
				}

				hook.Init()
				defer hook.Close()

				orchestrator, err := experiment.New(experiment.Opt{Config: cfg})
				if err != nil {
					return err
				}

				info := &hook.Info{
					DBSize:   cfg.DBSize,
					Sparsity: cfg.Sparsity,
					Epsilon:  cfg.Epsilon,
				}
				if err := hookBeforeRun(info); err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()

				result, runErr := orchestrator.Run(ctx)

				if result != nil && c.String("ledger") != "" {
					if err := recordRun(c.String("ledger"), cfg, result); err != nil {
						logrus.WithError(err).Warn("Failed to record run in ledger")
					}
				}
				if c.String("metrics-file") != "" {
					metrics.Export()
				}
				if runErr != nil {
					return runErr
				}

				info.RunID = result.ID
				info.ProverCommand = result.Prover.Command
				info.VerifierCommand = result.Verifier.Command
				info.ProverExit = result.Prover.ExitCode
				info.VerifierExit = result.Verifier.ExitCode
				info.ProverDuration = result.Prover.Duration
				info.VerifierDuration = result.Verifier.Duration
				info.ProverLog = result.Prover.LogPath
				info.VerifierLog = result.Verifier.LogPath
				info.ProverLines = result.Prover.DrainedLines
				info.VerifierLines = result.Verifier.DrainedLines
				return hookAfterRun(info)
			},
		},
		{
			Name:  "history",
			Usage: "List recorded experiment runs, newest first",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
				&cli.StringFlag{Name: "ledger", Value: "certdp.db", TakesFile: true, Usage: "Run history database path", EnvVars: []string{"CERTDP_LEDGER"}},
				&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum runs to list"},
			},
			Action: func(c *cli.Context) error {
				logLevel, err := logrus.ParseLevel(c.String("log-level"))
				if err != nil {
					return err
				}
				logrus.SetLevel(logLevel)

				l, err := ledger.Open(c.String("ledger"))
				if err != nil {
					return err
				}
				defer l.Close()

				entries, err := l.Recent(c.Int("limit"))
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("No recorded runs")
					return nil
				}

				for _, entry := range entries {
					fmt.Printf("%s  %s  db-size=%d max-degree=%d sparsity=%d epsilon=%g  prover exit=%d (%s)  verifier exit=%d (%s)\n",
						entry.StartedAt.Format(time.RFC3339), entry.ID,
						entry.DBSize, entry.MaxDegree, entry.Sparsity, entry.Epsilon,
						entry.ProverExit, entry.ProverDuration,
						entry.VerifierExit, entry.VerifierDuration)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
