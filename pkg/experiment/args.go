// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"fmt"
	"strconv"
)

// ProverArgs derives the prover argument list from cfg. Keys shared with
// the verifier carry identical values by construction.
func ProverArgs(cfg *Config) []string {
	args := []string{
		"--db-size", strconv.FormatUint(cfg.DBSize, 10),
		"--max-degree", strconv.FormatUint(cfg.MaxDegree, 10),
		"--sparsity", strconv.FormatUint(cfg.Sparsity, 10),
		"--epsilon", formatFloat(cfg.Epsilon),
	}
	if cfg.DBFile != "" {
		args = append(args, "--db-file", cfg.DBFile)
	}
	return append(args, sharedTail(cfg)...)
}

// VerifierArgs derives the verifier argument list from cfg. The verifier
// never sees max-degree or the database file, it learns everything else
// over the wire.
func VerifierArgs(cfg *Config) []string {
	args := []string{
		"--db-size", strconv.FormatUint(cfg.DBSize, 10),
		"--epsilon", formatFloat(cfg.Epsilon),
		"--sparsity", strconv.FormatUint(cfg.Sparsity, 10),
		"--prover-address", cfg.ProverAddress,
	}
	if cfg.CensusQuery != "" {
		args = append(args, "--census-query", cfg.CensusQuery)
	}
	return append(args, sharedTail(cfg)...)
}

// sharedTail holds the optional keys passed to both roles. A zero value
// drops its flag so the binary falls back to its built-in default.
func sharedTail(cfg *Config) []string {
	var args []string
	if cfg.Delta != 0 {
		args = append(args, "--delta", formatFloat(cfg.Delta))
	}
	if cfg.Dimension != 0 {
		args = append(args, "--dimension", strconv.FormatUint(cfg.Dimension, 10))
	}
	if cfg.SkipDishonest {
		args = append(args, "--skip-dishonest")
	}
	if cfg.NumQueries != 0 {
		args = append(args, "--num-queries", strconv.Itoa(cfg.NumQueries))
	}
	if cfg.SparsityExperiment {
		args = append(args, "--sparsity-experiment")
	}
	return args
}

// BuildArgs derives the cargo subcommand shared by both roles. Debug mode
// drops the --release flag and a non-default entry width selects the
// matching cargo feature.
func BuildArgs(cfg *Config) []string {
	args := []string{"run"}
	if !cfg.Debug {
		args = append(args, "--release")
	}
	if cfg.EntryWidth != defaultEntryWidth {
		args = append(args, "--features", fmt.Sprintf("entry-u%d", cfg.EntryWidth))
	}
	return args
}

// commandLine assembles the full command for one role, either the direct
// binary override or a cargo launch of the named bin target.
func commandLine(cfg *Config, role, override string, roleArgs []string) (string, []string) {
	if override != "" {
		return override, roleArgs
	}
	args := append(BuildArgs(cfg), "--bin", role, "--")
	return "cargo", append(args, roleArgs...)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
