// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jlwatson/certified-dp/internal/testutil"
)

const (
	paramDelta              = "delta"
	paramDimension          = "dimension"
	paramSkipDishonest      = "skip_dishonest"
	paramNumQueries         = "num_queries"
	paramSparsityExperiment = "sparsity_experiment"
)

func baseConfig() *Config {
	cfg := DefaultConfig()
	cfg.DBSize = 100
	cfg.MaxDegree = 64
	cfg.Sparsity = 10
	cfg.Epsilon = 0.5
	return cfg
}

func TestProverArgs(t *testing.T) {
	args := ProverArgs(baseConfig())
	require.Equal(t, []string{
		"--db-size", "100",
		"--max-degree", "64",
		"--sparsity", "10",
		"--epsilon", "0.5",
		"--num-queries", "100",
	}, args)
}

func TestVerifierArgs(t *testing.T) {
	args := VerifierArgs(baseConfig())
	require.Equal(t, []string{
		"--db-size", "100",
		"--epsilon", "0.5",
		"--sparsity", "10",
		"--prover-address", "127.0.0.1:10020",
		"--num-queries", "100",
	}, args)
}

func TestRoleOnlyArgs(t *testing.T) {
	cfg := baseConfig()
	cfg.DBFile = "census_db.bin"
	cfg.CensusQuery = "mean-income"

	proverArgs := strings.Join(ProverArgs(cfg), " ")
	verifierArgs := strings.Join(VerifierArgs(cfg), " ")

	require.Contains(t, proverArgs, "--db-file census_db.bin")
	require.NotContains(t, proverArgs, "--census-query")
	require.Contains(t, verifierArgs, "--census-query mean-income")
	require.NotContains(t, verifierArgs, "--db-file")
	require.NotContains(t, verifierArgs, "--max-degree")
}

func TestOptionalArgsPerScenario(t *testing.T) {
	scenarios := testutil.Matrix{}
	scenarios.
		Dimension(paramDelta, []interface{}{0.0, 1e-9}).
		Dimension(paramDimension, []interface{}{uint64(0), uint64(25)}).
		Dimension(paramSkipDishonest, []interface{}{false, true}).
		Dimension(paramNumQueries, []interface{}{0, 100, 250}).
		Dimension(paramSparsityExperiment, []interface{}{false, true})

	for scenarios.HasNext() {
		scenario := scenarios.Next()
		t.Run(scenario.Str(), func(t *testing.T) {
			cfg := baseConfig()
			cfg.Delta = scenario.GetFloat64(paramDelta)
			cfg.Dimension = scenario.GetUint64(paramDimension)
			cfg.SkipDishonest = scenario.GetBool(paramSkipDishonest)
			cfg.NumQueries = scenario.GetInt(paramNumQueries)
			cfg.SparsityExperiment = scenario.GetBool(paramSparsityExperiment)

			proverArgs := ProverArgs(cfg)
			verifierArgs := VerifierArgs(cfg)

			assertFlagValue(t, proverArgs, "--delta", "1e-09", cfg.Delta != 0)
			assertFlagValue(t, proverArgs, "--dimension", "25", cfg.Dimension != 0)
			assertFlag(t, proverArgs, "--skip-dishonest", cfg.SkipDishonest)
			assertFlag(t, proverArgs, "--num-queries", cfg.NumQueries != 0)
			assertFlag(t, proverArgs, "--sparsity-experiment", cfg.SparsityExperiment)

			// Both roles must agree on the shared optional tail.
			require.Equal(t,
				proverArgs[len(proverArgs)-len(sharedTail(cfg)):],
				verifierArgs[len(verifierArgs)-len(sharedTail(cfg)):])
		})
	}
}

func assertFlag(t *testing.T, args []string, flag string, expected bool) {
	found := false
	for _, arg := range args {
		if arg == flag {
			found = true
			break
		}
	}
	require.Equal(t, expected, found, "flag %s in %v", flag, args)
}

func assertFlagValue(t *testing.T, args []string, flag, value string, expected bool) {
	assertFlag(t, args, flag, expected)
	if !expected {
		return
	}
	for i, arg := range args {
		if arg == flag {
			require.Less(t, i+1, len(args))
			require.Equal(t, value, args[i+1])
			return
		}
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := baseConfig()
	require.Equal(t, []string{"run", "--release"}, BuildArgs(cfg))

	cfg.Debug = true
	require.Equal(t, []string{"run"}, BuildArgs(cfg))

	cfg.Debug = false
	cfg.EntryWidth = 32
	require.Equal(t, []string{"run", "--release", "--features", "entry-u32"}, BuildArgs(cfg))

	cfg.EntryWidth = 64
	cfg.Debug = true
	require.Equal(t, []string{"run", "--features", "entry-u64"}, BuildArgs(cfg))
}

func TestCommandLine(t *testing.T) {
	cfg := baseConfig()

	binary, args := commandLine(cfg, RoleProver, "", ProverArgs(cfg))
	require.Equal(t, "cargo", binary)
	require.Equal(t, []string{"run", "--release", "--bin", "prover", "--"}, args[:5])
	require.Equal(t, ProverArgs(cfg), args[5:])

	binary, args = commandLine(cfg, RoleVerifier, "/usr/local/bin/verifier", VerifierArgs(cfg))
	require.Equal(t, "/usr/local/bin/verifier", binary)
	require.Equal(t, VerifierArgs(cfg), args)
}
