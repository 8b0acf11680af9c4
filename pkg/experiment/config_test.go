// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 100, cfg.NumQueries)
	require.Equal(t, 16, cfg.EntryWidth)
	require.Equal(t, DefaultProverAddress, cfg.ProverAddress)
	require.Equal(t, ReadinessFixed, cfg.ReadinessMode)
	require.Equal(t, 5.0, cfg.StartupDelay)
	require.Equal(t, ".", cfg.ProjectDir)
	require.Equal(t, ".", cfg.WorkDir)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_size = 100
max_degree = 64
sparsity = 10
epsilon = 0.5
delta = 1e-9
skip_dishonest = true
readiness = "probe"
census_query = "mean-income"
`), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, uint64(100), cfg.DBSize)
	require.Equal(t, uint64(64), cfg.MaxDegree)
	require.Equal(t, uint64(10), cfg.Sparsity)
	require.Equal(t, 0.5, cfg.Epsilon)
	require.Equal(t, 1e-9, cfg.Delta)
	require.True(t, cfg.SkipDishonest)
	require.Equal(t, ReadinessProbe, cfg.ReadinessMode)
	require.Equal(t, "mean-income", cfg.CensusQuery)

	// Keys absent from the file keep their defaults.
	require.Equal(t, 100, cfg.NumQueries)
	require.Equal(t, 16, cfg.EntryWidth)
	require.Equal(t, DefaultProverAddress, cfg.ProverAddress)
	require.Equal(t, 5.0, cfg.StartupDelay)
}

func TestLoadFileExplicitZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_size = 100
max_degree = 64
sparsity = 10
epsilon = 0.5
num_queries = 0
`), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// An explicit zero survives loading and later drops the flag, unlike
	// an absent key which keeps the default.
	require.Equal(t, 0, cfg.NumQueries)
	require.NotContains(t, ProverArgs(cfg), "--num-queries")
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config file")

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("db_size = ["), 0644))
	_, err = LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	valid := baseConfig()
	require.NoError(t, valid.Validate())

	for name, tc := range map[string]struct {
		mutate func(*Config)
		expect string
	}{
		"missing db size": {
			mutate: func(cfg *Config) { cfg.DBSize = 0 },
			expect: "db-size is required",
		},
		"missing max degree": {
			mutate: func(cfg *Config) { cfg.MaxDegree = 0 },
			expect: "max-degree is required",
		},
		"missing sparsity": {
			mutate: func(cfg *Config) { cfg.Sparsity = 0 },
			expect: "sparsity is required",
		},
		"missing epsilon": {
			mutate: func(cfg *Config) { cfg.Epsilon = 0 },
			expect: "epsilon must be positive",
		},
		"negative delta": {
			mutate: func(cfg *Config) { cfg.Delta = -1e-9 },
			expect: "delta must not be negative",
		},
		"negative num queries": {
			mutate: func(cfg *Config) { cfg.NumQueries = -1 },
			expect: "num-queries must not be negative",
		},
		"bad entry width": {
			mutate: func(cfg *Config) { cfg.EntryWidth = 24 },
			expect: "unsupported entry width 24",
		},
		"bad prover address": {
			mutate: func(cfg *Config) { cfg.ProverAddress = "localhost" },
			expect: "invalid prover address",
		},
		"missing database file": {
			mutate: func(cfg *Config) { cfg.DBFile = "/nonexistent/census_db.bin" },
			expect: "not found",
		},
		"negative startup delay": {
			mutate: func(cfg *Config) { cfg.StartupDelay = -1 },
			expect: "startup-delay must not be negative",
		},
		"bad readiness mode": {
			mutate: func(cfg *Config) { cfg.ReadinessMode = "eventually" },
			expect: "unsupported readiness mode",
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expect)
		})
	}
}
