// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package experiment launches one prover/verifier pair, relays their
// diagnostic output and collects per-role results.
package experiment

import (
	"net"
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/jlwatson/certified-dp/pkg/utils"
)

const (
	RoleProver   = "prover"
	RoleVerifier = "verifier"

	// DefaultProverAddress is the loopback rendezvous the verifier dials.
	DefaultProverAddress = "127.0.0.1:10020"

	ReadinessFixed = "fixed"
	ReadinessProbe = "probe"

	defaultNumQueries       = 100
	defaultEntryWidth       = 16
	defaultStartupDelay     = 5.0
	defaultReadinessTimeout = 30.0
)

// Config is the full parameter set for one paired run. The zero value is
// not usable, start from DefaultConfig so optional keys keep their
// defaults when a TOML file or flag leaves them out.
type Config struct {
	DBSize    uint64  `toml:"db_size"`
	MaxDegree uint64  `toml:"max_degree"`
	Sparsity  uint64  `toml:"sparsity"`
	Epsilon   float64 `toml:"epsilon"`
	Delta     float64 `toml:"delta"`
	Dimension uint64  `toml:"dimension"`

	// NumQueries of zero drops the flag so the binaries fall back to
	// their own built-in count.
	NumQueries         int  `toml:"num_queries"`
	SkipDishonest      bool `toml:"skip_dishonest"`
	SparsityExperiment bool `toml:"sparsity_experiment"`

	DBFile      string `toml:"db_file"`
	CensusQuery string `toml:"census_query"`
	EntryWidth  int    `toml:"entry_width"`

	Debug  bool `toml:"debug"`
	NoLogs bool `toml:"no_logs"`

	ProverAddress string `toml:"prover_address"`
	ProjectDir    string `toml:"project_dir"`
	WorkDir       string `toml:"work_dir"`

	// ProverBin and VerifierBin skip the cargo launch and execute the
	// named binaries directly.
	ProverBin   string `toml:"prover_bin"`
	VerifierBin string `toml:"verifier_bin"`

	// StartupDelay and ReadinessTimeout are in seconds.
	StartupDelay     float64 `toml:"startup_delay"`
	ReadinessMode    string  `toml:"readiness"`
	ReadinessTimeout float64 `toml:"readiness_timeout"`
}

// DefaultConfig returns a config with every optional key at its default.
// The protocol parameters (db-size, max-degree, sparsity, epsilon) have no
// defaults and must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		NumQueries:       defaultNumQueries,
		EntryWidth:       defaultEntryWidth,
		ProverAddress:    DefaultProverAddress,
		ProjectDir:       ".",
		WorkDir:          ".",
		StartupDelay:     defaultStartupDelay,
		ReadinessMode:    ReadinessFixed,
		ReadinessTimeout: defaultReadinessTimeout,
	}
}

// LoadFile reads a TOML experiment file over the defaults. Keys absent from
// the file keep their default value, so a file only needs to name what it
// changes.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBSize == 0 {
		return errors.New("db-size is required")
	}
	if c.MaxDegree == 0 {
		return errors.New("max-degree is required")
	}
	if c.Sparsity == 0 {
		return errors.New("sparsity is required")
	}
	if c.Epsilon <= 0 {
		return errors.New("epsilon must be positive")
	}
	if c.Delta < 0 {
		return errors.New("delta must not be negative")
	}
	if c.NumQueries < 0 {
		return errors.New("num-queries must not be negative")
	}
	switch c.EntryWidth {
	case 16, 32, 64:
	default:
		return errors.Errorf("unsupported entry width %d, expect 16, 32 or 64", c.EntryWidth)
	}
	if _, _, err := net.SplitHostPort(c.ProverAddress); err != nil {
		return errors.Wrapf(err, "invalid prover address %s", c.ProverAddress)
	}
	if c.DBFile != "" && !utils.IsPathExists(c.DBFile) {
		return errors.Errorf("database file %s not found", c.DBFile)
	}
	if c.StartupDelay < 0 {
		return errors.New("startup-delay must not be negative")
	}
	switch c.ReadinessMode {
	case "", ReadinessFixed, ReadinessProbe:
	default:
		return errors.Errorf("unsupported readiness mode %s, expect %s or %s", c.ReadinessMode, ReadinessFixed, ReadinessProbe)
	}
	return nil
}

func (c *Config) startupDelay() time.Duration {
	return time.Duration(c.StartupDelay * float64(time.Second))
}

func (c *Config) readinessTimeout() time.Duration {
	return time.Duration(c.ReadinessTimeout * float64(time.Second))
}
