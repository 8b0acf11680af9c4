// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Readiness decides when the prover is assumed able to accept the verifier
// connection.
type Readiness interface {
	WaitReady(ctx context.Context) error
}

// NewReadiness builds the strategy selected by cfg.
func NewReadiness(cfg *Config) (Readiness, error) {
	switch cfg.ReadinessMode {
	case "", ReadinessFixed:
		return FixedDelay{Delay: cfg.startupDelay()}, nil
	case ReadinessProbe:
		return TCPProbe{Address: cfg.ProverAddress, Timeout: cfg.readinessTimeout()}, nil
	default:
		return nil, errors.Errorf("unsupported readiness mode %s", cfg.ReadinessMode)
	}
}

// FixedDelay sleeps for a fixed interval and proceeds. This is an
// assumption, not a check.
type FixedDelay struct {
	Delay time.Duration
}

func (d FixedDelay) WaitReady(ctx context.Context) error {
	select {
	case <-time.After(d.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TCPProbe dials the prover listen address until a connection succeeds or
// the timeout expires.
type TCPProbe struct {
	Address  string
	Timeout  time.Duration
	Interval time.Duration
}

func (p TCPProbe) WaitReady(ctx context.Context) error {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = time.Duration(defaultReadinessTimeout * float64(time.Second))
	}
	interval := p.Interval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: interval}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", p.Address)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "wait for prover at %s", p.Address)
		case <-time.After(interval):
		}
	}
}
