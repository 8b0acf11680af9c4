// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package hook loads an optional out-of-process plugin that observes
// experiment runs, for example to publish results or gate a CI pipeline.
package hook

import (
	"net/rpc"
	"os"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var hookPluginPath = "./certdp-hook-plugin"

func init() {
	envPath := os.Getenv("CERTDP_HOOK_PLUGIN_PATH")
	if envPath != "" {
		hookPluginPath = envPath
	}
}

// Info describes one run. The outcome fields stay zero for BeforeRun and
// are populated for AfterRun.
type Info struct {
	RunID    string  `json:"run_id"`
	DBSize   uint64  `json:"db_size"`
	Sparsity uint64  `json:"sparsity"`
	Epsilon  float64 `json:"epsilon"`

	ProverCommand    string        `json:"prover_command"`
	VerifierCommand  string        `json:"verifier_command"`
	ProverExit       int           `json:"prover_exit"`
	VerifierExit     int           `json:"verifier_exit"`
	ProverDuration   time.Duration `json:"prover_duration"`
	VerifierDuration time.Duration `json:"verifier_duration"`
	ProverLog        string        `json:"prover_log"`
	VerifierLog      string        `json:"verifier_log"`
	ProverLines      int           `json:"prover_lines"`
	VerifierLines    int           `json:"verifier_lines"`
}

type Hook interface {
	BeforeRun(info *Info) error
	AfterRun(info *Info) error
}

type RPC struct{ client *rpc.Client }

func (h *RPC) BeforeRun(info *Info) error {
	var resp error
	err := h.client.Call("Plugin.BeforeRun", info, &resp)
	if err != nil {
		return err
	}
	return resp
}

func (h *RPC) AfterRun(info *Info) error {
	var resp error
	err := h.client.Call("Plugin.AfterRun", info, &resp)
	if err != nil {
		return err
	}
	return resp
}

type RPCServer struct {
	Impl Hook
}

func (s *RPCServer) BeforeRun(info Info, resp *error) error {
	*resp = s.Impl.BeforeRun(&info)
	return *resp
}

func (s *RPCServer) AfterRun(info Info, resp *error) error {
	*resp = s.Impl.AfterRun(&info)
	return *resp
}

type Plugin struct {
	Impl Hook
}

func (p *Plugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (Plugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPC{client: c}, nil
}

var Caller Hook

var handshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CERTDP_HOOK_PLUGIN",
	MagicCookieValue: "certdp-hook-plugin",
}

// NewPlugin serves pluginImpl, it is the entry point for plugin binaries.
func NewPlugin(pluginImpl Hook) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]plugin.Plugin{
			"hook": &Plugin{Impl: pluginImpl},
		},
	})
}

var client *plugin.Client

// Init loads the plugin binary if one is present. A missing plugin is the
// normal case and every load failure only logs, runs proceed unhooked.
func Init() {
	if Caller != nil {
		return
	}

	if _, err := os.Stat(hookPluginPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		logrus.Errorln(errors.Wrapf(err, "try load hook plugin %s", hookPluginPath))
		return
	}

	var pluginMap = map[string]plugin.Plugin{
		"hook": &Plugin{},
	}

	client = plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: handshakeConfig,
		Plugins:         pluginMap,
		Cmd:             exec.Command(hookPluginPath),
		Logger: hclog.New(&hclog.LoggerOptions{
			Output: hclog.DefaultOutput,
			Level:  hclog.Error,
			Name:   "plugin",
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		logrus.WithError(err).Error("Failed to create rpc client")
		return
	}

	raw, err := rpcClient.Dispense("hook")
	if err != nil {
		logrus.WithError(err).Error("Failed to dispense hook")
		return
	}

	logrus.Infof("[HOOK] Loaded hook plugin %s", hookPluginPath)

	Caller = raw.(Hook)
}

func Close() {
	if client != nil {
		defer client.Kill()
	}
}
