/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads a node's runtime configuration from the
// environment. There is no config file or flag parsing here — that
// belongs to the (out-of-scope) command-line entry point. This package
// only populates a Config struct from os.Getenv and validates it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

const (
	EnvNodeID         = "NODE_ID"
	EnvBasePort       = "BASE_PORT"
	EnvPeers          = "PEERS"
	EnvGossipInterval = "GOSSIP_INTERVAL"
	EnvZMQHWM         = "ZMQ_HWM"
	EnvZMQRcvTimeout  = "ZMQ_RCV_TIMEOUT"
	EnvTrustFilePath  = "TRUST_FILE_PATH"
	EnvKeysPath       = "KEYS_PATH"
	EnvDataDir        = "DATA_DIR"
	EnvStatusFilePath = "STATUS_FILE_PATH"
)

// Defaults applied when the corresponding env var is absent.
const (
	DefaultBasePort       = 9000
	DefaultGossipInterval = 5 * time.Second
	DefaultZMQHWM         = 1000
	DefaultZMQRcvTimeout  = 2000 * time.Millisecond
	DefaultTrustFilePath  = "./keys/mission_trust.json"
	DefaultKeysPath       = "./keys/private"
	DefaultDataDir        = "./data"
	DefaultStatusFilePath = "./node_status.json"
)

// Peer is one entry parsed out of PEERS.
type Peer struct {
	NodeID vectorclock.NodeId
	Host   string
	Port   int
}

// Config is a node's fully resolved runtime configuration.
type Config struct {
	NodeID         vectorclock.NodeId
	BasePort       int
	Peers          []Peer
	GossipInterval time.Duration
	ZMQHWM         int
	ZMQRcvTimeout  time.Duration
	TrustFilePath  string
	KeysPath       string
	DataDir        string
	StatusFilePath string
}

// DBPath is the on-disk directory for this node's triple store and WAL,
// mirroring the original prototype's "/data/{node_id}_db" convention.
func (c *Config) DBPath() string {
	return c.DataDir + "/" + string(c.NodeID) + "_db"
}

// IdentityPath is the private identity file meshkeygen wrote for this node.
func (c *Config) IdentityPath() string {
	return c.KeysPath + "/" + string(c.NodeID) + ".secret"
}

// CursorFilePath is where GossipEngine persists per-peer replication
// cursors, alongside this node's data directory.
func (c *Config) CursorFilePath() string {
	return c.DataDir + "/" + string(c.NodeID) + "_cursors.json"
}

// Load populates a Config from the environment. NODE_ID is required;
// its absence is a FatalBoot error. Every other option falls back to a
// default.
func Load() (*Config, error) {
	nodeID := strings.TrimSpace(os.Getenv(EnvNodeID))
	if nodeID == "" {
		return nil, errs.MissingIdentityKey(EnvNodeID).
			WithDetail("NODE_ID environment variable is required").
			WithHint("set NODE_ID to this node's identifier before starting")
	}

	cfg := &Config{
		NodeID:         vectorclock.NodeId(nodeID),
		BasePort:       DefaultBasePort,
		GossipInterval: DefaultGossipInterval,
		ZMQHWM:         DefaultZMQHWM,
		ZMQRcvTimeout:  DefaultZMQRcvTimeout,
		TrustFilePath:  DefaultTrustFilePath,
		KeysPath:       DefaultKeysPath,
		DataDir:        DefaultDataDir,
		StatusFilePath: DefaultStatusFilePath,
	}

	if v := os.Getenv(EnvBasePort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.InvalidConfig(EnvBasePort, err)
		}
		cfg.BasePort = port
	}

	if v := os.Getenv(EnvGossipInterval); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errs.InvalidConfig(EnvGossipInterval, err)
		}
		cfg.GossipInterval = time.Duration(secs * float64(time.Second))
	}

	if v := os.Getenv(EnvZMQHWM); v != "" {
		hwm, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.InvalidConfig(EnvZMQHWM, err)
		}
		cfg.ZMQHWM = hwm
	}

	if v := os.Getenv(EnvZMQRcvTimeout); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.InvalidConfig(EnvZMQRcvTimeout, err)
		}
		cfg.ZMQRcvTimeout = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv(EnvTrustFilePath); v != "" {
		cfg.TrustFilePath = v
	}
	if v := os.Getenv(EnvKeysPath); v != "" {
		cfg.KeysPath = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvStatusFilePath); v != "" {
		cfg.StatusFilePath = v
	}

	peers, err := parsePeers(os.Getenv(EnvPeers), cfg.BasePort)
	if err != nil {
		return nil, err
	}
	cfg.Peers = peers

	return cfg, nil
}

// parsePeers parses a comma list of "id:host[:port]" entries. A missing
// port falls back to basePort.
func parsePeers(raw string, basePort int) ([]Peer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	entries := strings.Split(raw, ",")
	peers := make([]Peer, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 {
			return nil, errs.InvalidConfig(EnvPeers, fmt.Errorf("expected id:host[:port], got %q", entry))
		}

		peer := Peer{
			NodeID: vectorclock.NodeId(parts[0]),
			Host:   parts[1],
			Port:   basePort,
		}
		if len(parts) >= 3 {
			port, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, errs.InvalidConfig(EnvPeers, fmt.Errorf("invalid port in peer entry %q: %w", entry, err))
			}
			peer.Port = port
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// FlashPort returns this node's FLASH lane port.
func (c *Config) FlashPort() int { return c.BasePort }

// RoutinePort returns this node's ROUTINE lane port.
func (c *Config) RoutinePort() int { return c.BasePort + 1 }

// BulkPort returns this node's BULK lane port.
func (c *Config) BulkPort() int { return c.BasePort + 2 }
