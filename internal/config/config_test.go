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

package config

import (
	"os"
	"testing"
	"time"

	"tacticalmesh/internal/errs"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{EnvNodeID, EnvBasePort, EnvPeers, EnvGossipInterval, EnvZMQHWM, EnvZMQRcvTimeout, EnvTrustFilePath, EnvKeysPath, EnvDataDir, EnvStatusFilePath}
	saved := make(map[string]string, len(vars))
	for _, v := range vars {
		saved[v] = os.Getenv(v)
		os.Unsetenv(v)
	}
	t.Cleanup(func() {
		for _, v := range vars {
			if saved[v] == "" {
				os.Unsetenv(v)
			} else {
				os.Setenv(v, saved[v])
			}
		}
	})
}

func TestLoadRequiresNodeID(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with no NODE_ID, want an error")
	}
	if !errs.IsFatalBoot(err) {
		t.Errorf("Load() error category = %v, want FatalBoot", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvNodeID, "Alpha")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.NodeID != "Alpha" {
		t.Errorf("NodeID = %q, want Alpha", cfg.NodeID)
	}
	if cfg.BasePort != DefaultBasePort {
		t.Errorf("BasePort = %d, want %d", cfg.BasePort, DefaultBasePort)
	}
	if cfg.GossipInterval != DefaultGossipInterval {
		t.Errorf("GossipInterval = %v, want %v", cfg.GossipInterval, DefaultGossipInterval)
	}
	if cfg.ZMQHWM != DefaultZMQHWM {
		t.Errorf("ZMQHWM = %d, want %d", cfg.ZMQHWM, DefaultZMQHWM)
	}
	if cfg.ZMQRcvTimeout != DefaultZMQRcvTimeout {
		t.Errorf("ZMQRcvTimeout = %v, want %v", cfg.ZMQRcvTimeout, DefaultZMQRcvTimeout)
	}
	if cfg.TrustFilePath != DefaultTrustFilePath {
		t.Errorf("TrustFilePath = %q, want %q", cfg.TrustFilePath, DefaultTrustFilePath)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, DefaultDataDir)
	}
	if cfg.StatusFilePath != DefaultStatusFilePath {
		t.Errorf("StatusFilePath = %q, want %q", cfg.StatusFilePath, DefaultStatusFilePath)
	}
	if len(cfg.Peers) != 0 {
		t.Errorf("Peers = %v, want empty", cfg.Peers)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvNodeID, "Alpha")
	os.Setenv(EnvBasePort, "9500")
	os.Setenv(EnvGossipInterval, "2.5")
	os.Setenv(EnvZMQHWM, "500")
	os.Setenv(EnvZMQRcvTimeout, "1500")
	os.Setenv(EnvTrustFilePath, "/etc/mesh/trust.json")
	os.Setenv(EnvKeysPath, "/etc/mesh/keys")
	os.Setenv(EnvDataDir, "/var/lib/mesh")
	os.Setenv(EnvStatusFilePath, "/tmp/mesh_status.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BasePort != 9500 {
		t.Errorf("BasePort = %d, want 9500", cfg.BasePort)
	}
	if cfg.GossipInterval != 2500*time.Millisecond {
		t.Errorf("GossipInterval = %v, want 2.5s", cfg.GossipInterval)
	}
	if cfg.ZMQHWM != 500 {
		t.Errorf("ZMQHWM = %d, want 500", cfg.ZMQHWM)
	}
	if cfg.ZMQRcvTimeout != 1500*time.Millisecond {
		t.Errorf("ZMQRcvTimeout = %v, want 1500ms", cfg.ZMQRcvTimeout)
	}
	if cfg.TrustFilePath != "/etc/mesh/trust.json" {
		t.Errorf("TrustFilePath = %q, want /etc/mesh/trust.json", cfg.TrustFilePath)
	}
	if cfg.KeysPath != "/etc/mesh/keys" {
		t.Errorf("KeysPath = %q, want /etc/mesh/keys", cfg.KeysPath)
	}
	if cfg.DataDir != "/var/lib/mesh" {
		t.Errorf("DataDir = %q, want /var/lib/mesh", cfg.DataDir)
	}
	if cfg.StatusFilePath != "/tmp/mesh_status.json" {
		t.Errorf("StatusFilePath = %q, want /tmp/mesh_status.json", cfg.StatusFilePath)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{NodeID: "Alpha", DataDir: "/data", KeysPath: "/keys"}
	if got := cfg.DBPath(); got != "/data/Alpha_db" {
		t.Errorf("DBPath() = %q, want /data/Alpha_db", got)
	}
	if got := cfg.IdentityPath(); got != "/keys/Alpha.secret" {
		t.Errorf("IdentityPath() = %q, want /keys/Alpha.secret", got)
	}
	if got := cfg.CursorFilePath(); got != "/data/Alpha_cursors.json" {
		t.Errorf("CursorFilePath() = %q, want /data/Alpha_cursors.json", got)
	}
}

func TestPeerParsing(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvNodeID, "Alpha")
	os.Setenv(EnvBasePort, "9000")
	os.Setenv(EnvPeers, "Bravo:10.0.0.2, Charlie:10.0.0.3:9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(cfg.Peers) != 2 {
		t.Fatalf("len(Peers) = %d, want 2", len(cfg.Peers))
	}

	bravo := cfg.Peers[0]
	if bravo.NodeID != "Bravo" || bravo.Host != "10.0.0.2" || bravo.Port != 9000 {
		t.Errorf("Peers[0] = %+v, want {Bravo 10.0.0.2 9000}", bravo)
	}

	charlie := cfg.Peers[1]
	if charlie.NodeID != "Charlie" || charlie.Host != "10.0.0.3" || charlie.Port != 9100 {
		t.Errorf("Peers[1] = %+v, want {Charlie 10.0.0.3 9100}", charlie)
	}
}

func TestPeerParsingRejectsMalformedEntry(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvNodeID, "Alpha")
	os.Setenv(EnvPeers, "justanodeid")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with malformed PEERS entry, want an error")
	}
}

func TestLanePorts(t *testing.T) {
	cfg := &Config{BasePort: 9000}
	if cfg.FlashPort() != 9000 {
		t.Errorf("FlashPort() = %d, want 9000", cfg.FlashPort())
	}
	if cfg.RoutinePort() != 9001 {
		t.Errorf("RoutinePort() = %d, want 9001", cfg.RoutinePort())
	}
	if cfg.BulkPort() != 9002 {
		t.Errorf("BulkPort() = %d, want 9002", cfg.BulkPort())
	}
}
