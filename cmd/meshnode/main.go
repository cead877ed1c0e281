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

// meshnode is the tactical mesh node daemon: it loads this node's
// identity and trust registry, opens its triple store, and runs the
// lane transport and gossip engine until terminated.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tacticalmesh/internal/config"
	"tacticalmesh/internal/gossipengine"
	"tacticalmesh/internal/logging"
	"tacticalmesh/internal/transport"
	"tacticalmesh/internal/triplestore"
	"tacticalmesh/internal/trust"
	"tacticalmesh/internal/vectorclock"
)

func main() {
	repl := flag.Bool("repl", false, "run an interactive debug shell instead of the unattended daemon loop")
	logLevel := flag.String("log-level", "INFO", "DEBUG, INFO, WARN, or ERROR")
	logJSON := flag.Bool("log-json", false, "emit one JSON object per log line")
	flag.Parse()

	logging.SetGlobalLevel(logging.ParseLevel(*logLevel))
	logging.SetJSONMode(*logJSON)
	log := logging.NewLogger("meshnode")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", err)
		os.Exit(1)
	}
	log = log.With("node", string(cfg.NodeID))
	log.Info("boot", "data_dir", cfg.DBPath(), "base_port", cfg.BasePort)

	identity, err := trust.LoadIdentity(cfg.IdentityPath())
	if err != nil {
		log.Error("failed to load identity", "path", cfg.IdentityPath(), "error", err.Error())
		os.Exit(1)
	}

	registry, err := trust.LoadRegistry(cfg.TrustFilePath)
	if err != nil {
		log.Error("failed to load trust file", "path", cfg.TrustFilePath, "error", err.Error())
		os.Exit(1)
	}

	store, err := triplestore.Open(cfg.NodeID, cfg.DBPath())
	if err != nil {
		log.Error("failed to open triple store", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	lt := transport.New(cfg.NodeID, identity, registry, cfg.BasePort)
	peerAddrs := make(map[vectorclock.NodeId]string, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peerAddrs[p.NodeID] = p.Host
	}
	if err := lt.Start(peerAddrs); err != nil {
		log.Error("failed to start transport", "error", err.Error())
		os.Exit(1)
	}
	defer lt.Stop()

	engine, err := gossipengine.New(cfg.NodeID, store, lt, registry, cfg.CursorFilePath(), cfg.GossipInterval, cfg.ZMQRcvTimeout)
	if err != nil {
		log.Error("failed to build gossip engine", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Start(ctx); err != nil {
		log.Error("failed to start gossip engine", "error", err.Error())
		os.Exit(1)
	}

	log.Info("online", "peers", len(cfg.Peers))

	if *repl {
		runREPL(cfg, store, engine)
		cancel()
		engine.Stop()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	statusTicker := time.NewTicker(1 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			cancel()
			engine.Stop()
			return
		case <-statusTicker.C:
			dumpStatus(cfg, store, engine, log)
		}
	}
}

// dumpStatus writes a snapshot of this node's state to disk, mirroring
// the original prototype's heartbeat/status file so external tooling
// (health checks, the discontinued dashboard) can observe a running node
// without talking to the gossip protocol itself.
func dumpStatus(cfg *config.Config, store *triplestore.TripleStore, engine *gossipengine.Engine, log *logging.Logger) {
	type statusDoc struct {
		NodeID    string             `json:"node_id"`
		Timestamp int64              `json:"timestamp"`
		Clock     map[string]uint64  `json:"vector_clock"`
		Store     string             `json:"store"`
		Engine    gossipengine.Stats `json:"engine"`
	}

	clock := store.OwnClock()
	clockOut := make(map[string]uint64, len(clock))
	for k, v := range clock {
		clockOut[string(k)] = v
	}

	doc := statusDoc{
		NodeID:    string(cfg.NodeID),
		Timestamp: time.Now().UnixMilli(),
		Clock:     clockOut,
		Store:     store.Stats().String(),
		Engine:    engine.Stats(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Warn("failed to marshal status", "error", err.Error())
		return
	}

	tmp := cfg.StatusFilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn("failed to write status file", "error", err.Error())
		return
	}
	if err := os.Rename(tmp, cfg.StatusFilePath); err != nil {
		log.Warn("failed to rename status file", "error", err.Error())
	}
}

// runREPL is a thin, single-operator debug shell: update/status/peers
// against this node's own store, plus revoke to originate a flooded
// REVOKE the way the original prototype's run_node.py offered. Protocol
// logic never lives here.
func runREPL(cfg *config.Config, store *triplestore.TripleStore, engine *gossipengine.Engine) {
	fmt.Printf("%s> ", cfg.NodeID)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Printf("%s> ", cfg.NodeID)
			continue
		}

		switch fields[0] {
		case "update":
			if len(fields) != 3 {
				fmt.Println("usage: update <attr> <value>")
				break
			}
			subject := fmt.Sprintf("unit:%s", cfg.NodeID)
			predicate := "has" + fields[1]
			if _, err := store.WriteTriple(subject, predicate, fields[2], nil, ""); err != nil {
				fmt.Printf("write failed: %s\n", err)
				break
			}
			fmt.Println("Write Committed.")

		case "status":
			subject := fmt.Sprintf("unit:%s", cfg.NodeID)
			triple, ok := store.GetTriple(subject, "hasfuel")
			if !ok {
				fmt.Println("MY STATUS: <no fuel reading on record>")
				break
			}
			fmt.Printf("MY STATUS: %s\n", triple.O)

		case "peers":
			fmt.Printf("%+v\n", store.OwnClock())

		case "stats":
			fmt.Println(store.Stats().String())
			fmt.Printf("%+v\n", engine.Stats())

		case "revoke":
			if len(fields) != 2 {
				fmt.Println("usage: revoke <node>")
				break
			}
			target := vectorclock.NodeId(fields[1])
			if err := engine.BroadcastRevocation(target); err != nil {
				fmt.Printf("revoke failed: %s\n", err)
				break
			}
			fmt.Printf("Revocation broadcast for %s.\n", target)

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command %q (try update/status/peers/stats/revoke/quit)\n", fields[0])
		}

		fmt.Printf("%s> ", cfg.NodeID)
	}
}
