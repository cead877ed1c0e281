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

// meshkeygen acts as the mesh's one-shot certificate authority: it
// generates a Curve25519 keypair per named node, writes each node's
// private identity file, and writes the combined trust file every node
// loads at boot to authenticate its peers.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tacticalmesh/internal/trust"
	"tacticalmesh/internal/vectorclock"
)

func main() {
	keyDir := flag.String("key-dir", "./keys", "output directory for private/ identity files and the trust file")
	flag.Parse()

	nodes := flag.Args()
	if len(nodes) == 0 {
		nodes = []string{"Alpha", "Bravo", "Charlie"}
	}

	if err := generateMissionKeys(nodes, *keyDir); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", err)
		os.Exit(1)
	}
}

// generateMissionKeys overwrites keyDir with a fresh keypair per node,
// matching the original prototype's provisioning semantics: this is a
// destructive, one-shot operation, not an incremental add-node tool.
func generateMissionKeys(nodes []string, keyDir string) error {
	privateDir := filepath.Join(keyDir, "private")
	if err := os.RemoveAll(keyDir); err != nil {
		return fmt.Errorf("clear %s: %w", keyDir, err)
	}
	if err := os.MkdirAll(privateDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", privateDir, err)
	}

	fmt.Printf("[PROVISIONING] Generating keys for %d units...\n", len(nodes))

	trustStore := make(map[string]string, len(nodes))
	for _, node := range nodes {
		node = strings.TrimSpace(node)
		if node == "" {
			continue
		}

		identity, err := trust.GenerateIdentity(vectorclock.NodeId(node))
		if err != nil {
			return fmt.Errorf("generate keypair for %s: %w", node, err)
		}

		path := filepath.Join(privateDir, node+".secret")
		if err := identity.Save(path); err != nil {
			return fmt.Errorf("save identity for %s: %w", node, err)
		}

		trustStore[node] = identity.PublicKey.String()
	}

	data, err := json.MarshalIndent(trustStore, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trust file: %w", err)
	}
	trustPath := filepath.Join(keyDir, "mission_trust.json")
	if err := os.WriteFile(trustPath, data, 0644); err != nil {
		return fmt.Errorf("write trust file: %w", err)
	}

	fmt.Printf("[SUCCESS] Mission data load created at %s\n", keyDir)
	fmt.Printf("  - Private keys: %d (distribute securely)\n", len(trustStore))
	fmt.Printf("  - Trust file:   %s\n", trustPath)
	return nil
}
