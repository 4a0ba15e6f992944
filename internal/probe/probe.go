// SPDX-License-Identifier: MIT
// Package probe fetches wsrep replication status from a Galera-style node.
package probe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/apimgr/dbrouter/internal/retry"
)

// ReplicationState mirrors the wsrep_local_state status variable.
type ReplicationState int

const (
	StateUndefined ReplicationState = iota
	StateJoining
	StateDonor
	StateJoined
	StateSynced
	StateError
)

func (s ReplicationState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateDonor:
		return "donor/desync"
	case StateJoined:
		return "joined"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	default:
		return "undefined"
	}
}

// wsrepLocalState maps wsrep_local_state's numeric value to a ReplicationState.
// 4 = synced, 2 = donor/desync; everything else is treated as not ready.
func wsrepLocalState(n int) ReplicationState {
	switch n {
	case 4:
		return StateSynced
	case 2:
		return StateDonor
	case 1:
		return StateJoining
	case 3:
		return StateJoined
	case 5:
		return StateError
	default:
		return StateUndefined
	}
}

// ClusterStatus is an immutable snapshot of one node's replication health.
type ClusterStatus struct {
	State        ReplicationState
	IsPrimary    bool
	IsDonor      bool
	IsSynced     bool
	ClusterSize  int
	ClusterNodes map[string]struct{}
}

// ErrProbeFailed wraps any transport or query failure encountered while probing a node.
var ErrProbeFailed = errors.New("probe failed")

// Prober fetches the current ClusterStatus for one node over an established pool.
type Prober interface {
	Probe(ctx context.Context, pool *sql.DB) (ClusterStatus, error)
}

// SQLProber issues the standard wsrep SHOW STATUS battery, grounded on the
// status-variable set a real Galera/MariaDB node exposes.
type SQLProber struct {
	// Seeds is consulted only when a node doesn't report wsrep_incoming_addresses
	// (a single-node test fixture, typically) so discovery still has a
	// membership list to reconcile against.
	Seeds []string
}

var wsrepVars = []string{
	"wsrep_local_state",
	"wsrep_ready",
	"wsrep_local_index",
	"wsrep_cluster_size",
	"wsrep_cluster_status",
	"wsrep_incoming_addresses",
}

func (p *SQLProber) Probe(ctx context.Context, pool *sql.DB) (ClusterStatus, error) {
	status := make(map[string]string, len(wsrepVars))

	for _, name := range wsrepVars {
		row := pool.QueryRowContext(ctx, "SHOW STATUS LIKE ?", name)
		var varName, varValue string
		if err := row.Scan(&varName, &varValue); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Variable not exposed by this server (non-Galera fixture); skip it.
				continue
			}
			wrapped := fmt.Errorf("%w: %s: %v", ErrProbeFailed, name, err)
			if retry.IsTemporaryError(err) {
				wrapped = fmt.Errorf("%w: %w", wrapped, retry.ErrTemporary)
			}
			return ClusterStatus{}, wrapped
		}
		status[varName] = varValue
	}

	return parseStatus(status, p.Seeds), nil
}

func parseStatus(status map[string]string, seeds []string) ClusterStatus {
	localState, _ := strconv.Atoi(status["wsrep_local_state"])
	state := wsrepLocalState(localState)

	ready := status["wsrep_ready"] == "ON"
	clusterStatus := strings.ToLower(status["wsrep_cluster_status"])
	isPrimary := clusterStatus == "primary" || (clusterStatus == "" && ready)

	clusterSize, _ := strconv.Atoi(status["wsrep_cluster_size"])

	nodes := make(map[string]struct{})
	if raw, ok := status["wsrep_incoming_addresses"]; ok && raw != "" && raw != "undefined" {
		for _, addr := range strings.Split(raw, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				nodes[addr] = struct{}{}
			}
		}
	} else {
		for _, s := range seeds {
			nodes[s] = struct{}{}
		}
	}

	return ClusterStatus{
		State:        state,
		IsPrimary:    isPrimary,
		IsDonor:      state == StateDonor,
		IsSynced:     state == StateSynced,
		ClusterSize:  clusterSize,
		ClusterNodes: nodes,
	}
}
