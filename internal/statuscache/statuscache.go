// SPDX-License-Identifier: MIT
// Package statuscache provides an advisory, non-authoritative cache of the
// last-probed ClusterStatus per node. It exists purely to shorten the
// cold-start window for a brand-new node before its first real probe
// completes; membership decisions never consult it once a live probe has run.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apimgr/dbrouter/internal/node"
	"github.com/apimgr/dbrouter/internal/probe"
)

// Cache is read only to pre-seed a node's status before its first successful
// probe. Every successful probe writes its result back through Set, but the
// discovery loop never reads the cache.
type Cache interface {
	Get(id node.NodeID) (probe.ClusterStatus, bool)
	Set(id node.NodeID, status probe.ClusterStatus)
	Close() error
}

// Memory is the default Cache, an in-process map with no external dependency.
type Memory struct {
	mu      sync.RWMutex
	entries map[node.NodeID]probe.ClusterStatus
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[node.NodeID]probe.ClusterStatus)}
}

func (m *Memory) Get(id node.NodeID) (probe.ClusterStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.entries[id]
	return status, ok
}

func (m *Memory) Set(id node.NodeID, status probe.ClusterStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = status
}

func (m *Memory) Close() error { return nil }

// wireStatus is the JSON-serializable projection of probe.ClusterStatus
// stored in Redis (ClusterNodes is a set, not a map, on the wire).
type wireStatus struct {
	State        int      `json:"state"`
	IsPrimary    bool     `json:"is_primary"`
	IsDonor      bool     `json:"is_donor"`
	IsSynced     bool     `json:"is_synced"`
	ClusterSize  int      `json:"cluster_size"`
	ClusterNodes []string `json:"cluster_nodes"`
}

// Redis shares the last-probed status of each node across router instances
// on the same Redis/Valkey server, keyed by node id.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis dials addr and verifies connectivity before returning, mirroring
// the fail-fast construction of a real shared cache client.
func NewRedis(addr, password string, db int, prefix string, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if prefix == "" {
		prefix = "dbrouter:status"
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("statuscache: connect to redis: %w", err)
	}

	return &Redis{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *Redis) key(id node.NodeID) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *Redis) Get(id node.NodeID) (probe.ClusterStatus, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		return probe.ClusterStatus{}, false
	}

	var w wireStatus
	if err := json.Unmarshal(data, &w); err != nil {
		return probe.ClusterStatus{}, false
	}

	nodes := make(map[string]struct{}, len(w.ClusterNodes))
	for _, n := range w.ClusterNodes {
		nodes[n] = struct{}{}
	}

	return probe.ClusterStatus{
		State:        probe.ReplicationState(w.State),
		IsPrimary:    w.IsPrimary,
		IsDonor:      w.IsDonor,
		IsSynced:     w.IsSynced,
		ClusterSize:  w.ClusterSize,
		ClusterNodes: nodes,
	}, true
}

func (r *Redis) Set(id node.NodeID, status probe.ClusterStatus) {
	nodes := make([]string, 0, len(status.ClusterNodes))
	for n := range status.ClusterNodes {
		nodes = append(nodes, n)
	}

	w := wireStatus{
		State:        int(status.State),
		IsPrimary:    status.IsPrimary,
		IsDonor:      status.IsDonor,
		IsSynced:     status.IsSynced,
		ClusterSize:  status.ClusterSize,
		ClusterNodes: nodes,
	}

	data, err := json.Marshal(w)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.client.Set(ctx, r.key(id), data, r.ttl)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
