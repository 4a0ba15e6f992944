// SPDX-License-Identifier: MIT
// Package membership is the core of the router: it owns the authoritative
// set of known cluster nodes, keeps an active/downed classification up to
// date through a periodic, non-overlapping discovery pass, and hands the
// client facade a lock-light snapshot of the nodes currently eligible to
// serve traffic.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apimgr/dbrouter/internal/listener"
	"github.com/apimgr/dbrouter/internal/metrics"
	"github.com/apimgr/dbrouter/internal/node"
	"github.com/apimgr/dbrouter/internal/retry"
)

// Factory builds a new node.Handle for an id discovered at runtime, so the
// manager never needs to know how pools or DSNs are constructed.
type Factory func(id node.NodeID) (node.Handle, error)

// Config controls the manager's behavior.
type Config struct {
	IgnoreDonor bool
	Listener    listener.Listener
	Logger      *slog.Logger
	Breakers    *retry.CircuitBreakerRegistry
}

// Manager owns nodes, active, and downed. Mutation happens only inside
// Register and Tick, where Tick's per-phase worker goroutines mutate
// concurrently under mu and setMu. GetActive/GetNode are safe to call from
// any goroutine: GetActive is a lock-free load, GetNode takes mu's read lock.
type Manager struct {
	factory Factory
	cfg     Config

	mu    sync.RWMutex
	nodes map[node.NodeID]node.Handle

	// setMu serializes every mutation of active/downed. tickPhase's worker
	// pool calls activate/down/remove concurrently for distinct ids, and
	// without this lock two goroutines can load the same atomic snapshot,
	// each apply their own change, and the later Store silently discards the
	// other's update.
	setMu  sync.Mutex
	active atomic.Pointer[[]node.NodeID]
	downed atomic.Pointer[[]node.NodeID]

	inFlightMu sync.Mutex
	inFlight   map[node.NodeID]bool
}

// New constructs a Manager. factory is called once per newly discovered
// node id (a seed or a peer reported by another node's status).
func New(factory Factory, cfg Config) *Manager {
	if cfg.Listener == nil {
		cfg.Listener = listener.Noop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		factory:  factory,
		cfg:      cfg,
		nodes:    make(map[node.NodeID]node.Handle),
		inFlight: make(map[node.NodeID]bool),
	}
	empty := []node.NodeID{}
	m.active.Store(&empty)
	downedEmpty := []node.NodeID{}
	m.downed.Store(&downedEmpty)
	return m
}

// Register bootstraps the manager with the operator-supplied seed list. Each
// unique seed gets one handle; registration failures land the seed in the
// downed set rather than failing Register itself, since a cluster with one
// unreachable seed among several should still start.
func (m *Manager) Register(ctx context.Context, seeds []node.NodeID) error {
	seen := make(map[node.NodeID]bool, len(seeds))
	for _, id := range seeds {
		if seen[id] {
			continue
		}
		seen[id] = true
		m.registerNode(ctx, id)
	}
	return nil
}

// registerNode allocates a handle for id if it isn't already known, then
// attempts an initial discover pass on it. Guarded by inFlight so a node
// reported simultaneously by two peers during the same tick is only ever
// registered once.
func (m *Manager) registerNode(ctx context.Context, id node.NodeID) {
	m.inFlightMu.Lock()
	if m.inFlight[id] {
		m.inFlightMu.Unlock()
		return
	}
	m.mu.RLock()
	_, known := m.nodes[id]
	m.mu.RUnlock()
	if known {
		m.inFlightMu.Unlock()
		return
	}
	m.inFlight[id] = true
	m.inFlightMu.Unlock()

	defer func() {
		m.inFlightMu.Lock()
		delete(m.inFlight, id)
		m.inFlightMu.Unlock()
	}()

	handle, err := m.factory(id)
	if err != nil {
		m.cfg.Logger.Warn("failed to create node handle", slog.String("node", string(id)), slog.Any("error", err))
		return
	}

	m.mu.Lock()
	m.nodes[id] = handle
	m.mu.Unlock()

	if err := m.discover(ctx, id); err != nil {
		m.down(id, fmt.Sprintf("initial discovery failed: %v", err))
	}
}

// maxTickWorkers bounds how many nodes are probed concurrently within a
// single phase of a Tick. Phase ordering itself (active before downed) is
// never relaxed; only the probing within one phase runs in parallel.
const maxTickWorkers = 8

// Tick runs one discovery pass: every active node is re-probed first, then
// every downed node is retried, each phase internally parallelized across a
// bounded worker pool. New peers surfaced by either phase are collected and
// registered after both phases complete; each registration runs the peer's
// initial discover, which registers the peers it reports in turn (see
// drainWorklist).
func (m *Manager) Tick(ctx context.Context) {
	var worklist []node.NodeID
	worklist = append(worklist, m.tickPhase(ctx, m.GetActive())...)
	worklist = append(worklist, m.tickPhase(ctx, m.GetDowned())...)

	m.drainWorklist(ctx, worklist)
	m.publishGaugeMetrics()
}

// tickPhase probes every id in ids using a bounded pool of goroutines and
// returns the combined set of newly discovered peers. It blocks until every
// id in the phase has been probed, so the caller's next phase never overlaps
// with this one.
func (m *Manager) tickPhase(ctx context.Context, ids []node.NodeID) []node.NodeID {
	if len(ids) == 0 {
		return nil
	}

	workers := maxTickWorkers
	if workers > len(ids) {
		workers = len(ids)
	}

	work := make(chan node.NodeID, len(ids))
	for _, id := range ids {
		work <- id
	}
	close(work)

	var (
		wg       sync.WaitGroup
		peersMu  sync.Mutex
		allPeers []node.NodeID
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				var (
					peers []node.NodeID
					err   error
				)
				func() {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("probe panicked: %v", r)
						}
					}()
					peers, err = m.probeOne(ctx, id)
				}()
				if len(peers) > 0 {
					peersMu.Lock()
					allPeers = append(allPeers, peers...)
					peersMu.Unlock()
				}
				if err != nil {
					m.down(id, err.Error())
				}
			}
		}()
	}
	wg.Wait()

	return allPeers
}

// probeOne runs tickNode for a single id, gated by its circuit breaker if one
// is configured. With a breaker, tickNode is run through Execute so its
// result is the one source of truth for the breaker's pass/fail bookkeeping.
func (m *Manager) probeOne(ctx context.Context, id node.NodeID) ([]node.NodeID, error) {
	breaker := m.breakerFor(id)
	if breaker == nil {
		return m.tickNode(ctx, id)
	}

	var peers []node.NodeID
	err := breaker.Execute(func() error {
		var err error
		peers, err = m.tickNode(ctx, id)
		return err
	})
	if errors.Is(err, retry.ErrCircuitOpen) {
		m.cfg.Logger.Debug("skipping probe, circuit open", slog.String("node", string(id)), slog.String("breaker_state", breaker.State().String()))
	}
	return peers, err
}

func (m *Manager) breakerFor(id node.NodeID) *retry.CircuitBreaker {
	if m.cfg.Breakers == nil {
		return nil
	}
	return m.cfg.Breakers.Get(string(id))
}

// tickNode runs the classification steps of discover(n) but returns the new
// peers it found instead of registering them itself, so Tick can register
// them after both phases have finished.
func (m *Manager) tickNode(ctx context.Context, id node.NodeID) ([]node.NodeID, error) {
	m.mu.RLock()
	handle, ok := m.nodes[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	start := time.Now()
	err := handle.RefreshStatus(ctx)
	metrics.ProbeDuration.WithLabelValues(string(id)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProbeFailuresTotal.WithLabelValues(string(id)).Inc()
		return nil, err
	}

	status := handle.Status()

	if !status.IsPrimary {
		return nil, fmt.Errorf("non Primary")
	}

	if !status.IsSynced && (m.cfg.IgnoreDonor || !status.IsDonor) {
		return nil, fmt.Errorf("state not ready: %s", status.State)
	}

	var peers []node.NodeID
	m.mu.RLock()
	for peer := range status.ClusterNodes {
		if _, known := m.nodes[node.NodeID(peer)]; !known {
			peers = append(peers, node.NodeID(peer))
		}
	}
	m.mu.RUnlock()

	if _, reported := status.ClusterNodes[string(id)]; !reported && len(status.ClusterNodes) > 0 {
		m.remove(id)
		return peers, nil
	}

	donorIgnored := status.IsDonor && m.cfg.IgnoreDonor
	if !m.isActive(id) && !donorIgnored {
		m.activate(id)
	}

	return peers, nil
}

// discover runs tickNode and then registers any new peers it reported. It is
// the initial probe of every newly registered node (seeds during Register and
// peers found by Tick), so registration recurses through registerNode until
// no unknown id remains; registerNode's known/inFlight checks end it.
func (m *Manager) discover(ctx context.Context, id node.NodeID) error {
	peers, err := m.tickNode(ctx, id)
	if err != nil {
		return err
	}
	m.drainWorklist(ctx, peers)
	return nil
}

// drainWorklist registers every queued peer id in order. Each registration
// runs that peer's initial discover, which registers any further new peers it
// reports within this same call, so the registration is recursive.
func (m *Manager) drainWorklist(ctx context.Context, worklist []node.NodeID) {
	for _, id := range worklist {
		m.registerNode(ctx, id)
	}
}

func (m *Manager) isActive(id node.NodeID) bool {
	active := *m.active.Load()
	for _, n := range active {
		if n == id {
			return true
		}
	}
	return false
}

func (m *Manager) isDowned(id node.NodeID) bool {
	downed := *m.downed.Load()
	for _, n := range downed {
		if n == id {
			return true
		}
	}
	return false
}

// activate moves id into the active set (copy-on-write) and out of downed,
// then notifies the listener and the node handle itself.
func (m *Manager) activate(id node.NodeID) {
	m.mu.Lock()
	handle, ok := m.nodes[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.mutateActive(func(active []node.NodeID) []node.NodeID {
		for _, n := range active {
			if n == id {
				return active
			}
		}
		return append(active, id)
	})
	m.mutateDowned(func(downed []node.NodeID) []node.NodeID {
		return removeID(downed, id)
	})

	handle.OnActivate()
	m.cfg.Listener.OnActivatingNode(id)

	if breaker := m.breakerFor(id); breaker != nil {
		breaker.Reset()
	}
}

// down moves id into the downed set and quiesces its handle. A no-op (no
// handle/listener notification) when id is already downed and not active, so
// a node that keeps failing its probe doesn't re-fire OnDown every tick.
func (m *Manager) down(id node.NodeID, cause string) {
	m.mu.Lock()
	handle, ok := m.nodes[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	if !m.isActive(id) && m.isDowned(id) {
		return
	}

	m.mutateActive(func(active []node.NodeID) []node.NodeID {
		return removeID(active, id)
	})
	m.mutateDowned(func(downed []node.NodeID) []node.NodeID {
		for _, n := range downed {
			if n == id {
				return downed
			}
		}
		return append(downed, id)
	})

	handle.OnDown()
	m.cfg.Listener.OnMarkingNodeAsDown(id, cause)
}

// remove retires a vanished member entirely: it disappears from nodes,
// active, and downed in one logical step, and its pools are closed.
func (m *Manager) remove(id node.NodeID) {
	m.mu.Lock()
	handle, ok := m.nodes[id]
	delete(m.nodes, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.mutateActive(func(active []node.NodeID) []node.NodeID {
		return removeID(active, id)
	})
	m.mutateDowned(func(downed []node.NodeID) []node.NodeID {
		return removeID(downed, id)
	})

	handle.Shutdown()
	m.cfg.Listener.OnRemovingNode(id)
}

func (m *Manager) mutateActive(fn func([]node.NodeID) []node.NodeID) {
	m.setMu.Lock()
	defer m.setMu.Unlock()
	current := *m.active.Load()
	next := fn(append([]node.NodeID(nil), current...))
	m.active.Store(&next)
}

func (m *Manager) mutateDowned(fn func([]node.NodeID) []node.NodeID) {
	m.setMu.Lock()
	defer m.setMu.Unlock()
	current := *m.downed.Load()
	next := fn(append([]node.NodeID(nil), current...))
	m.downed.Store(&next)
}

func removeID(ids []node.NodeID, target node.NodeID) []node.NodeID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// GetActive returns the current active snapshot. Safe to call concurrently
// without blocking the discovery goroutine.
func (m *Manager) GetActive() []node.NodeID {
	return *m.active.Load()
}

// GetDowned returns the current downed snapshot.
func (m *Manager) GetDowned() []node.NodeID {
	return *m.downed.Load()
}

// GetNode returns the handle for id, if known.
func (m *Manager) GetNode(id node.NodeID) (node.Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.nodes[id]
	return h, ok
}

// Shutdown closes every known node's pools. It does not stop the scheduler;
// callers own the scheduler's lifecycle (see internal/schedule.Ticker).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.nodes {
		h.Shutdown()
	}
}

func (m *Manager) publishGaugeMetrics() {
	metrics.NodesActive.Set(float64(len(m.GetActive())))
	metrics.NodesDowned.Set(float64(len(m.GetDowned())))
}
