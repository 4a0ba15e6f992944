// SPDX-License-Identifier: MIT
package membership

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/apimgr/dbrouter/internal/node"
	"github.com/apimgr/dbrouter/internal/probe"
)

// fakeHandle is a test double standing in for node.SQLHandle, driven purely
// by an injected ClusterStatus rather than a real MySQL connection.
type fakeHandle struct {
	id           node.NodeID
	status       probe.ClusterStatus
	refreshErr   error
	activateCnt  int
	downCnt      int
	shutdownDone bool
}

func (f *fakeHandle) ID() node.NodeID { return f.id }

func (f *fakeHandle) RefreshStatus(ctx context.Context) error {
	return f.refreshErr
}

func (f *fakeHandle) Status() probe.ClusterStatus { return f.status }

func (f *fakeHandle) GetConnection(ctx context.Context, c node.ConsistencyLevel) (*sql.Conn, error) {
	return nil, fmt.Errorf("not implemented in fake")
}

func (f *fakeHandle) OnActivate() { f.activateCnt++ }
func (f *fakeHandle) OnDown()     { f.downCnt++ }
func (f *fakeHandle) Shutdown() error {
	f.shutdownDone = true
	return nil
}

func syncedStatus(members ...string) probe.ClusterStatus {
	nodes := make(map[string]struct{}, len(members))
	for _, m := range members {
		nodes[m] = struct{}{}
	}
	return probe.ClusterStatus{
		State:        probe.StateSynced,
		IsPrimary:    true,
		IsSynced:     true,
		ClusterSize:  len(members),
		ClusterNodes: nodes,
	}
}

func newTestManager(handles map[node.NodeID]*fakeHandle) *Manager {
	factory := func(id node.NodeID) (node.Handle, error) {
		h, ok := handles[id]
		if !ok {
			return nil, fmt.Errorf("unexpected id %s", id)
		}
		return h, nil
	}
	return New(factory, Config{})
}

func TestRegisterActivatesHealthySeed(t *testing.T) {
	handles := map[node.NodeID]*fakeHandle{
		"a:3306": {id: "a:3306", status: syncedStatus("a:3306")},
	}
	m := newTestManager(handles)

	if err := m.Register(context.Background(), []node.NodeID{"a:3306"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := m.GetActive()
	if len(active) != 1 || active[0] != "a:3306" {
		t.Fatalf("active = %v, want [a:3306]", active)
	}
	if handles["a:3306"].activateCnt != 1 {
		t.Errorf("expected OnActivate called once")
	}
}

func TestRegisterDownsUnreachableSeed(t *testing.T) {
	handles := map[node.NodeID]*fakeHandle{
		"a:3306": {id: "a:3306", refreshErr: fmt.Errorf("connection refused")},
	}
	m := newTestManager(handles)

	m.Register(context.Background(), []node.NodeID{"a:3306"})

	if len(m.GetActive()) != 0 {
		t.Errorf("expected no active nodes")
	}
	downed := m.GetDowned()
	if len(downed) != 1 || downed[0] != "a:3306" {
		t.Fatalf("downed = %v, want [a:3306]", downed)
	}
}

func TestTickActivatesNewlyDiscoveredPeer(t *testing.T) {
	handles := map[node.NodeID]*fakeHandle{
		"a:3306": {id: "a:3306", status: syncedStatus("a:3306", "b:3306")},
		"b:3306": {id: "b:3306", status: syncedStatus("a:3306", "b:3306")},
	}
	m := newTestManager(handles)
	m.Register(context.Background(), []node.NodeID{"a:3306"})

	m.Tick(context.Background())

	active := m.GetActive()
	if len(active) != 2 {
		t.Fatalf("active = %v, want 2 nodes after discovering peer", active)
	}
}

func TestTickDownsNodeThatLosesPrimary(t *testing.T) {
	a := &fakeHandle{id: "a:3306", status: syncedStatus("a:3306")}
	handles := map[node.NodeID]*fakeHandle{"a:3306": a}
	m := newTestManager(handles)
	m.Register(context.Background(), []node.NodeID{"a:3306"})

	if len(m.GetActive()) != 1 {
		t.Fatalf("expected node active before status change")
	}

	a.status = probe.ClusterStatus{IsPrimary: false}
	m.Tick(context.Background())

	if len(m.GetActive()) != 0 {
		t.Errorf("expected node downed after losing primary status")
	}
	if a.downCnt == 0 {
		t.Errorf("expected OnDown called")
	}
}

func TestTickRemovesVanishedMember(t *testing.T) {
	a := &fakeHandle{id: "a:3306", status: syncedStatus("a:3306", "b:3306")}
	b := &fakeHandle{id: "b:3306", status: syncedStatus("a:3306", "b:3306")}
	handles := map[node.NodeID]*fakeHandle{"a:3306": a, "b:3306": b}
	m := newTestManager(handles)
	m.Register(context.Background(), []node.NodeID{"a:3306", "b:3306"})
	m.Tick(context.Background())

	if len(m.GetActive()) != 2 {
		t.Fatalf("expected both nodes active before removal")
	}

	// b no longer sees itself in the cluster membership it reports.
	b.status = syncedStatus("a:3306")
	m.Tick(context.Background())

	if _, ok := m.GetNode("b:3306"); ok {
		t.Errorf("expected b:3306 to be removed")
	}
	if !b.shutdownDone {
		t.Errorf("expected Shutdown called on vanished member")
	}
}

func TestDonorIgnoredStaysDownedWithoutPromotion(t *testing.T) {
	donorStatus := syncedStatus("a:3306")
	donorStatus.State = probe.StateDonor
	donorStatus.IsDonor = true
	donorStatus.IsSynced = false

	handles := map[node.NodeID]*fakeHandle{
		"a:3306": {id: "a:3306", status: donorStatus},
	}
	m := New(func(id node.NodeID) (node.Handle, error) { return handles[id], nil }, Config{IgnoreDonor: true})

	m.Register(context.Background(), []node.NodeID{"a:3306"})

	if len(m.GetActive()) != 0 {
		t.Errorf("expected donor to never activate when IgnoreDonor=true")
	}
	downed := m.GetDowned()
	if len(downed) != 1 || downed[0] != "a:3306" {
		t.Fatalf("downed = %v, want [a:3306] (donor stays downed, not promoted)", downed)
	}
}

func TestDownOnAlreadyDownedNodeIsNoOp(t *testing.T) {
	a := &fakeHandle{id: "a:3306", refreshErr: fmt.Errorf("connection refused")}
	handles := map[node.NodeID]*fakeHandle{"a:3306": a}
	m := newTestManager(handles)

	m.Register(context.Background(), []node.NodeID{"a:3306"})
	if a.downCnt != 1 {
		t.Fatalf("downCnt after initial registration failure = %d, want 1", a.downCnt)
	}

	m.Tick(context.Background())
	m.Tick(context.Background())

	if a.downCnt != 1 {
		t.Errorf("downCnt after repeated failed ticks = %d, want 1 (down must be idempotent)", a.downCnt)
	}
	downed := m.GetDowned()
	if len(downed) != 1 || downed[0] != "a:3306" {
		t.Fatalf("downed = %v, want [a:3306]", downed)
	}
}

func TestInvariantActiveAndDownedDisjoint(t *testing.T) {
	a := &fakeHandle{id: "a:3306", status: syncedStatus("a:3306")}
	handles := map[node.NodeID]*fakeHandle{"a:3306": a}
	m := newTestManager(handles)
	m.Register(context.Background(), []node.NodeID{"a:3306"})
	m.Tick(context.Background())

	active := m.GetActive()
	downed := m.GetDowned()
	for _, id := range active {
		for _, d := range downed {
			if id == d {
				t.Fatalf("node %s present in both active and downed", id)
			}
		}
	}
}

// TestTickPhaseConcurrentMutationsPreserveAllNodes exercises tickPhase's
// bounded worker pool against enough nodes to guarantee overlap (maxTickWorkers
// goroutines probing concurrently). Every node's health is flipped between
// Register and Tick, so the Tick's workers activate and down nodes
// concurrently on the same active/downed snapshots. Every node must end up
// classified correctly with none lost to a clobbered update.
func TestTickPhaseConcurrentMutationsPreserveAllNodes(t *testing.T) {
	const n = 32
	handles := make(map[node.NodeID]*fakeHandle, n)
	seeds := make([]node.NodeID, 0, n)
	for i := 0; i < n; i++ {
		id := node.NodeID(fmt.Sprintf("node%02d:3306", i))
		h := &fakeHandle{id: id, status: syncedStatus(string(id))}
		if i%3 == 0 {
			h.refreshErr = fmt.Errorf("connection refused")
		}
		handles[id] = h
		seeds = append(seeds, id)
	}

	m := newTestManager(handles)
	m.Register(context.Background(), seeds)

	for _, h := range handles {
		if h.refreshErr != nil {
			h.refreshErr = nil
		} else {
			h.refreshErr = fmt.Errorf("connection refused")
		}
	}
	m.Tick(context.Background())

	active := m.GetActive()
	downed := m.GetDowned()
	if len(active)+len(downed) != n {
		t.Fatalf("active(%d) + downed(%d) = %d, want %d (a node was lost)", len(active), len(downed), len(active)+len(downed), n)
	}

	seen := make(map[node.NodeID]bool, n)
	for _, id := range append(append([]node.NodeID{}, active...), downed...) {
		if seen[id] {
			t.Fatalf("node %s present more than once across active/downed", id)
		}
		seen[id] = true
	}

	for id, h := range handles {
		wantDowned := h.refreshErr != nil
		gotDowned := false
		for _, d := range downed {
			if d == id {
				gotDowned = true
			}
		}
		if gotDowned != wantDowned {
			t.Errorf("node %s downed = %v, want %v", id, gotDowned, wantDowned)
		}
	}
}
