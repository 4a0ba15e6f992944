// SPDX-License-Identifier: MIT
package policy

import (
	"errors"
	"testing"

	"github.com/apimgr/dbrouter/internal/node"
)

func TestRoundRobinCycles(t *testing.T) {
	active := []node.NodeID{"a", "b", "c"}
	p := NewRoundRobin()

	got := make([]node.NodeID, 6)
	for i := range got {
		n, err := p.ChooseNode(active)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got[i] = n
	}

	want := []node.NodeID{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRoundRobinEmptyActive(t *testing.T) {
	p := NewRoundRobin()
	if _, err := p.ChooseNode(nil); !errors.Is(err, ErrNoNodesAvailable) {
		t.Errorf("expected ErrNoNodesAvailable, got %v", err)
	}
}

func TestRandomOnlyPicksFromActive(t *testing.T) {
	active := []node.NodeID{"a", "b", "c"}
	p := NewRandom(1)

	for i := 0; i < 50; i++ {
		n, err := p.ChooseNode(active)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		found := false
		for _, a := range active {
			if a == n {
				found = true
			}
		}
		if !found {
			t.Errorf("ChooseNode returned %q not in active set", n)
		}
	}
}

func TestWeightedFavorsHeavierNode(t *testing.T) {
	active := []node.NodeID{"light", "heavy"}
	p := NewWeighted(42, map[node.NodeID]float64{"light": 1, "heavy": 99})

	counts := map[node.NodeID]int{}
	for i := 0; i < 200; i++ {
		n, err := p.ChooseNode(active)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[n]++
	}

	if counts["heavy"] <= counts["light"] {
		t.Errorf("expected heavy node to be picked more often: %v", counts)
	}
}

func TestWeightedEmptyActive(t *testing.T) {
	p := NewWeighted(1, nil)
	if _, err := p.ChooseNode(nil); !errors.Is(err, ErrNoNodesAvailable) {
		t.Errorf("expected ErrNoNodesAvailable, got %v", err)
	}
}
