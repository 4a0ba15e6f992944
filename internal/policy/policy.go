// SPDX-License-Identifier: MIT
// Package policy selects one node identifier out of the current active set.
package policy

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/apimgr/dbrouter/internal/node"
)

// ErrNoNodesAvailable is returned when the active set handed to a policy is empty.
var ErrNoNodesAvailable = errors.New("policy: no nodes available")

// Policy chooses one node id from the current active snapshot. Implementations
// must not mutate membership state; they only read the slice handed to them.
type Policy interface {
	ChooseNode(active []node.NodeID) (node.NodeID, error)
}

// RoundRobin cycles through the active slice in index order. It tolerates
// the active set changing shape between calls: the cursor is taken modulo
// the current length, so it never indexes out of range and simply drifts
// relative to prior calls when nodes are added or removed.
type RoundRobin struct {
	cursor uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (p *RoundRobin) ChooseNode(active []node.NodeID) (node.NodeID, error) {
	if len(active) == 0 {
		return "", ErrNoNodesAvailable
	}
	n := atomic.AddUint64(&p.cursor, 1)
	return active[int(n-1)%len(active)], nil
}

// Random picks a uniformly random member of the active set on every call.
type Random struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{r: rand.New(rand.NewSource(seed))}
}

func (p *Random) ChooseNode(active []node.NodeID) (node.NodeID, error) {
	if len(active) == 0 {
		return "", ErrNoNodesAvailable
	}
	p.mu.Lock()
	idx := p.r.Intn(len(active))
	p.mu.Unlock()
	return active[idx], nil
}

// Weighted picks a node with probability proportional to its configured
// weight. Nodes missing from Weights fall back to weight 1, matching an
// operator who only wants to bias a subset of the fleet.
type Weighted struct {
	mu      sync.Mutex
	r       *rand.Rand
	Weights map[node.NodeID]float64
}

func NewWeighted(seed int64, weights map[node.NodeID]float64) *Weighted {
	return &Weighted{r: rand.New(rand.NewSource(seed)), Weights: weights}
}

func (p *Weighted) ChooseNode(active []node.NodeID) (node.NodeID, error) {
	if len(active) == 0 {
		return "", ErrNoNodesAvailable
	}

	total := 0.0
	weights := make([]float64, len(active))
	for i, id := range active {
		w := p.Weights[id]
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	p.mu.Lock()
	pick := p.r.Float64() * total
	p.mu.Unlock()

	for i, w := range weights {
		pick -= w
		if pick <= 0 {
			return active[i], nil
		}
	}
	return active[len(active)-1], nil
}
