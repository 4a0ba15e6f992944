// SPDX-License-Identifier: MIT
// Package listener carries membership lifecycle notifications out of the
// discovery goroutine.
package listener

import (
	"log/slog"

	"github.com/apimgr/dbrouter/internal/node"
)

// Listener receives membership lifecycle events. Implementations are called
// synchronously from the discovery goroutine and must not block.
type Listener interface {
	OnActivatingNode(id node.NodeID)
	OnMarkingNodeAsDown(id node.NodeID, cause string)
	OnRemovingNode(id node.NodeID)
}

// SlogListener logs every transition through a structured logger, falling
// back to slog.Default() when none is supplied.
type SlogListener struct {
	Logger *slog.Logger
}

func (l *SlogListener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *SlogListener) OnActivatingNode(id node.NodeID) {
	l.logger().Info("node activated", slog.String("node", string(id)))
}

func (l *SlogListener) OnMarkingNodeAsDown(id node.NodeID, cause string) {
	l.logger().Warn("node marked down", slog.String("node", string(id)), slog.String("cause", cause))
}

func (l *SlogListener) OnRemovingNode(id node.NodeID) {
	l.logger().Info("node removed", slog.String("node", string(id)))
}

// noop satisfies Listener without emitting anything, used as the default
// when a caller supplies no listener at all.
type noop struct{}

func (noop) OnActivatingNode(node.NodeID)          {}
func (noop) OnMarkingNodeAsDown(node.NodeID, string) {}
func (noop) OnRemovingNode(node.NodeID)            {}

// Noop returns a Listener that discards every event.
func Noop() Listener { return noop{} }
