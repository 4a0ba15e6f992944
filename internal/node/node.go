// SPDX-License-Identifier: MIT
// Package node owns a single cluster member's connection pools and last-known status.
package node

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/apimgr/dbrouter/internal/probe"
)

// ConsistencyLevel selects a wsrep_sync_wait session directive.
type ConsistencyLevel int

const (
	// ConsistencyEventual issues no sync wait; the default.
	ConsistencyEventual ConsistencyLevel = iota
	// ConsistencyReadYourWrites waits on a node's own last-written GTID.
	ConsistencyReadYourWrites
	// ConsistencyStrict waits on all causality checks.
	ConsistencyStrict
)

func (c ConsistencyLevel) syncWaitValue() int {
	switch c {
	case ConsistencyStrict:
		return 7
	case ConsistencyReadYourWrites:
		return 1
	default:
		return 0
	}
}

// Handle is the contract the core depends on for one cluster member.
type Handle interface {
	ID() NodeID
	RefreshStatus(ctx context.Context) error
	Status() probe.ClusterStatus
	GetConnection(ctx context.Context, consistency ConsistencyLevel) (*sql.Conn, error)
	OnActivate()
	OnDown()
	Shutdown() error
}

// NodeID identifies a cluster member, typically "host:port".
type NodeID string

// Config controls how a node's pools are built and how each borrowed
// connection's session is prepared.
type Config struct {
	Database    string
	User        string
	Password    string
	ConnTimeout time.Duration
	ReadTimeout time.Duration
	MaxOpen     int
	MinIdle     int
	IdleTimeout time.Duration
	Autocommit  bool

	// ReadOnly, when set, puts every borrowed connection's session into
	// "SET SESSION TRANSACTION READ ONLY" before handing it back.
	ReadOnly bool
	// IsolationLevel, when non-empty, is issued as
	// "SET SESSION TRANSACTION ISOLATION LEVEL <value>" (e.g.
	// "READ COMMITTED", "REPEATABLE READ") on every borrowed connection.
	IsolationLevel string
}

// SQLHandle is the concrete Handle backed by two database/sql pools: a
// primary pool for application traffic and a small read-only pool reserved
// for status probes so probe traffic can never starve application traffic.
type SQLHandle struct {
	id  NodeID
	cfg Config

	primary *sql.DB
	probes  *sql.DB
	prober  probe.Prober

	mu       sync.RWMutex
	status   probe.ClusterStatus
	quiesced atomic.Bool
}

// New opens both pools for id ("host:port") and returns an unstarted handle;
// the caller is responsible for the first RefreshStatus call.
func New(id NodeID, cfg Config, prober probe.Prober) (*SQLHandle, error) {
	host, port, err := splitHostPort(string(id))
	if err != nil {
		return nil, err
	}

	primary, err := sql.Open("mysql", dsn(host, port, cfg, false))
	if err != nil {
		return nil, fmt.Errorf("node %s: open primary pool: %w", id, err)
	}
	primary.SetMaxOpenConns(cfg.MaxOpen)
	primary.SetMaxIdleConns(cfg.MinIdle)
	primary.SetConnMaxIdleTime(cfg.IdleTimeout)

	probes, err := sql.Open("mysql", dsn(host, port, cfg, true))
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("node %s: open probe pool: %w", id, err)
	}
	probes.SetMaxOpenConns(8)
	probes.SetMaxIdleConns(4)

	return &SQLHandle{
		id:      id,
		cfg:     cfg,
		primary: primary,
		probes:  probes,
		prober:  prober,
	}, nil
}

func dsn(host, port string, cfg Config, readOnly bool) string {
	d := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&sql_mode=STRICT_TRANS_TABLES&autocommit=%t",
		cfg.User, cfg.Password, host, port, cfg.Database, cfg.Autocommit)
	if cfg.ConnTimeout > 0 {
		d += fmt.Sprintf("&timeout=%s", cfg.ConnTimeout)
	}
	if cfg.ReadTimeout > 0 {
		d += fmt.Sprintf("&readTimeout=%s", cfg.ReadTimeout)
	}
	if readOnly {
		d += "&readOnly=true"
	}
	return d
}

func (h *SQLHandle) ID() NodeID { return h.id }

// SeedStatus installs an initial status (typically pulled from a shared
// advisory cache) so Status() has something plausible to report before the
// first real RefreshStatus completes. It is never called again afterward.
func (h *SQLHandle) SeedStatus(status probe.ClusterStatus) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *SQLHandle) RefreshStatus(ctx context.Context) error {
	status, err := h.prober.Probe(ctx, h.probes)
	if err != nil {
		return fmt.Errorf("node %s: %w", h.id, err)
	}

	h.mu.Lock()
	h.status = status
	h.mu.Unlock()

	return nil
}

func (h *SQLHandle) Status() probe.ClusterStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// GetConnection borrows a connection from the primary pool. It refuses to
// hand one out while the node is quiesced (OnDown), even if the pool itself
// is technically able to serve one.
func (h *SQLHandle) GetConnection(ctx context.Context, consistency ConsistencyLevel) (*sql.Conn, error) {
	if h.quiesced.Load() {
		return nil, fmt.Errorf("node %s: quiesced", h.id)
	}

	conn, err := h.primary.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("node %s: get connection: %w", h.id, err)
	}

	if wait := consistency.syncWaitValue(); wait > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION wsrep_sync_wait = %d", wait)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("node %s: set consistency: %w", h.id, err)
		}
	}

	if h.cfg.IsolationLevel != "" {
		stmt := fmt.Sprintf("SET SESSION TRANSACTION ISOLATION LEVEL %s", h.cfg.IsolationLevel)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("node %s: set isolation level: %w", h.id, err)
		}
	}

	if h.cfg.ReadOnly {
		if _, err := conn.ExecContext(ctx, "SET SESSION TRANSACTION READ ONLY"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("node %s: set read only: %w", h.id, err)
		}
	}

	return conn, nil
}

// OnActivate clears the quiesced gate so GetConnection resumes serving traffic.
func (h *SQLHandle) OnActivate() {
	h.quiesced.Store(false)
}

// OnDown gates GetConnection without resizing or closing the underlying
// pool, so connections already checked out by in-flight callers are left alone.
func (h *SQLHandle) OnDown() {
	h.quiesced.Store(true)
}

func (h *SQLHandle) Shutdown() error {
	err1 := h.primary.Close()
	err2 := h.probes.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
