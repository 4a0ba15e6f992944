// SPDX-License-Identifier: MIT
// Package dbrouter is a client-side, cluster-aware connection router for a
// Galera-style multi-master synchronously-replicated MySQL cluster. It
// discovers live cluster topology, tracks per-node replication health, and
// hands out a connection drawn from a healthy node via a pluggable election
// policy.
package dbrouter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apimgr/dbrouter/config"
	"github.com/apimgr/dbrouter/internal/listener"
	"github.com/apimgr/dbrouter/internal/membership"
	"github.com/apimgr/dbrouter/internal/metrics"
	"github.com/apimgr/dbrouter/internal/node"
	"github.com/apimgr/dbrouter/internal/policy"
	"github.com/apimgr/dbrouter/internal/probe"
	"github.com/apimgr/dbrouter/internal/retry"
	"github.com/apimgr/dbrouter/internal/schedule"
	"github.com/apimgr/dbrouter/internal/statuscache"
)

// ErrNoHostAvailable is returned once an election has exhausted its retry budget.
var ErrNoHostAvailable = errors.New("dbrouter: no host available")

// ConsistencyLevel re-exports node.ConsistencyLevel for callers that only
// import the router package.
type ConsistencyLevel = node.ConsistencyLevel

const (
	ConsistencyEventual       = node.ConsistencyEventual
	ConsistencyReadYourWrites = node.ConsistencyReadYourWrites
	ConsistencyStrict         = node.ConsistencyStrict
)

// Stats is a point-in-time snapshot of router health, suitable for a status
// endpoint or periodic logging.
type Stats struct {
	Active []string
	Downed []string
}

// Router is the external entry point: it routes GetConnection calls through
// the membership manager and an election policy to a single node's pool.
type Router struct {
	cfg     config.Config
	members *membership.Manager
	policy  policy.Policy
	cache   statuscache.Cache
	ticker  *schedule.Ticker
	logger  *slog.Logger
}

// New builds a Router, registers the configured seeds, and starts the
// background discovery scheduler unless TestMode is set.
func New(cfg config.Config) (*Router, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cache statuscache.Cache = statuscache.NewMemory()
	if cfg.CacheStatusInRedis {
		redisCache, err := statuscache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, 0, "", 0)
		if err != nil {
			return nil, fmt.Errorf("dbrouter: %w", err)
		}
		cache = redisCache
	}

	var prober probe.Prober
	if cfg.TestMode {
		prober = testModeProber{}
	} else {
		prober = &probe.SQLProber{Seeds: stringSeeds(cfg.Seeds)}
	}

	var breakers *retry.CircuitBreakerRegistry
	if cfg.CircuitBreakerEnabled {
		breakers = retry.NewCircuitBreakerRegistry(retry.DefaultCircuitBreakerConfig(""))
	}

	l := cfg.Listener
	if l == nil {
		l = &listener.SlogListener{Logger: logger}
	}

	factory := func(id node.NodeID) (node.Handle, error) {
		nodeCfg := node.Config{
			Database:       cfg.Database,
			User:           cfg.User,
			Password:       cfg.Password,
			ConnTimeout:    cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			MaxOpen:        cfg.MaxConnectionsPerHost,
			MinIdle:        cfg.MinIdleConnectionsPerHost,
			IdleTimeout:    cfg.IdleTimeout,
			Autocommit:     cfg.Autocommit,
			ReadOnly:       cfg.ReadOnly,
			IsolationLevel: cfg.IsolationLevel,
		}
		handle, err := node.New(id, nodeCfg, &cachingProber{inner: prober, cache: cache, id: id})
		if err != nil {
			return nil, err
		}
		if status, ok := cache.Get(id); ok {
			handle.SeedStatus(status)
		}
		return handle, nil
	}

	members := membership.New(factory, membership.Config{
		IgnoreDonor: cfg.IgnoreDonor,
		Listener:    l,
		Logger:      logger,
		Breakers:    breakers,
	})

	electionPolicy := cfg.NodeSelectionPolicy
	if electionPolicy == nil {
		electionPolicy = policy.NewRoundRobin()
	}

	r := &Router{
		cfg:     cfg,
		members: members,
		policy:  electionPolicy,
		cache:   cache,
		logger:  logger,
	}

	ctx := context.Background()
	seedRetry := &retry.Config{MaxAttempts: 3, InitialDelay: cfg.ConnectTimeout, MaxDelay: cfg.ConnectTimeout * 4, Multiplier: 2}
	if err := retry.Do(ctx, seedRetry, func() error {
		return members.Register(ctx, cfg.Seeds)
	}); err != nil {
		return nil, fmt.Errorf("dbrouter: register seeds: %w", err)
	}

	if !cfg.TestMode {
		period, err := schedule.ParsePeriod(cfg.DiscoverPeriod)
		if err != nil {
			return nil, fmt.Errorf("dbrouter: discover_period: %w", err)
		}
		r.ticker = schedule.NewTicker(period, members.Tick)
		r.ticker.Start(ctx)
	}

	return r, nil
}

// Tick runs one discovery pass immediately. Used by callers running with
// TestMode (where the scheduler is not started) to drive discovery manually.
func (r *Router) Tick(ctx context.Context) {
	r.members.Tick(ctx)
}

// GetConnection borrows a connection from a healthy node chosen by the
// default election policy, using the default consistency level.
func (r *Router) GetConnection(ctx context.Context) (*sql.Conn, error) {
	return r.GetConnectionWithOptions(ctx, r.cfg.ConsistencyLevel, nil)
}

// GetConnectionWithOptions borrows a connection using an explicit
// consistency level and, optionally, an override election policy.
func (r *Router) GetConnectionWithOptions(ctx context.Context, consistency ConsistencyLevel, override policy.Policy) (*sql.Conn, error) {
	chosenPolicy := override
	if chosenPolicy == nil {
		chosenPolicy = r.policy
	}

	retries := r.cfg.RetriesToGetConnection
	if retries <= 0 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		metrics.ElectionsTotal.Inc()

		id, err := chosenPolicy.ChooseNode(r.members.GetActive())
		if err != nil {
			continue
		}

		handle, ok := r.members.GetNode(id)
		if !ok {
			continue
		}

		borrowCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.ConnectionTimeout > 0 {
			borrowCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectionTimeout)
		}
		conn, err := handle.GetConnection(borrowCtx, consistency)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			r.logger.Warn("connection attempt failed", slog.String("node", string(id)), slog.Any("error", err))
			return nil, fmt.Errorf("dbrouter: %w", err)
		}

		metrics.ConnectionsTotal.WithLabelValues(string(id)).Inc()
		return conn, nil
	}

	metrics.ElectionFailuresTotal.Inc()
	return nil, ErrNoHostAvailable
}

// Stats returns a snapshot of the current active/downed node sets.
func (r *Router) Stats() Stats {
	active := r.members.GetActive()
	downed := r.members.GetDowned()

	stats := Stats{
		Active: make([]string, len(active)),
		Downed: make([]string, len(downed)),
	}
	for i, id := range active {
		stats.Active[i] = string(id)
	}
	for i, id := range downed {
		stats.Downed[i] = string(id)
	}
	return stats
}

// Shutdown stops the discovery scheduler and closes every node's pools.
func (r *Router) Shutdown() error {
	if r.ticker != nil {
		r.ticker.Stop()
	}
	r.members.Shutdown()
	return r.cache.Close()
}

func stringSeeds(seeds []node.NodeID) []string {
	out := make([]string, len(seeds))
	for i, s := range seeds {
		out[i] = string(s)
	}
	return out
}

// testModeProber synthesizes an always-healthy status, letting callers
// exercise election and membership logic without a real MySQL cluster.
type testModeProber struct{}

func (testModeProber) Probe(ctx context.Context, pool *sql.DB) (probe.ClusterStatus, error) {
	return probe.ClusterStatus{
		State:     probe.StateSynced,
		IsPrimary: true,
		IsSynced:  true,
	}, nil
}

// cachingProber wraps a real Prober and writes every successful result back
// to the shared status cache, keeping it warm for the next process start.
// It never serves a result itself; Get is only ever consulted at node
// construction time in New's factory closure.
type cachingProber struct {
	inner probe.Prober
	cache statuscache.Cache
	id    node.NodeID
}

func (c *cachingProber) Probe(ctx context.Context, pool *sql.DB) (probe.ClusterStatus, error) {
	status, err := c.inner.Probe(ctx, pool)
	if err != nil {
		return status, err
	}
	c.cache.Set(c.id, status)
	return status, nil
}
