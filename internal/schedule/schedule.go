// SPDX-License-Identifier: MIT
// Package schedule drives the membership manager's periodic, non-overlapping
// discovery tick.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ParsePeriod accepts either a plain Go duration ("5s"), a cron "@every"
// expression, or a standard 5-field cron expression, and returns the
// equivalent fixed interval. Standard cron expressions are resolved to an
// interval by measuring the gap between their next two firings after the
// fixed referenceTime, since the discovery loop only ever needs a fixed-rate
// ticker.
func ParsePeriod(schedule string) (time.Duration, error) {
	if schedule == "" {
		return 0, fmt.Errorf("empty schedule")
	}

	if d, err := time.ParseDuration(schedule); err == nil {
		return d, nil
	}

	fields := strings.Fields(schedule)
	if len(fields) == 5 || strings.HasPrefix(schedule, "@every") {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		sched, err := parser.Parse(schedule)
		if err != nil {
			return 0, fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		first := sched.Next(referenceTime)
		second := sched.Next(first)
		return second.Sub(first), nil
	}

	return 0, fmt.Errorf("unrecognized schedule: %q", schedule)
}

// referenceTime anchors cron interval derivation; any fixed instant works
// because only the gap between consecutive firings is used.
var referenceTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Ticker runs fn at a fixed rate and never runs two calls at once: fn is
// called synchronously from the loop, so a firing that comes due while fn is
// still running waits in the time.Ticker's one-slot channel and runs as soon
// as fn returns (a delayed tick); any further firings in that time are dropped.
type Ticker struct {
	period time.Duration
	fn     func(ctx context.Context)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	inTick atomic.Bool
}

// NewTicker constructs a Ticker that calls fn every period once Start is called.
func NewTicker(period time.Duration, fn func(ctx context.Context)) *Ticker {
	return &Ticker{period: period, fn: fn}
}

// Start begins the periodic loop in a background goroutine.
func (t *Ticker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.run(ctx)
}

func (t *Ticker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.inTick.CompareAndSwap(false, true) {
				continue
			}
			// Stop cancels ctx to end the loop; the tick already running is
			// left to finish undisturbed.
			t.fn(context.WithoutCancel(ctx))
			t.inTick.Store(false)
		}
	}
}

// Stop cancels the loop and waits for any in-flight tick to finish.
func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}
