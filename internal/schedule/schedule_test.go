// SPDX-License-Identifier: MIT
package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestParsePeriodPlainDuration(t *testing.T) {
	d, err := ParsePeriod("5s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 5*time.Second {
		t.Errorf("ParsePeriod = %v, want 5s", d)
	}
}

func TestParsePeriodEvery(t *testing.T) {
	d, err := ParsePeriod("@every 1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != time.Minute {
		t.Errorf("ParsePeriod = %v, want 1m", d)
	}
}

func TestParsePeriodCronExpression(t *testing.T) {
	d, err := ParsePeriod("*/5 * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 5*time.Minute {
		t.Errorf("ParsePeriod = %v, want 5m", d)
	}
}

func TestParsePeriodRejectsGarbage(t *testing.T) {
	if _, err := ParsePeriod("not a schedule"); err == nil {
		t.Errorf("expected error for unrecognized schedule")
	}
}

func TestTickerSkipsOverlap(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	tk := NewTicker(5*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
		<-release
	})

	tk.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	inFlight := atomic.LoadInt32(&calls)
	close(release)
	tk.Stop()

	if inFlight != 1 {
		t.Errorf("calls while first tick in flight = %d, want 1 (no tick may start while another is running)", inFlight)
	}
}
