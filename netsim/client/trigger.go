package client

import (
	"context"
	"fmt"
	"time"
)

// Source produces and publishes one message per call.
type Source interface {
	Emit(ctx context.Context)
}

// IntervalSource supplies the pause between generated transactions.
type IntervalSource interface {
	TxGenInterval() (time.Duration, error)
}

// Trigger drives a Source at a fixed interval.
type Trigger struct {
	src      Source
	interval time.Duration
}

// NewTrigger creates a trigger that emits from src every interval. A
// negative interval is treated as zero.
func NewTrigger(src Source, interval time.Duration) *Trigger {
	if interval < 0 {
		interval = 0
	}
	return &Trigger{src: src, interval: interval}
}

// NewTriggerFromConfig reads the interval once from cfg. If it cannot be
// read the trigger is not created.
func NewTriggerFromConfig(src Source, cfg IntervalSource) (*Trigger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("failed to start trigger: no interval source")
	}
	interval, err := cfg.TxGenInterval()
	if err != nil {
		return nil, fmt.Errorf("failed to start trigger: %w", err)
	}
	return NewTrigger(src, interval), nil
}

// Interval returns the pause between emissions.
func (t *Trigger) Interval() time.Duration {
	return t.interval
}

// Run emits, then sleeps for the interval, until ctx is done. Every
// iteration waits on a timer, so a zero interval still yields.
func (t *Trigger) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		t.src.Emit(ctx)

		timer.Reset(t.interval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}
