package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/logging"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/queue"
)

// Common errors for broadcast operations
var (
	ErrSinkClosed     = errors.New("sink endpoint closed")
	ErrIngressClosed  = errors.New("ingress queue closed")
	ErrAlreadyRunning = errors.New("network already running")
	ErrStopped        = errors.New("network stopped")
	ErrInvalidNode    = errors.New("invalid node")
)

// Policy decides what a broadcaster does when a sink send fails.
type Policy int

const (
	// PolicyQuarantine drops the failed sink from the delivery set, reports
	// a QuarantineEvent and keeps delivering to the remaining sinks.
	PolicyQuarantine Policy = iota

	// PolicyHalt terminates the category's broadcaster on the first failed
	// send. No sink in that category receives anything afterwards.
	PolicyHalt
)

func (p Policy) String() string {
	switch p {
	case PolicyQuarantine:
		return "quarantine"
	case PolicyHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// ParsePolicy parses "quarantine" or "halt".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "quarantine":
		return PolicyQuarantine, nil
	case "halt":
		return PolicyHalt, nil
	default:
		return PolicyQuarantine, fmt.Errorf("unknown failure policy %q", s)
	}
}

// QuarantineEvent reports a sink removed from a running broadcaster.
type QuarantineEvent struct {
	Category  Category  `json:"category"`
	SinkIndex int       `json:"sink_index"`
	NodeID    string    `json:"node_id"`
	Err       string    `json:"error"`
	At        time.Time `json:"at"`
}

// QuarantineHandler is called synchronously from the broadcaster goroutine
// and must not block.
type QuarantineHandler func(QuarantineEvent)

// Option configures a Network or a standalone Broadcast.
type Option func(*options)

type options struct {
	policy       Policy
	metrics      *Metrics
	logger       *logging.Logger
	onQuarantine QuarantineHandler
}

func defaultOptions() options {
	return options{
		policy: PolicyQuarantine,
		logger: logging.Nop(),
	}
}

// WithPolicy sets the delivery failure policy. The default is
// PolicyQuarantine.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics records broadcaster activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQuarantineHandler registers a callback for quarantine events.
func WithQuarantineHandler(h QuarantineHandler) Option {
	return func(o *options) { o.onQuarantine = h }
}

// cloner is implemented by message types that carry references and need
// an explicit deep copy per sink.
type cloner[T any] interface {
	Clone() T
}

func copyOf[T any](msg T) T {
	if c, ok := any(msg).(cloner[T]); ok {
		return c.Clone()
	}
	return msg
}

// target is a snapshotted sink plus its delivery counters.
type target[T any] struct {
	egress[T]
	delivered   atomic.Uint64
	quarantined atomic.Bool
}

// Broadcaster drains one ingress and fans each message out to a fixed list
// of sinks.
type Broadcaster[T any] struct {
	category Category
	in       Ingress[T]
	targets  []*target[T]
	opts     options

	received atomic.Uint64
	running  atomic.Bool

	mu  sync.Mutex
	err error
}

func newBroadcaster[T any](c Category, in Ingress[T], sinks []egress[T], opts options) *Broadcaster[T] {
	targets := make([]*target[T], len(sinks))
	for i, s := range sinks {
		targets[i] = &target[T]{egress: s}
	}
	return &Broadcaster[T]{
		category: c,
		in:       in,
		targets:  targets,
		opts:     opts,
	}
}

// NewBroadcaster creates a broadcaster for c over sinks, in order.
func NewBroadcaster[T any](c Category, in Ingress[T], sinks []Sink[T], opts ...Option) *Broadcaster[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	eg := make([]egress[T], len(sinks))
	for i, s := range sinks {
		eg[i] = egress[T]{nodeID: fmt.Sprintf("sink-%d", i), sink: s}
	}
	return newBroadcaster(c, in, eg, o)
}

// Broadcast runs a broadcaster for c until ctx is done or it terminates.
func Broadcast[T any](ctx context.Context, c Category, in Ingress[T], sinks []Sink[T], opts ...Option) error {
	return NewBroadcaster(c, in, sinks, opts...).Run(ctx)
}

// errShutdown marks a send interrupted by context cancellation.
var errShutdown = errors.New("shutdown")

// Run receives and delivers messages until ctx is done (returns nil), the
// ingress is closed (ErrIngressClosed) or, under PolicyHalt, a sink fails
// (ErrSinkClosed).
func (b *Broadcaster[T]) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	log := b.opts.logger
	log.Debug.Printf("%s broadcaster started with %d sinks", b.category, len(b.targets))

	for {
		msg, err := b.in.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				err = fmt.Errorf("%s broadcaster: %w", b.category, ErrIngressClosed)
			} else if ctx.Err() != nil {
				log.Debug.Printf("%s broadcaster stopped", b.category)
				return nil
			}
			b.setErr(err)
			log.Error.Printf("%v", err)
			return err
		}

		b.received.Add(1)
		b.opts.metrics.RecordReceived(b.category, b.depth())

		if err := b.deliver(ctx, msg); err != nil {
			if errors.Is(err, errShutdown) {
				log.Debug.Printf("%s broadcaster stopped during delivery", b.category)
				return nil
			}
			b.setErr(err)
			return err
		}
	}
}

// deliver sends a copy of msg to every live target, one after another.
func (b *Broadcaster[T]) deliver(ctx context.Context, msg T) error {
	start := time.Now()
	sent := 0

	for i, t := range b.targets {
		if t.quarantined.Load() {
			continue
		}

		if err := t.sink.Send(ctx, copyOf(msg)); err != nil {
			if ctx.Err() != nil {
				return errShutdown
			}
			if b.opts.policy == PolicyHalt {
				b.opts.metrics.RecordHalt(b.category)
				err = fmt.Errorf("%s broadcaster: sink %d (%s): %w: %w", b.category, i, t.nodeID, ErrSinkClosed, err)
				b.opts.logger.Error.Printf("%v; halting category", err)
				return err
			}
			b.quarantine(i, t, err)
			continue
		}

		t.delivered.Add(1)
		sent++
	}

	b.opts.metrics.RecordFanout(b.category, sent, time.Since(start))
	return nil
}

func (b *Broadcaster[T]) quarantine(i int, t *target[T], cause error) {
	t.quarantined.Store(true)
	b.opts.metrics.RecordQuarantine(b.category)
	b.opts.logger.Warn.Printf("%s broadcaster: quarantined sink %d (%s): %v", b.category, i, t.nodeID, cause)

	if b.opts.onQuarantine != nil {
		b.opts.onQuarantine(QuarantineEvent{
			Category:  b.category,
			SinkIndex: i,
			NodeID:    t.nodeID,
			Err:       cause.Error(),
			At:        time.Now(),
		})
	}
}

func (b *Broadcaster[T]) depth() int {
	if l, ok := b.in.(interface{ Len() int }); ok {
		return l.Len()
	}
	return 0
}

func (b *Broadcaster[T]) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// SinkStats describes one registry entry of a broadcaster.
type SinkStats struct {
	Category    string `json:"category"`
	Index       int    `json:"index"`
	NodeID      string `json:"node_id"`
	Delivered   uint64 `json:"delivered"`
	Quarantined bool   `json:"quarantined"`
}

// BroadcasterStats contains broadcaster statistics.
type BroadcasterStats struct {
	Category  string      `json:"category"`
	Received  uint64      `json:"received"`
	IsRunning bool        `json:"is_running"`
	Error     string      `json:"error,omitempty"`
	Sinks     []SinkStats `json:"sinks"`
}

// GetStats returns current broadcaster statistics.
func (b *Broadcaster[T]) GetStats() BroadcasterStats {
	b.mu.Lock()
	var errText string
	if b.err != nil {
		errText = b.err.Error()
	}
	b.mu.Unlock()

	sinks := make([]SinkStats, len(b.targets))
	for i, t := range b.targets {
		sinks[i] = SinkStats{
			Category:    b.category.String(),
			Index:       i,
			NodeID:      t.nodeID,
			Delivered:   t.delivered.Load(),
			Quarantined: t.quarantined.Load(),
		}
	}

	return BroadcasterStats{
		Category:  b.category.String(),
		Received:  b.received.Load(),
		IsRunning: b.running.Load(),
		Error:     errText,
		Sinks:     sinks,
	}
}
