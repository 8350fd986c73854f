// Package monitor publishes quarantine events on a ZeroMQ PUB socket so that
// dashboards outside the simulator can follow node failures.
//
// The feed is one-way observability: simulation messages never travel over
// it.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/logging"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
)

// Topic is the first frame of every quarantine message.
const Topic = "quarantine"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher sends quarantine events to ZeroMQ subscribers.
type Publisher struct {
	endpoint string
	sock     zmq4.Socket
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan network.QuarantineEvent
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewPublisher binds a PUB socket on endpoint and starts the send loop.
func NewPublisher(endpoint string, logger *logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to bind publisher on %s: %w", endpoint, err)
	}

	p := &Publisher{
		endpoint: endpoint,
		sock:     sock,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan network.QuarantineEvent, 256),
	}

	p.wg.Add(1)
	go p.sendLoop()

	logger.Info.Printf("quarantine feed listening on %s", endpoint)
	return p, nil
}

// Endpoint returns the bound endpoint.
func (p *Publisher) Endpoint() string {
	return p.endpoint
}

// Handler returns a network.QuarantineHandler that queues events for
// publication. It never blocks; events are dropped when the queue is full.
func (p *Publisher) Handler() network.QuarantineHandler {
	return func(ev network.QuarantineEvent) {
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			return
		}
		select {
		case p.events <- ev:
		default:
			p.dropped.Add(1)
		}
	}
}

// Publish sends ev synchronously.
func (p *Publisher) Publish(ev network.QuarantineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.sock.Send(zmq4.NewMsgFrom([]byte(Topic), payload)); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// sendLoop drains queued events until Close.
func (p *Publisher) sendLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.events:
			if err := p.Publish(ev); err != nil {
				p.log.Warn.Printf("quarantine feed: %v", err)
			}
		}
	}
}

// Close stops the send loop and closes the socket. Queued events that were
// not yet sent are discarded.
func (p *Publisher) Close() error {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sock.Close()
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Endpoint string `json:"endpoint"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

// GetStats returns publisher statistics.
func (p *Publisher) GetStats() PublisherStats {
	return PublisherStats{
		Endpoint: p.endpoint,
		Sent:     p.sent.Load(),
		Dropped:  p.dropped.Load(),
		Failed:   p.failed.Load(),
	}
}
