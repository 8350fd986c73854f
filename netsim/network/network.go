package network

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/queue"
)

// State is the lifecycle state of a Network.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// statsSource is the non-generic view of a Broadcaster.
type statsSource interface {
	GetStats() BroadcasterStats
}

// Network owns the four pipelines and supervises their broadcasters.
type Network struct {
	channels *channels
	opts     options

	mu           sync.RWMutex
	state        State
	broadcasters []statsSource
}

// New creates an unconfigured network.
func New(opts ...Option) *Network {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Network{
		channels: newChannels(),
		opts:     o,
		state:    StateUnconfigured,
	}
}

// TransactionSender returns a producer for the transaction ingress.
func (n *Network) TransactionSender() queue.Sender[data.Transaction] {
	return n.channels.transactions.ingress.Sender()
}

// MinedBlockSender returns a producer for the mined-block ingress.
func (n *Network) MinedBlockSender() queue.Sender[data.Block] {
	return n.channels.minedBlocks.ingress.Sender()
}

// VerifyRequestSender returns a producer for the block-verify ingress.
func (n *Network) VerifyRequestSender() queue.Sender[data.BlockVerifyRequest] {
	return n.channels.verifyRequests.ingress.Sender()
}

// MissingBlockRequestSender returns a producer for the missing-block ingress.
func (n *Network) MissingBlockRequestSender() queue.Sender[data.MissingBlockRequest] {
	return n.channels.missingBlocks.ingress.Sender()
}

// RegisterNodes appends each node's four sinks to the registries, in order.
//
// Registration is additive: passing a node that is already registered
// makes it receive every message twice. Nodes registered once Run has
// started are recorded but never served by the running broadcasters.
func (n *Network) RegisterNodes(nodes ...Node) error {
	for i, node := range nodes {
		if node.Transactions == nil || node.MinedBlocks == nil ||
			node.VerifyRequests == nil || node.MissingBlockRequests == nil {
			return fmt.Errorf("%w: node %d (%s) is missing a sink", ErrInvalidNode, i, node.ID)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.channels.register(nodes)

	switch n.state {
	case StateUnconfigured:
		if len(nodes) > 0 {
			n.state = StateConfigured
		}
	case StateRunning, StateStopped:
		n.opts.logger.Warn.Printf("registered %d node(s) while %s; running broadcasters will not serve them", len(nodes), n.state)
	}

	n.opts.logger.Info.Printf("registered %d node(s), %d total", len(nodes), n.channels.registered())
	return nil
}

// Run snapshots the registries, starts one broadcaster per category and
// waits for them. In normal operation it returns nil after ctx is
// cancelled. When a broadcaster terminates on its own (closed ingress, or a
// failed sink under PolicyHalt) the other three are cancelled and Run
// returns that error.
func (n *Network) Run(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case StateRunning:
		n.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		n.mu.Unlock()
		return ErrStopped
	}

	c := n.channels
	c.mu.Lock()
	tx := newBroadcaster(CategoryTransaction, Ingress[data.Transaction](c.transactions.ingress.Receiver()), c.transactions.snapshot(), n.opts)
	mb := newBroadcaster(CategoryMinedBlock, Ingress[data.Block](c.minedBlocks.ingress.Receiver()), c.minedBlocks.snapshot(), n.opts)
	vr := newBroadcaster(CategoryVerifyRequest, Ingress[data.BlockVerifyRequest](c.verifyRequests.ingress.Receiver()), c.verifyRequests.snapshot(), n.opts)
	mr := newBroadcaster(CategoryMissingBlock, Ingress[data.MissingBlockRequest](c.missingBlocks.ingress.Receiver()), c.missingBlocks.snapshot(), n.opts)
	sinks := len(c.transactions.registry)
	c.mu.Unlock()

	tx.running.Store(true)
	mb.running.Store(true)
	vr.running.Store(true)
	mr.running.Store(true)

	n.broadcasters = []statsSource{tx, mb, vr, mr}
	n.state = StateRunning
	n.mu.Unlock()

	n.opts.logger.Info.Printf("broadcasting to %d node(s), failure policy %s", sinks, n.opts.policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tx.Run(gctx) })
	g.Go(func() error { return mb.Run(gctx) })
	g.Go(func() error { return vr.Run(gctx) })
	g.Go(func() error { return mr.Run(gctx) })
	err := g.Wait()

	n.mu.Lock()
	n.state = StateStopped
	n.mu.Unlock()

	if err != nil {
		n.opts.logger.Error.Printf("network stopped: %v", err)
		return err
	}
	n.opts.logger.Info.Printf("network stopped")
	return nil
}

// State returns the current lifecycle state.
func (n *Network) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// NodeCount returns the number of registry entries per category.
func (n *Network) NodeCount() int {
	return n.channels.registered()
}

// Stats returns per-category statistics, in Categories order. It is empty
// until Run has started.
func (n *Network) Stats() []BroadcasterStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]BroadcasterStats, 0, len(n.broadcasters))
	for _, b := range n.broadcasters {
		out = append(out, b.GetStats())
	}
	return out
}

// QueueDepths returns the number of messages waiting in each ingress queue,
// keyed by category name.
func (n *Network) QueueDepths() map[string]int {
	c := n.channels
	return map[string]int{
		CategoryTransaction.String():   c.transactions.ingress.Len(),
		CategoryMinedBlock.String():    c.minedBlocks.ingress.Len(),
		CategoryVerifyRequest.String(): c.verifyRequests.ingress.Len(),
		CategoryMissingBlock.String():  c.missingBlocks.ingress.Len(),
	}
}
