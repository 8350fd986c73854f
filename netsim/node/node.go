// Package node provides a simulated blockchain node that consumes the
// network's four message categories.
package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/logging"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/queue"
)

const (
	// MaxBlockTransactions caps the mempool batch sealed into one block.
	MaxBlockTransactions = 100

	// knownBlocks bounds the blocks a node keeps for answering missing
	// block requests.
	knownBlocks = 256
)

// Outbound is where a node publishes what it produces. Nil fields are
// skipped.
type Outbound struct {
	Blocks  network.Sink[data.Block]
	Verify  network.Sink[data.BlockVerifyRequest]
	Missing network.Sink[data.MissingBlockRequest]
}

// Node is a simulated participant. It owns one inbound queue per category,
// admits received transactions to its mempool and follows the highest block
// it has seen. When connected it also seals mempool batches into blocks on
// a fixed interval. Real consensus belongs to the consensus layer; mining
// here only generates block traffic.
type Node struct {
	id      string
	addr    data.Address
	mempool *Mempool
	log     *logging.Logger

	txs     *queue.Queue[data.Transaction]
	blocks  *queue.Queue[data.Block]
	verify  *queue.Queue[data.BlockVerifyRequest]
	missing *queue.Queue[data.MissingBlockRequest]

	out           Outbound
	blockInterval time.Duration

	mu         sync.Mutex
	tipHeight  uint64
	tipHash    data.Hash
	known      map[data.Hash]data.Block
	knownOrder []data.Hash

	nonce atomic.Uint64

	txReceived       atomic.Uint64
	txRejected       atomic.Uint64
	blocksReceived   atomic.Uint64
	blocksAdopted    atomic.Uint64
	blocksMined      atomic.Uint64
	verifyReceived   atomic.Uint64
	verifyValid      atomic.Uint64
	verifyInvalid    atomic.Uint64
	missingReceived  atomic.Uint64
	missingRequested atomic.Uint64
	missingServed    atomic.Uint64
	bestHeight       atomic.Uint64

	running   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a node whose mempool holds up to mempoolSize transactions.
func New(id string, mempoolSize int, logger *logging.Logger) *Node {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Node{
		id:      id,
		addr:    data.NewAddress(),
		mempool: NewMempool(mempoolSize),
		log:     logger,
		txs:     queue.New[data.Transaction](),
		blocks:  queue.New[data.Block](),
		verify:  queue.New[data.BlockVerifyRequest](),
		missing: queue.New[data.MissingBlockRequest](),
		known:   make(map[data.Hash]data.Block),
		closed:  make(chan struct{}),
	}
}

// Connect sets the node's producers and mines a block every blockInterval
// while the mempool is not empty. A zero interval or a nil Blocks sink
// disables mining. Connect must be called before Run.
func (n *Node) Connect(out Outbound, blockInterval time.Duration) {
	n.out = out
	n.blockInterval = blockInterval
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Address returns the node's address.
func (n *Node) Address() data.Address {
	return n.addr
}

// Mempool returns the node's mempool.
func (n *Node) Mempool() *Mempool {
	return n.mempool
}

// Inbound returns the network's view of this node.
func (n *Node) Inbound() network.Node {
	return network.Node{
		ID:                   n.id,
		Transactions:         n.txs.Sender(),
		MinedBlocks:          n.blocks.Sender(),
		VerifyRequests:       n.verify.Sender(),
		MissingBlockRequests: n.missing.Sender(),
	}
}

// Tip returns the height and hash of the block the node currently follows.
func (n *Node) Tip() (uint64, data.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tipHeight, n.tipHash
}

// Run drains the inbound queues, and mines when connected, until ctx is
// done or the node is closed.
func (n *Node) Run(ctx context.Context) error {
	n.running.Store(true)
	defer n.running.Store(false)

	var g errgroup.Group
	g.Go(func() error {
		return drain(ctx, n.txs.Receiver(), n.handleTransaction)
	})
	g.Go(func() error {
		return drain(ctx, n.blocks.Receiver(), n.handleBlock)
	})
	g.Go(func() error {
		return drain(ctx, n.verify.Receiver(), n.handleVerify)
	})
	g.Go(func() error {
		return drain(ctx, n.missing.Receiver(), n.handleMissing)
	})
	if n.blockInterval > 0 && n.out.Blocks != nil {
		g.Go(func() error { return n.mine(ctx) })
	}
	return g.Wait()
}

func drain[T any](ctx context.Context, rx queue.Receiver[T], handle func(context.Context, T)) error {
	for {
		msg, err := rx.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		handle(ctx, msg)
	}
}

func (n *Node) handleTransaction(_ context.Context, tx data.Transaction) {
	n.txReceived.Add(1)
	if err := n.mempool.Add(tx); err != nil {
		n.txRejected.Add(1)
		n.log.Debug.Printf("node %s: rejected transaction from %s: %v", n.id, tx.Origin.Short(), err)
	}
}

// handleBlock follows the highest block seen. A new tip whose parent is
// unknown triggers a missing block request for the parent.
func (n *Node) handleBlock(ctx context.Context, b data.Block) {
	n.blocksReceived.Add(1)
	n.log.Debug.Printf("node %s: block %d from %s", n.id, b.Height, b.Miner.Short())

	n.mu.Lock()
	n.remember(b)
	if b.Height <= n.tipHeight {
		n.mu.Unlock()
		return
	}
	_, haveParent := n.known[b.PrevHash]
	orphan := b.Height > 1 && !haveParent
	n.tipHeight, n.tipHash = b.Height, b.Hash
	n.bestHeight.Store(b.Height)
	n.mu.Unlock()

	n.blocksAdopted.Add(1)
	if orphan && n.out.Missing != nil {
		req := data.MissingBlockRequest{Requester: n.addr, Height: b.Height - 1, Hash: b.PrevHash}
		if err := n.out.Missing.Send(ctx, req); err != nil {
			n.log.Debug.Printf("node %s: missing block request dropped: %v", n.id, err)
			return
		}
		n.missingRequested.Add(1)
	}
}

func (n *Node) handleVerify(_ context.Context, r data.BlockVerifyRequest) {
	n.verifyReceived.Add(1)
	if r.Block.Verify() {
		n.verifyValid.Add(1)
		return
	}
	n.verifyInvalid.Add(1)
	n.log.Warn.Printf("node %s: block %d from %s failed verification", n.id, r.Block.Height, r.Requester.Short())
}

// handleMissing republishes a requested block. Only the block's miner
// answers, so one request yields at most one reply.
func (n *Node) handleMissing(ctx context.Context, r data.MissingBlockRequest) {
	n.missingReceived.Add(1)
	n.log.Debug.Printf("node %s: missing block %d requested by %s", n.id, r.Height, r.Requester.Short())

	if r.Requester == n.addr || n.out.Blocks == nil {
		return
	}

	n.mu.Lock()
	b, ok := n.known[r.Hash]
	n.mu.Unlock()
	if !ok || b.Miner != n.addr || b.Height != r.Height {
		return
	}

	if err := n.out.Blocks.Send(ctx, b.Clone()); err != nil {
		n.log.Debug.Printf("node %s: failed to serve block %d: %v", n.id, b.Height, err)
		return
	}
	n.missingServed.Add(1)
}

// remember stores b for missing block requests, evicting the oldest entry
// once knownBlocks is reached. n.mu must be held.
func (n *Node) remember(b data.Block) {
	if _, ok := n.known[b.Hash]; ok {
		return
	}
	if len(n.knownOrder) >= knownBlocks {
		delete(n.known, n.knownOrder[0])
		n.knownOrder = n.knownOrder[1:]
	}
	n.known[b.Hash] = b.Clone()
	n.knownOrder = append(n.knownOrder, b.Hash)
}

func (n *Node) mine(ctx context.Context) error {
	timer := time.NewTimer(n.blockInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.closed:
			return nil
		case <-timer.C:
		}

		n.produceBlock(ctx)
		timer.Reset(n.blockInterval)
	}
}

// produceBlock seals the next mempool batch on top of the current tip and
// publishes it with a verify request. It reports whether a block was sent.
func (n *Node) produceBlock(ctx context.Context) bool {
	txs := n.mempool.PopBatch(MaxBlockTransactions)
	if len(txs) == 0 {
		return false
	}

	height, prev := n.Tip()
	b := data.Block{
		Height:       height + 1,
		PrevHash:     prev,
		Nonce:        n.nonce.Add(1),
		Miner:        n.addr,
		Transactions: txs,
	}
	b.Hash = b.ComputeHash()

	n.mu.Lock()
	n.remember(b)
	n.mu.Unlock()

	if err := n.out.Blocks.Send(ctx, b); err != nil {
		n.log.Debug.Printf("node %s: block %d dropped: %v", n.id, b.Height, err)
		return false
	}
	n.blocksMined.Add(1)
	n.log.Debug.Printf("node %s: mined block %d with %d transactions", n.id, b.Height, len(txs))

	if n.out.Verify != nil {
		req := data.BlockVerifyRequest{Requester: n.addr, Block: b.Clone()}
		if err := n.out.Verify.Send(ctx, req); err != nil {
			n.log.Debug.Printf("node %s: verify request dropped: %v", n.id, err)
		}
	}
	return true
}

// Close closes all inbound queues and stops mining. A network broadcasting
// to this node sees its sinks fail from then on.
func (n *Node) Close() {
	n.closeOnce.Do(func() { close(n.closed) })
	n.txs.Close()
	n.blocks.Close()
	n.verify.Close()
	n.missing.Close()
}

// Stats contains node statistics.
type Stats struct {
	NodeID           string       `json:"node_id"`
	IsRunning        bool         `json:"is_running"`
	TxReceived       uint64       `json:"tx_received"`
	TxRejected       uint64       `json:"tx_rejected"`
	BlocksReceived   uint64       `json:"blocks_received"`
	BlocksAdopted    uint64       `json:"blocks_adopted"`
	BlocksMined      uint64       `json:"blocks_mined"`
	VerifyReceived   uint64       `json:"verify_received"`
	VerifyValid      uint64       `json:"verify_valid"`
	VerifyInvalid    uint64       `json:"verify_invalid"`
	MissingReceived  uint64       `json:"missing_received"`
	MissingRequested uint64       `json:"missing_requested"`
	MissingServed    uint64       `json:"missing_served"`
	BestHeight       uint64       `json:"best_height"`
	MempoolSize      int          `json:"mempool_size"`
	Mempool          MempoolStats `json:"mempool"`
}

// GetStats returns current node statistics.
func (n *Node) GetStats() Stats {
	mp := n.mempool.Stats()
	return Stats{
		NodeID:           n.id,
		IsRunning:        n.running.Load(),
		TxReceived:       n.txReceived.Load(),
		TxRejected:       n.txRejected.Load(),
		BlocksReceived:   n.blocksReceived.Load(),
		BlocksAdopted:    n.blocksAdopted.Load(),
		BlocksMined:      n.blocksMined.Load(),
		VerifyReceived:   n.verifyReceived.Load(),
		VerifyValid:      n.verifyValid.Load(),
		VerifyInvalid:    n.verifyInvalid.Load(),
		MissingReceived:  n.missingReceived.Load(),
		MissingRequested: n.missingRequested.Load(),
		MissingServed:    n.missingServed.Load(),
		BestHeight:       n.bestHeight.Load(),
		MempoolSize:      mp.Size,
		Mempool:          mp,
	}
}
