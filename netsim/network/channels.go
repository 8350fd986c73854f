package network

import (
	"sync"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/queue"
)

// egress is one registered sink together with the node it belongs to.
type egress[T any] struct {
	nodeID string
	sink   Sink[T]
}

// pipeline is the ingress queue and egress registry of one category.
type pipeline[T any] struct {
	ingress  *queue.Queue[T]
	registry []egress[T]
}

func newPipeline[T any]() pipeline[T] {
	return pipeline[T]{ingress: queue.New[T]()}
}

func (p *pipeline[T]) add(nodeID string, sink Sink[T]) {
	p.registry = append(p.registry, egress[T]{nodeID: nodeID, sink: sink})
}

func (p *pipeline[T]) snapshot() []egress[T] {
	out := make([]egress[T], len(p.registry))
	copy(out, p.registry)
	return out
}

// channels owns the four pipelines.
type channels struct {
	mu sync.Mutex

	transactions   pipeline[data.Transaction]
	minedBlocks    pipeline[data.Block]
	verifyRequests pipeline[data.BlockVerifyRequest]
	missingBlocks  pipeline[data.MissingBlockRequest]
}

func newChannels() *channels {
	return &channels{
		transactions:   newPipeline[data.Transaction](),
		minedBlocks:    newPipeline[data.Block](),
		verifyRequests: newPipeline[data.BlockVerifyRequest](),
		missingBlocks:  newPipeline[data.MissingBlockRequest](),
	}
}

// register appends every node's sinks, in order. It does not deduplicate:
// registering a node twice delivers each message to it twice.
func (c *channels) register(nodes []Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range nodes {
		c.transactions.add(n.ID, n.Transactions)
		c.minedBlocks.add(n.ID, n.MinedBlocks)
		c.verifyRequests.add(n.ID, n.VerifyRequests)
		c.missingBlocks.add(n.ID, n.MissingBlockRequests)
	}
}

// registered returns the number of entries in each registry. All four are
// always the same length.
func (c *channels) registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transactions.registry)
}
