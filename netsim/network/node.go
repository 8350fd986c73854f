package network

import (
	"context"
	"fmt"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
)

// Sink accepts messages for one node. Send returns an error once the
// node's endpoint is permanently unavailable.
type Sink[T any] interface {
	Send(ctx context.Context, msg T) error
}

// Ingress is the consumer side of a category's queue.
type Ingress[T any] interface {
	Receive(ctx context.Context) (T, error)
}

// Node is the network's view of a simulated node: one inbound sink per
// category. ID is only used in logs, stats and quarantine events.
type Node struct {
	ID                   string
	Transactions         Sink[data.Transaction]
	MinedBlocks          Sink[data.Block]
	VerifyRequests       Sink[data.BlockVerifyRequest]
	MissingBlockRequests Sink[data.MissingBlockRequest]
}

// Category identifies one of the four message pipelines.
type Category int

const (
	CategoryTransaction Category = iota
	CategoryMinedBlock
	CategoryVerifyRequest
	CategoryMissingBlock
)

// Categories lists every category in pipeline order.
var Categories = []Category{
	CategoryTransaction,
	CategoryMinedBlock,
	CategoryVerifyRequest,
	CategoryMissingBlock,
}

func (c Category) String() string {
	switch c {
	case CategoryTransaction:
		return "transaction"
	case CategoryMinedBlock:
		return "mined_block"
	case CategoryVerifyRequest:
		return "block_verify"
	case CategoryMissingBlock:
		return "missing_block"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(text []byte) error {
	for _, known := range Categories {
		if known.String() == string(text) {
			*c = known
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", text)
}
