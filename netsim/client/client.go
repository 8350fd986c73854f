// Package client generates synthetic transaction load for the simulated
// network.
package client

import (
	"context"
	crand "crypto/rand"
	"math/rand/v2"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/logging"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
)

// MaxAmount is the exclusive upper bound of generated amounts.
const MaxAmount = 100

// Client is a simulated participant that publishes random transactions.
type Client struct {
	addr    data.Address
	balance uint64
	txs     network.Sink[data.Transaction]

	metrics *network.Metrics
	log     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics counts generated and dropped transactions in m.
func WithMetrics(m *network.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a client with a fresh address and a zero balance that
// publishes to txs.
func New(txs network.Sink[data.Transaction], opts ...Option) *Client {
	c := &Client{
		addr: data.NewAddress(),
		txs:  txs,
		log:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the client's address.
func (c *Client) Address() data.Address {
	return c.addr
}

// Balance returns the client's balance. The simulator never changes it.
func (c *Client) Balance() uint64 {
	return c.balance
}

// Generate builds one transaction from this client with an amount drawn
// uniformly from [0, MaxAmount).
func (c *Client) Generate() data.Transaction {
	return data.NewTransaction(c.addr, newRand().Uint64N(MaxAmount))
}

// Emit generates a transaction and publishes it. A publish failure is
// dropped: lost synthetic load does not affect simulation state.
func (c *Client) Emit(ctx context.Context) {
	tx := c.Generate()
	err := c.txs.Send(ctx, tx)
	c.metrics.RecordEmit(err == nil)
	if err != nil {
		c.log.Debug.Printf("client %s: dropped transaction: %v", c.addr.Short(), err)
	}
}

// newRand returns a generator private to one call, seeded from crypto/rand.
func newRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("client: crypto/rand failed: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

