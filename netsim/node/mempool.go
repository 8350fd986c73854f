package node

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
)

// Common errors for mempool operations
var (
	ErrMempoolFull = errors.New("mempool is full")
)

// pooledTx is a transaction waiting in the mempool.
type pooledTx struct {
	tx  data.Transaction
	seq uint64
}

// priorityQueue orders pooled transactions by amount, then arrival.
type priorityQueue []*pooledTx

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// Higher amount first, then earlier arrival
	if pq[i].tx.Amount != pq[j].tx.Amount {
		return pq[i].tx.Amount > pq[j].tx.Amount
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*pooledTx))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	p := old[n-1]
	old[n-1] = nil // avoid memory leak
	*pq = old[0 : n-1]
	return p
}

// Mempool holds transactions a node has received but not yet included in a
// block.
type Mempool struct {
	queue   priorityQueue
	maxSize int
	nextSeq uint64
	mu      sync.RWMutex
}

// NewMempool creates a new Mempool with the specified maximum size.
func NewMempool(maxSize int) *Mempool {
	m := &Mempool{
		queue:   make(priorityQueue, 0),
		maxSize: maxSize,
	}
	heap.Init(&m.queue)
	return m
}

// Add adds a transaction. Identical transactions are kept as separate
// entries.
func (m *Mempool) Add(tx data.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) >= m.maxSize {
		return ErrMempoolFull
	}

	heap.Push(&m.queue, &pooledTx{tx: tx, seq: m.nextSeq})
	m.nextSeq++
	return nil
}

// PopBatch removes and returns up to n highest-amount transactions.
func (m *Mempool) PopBatch(n int) []data.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || len(m.queue) == 0 {
		return nil
	}
	if n > len(m.queue) {
		n = len(m.queue)
	}

	batch := make([]data.Transaction, 0, n)
	for i := 0; i < n; i++ {
		p := heap.Pop(&m.queue).(*pooledTx)
		batch = append(batch, p.tx)
	}
	return batch
}

// Peek returns up to n highest-amount transactions without removing them.
func (m *Mempool) Peek(n int) []data.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || len(m.queue) == 0 {
		return nil
	}
	if n > len(m.queue) {
		n = len(m.queue)
	}

	sorted := make(priorityQueue, len(m.queue))
	copy(sorted, m.queue)
	heap.Init(&sorted)

	batch := make([]data.Transaction, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, heap.Pop(&sorted).(*pooledTx).tx)
	}
	return batch
}

// Size returns the current number of transactions in the mempool.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

// IsFull returns true if the mempool has reached its maximum size.
func (m *Mempool) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue) >= m.maxSize
}

// Clear removes all transactions from the mempool.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = make(priorityQueue, 0)
	heap.Init(&m.queue)
}

// MempoolStats contains mempool statistics.
type MempoolStats struct {
	Size      int `json:"size"`
	MaxSize   int `json:"max_size"`
	Available int `json:"available"`
}

// Stats returns mempool statistics.
func (m *Mempool) Stats() MempoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MempoolStats{
		Size:      len(m.queue),
		MaxSize:   m.maxSize,
		Available: m.maxSize - len(m.queue),
	}
}
