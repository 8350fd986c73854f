package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/data"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/queue"
)

// inbox holds the four inbound queues of a test node.
type inbox struct {
	txs     *queue.Queue[data.Transaction]
	blocks  *queue.Queue[data.Block]
	verify  *queue.Queue[data.BlockVerifyRequest]
	missing *queue.Queue[data.MissingBlockRequest]
}

func newTestNode(id string) (Node, *inbox) {
	in := &inbox{
		txs:     queue.New[data.Transaction](),
		blocks:  queue.New[data.Block](),
		verify:  queue.New[data.BlockVerifyRequest](),
		missing: queue.New[data.MissingBlockRequest](),
	}
	return Node{
		ID:                   id,
		Transactions:         in.txs.Sender(),
		MinedBlocks:          in.blocks.Sender(),
		VerifyRequests:       in.verify.Sender(),
		MissingBlockRequests: in.missing.Sender(),
	}, in
}

// receiveN reads n messages from q or fails the test after a timeout.
func receiveN[T any](t *testing.T, q *queue.Queue[T], n int) []T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := q.Receiver().Receive(ctx)
		if err != nil {
			t.Fatalf("Expected %d messages, got %d: %v", n, len(out), err)
		}
		out = append(out, v)
	}
	return out
}

// expectNothing fails if q receives a message within a short window.
func expectNothing[T any](t *testing.T, q *queue.Queue[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if v, err := q.Receiver().Receive(ctx); err == nil {
		t.Fatalf("Expected no message, got %+v", v)
	}
}

// startNetwork runs n in the background and waits until it is running.
func startNetwork(t *testing.T, n *Network) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()

	deadline := time.After(time.Second)
	for n.State() != StateRunning {
		select {
		case <-deadline:
			cancel()
			t.Fatal("Timeout waiting for network to start")
		case err := <-errCh:
			cancel()
			t.Fatalf("Run returned early: %v", err)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	return cancel, errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for Run to return")
		return nil
	}
}

func TestNewNetwork(t *testing.T) {
	n := New()

	if n.State() != StateUnconfigured {
		t.Errorf("Expected unconfigured, got %s", n.State())
	}
	if n.NodeCount() != 0 {
		t.Errorf("Expected 0 nodes, got %d", n.NodeCount())
	}
	if len(n.Stats()) != 0 {
		t.Errorf("Expected no stats before Run, got %d", len(n.Stats()))
	}
}

func TestThreeNodeTransactionScenario(t *testing.T) {
	n := New()
	a, b := data.NewAddress(), data.NewAddress()

	var inboxes []*inbox
	for i := 0; i < 3; i++ {
		node, in := newTestNode(fmt.Sprintf("node-%d", i))
		if err := n.RegisterNodes(node); err != nil {
			t.Fatalf("RegisterNodes failed: %v", err)
		}
		inboxes = append(inboxes, in)
	}
	if n.State() != StateConfigured {
		t.Errorf("Expected configured, got %s", n.State())
	}

	ctx := context.Background()
	_ = n.TransactionSender().Send(ctx, data.NewTransaction(a, 10))
	_ = n.TransactionSender().Send(ctx, data.NewTransaction(b, 20))

	cancel, errCh := startNetwork(t, n)

	want := []data.Transaction{{Origin: a, Amount: 10}, {Origin: b, Amount: 20}}
	for i, in := range inboxes {
		got := receiveN(t, in.txs, 2)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("node-%d transactions mismatch (-want +got):\n%s", i, diff)
		}
		expectNothing(t, in.txs)
	}

	cancel()
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if n.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", n.State())
	}
}

func TestEveryNodeSeesSameOrderInEveryCategory(t *testing.T) {
	const (
		numNodes    = 5
		numMessages = 50
	)

	n := New()
	var nodes []Node
	var inboxes []*inbox
	for i := 0; i < numNodes; i++ {
		node, in := newTestNode(fmt.Sprintf("node-%d", i))
		nodes = append(nodes, node)
		inboxes = append(inboxes, in)
	}
	if err := n.RegisterNodes(nodes...); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	origin := data.NewAddress()
	var (
		txs     []data.Transaction
		blocks  []data.Block
		verify  []data.BlockVerifyRequest
		missing []data.MissingBlockRequest
	)
	for i := 0; i < numMessages; i++ {
		tx := data.NewTransaction(origin, uint64(i))
		blk := data.Block{Height: uint64(i), Miner: origin, Transactions: []data.Transaction{tx}}
		vr := data.BlockVerifyRequest{Requester: origin, Block: blk}
		mr := data.MissingBlockRequest{Requester: origin, Height: uint64(i)}

		txs = append(txs, tx)
		blocks = append(blocks, blk)
		verify = append(verify, vr)
		missing = append(missing, mr)

		_ = n.TransactionSender().Send(ctx, tx)
		_ = n.MinedBlockSender().Send(ctx, blk)
		_ = n.VerifyRequestSender().Send(ctx, vr)
		_ = n.MissingBlockRequestSender().Send(ctx, mr)
	}

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	for i, in := range inboxes {
		if diff := cmp.Diff(txs, receiveN(t, in.txs, numMessages)); diff != "" {
			t.Errorf("node-%d transactions (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(blocks, receiveN(t, in.blocks, numMessages)); diff != "" {
			t.Errorf("node-%d blocks (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(verify, receiveN(t, in.verify, numMessages)); diff != "" {
			t.Errorf("node-%d verify requests (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(missing, receiveN(t, in.missing, numMessages)); diff != "" {
			t.Errorf("node-%d missing-block requests (-want +got):\n%s", i, diff)
		}
	}

	for _, st := range n.Stats() {
		if st.Received != numMessages {
			t.Errorf("%s: expected %d received, got %d", st.Category, numMessages, st.Received)
		}
		for _, s := range st.Sinks {
			if s.Delivered != numMessages {
				t.Errorf("%s sink %d: expected %d delivered, got %d", st.Category, s.Index, numMessages, s.Delivered)
			}
		}
	}

	cancel()
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestLateRegistrationIsInvisible(t *testing.T) {
	n := New()
	early, earlyIn := newTestNode("early")
	if err := n.RegisterNodes(early); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	origin := data.NewAddress()
	_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, 1))

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	late, lateIn := newTestNode("late")
	if err := n.RegisterNodes(late); err != nil {
		t.Fatal(err)
	}
	if n.NodeCount() != 2 {
		t.Errorf("Expected 2 registry entries, got %d", n.NodeCount())
	}

	_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, 2))
	_ = n.MinedBlockSender().Send(ctx, data.Block{Height: 1})

	got := receiveN(t, earlyIn.txs, 2)
	if got[0].Amount != 1 || got[1].Amount != 2 {
		t.Errorf("Early node got %+v", got)
	}
	receiveN(t, earlyIn.blocks, 1)

	expectNothing(t, lateIn.txs)
	expectNothing(t, lateIn.blocks)

	for _, st := range n.Stats() {
		if len(st.Sinks) != 1 {
			t.Errorf("%s: expected snapshot of 1 sink, got %d", st.Category, len(st.Sinks))
		}
	}

	cancel()
	_ = waitRun(t, errCh)
}

func TestDuplicateRegistrationDeliversTwice(t *testing.T) {
	n := New()
	node, in := newTestNode("dup")
	_ = n.RegisterNodes(node)
	_ = n.RegisterNodes(node)

	if n.NodeCount() != 2 {
		t.Fatalf("Expected 2 registry entries, got %d", n.NodeCount())
	}

	_ = n.TransactionSender().Send(context.Background(), data.NewTransaction(data.NewAddress(), 5))

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	got := receiveN(t, in.txs, 2)
	if got[0] != got[1] {
		t.Errorf("Expected the same transaction twice, got %+v", got)
	}
	expectNothing(t, in.txs)

	cancel()
	_ = waitRun(t, errCh)
}

func TestRegisterNodesRejectsMissingSink(t *testing.T) {
	n := New()
	node, _ := newTestNode("broken")
	node.VerifyRequests = nil

	err := n.RegisterNodes(node)
	if !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("Expected ErrInvalidNode, got %v", err)
	}
	if n.NodeCount() != 0 {
		t.Errorf("Rejected node should not be registered, got %d", n.NodeCount())
	}
	if n.State() != StateUnconfigured {
		t.Errorf("Expected unconfigured, got %s", n.State())
	}
}

func TestHaltPolicyStopsCategory(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	n := New(WithPolicy(PolicyHalt), WithMetrics(metrics))

	var nodes []Node
	var inboxes []*inbox
	for i := 0; i < 3; i++ {
		node, in := newTestNode(fmt.Sprintf("node-%d", i))
		nodes = append(nodes, node)
		inboxes = append(inboxes, in)
	}
	_ = n.RegisterNodes(nodes...)

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	ctx := context.Background()
	origin := data.NewAddress()

	_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, 1))
	for _, in := range inboxes {
		receiveN(t, in.txs, 1)
	}

	// Other categories run alongside the transaction pipeline until it halts.
	_ = n.MinedBlockSender().Send(ctx, data.Block{Height: 9})
	for _, in := range inboxes {
		if got := receiveN(t, in.blocks, 1); got[0].Height != 9 {
			t.Errorf("Expected block 9, got %d", got[0].Height)
		}
	}

	inboxes[1].txs.Close()
	_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, 2))
	_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, 3))

	// The halt ends Run without any cancellation from the caller.
	if err := waitRun(t, errCh); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("Expected ErrSinkClosed from Run, got %v", err)
	}
	if n.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", n.State())
	}

	// Sink 0 precedes the dead sink, so it still gets message 2.
	if got := receiveN(t, inboxes[0].txs, 1); got[0].Amount != 2 {
		t.Errorf("node-0 expected amount 2, got %d", got[0].Amount)
	}
	expectNothing(t, inboxes[0].txs)
	expectNothing(t, inboxes[2].txs)

	stats := n.Stats()
	if stats[CategoryTransaction].Error == "" {
		t.Error("Expected halt error in stats")
	}
	for _, st := range stats {
		if st.IsRunning {
			t.Errorf("%s broadcaster should have stopped with the network", st.Category)
		}
	}
	if v := testutil.ToFloat64(metrics.BroadcasterHalts.WithLabelValues("transaction")); v != 1 {
		t.Errorf("Expected 1 halt, got %v", v)
	}
}

func TestQuarantinePolicyIsolatesDeadSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)

	var mu sync.Mutex
	var events []QuarantineEvent
	n := New(
		WithMetrics(metrics),
		WithQuarantineHandler(func(ev QuarantineEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}),
	)

	var nodes []Node
	var inboxes []*inbox
	for i := 0; i < 3; i++ {
		node, in := newTestNode(fmt.Sprintf("node-%d", i))
		nodes = append(nodes, node)
		inboxes = append(inboxes, in)
	}
	_ = n.RegisterNodes(nodes...)

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	ctx := context.Background()
	origin := data.NewAddress()

	inboxes[1].txs.Close()
	for i := 1; i <= 3; i++ {
		_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, uint64(i)))
	}

	for _, idx := range []int{0, 2} {
		got := receiveN(t, inboxes[idx].txs, 3)
		for i, tx := range got {
			if tx.Amount != uint64(i+1) {
				t.Errorf("node-%d message %d: expected amount %d, got %d", idx, i, i+1, tx.Amount)
			}
		}
	}

	mu.Lock()
	if len(events) != 1 {
		t.Fatalf("Expected 1 quarantine event, got %d", len(events))
	}
	ev := events[0]
	mu.Unlock()

	if ev.Category != CategoryTransaction || ev.SinkIndex != 1 || ev.NodeID != "node-1" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.Err == "" {
		t.Error("Event should carry the send error")
	}

	st := n.Stats()[CategoryTransaction]
	if !st.IsRunning {
		t.Error("Transaction broadcaster should keep running")
	}
	if !st.Sinks[1].Quarantined || st.Sinks[0].Quarantined || st.Sinks[2].Quarantined {
		t.Errorf("Unexpected quarantine flags: %+v", st.Sinks)
	}
	if v := testutil.ToFloat64(metrics.SinksQuarantined.WithLabelValues("transaction")); v != 1 {
		t.Errorf("Expected 1 quarantined sink, got %v", v)
	}
	if v := testutil.ToFloat64(metrics.MessagesReceived.WithLabelValues("transaction")); v != 3 {
		t.Errorf("Expected 3 received, got %v", v)
	}

	cancel()
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestClosedIngressTerminatesBroadcaster(t *testing.T) {
	n := New()
	node, in := newTestNode("node-0")
	_ = n.RegisterNodes(node)

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	_ = n.MinedBlockSender().Send(context.Background(), data.Block{Height: 1})
	receiveN(t, in.blocks, 1)

	n.TransactionSender().Close()

	if err := waitRun(t, errCh); !errors.Is(err, ErrIngressClosed) {
		t.Fatalf("Expected ErrIngressClosed, got %v", err)
	}
	for _, st := range n.Stats() {
		if st.IsRunning {
			t.Errorf("%s broadcaster should have stopped with the network", st.Category)
		}
	}
	if n.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", n.State())
	}
}

func TestRunTwice(t *testing.T) {
	n := New()
	cancel, errCh := startNetwork(t, n)

	if err := n.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	_ = waitRun(t, errCh)

	if err := n.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestDeliveredBlocksAreIndependentCopies(t *testing.T) {
	n := New()
	n0, in0 := newTestNode("node-0")
	n1, in1 := newTestNode("node-1")
	_ = n.RegisterNodes(n0, n1)

	origin := data.NewAddress()
	blk := data.Block{Height: 1, Transactions: []data.Transaction{data.NewTransaction(origin, 7)}}
	_ = n.MinedBlockSender().Send(context.Background(), blk)

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	b0 := receiveN(t, in0.blocks, 1)[0]
	b1 := receiveN(t, in1.blocks, 1)[0]

	b0.Transactions[0].Amount = 100
	if b1.Transactions[0].Amount != 7 {
		t.Error("Nodes share the same transaction slice")
	}
	if blk.Transactions[0].Amount != 7 {
		t.Error("Delivered block shares the publisher's slice")
	}

	cancel()
	_ = waitRun(t, errCh)
}

func TestCrossCategoryPipelinesAreIndependent(t *testing.T) {
	n := New()
	node, in := newTestNode("node-0")
	_ = n.RegisterNodes(node)

	cancel, errCh := startNetwork(t, n)
	defer cancel()

	ctx := context.Background()
	origin := data.NewAddress()
	for i := 0; i < 20; i++ {
		_ = n.TransactionSender().Send(ctx, data.NewTransaction(origin, uint64(i)))
		_ = n.MinedBlockSender().Send(ctx, data.Block{Height: uint64(i)})
	}

	// Only per-category order is asserted.
	txs := receiveN(t, in.txs, 20)
	blocks := receiveN(t, in.blocks, 20)
	for i := 0; i < 20; i++ {
		if txs[i].Amount != uint64(i) {
			t.Errorf("Transaction %d out of order: %d", i, txs[i].Amount)
		}
		if blocks[i].Height != uint64(i) {
			t.Errorf("Block %d out of order: %d", i, blocks[i].Height)
		}
	}

	cancel()
	_ = waitRun(t, errCh)
}
