// Package network implements the in-process message fan-out of the
// simulator.
//
// Four categories (transactions, mined blocks, block-verify requests and
// missing-block requests) each have one unbounded ingress queue and an
// ordered registry of node sinks. A Broadcaster per category drains its
// ingress and forwards every message to each registered sink, in
// registration order, one sink at a time.
//
// Nodes must be registered before Run. A broadcaster snapshots its sinks
// when it starts; nodes registered afterwards never receive from it.
package network
