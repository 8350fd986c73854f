package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
)

// Subscriber reads quarantine events from a Publisher.
type Subscriber struct {
	sock zmq4.Socket
}

// Subscribe connects to a publisher endpoint.
func Subscribe(ctx context.Context, endpoint string) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, Topic); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &Subscriber{sock: sock}, nil
}

// Next blocks until the next event arrives.
func (s *Subscriber) Next() (network.QuarantineEvent, error) {
	var ev network.QuarantineEvent

	msg, err := s.sock.Recv()
	if err != nil {
		return ev, fmt.Errorf("failed to receive event: %w", err)
	}
	if len(msg.Frames) != 2 || string(msg.Frames[0]) != Topic {
		return ev, fmt.Errorf("unexpected message with %d frames", len(msg.Frames))
	}
	if err := json.Unmarshal(msg.Frames[1], &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// Close closes the socket.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}
