// Package sim assembles a complete simulation from a Config: mining nodes,
// the network coordinator, clients with their trigger loops, and the
// optional metrics endpoint, event feed and delivery report.
package sim

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HieraChain-NetSim/api"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/client"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/config"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/logging"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/monitor"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/node"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/report"
)

// Namespace prefixes every exported metric.
const Namespace = "netsim"

// Simulation is a fully wired, not yet running simulation.
type Simulation struct {
	cfg      *config.Config
	log      *logging.Logger
	network  *network.Network
	nodes    []*node.Node
	clients  []*client.Client
	triggers []*client.Trigger

	metrics   *network.Metrics
	publisher *monitor.Publisher
	server    *api.MetricsServer
	listener  net.Listener
}

// New builds a simulation. reg receives all collectors; a nil reg creates a
// private registry.
func New(cfg *config.Config, logger *logging.Logger, reg *prometheus.Registry) (s *Simulation, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	policy, err := network.ParsePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	s = &Simulation{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	metrics := network.NewMetrics(Namespace, reg)
	s.metrics = metrics
	opts := []network.Option{
		network.WithPolicy(policy),
		network.WithMetrics(metrics),
		network.WithLogger(logger.With("network")),
	}

	if cfg.EventsAddr != "" {
		s.publisher, err = monitor.NewPublisher(cfg.EventsAddr, logger.With("monitor"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, network.WithQuarantineHandler(s.publisher.Handler()))
	}

	s.network = network.New(opts...)

	outbound := node.Outbound{
		Blocks:  s.network.MinedBlockSender(),
		Verify:  s.network.VerifyRequestSender(),
		Missing: s.network.MissingBlockRequestSender(),
	}
	inbound := make([]network.Node, 0, cfg.Nodes)
	for i := 0; i < cfg.Nodes; i++ {
		n := node.New(fmt.Sprintf("node-%d", i), cfg.MempoolSize, logger.With("node"))
		n.Connect(outbound, cfg.BlockInterval())
		s.nodes = append(s.nodes, n)
		inbound = append(inbound, n.Inbound())
	}
	if err := s.network.RegisterNodes(inbound...); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Clients; i++ {
		c := client.New(s.network.TransactionSender(),
			client.WithMetrics(metrics),
			client.WithLogger(logger.With("client")),
		)
		t, err := client.NewTriggerFromConfig(c, cfg)
		if err != nil {
			return nil, err
		}
		s.clients = append(s.clients, c)
		s.triggers = append(s.triggers, t)
	}

	if cfg.MetricsAddr != "" {
		s.listener, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.MetricsAddr, err)
		}
		s.server = api.NewMetricsServer(cfg.MetricsAddr, reg, s.network)
	}

	return s, nil
}

// Network returns the coordinator.
func (s *Simulation) Network() *network.Network {
	return s.network
}

// Metrics returns the collectors shared by the network and the clients.
func (s *Simulation) Metrics() *network.Metrics {
	return s.metrics
}

// Nodes returns the simulated nodes in registration order.
func (s *Simulation) Nodes() []*node.Node {
	return s.nodes
}

// Clients returns the transaction generators.
func (s *Simulation) Clients() []*client.Client {
	return s.clients
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Simulation) MetricsAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run runs every component until ctx is cancelled, then writes the delivery
// report if one is configured. The first component error is returned.
func (s *Simulation) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.server != nil {
		g.Go(func() error { return s.server.Serve(s.listener) })
		g.Go(func() error {
			<-gctx.Done()
			return s.server.Stop()
		})
	}

	for _, n := range s.nodes {
		g.Go(func() error { return n.Run(gctx) })
	}
	g.Go(func() error { return s.network.Run(gctx) })
	for _, t := range s.triggers {
		g.Go(func() error { return t.Run(gctx) })
	}

	s.log.Info.Printf("simulation running: %d nodes, %d clients", len(s.nodes), len(s.triggers))
	runErr := g.Wait()
	s.release()

	if s.cfg.ReportPath != "" {
		if err := report.NewWriter().WriteFile(s.cfg.ReportPath, s.network.Stats()); err != nil {
			s.log.Error.Printf("failed to write report: %v", err)
			runErr = errors.Join(runErr, err)
		} else {
			s.log.Info.Printf("delivery report written to %s", s.cfg.ReportPath)
		}
	}
	return runErr
}

// release closes resources acquired by New.
func (s *Simulation) release() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.log.Warn.Printf("failed to close event publisher: %v", err)
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
