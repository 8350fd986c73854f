package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/config"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/logging"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/monitor"
	"github.com/VanDung-dev/HieraChain-NetSim/netsim/sim"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "HieraChain-NetSim"
)

// Options holds command line settings.
type Options struct {
	ConfigPath string
	Watch      string
	LogLevel   string
	Version    bool
}

func main() {
	opts := parseFlags()

	if opts.Version {
		fmt.Printf("%s v%s\n", Name, Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if opts.Watch != "" {
		err = watch(ctx, opts.Watch)
	} else {
		err = run(ctx, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name, err)
		os.Exit(1)
	}
}

func parseFlags() Options {
	opts := Options{}

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to YAML configuration (defaults apply when empty)")
	flag.StringVar(&opts.Watch, "watch", "", "Print quarantine events published at this ZeroMQ endpoint instead of simulating")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Override log_level from the configuration")
	flag.BoolVar(&opts.Version, "version", false, "Print version and exit")

	flag.Parse()

	return opts
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(opts.ConfigPath)
}

func run(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, os.Stderr, level)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := sim.New(cfg, logger, reg)
	if err != nil {
		return err
	}
	if addr := s.MetricsAddr(); addr != "" {
		logger.Info.Printf("metrics available at http://%s/metrics", addr)
	}
	if cfg.EventsAddr != "" {
		logger.Info.Printf("quarantine events published at %s", cfg.EventsAddr)
	}

	err = s.Run(ctx)
	for _, n := range s.Nodes() {
		st := n.GetStats()
		logger.Info.Printf("%s: %d tx (%d rejected), %d blocks (%d mined), %d/%d verified, %d missing served, best height %d, mempool %d/%d",
			st.NodeID, st.TxReceived, st.TxRejected, st.BlocksReceived, st.BlocksMined,
			st.VerifyValid, st.VerifyReceived, st.MissingServed, st.BestHeight, st.Mempool.Size, st.Mempool.MaxSize)
	}
	return err
}

func watch(ctx context.Context, endpoint string) error {
	sub, err := monitor.Subscribe(ctx, endpoint)
	if err != nil {
		return err
	}
	defer sub.Close()

	fmt.Printf("watching quarantine events at %s\n", endpoint)
	for {
		ev, err := sub.Next()
		if err != nil {
			// The socket is bound to ctx, so a signal surfaces here.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fmt.Printf("%s  %-12s sink %d (%s): %s\n",
			ev.At.Format("15:04:05.000"), ev.Category, ev.SinkIndex, ev.NodeID, ev.Err)
	}
}
