// Command tracktile runs a BitTorrent tracker speaking either BEP-15 UDP
// or WebTorrent WebSocket, backed by a sharded in-memory swarm store.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tracktile/tracktile/accesslist"
	"github.com/tracktile/tracktile/cleaner"
	"github.com/tracktile/tracktile/config"
	"github.com/tracktile/tracktile/connid"
	"github.com/tracktile/tracktile/dispatch"
	"github.com/tracktile/tracktile/frontend/udp"
	"github.com/tracktile/tracktile/frontend/ws"
	"github.com/tracktile/tracktile/pkg/log"
	"github.com/tracktile/tracktile/pkg/metrics"
	"github.com/tracktile/tracktile/pkg/stop"
	"github.com/tracktile/tracktile/requestworker"
	"github.com/tracktile/tracktile/stats"
	"github.com/tracktile/tracktile/swarm"
)

var (
	configPath string
	debug      bool
	jsonLogs   bool
)

func main() {
	root := &cobra.Command{
		Use:   "tracktile",
		Short: "A high-throughput BitTorrent tracker (BEP-15 UDP / WebTorrent)",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (defaults built in if omitted)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit logs as JSON instead of console format")

	root.AddCommand(runCmd(), printConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromPath(configPath)
}

func printConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Load, validate, and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(b)
			return err
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the tracker and block until SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonLogs {
				log.SetJSON()
			}
			log.SetDebug(debug)

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("tracktile: %w", err)
			}

			return runSupervisor(cfg)
		},
	}
}

// runSupervisor wires every component named in spec §4 together and blocks
// until SIGTERM, at which point it drives a coordinated shutdown through
// stop.Group. Workers never observe signals themselves — only this
// function does, per the "signal handling at process scope, reload at
// worker scope" design note.
func runSupervisor(cfg config.Config) error {
	logger := log.With("main")
	logger.Info().Fields(cfg.LogFields()).Msg("starting tracktile")

	if cfg.Network.UseTLS {
		// TLS termination is an external collaborator per spec §1's
		// Non-goals ("TLS library integration"); tracktile's own listeners
		// never wrap themselves in tls.Config. Operators who need TLS for
		// the WebSocket frontend terminate it at a reverse proxy.
		logger.Warn().Msg("network.use_tls is set but tracktile does not terminate TLS itself; terminate it upstream")
	}

	access := accesslist.NewSnapshot(cfg.AccessList.Mode)
	if cfg.AccessList.Path != "" {
		list, err := accesslist.LoadFromPath(cfg.AccessList.Path)
		if err != nil {
			return fmt.Errorf("tracktile: loading access list: %w", err)
		}
		access.Install(list)
		logger.Info().Int("entries", list.Len()).Str("path", cfg.AccessList.Path).Msg("loaded access list")
	}

	secrets := connid.NewSnapshot()
	fabric := dispatch.NewFabric(cfg.SocketWorkers, cfg.RequestWorkers, cfg.WorkerChannelSize)

	socketCounters := make([]*stats.WorkerCounters, cfg.SocketWorkers)
	for i := range socketCounters {
		socketCounters[i] = &stats.WorkerCounters{}
	}
	requestCounters := make([]*stats.WorkerCounters, cfg.RequestWorkers)
	for i := range requestCounters {
		requestCounters[i] = &stats.WorkerCounters{}
	}

	shards := make([]*swarm.Shard, cfg.RequestWorkers)
	for i := range shards {
		s0, s1 := randSeedPair()
		shards[i] = swarm.NewShard(s0, s1)
	}

	stopGroup := stop.NewGroup()

	requestWorkers := make([]*requestworker.Worker, cfg.RequestWorkers)
	for i := 0; i < cfg.RequestWorkers; i++ {
		w := requestworker.NewWorker(requestworker.Config{
			Index:                i,
			PeerAnnounceInterval: cfg.PeerAnnounceInterval,
			ToleranceFactor:      cfg.ToleranceFactor,
			MaxPeers:             cfg.MaxPeers,
			IntervalJitter:       cfg.PeerAnnounceInterval / 10,
			CleaningInterval:     cfg.CleaningInterval,
			Counters:             requestCounters[i],
		}, shards[i], access, fabric.RequestSide(i))
		requestWorkers[i] = w
		stopGroup.Add(stopperFunc(func() stop.Result {
			done := w.Stop()
			c := make(stop.Channel)
			go func() {
				<-done
				c.Done(nil)
			}()
			return c.Result()
		}))
		go w.Run()
	}

	var wsWorkers []*ws.Worker
	switch cfg.Frontend {
	case config.FrontendWebSocket:
		wsWorkers = make([]*ws.Worker, cfg.SocketWorkers)
		for i := 0; i < cfg.SocketWorkers; i++ {
			w := ws.NewWorker(ws.Config{
				Index:            i,
				Addr:             cfg.Network.Address,
				MaxConnectionAge: cfg.MaxConnectionAge,
				DefaultNumWant:   uint32(cfg.MaxPeers),
				Counters:         socketCounters[i],
			}, fabric, access)
			wsWorkers[i] = w
			stopGroup.Add(w)
			go w.Run()
		}
	default:
		udpWorkers := make([]*udp.Worker, cfg.SocketWorkers)
		for i := 0; i < cfg.SocketWorkers; i++ {
			w, err := udp.NewWorker(udp.Config{
				Index:           i,
				Addr:            cfg.Network.Address,
				MaxReceiveBatch: cfg.MaxReceiveBatch,
				PollTimeout:     time.Duration(cfg.Network.PollTimeoutMilliseconds) * time.Millisecond,
				DefaultNumWant:  uint32(cfg.MaxPeers),
				MaxScrapeHashes: cfg.MaxScrapeTorrents,
				Counters:        socketCounters[i],
			}, fabric, secrets, access)
			if err != nil {
				return fmt.Errorf("tracktile: binding udp socket worker %d: %w", i, err)
			}
			udpWorkers[i] = w
			stopGroup.Add(w)
			go w.Run()
		}
	}

	var pruner cleaner.Pruner
	if len(wsWorkers) > 0 {
		pruner = multiPruner(wsWorkers)
	}

	// clean rotates the connection-id secret and prunes the WebSocket
	// connection table on its own goroutine; it is given no shards, since
	// evicting dead peers must happen on each shard's own owning
	// goroutine (the request worker, via its CleaningInterval above) to
	// avoid a second goroutine ever touching a live Shard.
	clean := cleaner.New(cleaner.Config{
		CleaningInterval:     cfg.CleaningInterval,
		ConnectionIDLifetime: cfg.ConnectionIDLifetime,
	}, nil, secrets, pruner)
	stopGroup.Add(clean)
	go clean.Run()

	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	if metricsSrv != nil {
		stopGroup.Add(metricsSrv)
	}

	var collector *stats.Collector
	statsStop := make(chan struct{})
	if cfg.Statistics.Active {
		collector = stats.New(prometheus.DefaultRegisterer, socketCounters, requestCounters)
		go collector.Run(cfg.Statistics.Interval, statsStop)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)

	for s := range sig {
		switch s {
		case syscall.SIGUSR1:
			if cfg.AccessList.Path == "" {
				logger.Warn().Msg("received SIGUSR1 but no access_list.path is configured")
				continue
			}
			if err := access.Reload(cfg.AccessList.Path); err != nil {
				logger.Error().Err(err).Msg("access list reload failed; keeping previous list")
				continue
			}
			logger.Info().Int("entries", access.Current().Len()).Msg("access list reloaded")

		case syscall.SIGTERM, syscall.SIGINT:
			logger.Info().Msg("shutting down")
			close(statsStop)
			errs := stopGroup.Stop()
			for _, err := range errs {
				logger.Error().Err(err).Msg("error during shutdown")
			}
			if len(errs) > 0 {
				return fmt.Errorf("tracktile: %d errors during shutdown", len(errs))
			}
			return nil
		}
	}
	return nil
}

// randSeedPair draws two independent uint64s from the OS CSPRNG, used to
// seed each shard's private xorshift128+ generator so announce interval
// jitter does not correlate across shards.
func randSeedPair() (uint64, uint64) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("tracktile: failed to read random shard seed: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:])
}

// stopperFunc adapts a plain function to stop.Stopper.
type stopperFunc func() stop.Result

func (f stopperFunc) Stop() stop.Result { return f() }

// multiPruner fans PruneExpired out across every WebSocket socket worker's
// connection table, summing the evicted counts the cleaner logs.
type multiPruner []*ws.Worker

func (m multiPruner) PruneExpired(now int64) int {
	var total int
	for _, w := range m {
		total += w.Table().PruneExpired(now)
	}
	return total
}
