package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/config"
	"github.com/LICODX/rnr-poh/pkg/identity"
	"github.com/LICODX/rnr-poh/pkg/logging"
	"github.com/LICODX/rnr-poh/pkg/metrics"
	"github.com/LICODX/rnr-poh/pkg/network"
	"github.com/LICODX/rnr-poh/pkg/node"
	"github.com/LICODX/rnr-poh/pkg/utils"
	"github.com/LICODX/rnr-poh/poh"
)

const (
	shutdownGrace  = 10 * time.Second
	healthInterval = 5 * time.Second
)

func newRunCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the PoH node",
		Long: `Start producing revs. Without --ticket the node opens a new gossip
topic and prints a ticket other nodes can join with.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String("ticket", "", "join the topic of an existing node")
	cmd.Flags().String("name", "", "node name announced to peers")
	cmd.Flags().Int("port", 9000, "p2p TCP port")
	cmd.Flags().Bool("no-p2p", false, "run without networking")
	cmd.Flags().String("metrics-addr", ":9100", "metrics and health listen address")
	cmd.Flags().String("schedule", "production", "timing schedule (production or development)")
	cmd.Flags().Bool("json-logs", false, "log JSON instead of console output")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := load(cmd, map[string]string{
			"p2p.ticket":   "ticket",
			"p2p.name":     "name",
			"p2p.port":     "port",
			"metrics.addr": "metrics-addr",
			"poh.schedule": "schedule",
			"log.json":     "json-logs",
		})
		if err != nil {
			return err
		}
		if noP2P, _ := cmd.Flags().GetBool("no-p2p"); noP2P {
			cfg.P2P.Enabled = false
		}
		return runNode(cmd.Context(), cmd, cfg)
	}
	return cmd
}

func runNode(parent context.Context, cmd *cobra.Command, cfg config.Config) error {
	logger := logging.New(cfg.LogLevel(), cfg.Log.JSON)
	logging.SetDefaultLogger(logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting rnr-poh node",
		zap.String("version", version),
		zap.String("algorithm", cfg.Algorithm().String()),
		zap.String("schedule", cfg.Schedule().Name))

	sm := utils.NewShutdownManager(parent, shutdownGrace, logger)
	defer func() { _ = sm.Shutdown() }()
	ctx := sm.Context()

	id, err := loadIdentity(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("node identity", zap.String("address", id.Address()))

	reg := metrics.NewRegistry()
	m := metrics.NewNodeMetrics(reg)

	seed, err := cfg.SeedBytes()
	if err != nil {
		return err
	}
	wc, err := cfg.WorkerConfig()
	if err != nil {
		return err
	}

	ncfg := node.DefaultConfig()
	ncfg.PoH = poh.Config{
		Algorithm:     cfg.Algorithm(),
		Schedule:      cfg.Schedule(),
		SpinThreshold: cfg.PoH.SpinThreshold,
	}
	ncfg.Seed = seed
	ncfg.ChannelCapacity = cfg.Node.ChannelCapacity
	ncfg.BatchSize = cfg.Node.BatchSize
	ncfg.TailSize = cfg.Node.TailSize
	ncfg.ValidatorPool = cfg.Node.ValidatorPool
	ncfg.Worker = wc
	ncfg.Identity = id
	ncfg.Metrics = m
	ncfg.Logger = logger.Named("node")

	health := utils.NewHealthMonitor(healthInterval, logger.Named("health"))

	var proto *network.Protocol
	if cfg.P2P.Enabled {
		proto, err = network.New(network.Config{
			ListenAddrs: []string{cfg.ListenAddr()},
			PrivKey:     id.Libp2pKey(),
			Name:        cfg.P2P.Name,
			Fanout:      cfg.P2P.Fanout,
			MaxTTL:      cfg.P2P.MaxTTL,
			Observer:    m,
			Logger:      logger.Named("p2p"),
		})
		if err != nil {
			return err
		}
		sm.RegisterShutdownHook("p2p", proto.Close)
		ncfg.Broadcaster = proto
		health.RegisterComponent("p2p", peersCheck(proto))
	}

	n, err := node.New(ncfg)
	if err != nil {
		return err
	}
	health.RegisterComponent("poh", n.HealthCheck())

	if proto != nil {
		proto.SetHandler(n.HandleMessage)
		if err := joinTopic(ctx, cmd, proto, cfg.P2P.Ticket); err != nil {
			return err
		}
	}

	health.StartPeriodicChecks(ctx)
	serveMetrics(sm, cfg.Metrics.Addr, reg, health, logger)

	runErr := n.Run(ctx)
	if runErr != nil {
		logger.Error("node stopped with error", zap.Error(runErr))
	}
	return errors.Join(runErr, sm.Shutdown())
}

// loadIdentity reads the configured keystore, or generates a throwaway key
// when none is configured.
func loadIdentity(cfg config.Config, logger *zap.Logger) (*identity.Identity, error) {
	if cfg.Key.File == "" {
		logger.Warn("no key file configured, using an ephemeral identity")
		return identity.Generate()
	}
	if !identity.KeystoreExists(cfg.Key.File) {
		return nil, fmt.Errorf("keystore %s not found, create one with keygen", cfg.Key.File)
	}
	id, err := identity.LoadKeystore(cfg.Key.Password, cfg.Key.File)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", cfg.Key.File, err)
	}
	return id, nil
}

func joinTopic(ctx context.Context, cmd *cobra.Command, proto *network.Protocol, ticket string) error {
	if ticket != "" {
		if err := proto.Dial(ctx, ticket); err != nil {
			return fmt.Errorf("join topic: %w", err)
		}
		return nil
	}
	t, err := proto.Listen(ctx)
	if err != nil {
		return fmt.Errorf("open topic: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ticket: %s\n", t)
	return nil
}

func peersCheck(proto *network.Protocol) utils.HealthCheck {
	return func() (utils.HealthStatus, string) {
		peers := len(proto.Peers())
		if peers == 0 {
			return utils.StatusDegraded, "no connected peers"
		}
		return utils.StatusHealthy, fmt.Sprintf("%d peers", peers)
	}
}

func serveMetrics(sm *utils.ShutdownManager, addr string, reg *prometheus.Registry, health *utils.HealthMonitor, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/health", health)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	sm.Go("metrics-server", func(ctx context.Context) {
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		logger.Info("metrics server listening", zap.String("addr", addr))

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}
		}
	})
}
