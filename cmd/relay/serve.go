package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	relayerrors "github.com/jammwork/jammwork-sub000/internal/errors"
	"github.com/jammwork/jammwork-sub000/pkg/server"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the WebSocket relay until interrupted.

On SIGINT or SIGTERM the server stops accepting connections, closes the
open ones, and persists every resident room before exiting.

Examples:
  relay serve
  relay serve --addr=:9000
  RELAY_STORE_DRIVER=sqlite RELAY_STORE_DSN=file:relay.db relay serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags, addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from config)")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, addr string) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Log)
	if path := cfg.Path(); path != "" {
		logger.Info("loaded config", "path", path)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close room store", "error", err)
		}
	}()

	metrics := server.NewMetrics(server.WithRegistry(prometheus.DefaultRegisterer))
	registry := session.NewRegistry(store, cfg.RegistryConfig(), logger, session.WithMetrics(metrics))
	srv := server.New(cfg.ServerConfig(), registry,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithGatherer(prometheus.DefaultGatherer),
	)

	l, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return relayerrors.New("R140").WithDetail(cfg.Server.Address).Wrap(err)
	}

	logger.Info("relay starting",
		"version", version,
		"address", l.Addr().String(),
		"store", cfg.Store.Driver,
		"max_rooms", cfg.Registry.MaxRooms)

	if err := srv.Serve(ctx, l); err != nil {
		return relayerrors.New("R141").Wrap(err)
	}
	return nil
}
