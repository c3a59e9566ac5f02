package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/bridge/internal/adapter/luahost"
	"github.com/xiaot623/gogo/bridge/internal/adapter/rpchost"
	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/host"
	"github.com/xiaot623/gogo/bridge/internal/hub"
	"github.com/xiaot623/gogo/bridge/internal/logging"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/service"
	internalhttp "github.com/xiaot623/gogo/bridge/internal/transport/http"
	"github.com/xiaot623/gogo/bridge/internal/transport/ws"
)

func main() {
	app := &cli.App{
		Name:   "bridge",
		Usage:  "proxy commands to a host application and relay its input requests to observers",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromCLI(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	log.Infow("starting bridge",
		"listen_addr", cfg.ListenAddr,
		"host", cfg.HostKind,
		"max_concurrent", cfg.MaxConcurrent,
		"auth", cfg.SharedSecret != "",
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	h, err := newHost(cfg, log)
	if err != nil {
		return err
	}

	connectionHub := hub.NewHub(hub.Config{
		MaxConnections: cfg.MaxConnections,
		SendBuffer:     cfg.SendBuffer,
		MessageRate:    cfg.MessageRate,
		MessageBurst:   cfg.MessageBurst,
	}, m, log.Named("hub"))

	svc := service.New(cfg, h,
		service.WithBroadcaster(connectionHub),
		service.WithMetrics(m),
		service.WithLogger(log.Named("service")),
	)

	wsServer := ws.NewServer(cfg, connectionHub, svc, log.Named("ws"))
	e := internalhttp.NewServer(cfg, svc, wsServer, reg, log.Named("http"))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down bridge")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Warnw("executions did not drain", "error", err)
		}
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Warnw("http server did not shut down gracefully", "error", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("bridge stopped")
	return err
}

func newHost(cfg *config.Config, log *zap.SugaredLogger) (host.Host, error) {
	switch cfg.HostKind {
	case config.HostLua:
		return luahost.New(cfg.ScriptDir, log.Named("lua")), nil
	case config.HostRPC:
		return rpchost.New(cfg.HostAddr, cfg.HostRPCTimeout, log.Named("rpc")), nil
	default:
		return nil, fmt.Errorf("unsupported host %q", cfg.HostKind)
	}
}
