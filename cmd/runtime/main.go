package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/relaycore/bwbridge/internal/bridge"
	"github.com/relaycore/bwbridge/internal/config"
	"github.com/relaycore/bwbridge/internal/network"
	"github.com/relaycore/bwbridge/internal/orchestrator"
	"github.com/relaycore/bwbridge/internal/relay"
	"github.com/relaycore/bwbridge/internal/snp"
	"github.com/relaycore/bwbridge/internal/transport"
	"github.com/relaycore/bwbridge/internal/wire"
)

const defaultConfigPath = "config/bwbridge.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverPort := flag.Int("server_port", 0, "control process port on localhost")
	gameID := flag.String("game_id", "", "correlation id for the control process connection")
	userDataPath := flag.String("user_data_path", "", "game user-data directory")
	configPath := flag.String("config", defaultConfigPath, "runtime config path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	if *serverPort == 0 {
		*serverPort = cfg.Bridge.Port
	}
	if *serverPort == 0 {
		return fmt.Errorf("no control process port given (--server_port or bridge.port in config)")
	}

	slog.Info("bwbridge starting",
		"log_level", cfg.LogLevel,
		"server_port", *serverPort,
		"game_id", *gameID,
		"user_data_path", *userDataPath,
		"bind", cfg.BindAddress)

	tr := transport.New(cfg.BindAddress, slog.Default().With("component", "transport"))
	relayClient := relay.New(tr, slog.Default().With("component", "relay"))
	relayClient.ResendInterval = cfg.Relay.ResendInterval()
	relayClient.KeepAliveInterval = cfg.Relay.KeepAliveInterval()
	relayClient.RouteStaleAfter = cfg.Relay.RouteStaleAfter()
	manager := network.New(relayClient, slog.Default().With("component", "network"))

	maxPayload := cfg.Wire.MaxPayloadSize(wire.HeaderSize())
	var pump *network.Pump
	adapter := snp.New(func(h *snp.SendHandle) {
		pump.SetHandle(h)
		if h != nil {
			manager.BindSnp(h)
		} else {
			manager.DestroySnp()
		}
	}, cfg.Snp.InboundQueueSize, cfg.Snp.OutboundQueueSize)
	pump = network.NewPump(relayClient, adapter.Outbound(), maxPayload, slog.Default().With("component", "network"))
	pump.SetMaxPayloadAge(cfg.Wire.MaxPayloadAge())

	b := bridge.New(*serverPort, *gameID, cfg.Bridge.ReconnectBackoff(), slog.Default().With("component", "bridge"))

	gameThread := orchestrator.NewGameThread(stubRunner{})
	go func() {
		// The game loop owns one OS thread for its whole life; everything it
		// runs is blocking code that must never migrate between threads.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		gameThread.Run()
	}()
	defer gameThread.Close()

	session := orchestrator.NewSession(b, manager, gameThread, stubLobby{}, slog.Default().With("component", "orchestrator"))
	session.SetPeerAssigner(orchestrator.NewRoutePeerAssigner(manager, pump, snp.NewSpoofTable(), adapter))
	session.SetDefaultJoinTimeout(cfg.Relay.JoinTimeout())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tr.Run(gctx) })
	g.Go(func() error { return relayClient.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return pump.Run(gctx) })
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return session.Run(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// parseLogLevel converts a config log level string to slog.Level, defaulting
// to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
