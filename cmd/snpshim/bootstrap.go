package main

import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

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

var (
	bootCancel context.CancelFunc
	bootThread *orchestrator.GameThread
)

// BwbridgeStart boots the runtime inside the game process: it wires the
// transport, relay client, network manager, pump, bridge, and orchestrator,
// installs the SNP adapter for the exported trampolines, and returns once
// everything is running. serverPort and gameID come from the injector's
// command line. Returns 0 on success.
//
//export BwbridgeStart
func BwbridgeStart(serverPort C.int, gameID *C.char) C.int {
	cfg, err := config.Load("config/bwbridge.yaml")
	if err != nil {
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	bootCancel = cancel

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

	b := bridge.New(int(serverPort), C.GoString(gameID), cfg.Bridge.ReconnectBackoff(), slog.Default().With("component", "bridge"))

	bootThread = orchestrator.NewGameThread(gameRunner{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		bootThread.Run()
	}()

	session := orchestrator.NewSession(b, manager, bootThread, gameLobby{}, slog.Default().With("component", "orchestrator"))
	session.SetPeerAssigner(orchestrator.NewRoutePeerAssigner(manager, pump, snp.NewSpoofTable(), adapter))
	session.SetDefaultJoinTimeout(cfg.Relay.JoinTimeout())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tr.Run(gctx) })
	g.Go(func() error { return relayClient.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return pump.Run(gctx) })
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return session.Run(gctx) })
	go func() {
		if err := g.Wait(); err != nil && gctx.Err() == nil {
			slog.Error("runtime stopped", "error", err)
		}
	}()

	installAdapter(adapter)
	return 0
}

// BwbridgeStop tears the runtime down, for the injector's unload path.
//
//export BwbridgeStop
func BwbridgeStop() {
	installAdapter(nil)
	if bootThread != nil {
		bootThread.Close()
		bootThread = nil
	}
	if bootCancel != nil {
		bootCancel()
		bootCancel = nil
	}
}

// gameRunner and gameLobby delegate the lifecycle's game-thread phases to
// the hooked game routines. The hook addresses are resolved by the injector
// and not linked here; each phase raises a clear error until they are,
// keeping the shim loadable in isolation for testing.
type gameRunner struct{}

func (gameRunner) Initialize() error {
	return fmt.Errorf("snpshim: game initialize hook not bound")
}

func (gameRunner) RunWindowLoop(stop <-chan struct{}) error {
	<-stop
	return nil
}

func (gameRunner) StartGame() error {
	return fmt.Errorf("snpshim: start-game hook not bound")
}

func (gameRunner) ExitCleanup() error {
	return nil
}

type gameLobby struct{}

func (gameLobby) CreateLobby(ctx context.Context, mapPath, gameType string, subType *uint8) error {
	return fmt.Errorf("snpshim: create-lobby hook not bound")
}

func (gameLobby) JoinLobby(ctx context.Context) error {
	return fmt.Errorf("snpshim: join-lobby hook not bound")
}

func (gameLobby) SetupSlots(ctx context.Context, info *orchestrator.GameSetupInfo) error {
	return fmt.Errorf("snpshim: setup-slots hook not bound")
}

func (gameLobby) SendLobbyGameInit(ctx context.Context, seed uint32) error {
	return fmt.Errorf("snpshim: lobby-game-init hook not bound")
}

func (gameLobby) PollLobbyGameInitComplete(ctx context.Context) (bool, error) {
	return false, fmt.Errorf("snpshim: lobby-game-init hook not bound")
}
