package main

import (
	"context"
	"log/slog"

	"github.com/relaycore/bwbridge/internal/orchestrator"
)

// stubRunner stands in for the in-process game bindings when the runtime is
// built as a standalone binary. Inside the game process the hooking layer
// supplies the real orchestrator.Runner; here every phase completes
// immediately so the lifecycle can be driven end to end without a game.
type stubRunner struct{}

func (stubRunner) Initialize() error {
	slog.Info("gamethread: initialize (stub)")
	return nil
}

func (stubRunner) RunWindowLoop(stop <-chan struct{}) error {
	<-stop
	return nil
}

func (stubRunner) StartGame() error {
	slog.Info("gamethread: start game (stub)")
	return nil
}

func (stubRunner) ExitCleanup() error {
	slog.Info("gamethread: exit cleanup (stub)")
	return nil
}

// stubLobby is the standalone-binary stand-in for the BW lobby bindings.
type stubLobby struct{}

func (stubLobby) CreateLobby(ctx context.Context, mapPath, gameType string, subType *uint8) error {
	slog.Info("lobby: create (stub)", "map", mapPath, "type", gameType)
	return nil
}

func (stubLobby) JoinLobby(ctx context.Context) error {
	slog.Info("lobby: join (stub)")
	return nil
}

func (stubLobby) SetupSlots(ctx context.Context, info *orchestrator.GameSetupInfo) error {
	slog.Info("lobby: setup slots (stub)", "slots", len(info.Slots))
	return nil
}

func (stubLobby) SendLobbyGameInit(ctx context.Context, seed uint32) error {
	slog.Info("lobby: send lobby game init (stub)", "seed", seed)
	return nil
}

func (stubLobby) PollLobbyGameInitComplete(ctx context.Context) (bool, error) {
	return true, nil
}
