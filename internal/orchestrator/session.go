// Package orchestrator implements the lifecycle state machine: it
// consumes commands from the control-process bridge, drives the network
// manager and the (externally supplied) BW lobby/game-thread bindings
// through the lobby→play→results pipeline, and reports progress and results
// back over the bridge.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaycore/bwbridge/internal/bridge"
	"github.com/relaycore/bwbridge/internal/network"
)

// lobbyInitPollInterval is how often PollLobbyGameInitComplete is polled
// while waiting for every peer to confirm the lobby-init packet.
const lobbyInitPollInterval = 50 * time.Millisecond

// Session drives one game's worth of lifecycle. Commands are handled
// serially on the goroutine running Run. Once setupGame is accepted, the
// pipeline runs on a goroutine of its own and reports its result back to Run
// over a channel; while Run goes on handling commands, that goroutine reads
// the session's setup info and local user and updates its state.
type Session struct {
	log *slog.Logger

	bridge     *bridge.Bridge
	net        *network.Manager
	gameThread *GameThread
	lobby      LobbyController

	state   State
	history []State

	settings  *Settings
	localUser *LocalUser
	routesSet bool
	setupInfo *GameSetupInfo

	assigner    PeerAssigner
	joinTimeout time.Duration
}

// NewSession wires a Session around its collaborators. Call Run to start
// serving commands.
func NewSession(b *bridge.Bridge, net *network.Manager, gameThread *GameThread, lobby LobbyController, log *slog.Logger) *Session {
	return &Session{
		log:         log,
		bridge:      b,
		net:         net,
		gameThread:  gameThread,
		lobby:       lobby,
		state:       StateIdle,
		joinTimeout: 5 * time.Second,
	}
}

// SetPeerAssigner installs the peer assigner consulted after the network
// becomes ready. Must be called before Run.
func (s *Session) SetPeerAssigner(a PeerAssigner) {
	s.assigner = a
}

// SetDefaultJoinTimeout overrides the timeout applied to route entries that
// do not carry their own. Must be called before Run.
func (s *Session) SetDefaultJoinTimeout(d time.Duration) {
	if d > 0 {
		s.joinTimeout = d
	}
}

// Run processes bridge commands until the bridge's connection drops, a
// cleanup_and_quit is handled, or ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	pipelineDone := make(chan error, 1)
	pipelineRunning := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.bridge.Closed():
			return fmt.Errorf("orchestrator: bridge connection closed")

		case err := <-pipelineDone:
			pipelineRunning = false
			if err != nil {
				s.log.Error("orchestrator: pipeline failed", "error", err)
				s.setState(StateError)
				if sendErr := s.bridge.SendSetupError(err); sendErr != nil {
					s.log.Warn("orchestrator: failed to report error", "error", sendErr)
				}
				return err
			}

		case cmd, ok := <-s.bridge.Commands():
			if !ok {
				return fmt.Errorf("orchestrator: bridge commands channel closed")
			}
			switch cmd.Command {
			case bridge.CmdSettings:
				settings, err := decodeSettings(cmd.Payload)
				if err != nil {
					return s.failSetup(err)
				}
				s.settings = &settings
				s.log.Info("orchestrator: settings received")

			case bridge.CmdLocalUser:
				user, err := decodeLocalUser(cmd.Payload)
				if err != nil {
					return s.failSetup(err)
				}
				s.localUser = &user
				s.log.Info("orchestrator: local user received")

			case bridge.CmdRoutes:
				entries, err := decodeRoutes(cmd.Payload, s.joinTimeout)
				if err != nil {
					return s.failSetup(err)
				}
				if err := s.net.SetRoutes(ctx, entries); err != nil {
					return s.failSetup(err)
				}
				s.routesSet = true
				s.log.Info("orchestrator: routes submitted", "count", len(entries))

			case bridge.CmdSetupGame:
				if pipelineRunning {
					s.log.Warn("orchestrator: setupGame received while pipeline already running, ignoring")
					continue
				}
				info, err := decodeSetupGame(cmd.Payload)
				if err != nil {
					return s.failSetup(err)
				}
				if err := s.checkPrerequisites(); err != nil {
					return s.failSetup(err)
				}
				s.setupInfo = info
				pipelineRunning = true
				go func() {
					pipelineDone <- s.runPipeline(ctx)
				}()

			case bridge.CmdQuit:
				return nil

			case bridge.CmdCleanupQuit:
				cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.gameThread.Submit(cleanupCtx, ReqExitCleanup, nil); err != nil {
					s.log.Warn("orchestrator: exit cleanup failed", "error", err)
				}
				cancel()
				return nil

			default:
				s.log.Warn("orchestrator: unrecognized command", "command", cmd.Command)
			}
		}
	}
}

// failSetup reports a setup-time hard failure to the control process before
// the session ends, so it learns why instead of just seeing the connection
// drop.
func (s *Session) failSetup(err error) error {
	s.log.Error("orchestrator: setup failed", "error", err)
	s.setState(StateError)
	if sendErr := s.bridge.SendSetupError(err); sendErr != nil {
		s.log.Warn("orchestrator: failed to report error", "error", sendErr)
	}
	return err
}

// errMissingPrerequisite is wrapped with which field was missing.
var errMissingPrerequisite = errors.New("orchestrator: setupGame received before a prerequisite")

func (s *Session) checkPrerequisites() error {
	if s.settings == nil {
		return fmt.Errorf("%w: settings", errMissingPrerequisite)
	}
	if s.localUser == nil {
		return fmt.Errorf("%w: localUser", errMissingPrerequisite)
	}
	if !s.routesSet {
		return fmt.Errorf("%w: routes", errMissingPrerequisite)
	}
	return nil
}

// runPipeline drives the lobby→play→results state machine once setupGame has
// been accepted. Errors propagate to Run, which reports them to the control
// process and ends the session.
func (s *Session) runPipeline(ctx context.Context) error {
	s.setState(StateInitRequested)
	if err := s.gameThread.Submit(ctx, ReqInitialize, nil); err != nil {
		return fmt.Errorf("orchestrator: game thread initialize: %w", err)
	}

	stop := make(chan struct{})
	windowLoopDone := make(chan error, 1)
	go func() {
		windowLoopDone <- s.gameThread.Submit(ctx, ReqRunWindowLoop, stop)
	}()

	s.setState(StateHostOrJoin)
	isHost := s.setupInfo.IsHost(*s.localUser)
	if isHost {
		s.setState(StateCreateLobby)
		if err := s.lobby.CreateLobby(ctx, s.setupInfo.MapPath, s.setupInfo.GameType, s.setupInfo.GameSubType); err != nil {
			close(stop)
			return fmt.Errorf("orchestrator: create lobby: %w", err)
		}
	} else {
		s.setState(StateJoinLobby)
		if err := s.lobby.JoinLobby(ctx); err != nil {
			close(stop)
			return fmt.Errorf("orchestrator: join lobby: %w", err)
		}
	}

	s.setState(StateRoutesReady)
	if err := s.net.WaitNetworkReady(ctx); err != nil {
		close(stop)
		return fmt.Errorf("orchestrator: wait network ready: %w", err)
	}
	if s.assigner != nil {
		if err := s.assigner.AssignPeers(ctx, s.setupInfo, *s.localUser); err != nil {
			close(stop)
			return fmt.Errorf("orchestrator: assign peers: %w", err)
		}
	}

	s.setState(StateSetupSlots)
	if err := s.lobby.SetupSlots(ctx, s.setupInfo); err != nil {
		close(stop)
		return fmt.Errorf("orchestrator: setup slots: %w", err)
	}
	if err := s.bridge.SendSetupProgress(uint32(StateSetupSlots), ""); err != nil {
		s.log.Warn("orchestrator: failed to report setup progress", "error", err)
	}

	s.setState(StateWaitForPlayers)
	expected := len(s.setupInfo.ExpectedJoiners(*s.localUser))
	if err := s.waitForPlayers(ctx, expected); err != nil {
		close(stop)
		return fmt.Errorf("orchestrator: wait for players: %w", err)
	}

	close(stop)
	if err := <-windowLoopDone; err != nil {
		return fmt.Errorf("orchestrator: window loop: %w", err)
	}

	s.setState(StateLobbyGameInit)
	if err := s.lobby.SendLobbyGameInit(ctx, s.setupInfo.Seed); err != nil {
		return fmt.Errorf("orchestrator: send lobby game init: %w", err)
	}
	if err := s.pollLobbyGameInitComplete(ctx); err != nil {
		return fmt.Errorf("orchestrator: lobby game init: %w", err)
	}

	s.setState(StatePlaying)
	if err := s.bridge.SendGameStart(); err != nil {
		s.log.Warn("orchestrator: failed to report game start", "error", err)
	}
	startDone := make(chan error, 1)
	go func() {
		startDone <- s.gameThread.Submit(ctx, ReqStartGame, nil)
	}()

	var results GameResults
	select {
	case err := <-startDone:
		if err != nil {
			return fmt.Errorf("orchestrator: start game: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.setState(StateResults)
	msg, err := s.awaitResults(ctx)
	if err != nil {
		return err
	}
	results = msg.Results

	report := results.ToReport(s.localUser.ID, s.setupInfo)
	if err := s.bridge.SendGameEnd(report); err != nil {
		s.log.Warn("orchestrator: failed to report game end", "error", err)
	}

	s.setState(StateDone)
	return nil
}

// waitForPlayers blocks until expected PlayerJoinedMsg notifications have
// arrived. Observer and computer slots are excluded from expected by the
// caller; observers never hold up the lobby.
func (s *Session) waitForPlayers(ctx context.Context, expected int) error {
	joined := 0
	for joined < expected {
		select {
		case msg, ok := <-s.gameThread.Messages():
			if !ok {
				return ErrGameThreadClosed
			}
			if _, isJoin := msg.(PlayerJoinedMsg); isJoin {
				joined++
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// awaitResults drains the game thread's message channel until a ResultsMsg
// arrives, discarding any stray PlayerJoinedMsg (late-joining observers can
// still trigger the join callback mid-game).
func (s *Session) awaitResults(ctx context.Context) (ResultsMsg, error) {
	for {
		select {
		case msg, ok := <-s.gameThread.Messages():
			if !ok {
				return ResultsMsg{}, ErrGameThreadClosed
			}
			if r, isResults := msg.(ResultsMsg); isResults {
				return r, nil
			}
		case <-ctx.Done():
			return ResultsMsg{}, ctx.Err()
		}
	}
}

func (s *Session) pollLobbyGameInitComplete(ctx context.Context) error {
	ticker := time.NewTicker(lobbyInitPollInterval)
	defer ticker.Stop()
	for {
		done, err := s.lobby.PollLobbyGameInitComplete(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
