package orchestrator

import "github.com/relaycore/bwbridge/internal/bridge"

// LoseType classifies how a player left an unfinished game: a targeted
// drop, a mass quit, or neither.
type LoseType int

const (
	LoseNone LoseType = iota
	LoseTargeted
	LoseMass
)

func (l LoseType) String() string {
	switch l {
	case LoseTargeted:
		return "Targeted"
	case LoseMass:
		return "Mass"
	default:
		return "None"
	}
}

// maxPlayers is BW's fixed player-slot ceiling.
const maxPlayers = 8

// VictoryState is one player's end-of-game state, read from BW state by
// in-game player id.
type VictoryState byte

const (
	VictoryUnknown VictoryState = iota
	VictoryWon
	VictoryLost
	VictoryDisconnected
)

func (v VictoryState) resultCode() string {
	switch v {
	case VictoryWon:
		return "win"
	case VictoryLost:
		return "loss"
	case VictoryDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// GameResults is harvested from BW state once the game loop exits.
type GameResults struct {
	// VictoryState is indexed by in-game player id.
	VictoryState [maxPlayers]VictoryState
	// PlayerHasLeft is indexed by storm id.
	PlayerHasLeft [maxPlayers]bool
	LoseType      LoseType
	// TimeMS is elapsed match time, approximated from the frame count on
	// fastest speed.
	TimeMS uint32
}

// ElapsedMS approximates match duration from a frame count; one frame is
// 42ms on fastest speed.
func ElapsedMS(frameCount uint32) uint32 {
	return frameCount * 42
}

// ToReport builds the control process's GameResultsReport from the harvested
// results. localUserID identifies the local user within info.Slots.
func (r GameResults) ToReport(localUserID uint32, info *GameSetupInfo) bridge.GameResultsReport {
	players := make(map[uint32]bridge.GamePlayerResult, len(info.Slots))
	var localCode string
	for _, slot := range info.Slots {
		if int(slot.PlayerID) >= maxPlayers {
			continue
		}
		vs := r.VictoryState[slot.PlayerID]
		players[slot.UserID] = bridge.GamePlayerResult{
			Result: vs.resultCode(),
			Race:   slot.Race,
		}
		if slot.UserID == localUserID {
			localCode = vs.resultCode()
		}
	}
	return bridge.GameResultsReport{
		UserID:        localUserID,
		ResultCode:    localCode,
		Time:          uint64(r.TimeMS),
		PlayerResults: players,
	}
}
