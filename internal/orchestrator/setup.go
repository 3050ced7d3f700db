package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycore/bwbridge/internal/network"
)

// PlayerType is a setup-info slot's player kind, as named by the control
// process.
type PlayerType string

const (
	PlayerHuman    PlayerType = "human"
	PlayerObserver PlayerType = "observer"
	PlayerComputer PlayerType = "computer"
	PlayerOpen     PlayerType = "open"
	PlayerClosed   PlayerType = "closed"
)

// PlayerInfo is one lobby slot from the control process's setupGame
// payload.
type PlayerInfo struct {
	ID       string
	Name     string
	Race     string
	UserID   uint32
	PlayerID uint8
	TeamID   uint8
	Type     PlayerType
	TypeID   uint8
}

// IsHuman reports whether this slot is a non-observing human player.
func (p PlayerInfo) IsHuman() bool { return p.Type == PlayerHuman }

// IsObserver reports whether this slot is a chat-only observer. Observers
// are excluded from WaitForPlayers and LobbyGameInit's expected-peer set.
func (p PlayerInfo) IsObserver() bool { return p.Type == PlayerObserver }

// IsComputer reports whether this slot is a computer-controlled player,
// also excluded from the expected-peer set.
func (p PlayerInfo) IsComputer() bool { return p.Type == PlayerComputer }

// GameSetupInfo is the `setupGame` command's decoded payload.
type GameSetupInfo struct {
	Name        string
	MapPath     string
	GameType    string
	GameSubType *uint8
	Slots       []PlayerInfo
	Host        PlayerInfo
	Seed        uint32
	GameID      string
}

// ExpectedJoiners returns every slot WaitForPlayers/LobbyGameInit must wait
// on: non-observer, non-computer slots other than the local user's own.
func (info *GameSetupInfo) ExpectedJoiners(local LocalUser) []PlayerInfo {
	var out []PlayerInfo
	for _, s := range info.Slots {
		if s.IsObserver() || s.IsComputer() {
			continue
		}
		if s.UserID == local.ID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// gameTypeEntry is one gameTypeTable row.
type gameTypeEntry struct {
	primary  byte
	needsSub bool
}

// gameTypeTable maps the control process's game-type strings to BW's
// primary/sub-type tuple. Team variants require GameSubType to be set.
var gameTypeTable = map[string]gameTypeEntry{
	"melee":      {primary: 0x02, needsSub: false},
	"ffa":        {primary: 0x03, needsSub: false},
	"oneVOne":    {primary: 0x02, needsSub: false},
	"ums":        {primary: 0x0a, needsSub: false},
	"teamMelee":  {primary: 0x0b, needsSub: true},
	"teamFfa":    {primary: 0x0c, needsSub: true},
	"topVBottom": {primary: 0x0f, needsSub: true},
}

// ErrUnknownGameType is returned when a setupGame payload's game type string
// does not decode to a known primary/sub-type tuple.
var ErrUnknownGameType = fmt.Errorf("orchestrator: unknown game type")

// validateGameType checks that info's GameType decodes per gameTypeTable.
// A setupGame whose game type does not decode is a hard failure.
func validateGameType(info *GameSetupInfo) error {
	entry, ok := gameTypeTable[info.GameType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGameType, info.GameType)
	}
	if entry.needsSub && info.GameSubType == nil {
		return fmt.Errorf("%w: %q requires a sub-type", ErrUnknownGameType, info.GameType)
	}
	return nil
}

// LocalUser identifies this endpoint's player within the lobby.
type LocalUser struct {
	Name string
	ID   uint32
}

// Settings is an opaque blob of local/SCR settings forwarded from the
// control process; this runtime only stores and forwards it to the game
// thread's Initialize phase. Settings semantics live entirely in BW/storm.
type Settings struct {
	Raw map[string]any
}

// IsHost reports whether local is this lobby's host. The local user hosts
// exactly when its name matches the host slot's name.
func (info *GameSetupInfo) IsHost(local LocalUser) bool {
	return local.Name == info.Host.Name
}

// LobbyController is the BW-binding half of HostOrJoin/SetupSlots/
// WaitForPlayers/LobbyGameInit, implemented by the hooking machinery that
// lives outside this module. A test double stands in for it everywhere in
// this module's own tests.
type LobbyController interface {
	// CreateLobby is called exactly once, by the host.
	CreateLobby(ctx context.Context, mapPath, gameType string, subType *uint8) error
	// JoinLobby is called by non-hosts before the routes are waited on and
	// peers are assigned; the host is reached through the already-established SNP/relay path, not an
	// address passed down here.
	JoinLobby(ctx context.Context) error
	// SetupSlots configures BW's player slots from info.
	SetupSlots(ctx context.Context, info *GameSetupInfo) error
	// SendLobbyGameInit issues the lobby-game-init packet with seed.
	SendLobbyGameInit(ctx context.Context, seed uint32) error
	// PollLobbyGameInitComplete is one bounded poll of whether BW has
	// received lobby-game-init from every peer; the caller sleeps between
	// calls.
	PollLobbyGameInitComplete(ctx context.Context) (bool, error)
}

// PeerAssigner binds remote players to relay routes and assigns their
// spoofed in-game addresses once the network is ready, before slots are
// configured. The concrete implementation owns the spoof table and the
// forwarding pump.
type PeerAssigner interface {
	AssignPeers(ctx context.Context, info *GameSetupInfo, local LocalUser) error
}

// routesFromSetup adapts the decoded `routes` command payload into
// network.RouteSetupEntry values; kept here (rather than in package
// network) since only the orchestrator's command decoding needs it.
func routesFromSetup(entries []RouteInput, defaultTimeout time.Duration) ([]network.RouteSetupEntry, error) {
	out := make([]network.RouteSetupEntry, 0, len(entries))
	for _, e := range entries {
		addr, err := e.resolve(defaultTimeout)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
