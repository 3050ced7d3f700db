package orchestrator

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/relaycore/bwbridge/internal/network"
	"github.com/relaycore/bwbridge/internal/wire"
)

// decodeSettings decodes a `settings` command payload. The control process's
// settings blob is opaque to this runtime, so it is kept as a raw map and
// forwarded to the game thread's Initialize phase unexamined.
func decodeSettings(payload json.RawMessage) (Settings, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Settings{}, fmt.Errorf("orchestrator: decode settings: %w", err)
	}
	return Settings{Raw: raw}, nil
}

// localUserWire is the `localUser` command's wire shape.
type localUserWire struct {
	Name string `json:"name"`
	ID   uint32 `json:"id"`
}

func decodeLocalUser(payload json.RawMessage) (LocalUser, error) {
	var w localUserWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return LocalUser{}, fmt.Errorf("orchestrator: decode localUser: %w", err)
	}
	return LocalUser{Name: w.Name, ID: w.ID}, nil
}

// RouteInput is one entry of the `routes` command payload, before being
// resolved into a network.RouteSetupEntry.
type RouteInput struct {
	RouteID   uint64 `json:"routeId"`
	PlayerID  uint32 `json:"playerId"`
	ForPlayer uint32 `json:"forPlayer"`
	Address   string `json:"address"`
	Port      uint16 `json:"port"`
	TimeoutMS uint64 `json:"timeoutMs"`
}

func (e RouteInput) resolve(defaultTimeout time.Duration) (network.RouteSetupEntry, error) {
	ip := net.ParseIP(e.Address)
	if ip == nil {
		return network.RouteSetupEntry{}, fmt.Errorf("orchestrator: invalid route address %q", e.Address)
	}
	timeout := time.Duration(e.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return network.RouteSetupEntry{
		RouteID:    wire.RouteID(e.RouteID),
		PlayerID:   wire.PlayerID(e.PlayerID),
		ForUser:    e.ForPlayer,
		ServerAddr: &net.UDPAddr{IP: ip, Port: int(e.Port)},
		Timeout:    timeout,
	}, nil
}

func decodeRoutes(payload json.RawMessage, defaultTimeout time.Duration) ([]network.RouteSetupEntry, error) {
	var inputs []RouteInput
	if err := json.Unmarshal(payload, &inputs); err != nil {
		return nil, fmt.Errorf("orchestrator: decode routes: %w", err)
	}
	return routesFromSetup(inputs, defaultTimeout)
}

// playerInfoWire is one `setupGame.slots` entry's wire shape.
type playerInfoWire struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Race     string `json:"race"`
	UserID   uint32 `json:"userId"`
	PlayerID uint8  `json:"playerId"`
	TeamID   uint8  `json:"teamId"`
	Type     string `json:"type"`
	TypeID   uint8  `json:"typeId"`
}

func (w playerInfoWire) toPlayerInfo() PlayerInfo {
	return PlayerInfo{
		ID:       w.ID,
		Name:     w.Name,
		Race:     w.Race,
		UserID:   w.UserID,
		PlayerID: w.PlayerID,
		TeamID:   w.TeamID,
		Type:     PlayerType(w.Type),
		TypeID:   w.TypeID,
	}
}

// gameSetupInfoWire is the `setupGame` command's wire shape.
type gameSetupInfoWire struct {
	Name        string           `json:"name"`
	MapPath     string           `json:"mapPath"`
	GameType    string           `json:"gameType"`
	GameSubType *uint8           `json:"gameSubType,omitempty"`
	Slots       []playerInfoWire `json:"slots"`
	Host        playerInfoWire   `json:"host"`
	Seed        uint32           `json:"seed"`
	GameID      string           `json:"gameId"`
}

func decodeSetupGame(payload json.RawMessage) (*GameSetupInfo, error) {
	var w gameSetupInfoWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("orchestrator: decode setupGame: %w", err)
	}

	slots := make([]PlayerInfo, 0, len(w.Slots))
	for _, s := range w.Slots {
		slots = append(slots, s.toPlayerInfo())
	}

	info := &GameSetupInfo{
		Name:        w.Name,
		MapPath:     w.MapPath,
		GameType:    w.GameType,
		GameSubType: w.GameSubType,
		Slots:       slots,
		Host:        w.Host.toPlayerInfo(),
		Seed:        w.Seed,
		GameID:      w.GameID,
	}
	if err := validateGameType(info); err != nil {
		return nil, err
	}
	return info, nil
}
