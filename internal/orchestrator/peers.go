package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/relaycore/bwbridge/internal/network"
	"github.com/relaycore/bwbridge/internal/snp"
	"github.com/relaycore/bwbridge/internal/wire"
)

// PeerBinder is the forwarding pump's registration surface: traffic the
// game addresses to spoofed goes out on route, and payloads arriving on
// route come back in as spoofed.
type PeerBinder interface {
	AddPeer(spoofed netip.Addr, route wire.RouteID, player wire.PlayerID, server *net.UDPAddr)
}

// RouteSource yields the currently installed route set.
type RouteSource interface {
	Routes() []network.RouteSetupEntry
}

// RoutePeerAssigner is the default PeerAssigner: it walks the installed
// route set, derives each remote player's synthetic IPv4 from their slot,
// registers them with the pump, and advertises the host's spoofed game
// entry through the adapter so a non-host game can find and join it.
type RoutePeerAssigner struct {
	routes  RouteSource
	pump    PeerBinder
	spoof   *snp.SpoofTable
	adapter *snp.Adapter
}

// NewRoutePeerAssigner wires an assigner over the manager's route set, the
// pump, and the adapter.
func NewRoutePeerAssigner(routes RouteSource, pump PeerBinder, spoof *snp.SpoofTable, adapter *snp.Adapter) *RoutePeerAssigner {
	return &RoutePeerAssigner{routes: routes, pump: pump, spoof: spoof, adapter: adapter}
}

// AssignPeers registers every remote player reachable through a route.
// Observers are registered too (they are read-only peers, not absent ones);
// only a route without a matching slot is an error.
func (a *RoutePeerAssigner) AssignPeers(ctx context.Context, info *GameSetupInfo, local LocalUser) error {
	slotsByUser := make(map[uint32]PlayerInfo, len(info.Slots))
	for _, s := range info.Slots {
		slotsByUser[s.UserID] = s
	}

	for _, entry := range a.routes.Routes() {
		slot, ok := slotsByUser[entry.ForUser]
		if !ok {
			return fmt.Errorf("orchestrator: route %d targets user %d with no slot", entry.RouteID, entry.ForUser)
		}
		spoofed := a.spoof.Assign(int(slot.PlayerID))
		a.pump.AddPeer(spoofed, entry.RouteID, entry.PlayerID, entry.ServerAddr)

		if !info.IsHost(local) && entry.ForUser == info.Host.UserID {
			// Advertise the host's game under its synthetic address; the
			// in-process hook layer fills in the native game-info bytes when
			// the game actually asks for them.
			a.adapter.SpoofGame(snp.GameInfo{Index: 1, Raw: []byte(info.Name)})
		}
	}
	return nil
}
