package network

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/relaycore/bwbridge/internal/ack"
	"github.com/relaycore/bwbridge/internal/relay"
	"github.com/relaycore/bwbridge/internal/snp"
	"github.com/relaycore/bwbridge/internal/wire"
)

// peerState is one remote player's forwarding context: which route reaches
// them, who we are on that route, and the per-peer ack manager that turns
// raw game payloads into GameMessages and back.
type peerState struct {
	route   wire.RouteID
	player  wire.PlayerID
	server  *net.UDPAddr
	spoofed netip.Addr
	ack     *ack.Manager
}

// Pump moves match traffic between the SNP adapter and the relay client.
// Outbound: game payloads from the adapter are run through the peer's ack
// manager and forwarded on the peer's route. Inbound: GameMessages received
// on a route are fed to the ack manager and their payloads delivered to the
// adapter's inbound queue, re-addressed with the peer's spoofed IPv4.
type Pump struct {
	log            *slog.Logger
	relay          *relay.Client
	outbound       <-chan snp.OutboundMessage
	maxPayloadSize int

	maxPayloadAge time.Duration

	mu      sync.Mutex
	handle  *snp.SendHandle
	byAddr  map[netip.Addr]*peerState
	byRoute map[wire.RouteID]*peerState
}

// NewPump creates a Pump atop a relay client and the adapter's outbound
// channel. maxPayloadSize is the per-GameMessage payload budget. Call Run
// to start moving traffic; peers are added as the orchestrator assigns
// spoofed addresses.
func NewPump(r *relay.Client, outbound <-chan snp.OutboundMessage, maxPayloadSize int, log *slog.Logger) *Pump {
	return &Pump{
		log:            log,
		relay:          r,
		outbound:       outbound,
		maxPayloadSize: maxPayloadSize,
		byAddr:         make(map[netip.Addr]*peerState),
		byRoute:        make(map[wire.RouteID]*peerState),
	}
}

// SetMaxPayloadAge enables the ack managers' dedicated-packet fallback for
// overdue unacked payloads on peers added after the call. Zero (the
// default) leaves it disabled.
func (p *Pump) SetMaxPayloadAge(age time.Duration) {
	p.maxPayloadAge = age
}

// SetHandle installs (or, with nil, clears) the adapter's inbound send
// handle. Inbound payloads arriving while no handle is installed are
// dropped; the game is not listening.
func (p *Pump) SetHandle(h *snp.SendHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = h
}

// AddPeer registers a remote player: traffic the game addresses to spoofed
// goes out on route via server, and payloads arriving on route are handed
// to the game as coming from spoofed.
func (p *Pump) AddPeer(spoofed netip.Addr, route wire.RouteID, player wire.PlayerID, server *net.UDPAddr) {
	ps := &peerState{
		route:   route,
		player:  player,
		server:  server,
		spoofed: spoofed,
		ack:     ack.New(p.maxPayloadSize),
	}
	ps.ack.SetMaxPayloadAge(p.maxPayloadAge)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byAddr[spoofed] = ps
	p.byRoute[route] = ps
}

// Run moves traffic in both directions until ctx is canceled.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case out := <-p.outbound:
			p.handleOutbound(out)

		case in := <-p.relay.Inbound():
			p.handleInbound(in)
		}
	}
}

func (p *Pump) handleOutbound(out snp.OutboundMessage) {
	p.mu.Lock()
	ps, ok := p.byAddr[out.To]
	p.mu.Unlock()
	if !ok {
		p.log.Warn("network: outbound to unknown peer, dropping", "to", out.To)
		return
	}
	msg := ps.ack.BuildOutgoing(out.Data)
	p.relay.Forward(ps.route, ps.player, ps.server, wire.EncodeGameMessage(msg))
	if overdue, ok := ps.ack.TakeOverdue(); ok {
		p.relay.Forward(ps.route, ps.player, ps.server, wire.EncodeGameMessage(overdue))
	}
}

func (p *Pump) handleInbound(in relay.InboundMessage) {
	p.mu.Lock()
	ps, ok := p.byRoute[in.Route]
	handle := p.handle
	p.mu.Unlock()
	if !ok {
		p.log.Warn("network: inbound on unknown route, dropping", "route", in.Route)
		return
	}

	msg, err := wire.DecodeGameMessage(in.Data)
	if err != nil {
		p.log.Warn("network: dropping undecodable game message", "route", in.Route, "error", err)
		return
	}
	if err := ps.ack.HandleIncoming(msg); err != nil {
		p.log.Warn("network: dropping malformed game message", "route", in.Route, "error", err)
		return
	}
	if handle == nil {
		return
	}
	for _, payload := range msg.Payloads {
		handle.Deliver(snp.ReceivedMessage{From: ps.spoofed, Data: payload.Body})
	}
}
