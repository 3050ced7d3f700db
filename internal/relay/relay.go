// Package relay implements the relay client: a single state-owner goroutine
// that tracks pending joins and active routes, and speaks the relay control
// protocol (package wire's Msg* constants) over a transport.Transport.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/relaycore/bwbridge/internal/cancel"
	"github.com/relaycore/bwbridge/internal/transport"
	"github.com/relaycore/bwbridge/internal/wire"
)

const (
	resendInterval    = 500 * time.Millisecond
	keepAliveInterval = 500 * time.Millisecond
	routeStaleAfter   = 5 * time.Second
)

// ErrNotActive is returned when a request is made after the client's Run
// loop has stopped.
var ErrNotActive = errors.New("relay: client is not active")

// ErrJoinFailed is returned when the server answers a join with
// MSG_JOIN_ROUTE_FAILURE.
var ErrJoinFailed = errors.New("relay: join route failed")

// ErrTimeout is returned when a join receives no answer before its
// deadline.
var ErrTimeout = errors.New("relay: join route timed out")

// InboundMessage is an application payload delivered via MSG_RECEIVE on an
// active route, handed to whatever is draining Client.Inbound (the SNP
// adapter's inbound queue).
type InboundMessage struct {
	Route wire.RouteID
	From  *net.UDPAddr
	Data  []byte
}

type routeKey struct {
	addr  string
	route wire.RouteID
}

type joinState struct {
	player wire.PlayerID
	sink   *cancel.CancelableSender[error]
	cancel context.CancelFunc
}

type activeRoute struct {
	player       wire.PlayerID
	addr         *net.UDPAddr
	lastActivity time.Time
}

type joinRequest struct {
	route   wire.RouteID
	player  wire.PlayerID
	addr    *net.UDPAddr
	timeout time.Duration
	sink    *cancel.CancelableSender[error]
}

type joinTimeoutRequest struct {
	key routeKey
}

// Client is the relay client's externally visible handle. All its methods
// are safe to call concurrently; the state they touch is only ever mutated
// by the single goroutine running inside Run.
//
// The timing fields may be adjusted after New and before Run; their
// defaults match the relay protocol's standard cadence.
type Client struct {
	ResendInterval    time.Duration
	KeepAliveInterval time.Duration
	RouteStaleAfter   time.Duration

	log *slog.Logger
	tr  *transport.Transport

	reqCh   chan any
	inbound chan InboundMessage

	closedMu sync.RWMutex
	closed   bool
}

// New creates a relay client atop an already-constructed transport. Call
// Run to start serving; Run must be running for JoinRoute or Forward to do
// anything useful.
func New(tr *transport.Transport, log *slog.Logger) *Client {
	return &Client{
		ResendInterval:    resendInterval,
		KeepAliveInterval: keepAliveInterval,
		RouteStaleAfter:   routeStaleAfter,
		log:               log,
		tr:                tr,
		reqCh:             make(chan any, 64),
		inbound:           make(chan InboundMessage, 256),
	}
}

// Inbound returns the channel of payloads received on active routes.
func (c *Client) Inbound() <-chan InboundMessage {
	return c.inbound
}

// JoinRoute starts (or rejoins) a route: it sends MSG_JOIN_ROUTE to addr on
// the resend cadence until the server answers with success or failure, or
// until timeout elapses, whichever comes first, or ctx is canceled.
func (c *Client) JoinRoute(ctx context.Context, addr *net.UDPAddr, route wire.RouteID, player wire.PlayerID, timeout time.Duration) error {
	if c.isClosed() {
		return ErrNotActive
	}
	sender, receiver := cancel.Channel[error]()
	req := joinRequest{route: route, player: player, addr: addr, timeout: timeout, sink: sender}

	select {
	case c.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Abandoning the receiver fires the sink's token, which the resend loop
	// races against, so giving up on the join also stops its datagrams.
	defer receiver.Abandon()

	result, err := receiver.Wait(ctx)
	if err != nil {
		return err
	}
	return result
}

// Forward sends an application payload on an already-active route. It does
// not wait for any acknowledgment — reliability is the ack manager's job,
// layered above this.
func (c *Client) Forward(route wire.RouteID, player wire.PlayerID, addr *net.UDPAddr, payload []byte) {
	c.tr.Send(wire.EncodeForward(route, player, payload), addr, nil)
}

func (c *Client) isClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// Run drives the client's state machine until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
	}()

	joins := make(map[routeKey]*joinState)
	active := make(map[routeKey]*activeRoute)
	joinedServers := make(map[string]struct{})

	keepAliveTicker := time.NewTicker(c.KeepAliveInterval)
	defer keepAliveTicker.Stop()
	staleTicker := time.NewTicker(c.RouteStaleAfter)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, js := range joins {
				js.cancel()
				js.sink.Send(ErrNotActive)
			}
			return nil

		case req := <-c.reqCh:
			switch r := req.(type) {
			case joinRequest:
				key := routeKey{addr: r.addr.String(), route: r.route}
				resendCtx, stopResend := context.WithCancel(ctx)
				joins[key] = &joinState{player: r.player, sink: r.sink, cancel: stopResend}
				joinedServers[r.addr.String()] = struct{}{}
				go c.resendLoop(resendCtx, r.addr, r.route, r.player, r.timeout, key, r.sink)

			case joinTimeoutRequest:
				if js, ok := joins[r.key]; ok {
					delete(joins, r.key)
					js.sink.Send(ErrTimeout)
				}
			}

		case dgram := <-c.tr.Recv():
			c.handleDatagram(dgram, joins, active, joinedServers)

		case <-keepAliveTicker.C:
			for key, ar := range active {
				c.tr.Send(wire.EncodeKeepAlive(key.route, ar.player), ar.addr, nil)
			}

		case <-staleTicker.C:
			now := time.Now()
			for key, ar := range active {
				if now.Sub(ar.lastActivity) > c.RouteStaleAfter {
					c.log.Info("relay: dropping stale route", "route", key.route, "addr", key.addr)
					delete(active, key)
				}
			}
		}
	}
}

func (c *Client) handleDatagram(dgram transport.Datagram, joins map[routeKey]*joinState, active map[routeKey]*activeRoute, joinedServers map[string]struct{}) {
	msg, err := wire.DecodeRelayMessage(dgram.Data)
	if err != nil {
		c.log.Warn("relay: dropping malformed datagram", "from", dgram.Source, "error", err)
		return
	}

	switch msg.Kind {
	case wire.MsgJoinRouteSuccess:
		key := routeKey{addr: dgram.Source.String(), route: msg.Route}
		js, hasJoin := joins[key]
		ar, hasActive := active[key]
		var player wire.PlayerID
		switch {
		case hasJoin:
			player = js.player
		case hasActive:
			player = ar.player
		default:
			return
		}
		c.tr.Send(wire.EncodeJoinRouteSuccessAck(msg.Route, player), dgram.Source, nil)
		if hasJoin {
			js.cancel()
			delete(joins, key)
			active[key] = &activeRoute{player: player, addr: dgram.Source, lastActivity: time.Now()}
			js.sink.Send(nil)
		}

	case wire.MsgJoinRouteFailure:
		if _, ok := joinedServers[dgram.Source.String()]; !ok {
			return
		}
		c.tr.Send(wire.EncodeJoinRouteFailureAck(msg.Failure), dgram.Source, nil)
		key := routeKey{addr: dgram.Source.String(), route: msg.Route}
		if js, ok := joins[key]; ok {
			js.cancel()
			delete(joins, key)
			js.sink.Send(ErrJoinFailed)
		}

	case wire.MsgRouteReady:
		key := routeKey{addr: dgram.Source.String(), route: msg.Route}
		if ar, ok := active[key]; ok {
			c.tr.Send(wire.EncodeRouteReadyAck(msg.Route, ar.player), dgram.Source, nil)
			ar.lastActivity = time.Now()
		}

	case wire.MsgKeepAlive:
		key := routeKey{addr: dgram.Source.String(), route: msg.Route}
		if ar, ok := active[key]; ok {
			ar.lastActivity = time.Now()
		}

	case wire.MsgReceive:
		key := routeKey{addr: dgram.Source.String(), route: msg.Route}
		if ar, ok := active[key]; ok {
			ar.lastActivity = time.Now()
			select {
			case c.inbound <- InboundMessage{Route: msg.Route, From: dgram.Source, Data: msg.ReceiveBuf}:
			default:
				c.log.Warn("relay: inbound queue full, dropping message", "route", msg.Route)
			}
		}

	case wire.MsgPing:
		c.tr.Send(wire.EncodePing(msg.PingID), dgram.Source, nil)

	default:
		c.log.Warn("relay: unexpected message kind from peer", "kind", fmt.Sprintf("0x%02x", msg.Kind), "from", dgram.Source)
	}
}

func (c *Client) resendLoop(ctx context.Context, addr *net.UDPAddr, route wire.RouteID, player wire.PlayerID, timeout time.Duration, key routeKey, sink *cancel.CancelableSender[error]) {
	msg := wire.EncodeJoinRoute(route, player)
	c.tr.Send(msg, addr, nil)

	ticker := time.NewTicker(c.ResendInterval)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sink.Token().Done():
			return
		case <-ticker.C:
			c.tr.Send(msg, addr, nil)
		case <-timer.C:
			select {
			case c.reqCh <- joinTimeoutRequest{key: key}:
			case <-ctx.Done():
			}
			return
		}
	}
}
