// Package testutil provides network doubles for this module's tests: a fake
// relay server speaking just enough of the relay control protocol to drive
// join/keep-alive/forward round trips against a real UDP socket, and small
// logging helpers shared across packages.
package testutil

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/relaycore/bwbridge/internal/wire"
)

// Logger returns a slog.Logger that discards everything, for constructing
// components in tests without polluting test output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FakeRelayServer is a real UDP listener implementing the server side of the
// relay control protocol: it accepts joins, echoes pings, counts
// keep-alives, and forwards application payloads between the two endpoints
// of each route the way a production relay would.
type FakeRelayServer struct {
	t    *testing.T
	conn *net.UDPConn

	mu         sync.Mutex
	members    map[wire.RouteID][]*net.UDPAddr
	keepAlives map[wire.RouteID]int
	failRoutes map[wire.RouteID]wire.FailureID
}

// NewFakeRelayServer binds a fresh localhost socket and starts serving. It
// shuts down via t.Cleanup.
func NewFakeRelayServer(t *testing.T) *FakeRelayServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("testutil: bind fake relay server: %v", err)
	}
	s := &FakeRelayServer{
		t:          t,
		conn:       conn,
		members:    make(map[wire.RouteID][]*net.UDPAddr),
		keepAlives: make(map[wire.RouteID]int),
		failRoutes: make(map[wire.RouteID]wire.FailureID),
	}
	t.Cleanup(func() { conn.Close() })
	go s.serve()
	return s
}

// Addr returns the server's bound address, for handing to JoinRoute.
func (s *FakeRelayServer) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// FailJoins makes every subsequent JOIN_ROUTE for route be answered with
// JOIN_ROUTE_FAILURE carrying failure.
func (s *FakeRelayServer) FailJoins(route wire.RouteID, failure wire.FailureID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRoutes[route] = failure
}

// KeepAliveCount reports how many KEEP_ALIVE datagrams have arrived for
// route so far.
func (s *FakeRelayServer) KeepAliveCount(route wire.RouteID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlives[route]
}

func (s *FakeRelayServer) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := wire.DecodeRelayMessage(buf[:n])
		if err != nil {
			continue
		}
		s.handle(msg, from)
	}
}

func (s *FakeRelayServer) handle(msg wire.RelayMessage, from *net.UDPAddr) {
	switch msg.Kind {
	case wire.MsgJoinRoute:
		s.mu.Lock()
		failure, fail := s.failRoutes[msg.Route]
		if !fail {
			s.join(msg.Route, from)
		}
		s.mu.Unlock()
		if fail {
			s.send(encodeJoinRouteFailure(msg.Route, failure), from)
			return
		}
		s.send(encodeJoinRouteSuccess(msg.Route), from)

	case wire.MsgKeepAlive:
		s.mu.Lock()
		s.keepAlives[msg.Route]++
		s.mu.Unlock()

	case wire.MsgForward:
		s.mu.Lock()
		var peers []*net.UDPAddr
		for _, m := range s.members[msg.Route] {
			if m.String() != from.String() {
				peers = append(peers, m)
			}
		}
		s.mu.Unlock()
		for _, p := range peers {
			s.send(encodeReceive(msg.Route, msg.ReceiveBuf), p)
		}

	case wire.MsgPing:
		s.send(wire.EncodePing(msg.PingID), from)

	case wire.MsgJoinRouteSuccessAck, wire.MsgJoinRouteFailureAck, wire.MsgRouteReadyAck:
		// Acks terminate the server's resend obligation; this fake never
		// resends, so nothing to do.
	}
}

func (s *FakeRelayServer) join(route wire.RouteID, from *net.UDPAddr) {
	for _, m := range s.members[route] {
		if m.String() == from.String() {
			return
		}
	}
	s.members[route] = append(s.members[route], from)
}

func (s *FakeRelayServer) send(data []byte, to *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(data, to); err != nil {
		s.t.Logf("testutil: fake relay send to %s failed: %v", to, err)
	}
}

func encodeJoinRouteSuccess(route wire.RouteID) []byte {
	buf := make([]byte, 1+8)
	buf[0] = wire.MsgJoinRouteSuccess
	binary.LittleEndian.PutUint64(buf[1:], uint64(route))
	return buf
}

func encodeJoinRouteFailure(route wire.RouteID, failure wire.FailureID) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = wire.MsgJoinRouteFailure
	binary.LittleEndian.PutUint64(buf[1:9], uint64(route))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(failure))
	return buf
}

func encodeReceive(route wire.RouteID, payload []byte) []byte {
	buf := make([]byte, 1+8+len(payload))
	buf[0] = wire.MsgReceive
	binary.LittleEndian.PutUint64(buf[1:9], uint64(route))
	copy(buf[9:], payload)
	return buf
}
