package wire

import (
	"encoding/binary"
	"fmt"
)

// Relay message IDs, exactly these byte values on the wire.
const (
	MsgJoinRoute           byte = 0x05
	MsgJoinRouteSuccess    byte = 0x06
	MsgJoinRouteSuccessAck byte = 0x07
	MsgJoinRouteFailure    byte = 0x08
	MsgJoinRouteFailureAck byte = 0x09
	MsgRouteReady          byte = 0x0a
	MsgRouteReadyAck       byte = 0x0b
	MsgKeepAlive           byte = 0x0c
	MsgReceive             byte = 0x0d
	MsgForward             byte = 0x0e
	MsgPing                byte = 0x0f
)

// RouteID is the relay server's 64-bit route identifier.
type RouteID uint64

// PlayerID is this endpoint's 32-bit identifier within a route.
type PlayerID uint32

// FailureID identifies a join-failure event, echoed back in its ack.
type FailureID uint64

// RelayMessage is the decoded form of any inbound relay datagram.
type RelayMessage struct {
	Kind       byte
	Route      RouteID
	Player     PlayerID
	Failure    FailureID
	PingID     uint32
	ReceiveBuf []byte // only set for MsgReceive and MsgForward
}

// EncodeJoinRoute builds MSG_JOIN_ROUTE || route_id || player_id.
func EncodeJoinRoute(route RouteID, player PlayerID) []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = MsgJoinRoute
	binary.LittleEndian.PutUint64(buf[1:], uint64(route))
	binary.LittleEndian.PutUint32(buf[9:], uint32(player))
	return buf
}

// EncodeJoinRouteSuccessAck builds MSG_JOIN_ROUTE_SUCCESS_ACK || route_id || player_id.
func EncodeJoinRouteSuccessAck(route RouteID, player PlayerID) []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = MsgJoinRouteSuccessAck
	binary.LittleEndian.PutUint64(buf[1:], uint64(route))
	binary.LittleEndian.PutUint32(buf[9:], uint32(player))
	return buf
}

// EncodeJoinRouteFailureAck builds MSG_JOIN_ROUTE_FAILURE_ACK || failure_id.
func EncodeJoinRouteFailureAck(failure FailureID) []byte {
	buf := make([]byte, 1+8)
	buf[0] = MsgJoinRouteFailureAck
	binary.LittleEndian.PutUint64(buf[1:], uint64(failure))
	return buf
}

// EncodeRouteReadyAck builds MSG_ROUTE_READY_ACK || route_id || player_id.
func EncodeRouteReadyAck(route RouteID, player PlayerID) []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = MsgRouteReadyAck
	binary.LittleEndian.PutUint64(buf[1:], uint64(route))
	binary.LittleEndian.PutUint32(buf[9:], uint32(player))
	return buf
}

// EncodeKeepAlive builds MSG_KEEP_ALIVE || route_id || player_id.
func EncodeKeepAlive(route RouteID, player PlayerID) []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = MsgKeepAlive
	binary.LittleEndian.PutUint64(buf[1:], uint64(route))
	binary.LittleEndian.PutUint32(buf[9:], uint32(player))
	return buf
}

// EncodeForward builds MSG_FORWARD || route_id || player_id || bytes.
func EncodeForward(route RouteID, player PlayerID, payload []byte) []byte {
	buf := make([]byte, 1+8+4+len(payload))
	buf[0] = MsgForward
	binary.LittleEndian.PutUint64(buf[1:], uint64(route))
	binary.LittleEndian.PutUint32(buf[9:], uint32(player))
	copy(buf[13:], payload)
	return buf
}

// EncodePing builds MSG_PING || id.
func EncodePing(id uint32) []byte {
	buf := make([]byte, 1+4)
	buf[0] = MsgPing
	binary.LittleEndian.PutUint32(buf[1:], id)
	return buf
}

// DecodeRelayMessage parses one inbound relay datagram. A message shorter
// than its schema, or with trailing bytes after a fixed schema (every kind
// except MSG_RECEIVE and MSG_FORWARD, whose payloads consume the tail), is reported as an
// error; the caller logs and drops it.
func DecodeRelayMessage(data []byte) (RelayMessage, error) {
	if len(data) < 1 {
		return RelayMessage{}, fmt.Errorf("wire: empty relay datagram")
	}
	kind := data[0]
	body := data[1:]

	switch kind {
	case MsgJoinRoute:
		route, player, rest, err := readRoutePlayer(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE: %w", err)
		}
		if len(rest) != 0 {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route, Player: player}, nil

	case MsgJoinRouteSuccess:
		route, rest, err := readRoute(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_SUCCESS: %w", err)
		}
		if len(rest) != 0 {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_SUCCESS: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route}, nil

	case MsgJoinRouteSuccessAck:
		route, player, rest, err := readRoutePlayer(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_SUCCESS_ACK: %w", err)
		}
		if len(rest) != 0 {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_SUCCESS_ACK: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route, Player: player}, nil

	case MsgJoinRouteFailure:
		if len(body) < 16 {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_FAILURE: too short")
		}
		route := RouteID(binary.LittleEndian.Uint64(body[0:8]))
		failure := FailureID(binary.LittleEndian.Uint64(body[8:16]))
		if len(body) != 16 {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_FAILURE: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route, Failure: failure}, nil

	case MsgJoinRouteFailureAck:
		if len(body) != 8 {
			return RelayMessage{}, fmt.Errorf("wire: JOIN_ROUTE_FAILURE_ACK: bad length")
		}
		failure := FailureID(binary.LittleEndian.Uint64(body))
		return RelayMessage{Kind: kind, Failure: failure}, nil

	case MsgRouteReady:
		route, rest, err := readRoute(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: ROUTE_READY: %w", err)
		}
		if len(rest) != 0 {
			return RelayMessage{}, fmt.Errorf("wire: ROUTE_READY: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route}, nil

	case MsgRouteReadyAck:
		route, player, rest, err := readRoutePlayer(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: ROUTE_READY_ACK: %w", err)
		}
		if len(rest) != 0 {
			return RelayMessage{}, fmt.Errorf("wire: ROUTE_READY_ACK: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route, Player: player}, nil

	case MsgKeepAlive:
		route, player, rest, err := readRoutePlayer(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: KEEP_ALIVE: %w", err)
		}
		if len(rest) != 0 {
			return RelayMessage{}, fmt.Errorf("wire: KEEP_ALIVE: trailing bytes")
		}
		return RelayMessage{Kind: kind, Route: route, Player: player}, nil

	case MsgReceive:
		route, rest, err := readRoute(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: RECEIVE: %w", err)
		}
		buf := make([]byte, len(rest))
		copy(buf, rest)
		return RelayMessage{Kind: kind, Route: route, ReceiveBuf: buf}, nil

	case MsgForward:
		route, player, rest, err := readRoutePlayer(body)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("wire: FORWARD: %w", err)
		}
		buf := make([]byte, len(rest))
		copy(buf, rest)
		return RelayMessage{Kind: kind, Route: route, Player: player, ReceiveBuf: buf}, nil

	case MsgPing:
		if len(body) != 4 {
			return RelayMessage{}, fmt.Errorf("wire: PING: bad length")
		}
		return RelayMessage{Kind: kind, PingID: binary.LittleEndian.Uint32(body)}, nil

	default:
		return RelayMessage{}, fmt.Errorf("wire: unknown relay message id 0x%02x", kind)
	}
}

func readRoute(body []byte) (RouteID, []byte, error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("too short for route_id")
	}
	return RouteID(binary.LittleEndian.Uint64(body[:8])), body[8:], nil
}

func readRoutePlayer(body []byte) (RouteID, PlayerID, []byte, error) {
	if len(body) < 12 {
		return 0, 0, nil, fmt.Errorf("too short for route_id+player_id")
	}
	route := RouteID(binary.LittleEndian.Uint64(body[:8]))
	player := PlayerID(binary.LittleEndian.Uint32(body[8:12]))
	return route, player, body[12:], nil
}
