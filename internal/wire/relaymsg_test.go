package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeJoinRoute(t *testing.T) {
	buf := EncodeJoinRoute(RouteID(123), PlayerID(7))
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgJoinRoute, msg.Kind)
	require.Equal(t, RouteID(123), msg.Route)
	require.Equal(t, PlayerID(7), msg.Player)
}

func TestDecodeJoinRouteSuccess(t *testing.T) {
	buf := append([]byte{MsgJoinRouteSuccess}, EncodeJoinRoute(RouteID(99), 0)[1:9]...)
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgJoinRouteSuccess, msg.Kind)
	require.Equal(t, RouteID(99), msg.Route)
}

func TestEncodeDecodeJoinRouteSuccessAck(t *testing.T) {
	buf := EncodeJoinRouteSuccessAck(RouteID(5), PlayerID(2))
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgJoinRouteSuccessAck, msg.Kind)
	require.Equal(t, RouteID(5), msg.Route)
	require.Equal(t, PlayerID(2), msg.Player)
}

func TestEncodeDecodeJoinRouteFailureAck(t *testing.T) {
	buf := EncodeJoinRouteFailureAck(FailureID(0xdead))
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgJoinRouteFailureAck, msg.Kind)
	require.Equal(t, FailureID(0xdead), msg.Failure)
}

func TestEncodeDecodeRouteReadyAck(t *testing.T) {
	buf := EncodeRouteReadyAck(RouteID(1), PlayerID(2))
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgRouteReadyAck, msg.Kind)
	require.Equal(t, RouteID(1), msg.Route)
	require.Equal(t, PlayerID(2), msg.Player)
}

func TestEncodeDecodeKeepAlive(t *testing.T) {
	buf := EncodeKeepAlive(RouteID(1), PlayerID(2))
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgKeepAlive, msg.Kind)
}

func TestEncodeDecodeForwardCarriesPayload(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	buf := EncodeForward(RouteID(1), PlayerID(2), payload)
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgForward, msg.Kind)
	require.Equal(t, RouteID(1), msg.Route)
	require.Equal(t, PlayerID(2), msg.Player)
	require.Equal(t, payload, msg.ReceiveBuf)
}

func TestDecodeReceiveCarriesPayload(t *testing.T) {
	payload := []byte{9, 9, 9}
	buf := append([]byte{MsgReceive}, EncodeJoinRoute(RouteID(42), 0)[1:9]...)
	buf = append(buf, payload...)
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgReceive, msg.Kind)
	require.Equal(t, RouteID(42), msg.Route)
	require.Equal(t, payload, msg.ReceiveBuf)
}

func TestEncodeDecodePing(t *testing.T) {
	buf := EncodePing(4242)
	msg, err := DecodeRelayMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MsgPing, msg.Kind)
	require.Equal(t, uint32(4242), msg.PingID)
}

func TestDecodeRelayMessageRejectsEmpty(t *testing.T) {
	_, err := DecodeRelayMessage(nil)
	require.Error(t, err)
}

func TestDecodeRelayMessageRejectsUnknownKind(t *testing.T) {
	_, err := DecodeRelayMessage([]byte{0xff})
	require.Error(t, err)
}

func TestDecodeRelayMessageRejectsTruncatedJoinRoute(t *testing.T) {
	_, err := DecodeRelayMessage([]byte{MsgJoinRoute, 1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRelayMessageRejectsTrailingBytes(t *testing.T) {
	buf := EncodeJoinRoute(RouteID(1), PlayerID(2))
	buf = append(buf, 0xff)
	_, err := DecodeRelayMessage(buf)
	require.Error(t, err)
}

func TestDecodeJoinRouteFailureRejectsTooShort(t *testing.T) {
	_, err := DecodeRelayMessage([]byte{MsgJoinRouteFailure, 1, 2, 3})
	require.Error(t, err)
}

func TestDecodePingRejectsBadLength(t *testing.T) {
	_, err := DecodeRelayMessage([]byte{MsgPing, 1, 2})
	require.Error(t, err)
}
