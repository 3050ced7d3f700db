package transport

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T) (*Transport, context.CancelFunc) {
	t.Helper()
	tr := New("127.0.0.1:0", slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = tr.Run(ctx) }()
	require.Eventually(t, func() bool {
		return tr.currentConn() != nil
	}, time.Second, time.Millisecond)
	return tr, cancel
}

func TestTransport_SendAndRecvRoundTrip(t *testing.T) {
	a, cancelA := newTestTransport(t)
	defer cancelA()
	b, cancelB := newTestTransport(t)
	defer cancelB()

	bAddr := b.currentConn().LocalAddr().(*net.UDPAddr)
	a.Send([]byte("hello"), bAddr, nil)

	select {
	case dgram := <-b.Recv():
		require.Equal(t, []byte("hello"), dgram.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestTransport_SendErrorReportedToErrSink(t *testing.T) {
	a, cancelA := newTestTransport(t)
	defer cancelA()

	errSink := make(chan error, 1)
	// Port 0 as a destination is never valid; WriteToUDP should fail.
	a.Send([]byte("x"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, errSink)

	select {
	case err := <-errSink:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a send error")
	}
}

func TestTransport_RunStopsOnContextCancel(t *testing.T) {
	tr := New("127.0.0.1:0", slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return tr.currentConn() != nil }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
