package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/bwbridge/internal/testutil"
	"github.com/relaycore/bwbridge/internal/transport"
	"github.com/relaycore/bwbridge/internal/wire"
)

// Two clients join the same route on a fake relay; a payload forwarded by
// one arrives on the other's inbound channel.
func TestForwardReceiveRoundTrip(t *testing.T) {
	server := testutil.NewFakeRelayServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	newClient := func() *Client {
		tr := transport.New("127.0.0.1:0", testutil.Logger())
		go tr.Run(ctx)
		time.Sleep(20 * time.Millisecond)
		c := New(tr, testutil.Logger())
		go c.Run(ctx)
		return c
	}

	const route wire.RouteID = 77
	a := newClient()
	b := newClient()

	joinCtx, joinCancel := context.WithTimeout(ctx, 2*time.Second)
	defer joinCancel()
	require.NoError(t, a.JoinRoute(joinCtx, server.Addr(), route, 1, time.Second))
	require.NoError(t, b.JoinRoute(joinCtx, server.Addr(), route, 2, time.Second))

	payload := []byte{0xAA, 0xBB}
	a.Forward(route, 1, server.Addr(), payload)

	select {
	case msg := <-b.Inbound():
		require.Equal(t, route, msg.Route)
		require.Equal(t, payload, msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("payload never arrived on peer's inbound channel")
	}
}

// Once a route is joined the client sends MSG_KEEP_ALIVE on it periodically;
// the fake server counts them and the test waits for at least two.
func TestKeepAlivesFlowOnActiveRoute(t *testing.T) {
	server := testutil.NewFakeRelayServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr := transport.New("127.0.0.1:0", testutil.Logger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	c := New(tr, testutil.Logger())
	go c.Run(ctx)

	const route wire.RouteID = 5
	joinCtx, joinCancel := context.WithTimeout(ctx, 2*time.Second)
	defer joinCancel()
	require.NoError(t, c.JoinRoute(joinCtx, server.Addr(), route, 1, time.Second))

	require.Eventually(t, func() bool {
		return server.KeepAliveCount(route) >= 2
	}, 3*time.Second, 50*time.Millisecond, "keep-alives never arrived")
}

// A route whose joins the server rejects resolves the join with ErrJoinFailed.
func TestJoinRouteFailureViaFakeServer(t *testing.T) {
	server := testutil.NewFakeRelayServer(t)
	server.FailJoins(9, 1234)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr := transport.New("127.0.0.1:0", testutil.Logger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	c := New(tr, testutil.Logger())
	go c.Run(ctx)

	joinCtx, joinCancel := context.WithTimeout(ctx, 2*time.Second)
	defer joinCancel()
	err := c.JoinRoute(joinCtx, server.Addr(), 9, 1, time.Second)
	require.ErrorIs(t, err, ErrJoinFailed)
}
