package network

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/bwbridge/internal/relay"
	"github.com/relaycore/bwbridge/internal/snp"
	"github.com/relaycore/bwbridge/internal/testutil"
	"github.com/relaycore/bwbridge/internal/transport"
	"github.com/relaycore/bwbridge/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager wires a Manager atop a relay client whose transport talks
// to a real loopback UDP server that always answers JOIN_ROUTE with success.
func newTestManager(t *testing.T) (*Manager, context.CancelFunc) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := server.ReadFromUDP(buf)
			if err != nil {
				return
			}
			msg, err := wire.DecodeRelayMessage(buf[:n])
			if err != nil || msg.Kind != wire.MsgJoinRoute {
				continue
			}
			resp := make([]byte, 9)
			resp[0] = wire.MsgJoinRouteSuccess
			for i := 0; i < 8; i++ {
				resp[1+i] = byte(msg.Route >> (8 * i))
			}
			server.WriteToUDP(resp, from)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	tr := transport.New("127.0.0.1:0", testLogger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	r := relay.New(tr, testLogger())
	go r.Run(ctx)

	m := New(r, testLogger())
	go m.Run(ctx)

	t.Cleanup(cancel)
	return m, cancel
}

func TestWaitNetworkReadyJoinsRoutesAndSnp(t *testing.T) {
	m, _ := newTestManager(t)

	ready := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ready <- m.WaitNetworkReady(ctx)
	}()

	// WaitNetworkReady must not complete until both routes and snp are set;
	// give it a moment to (not) fire early.
	select {
	case err := <-ready:
		t.Fatalf("WaitNetworkReady returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, m.SetRoutes(context.Background(), nil))

	select {
	case err := <-ready:
		t.Fatalf("WaitNetworkReady returned before snp bound: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	a := snp.New(func(h *snp.SendHandle) {
		if h != nil {
			m.BindSnp(h)
		} else {
			m.DestroySnp()
		}
	}, 8, 8)
	require.NoError(t, a.Initialize(snp.ClientInfo{Name: "p"}, func() {}))

	require.NoError(t, <-ready)
}

func TestWaitNetworkReadyFailsOnRouteError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.New("127.0.0.1:0", testLogger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	r := relay.New(tr, testLogger())
	go r.Run(ctx)

	m := New(r, testLogger())
	go m.Run(ctx)

	badAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	entries := []RouteSetupEntry{{RouteID: 1, PlayerID: 1, ServerAddr: badAddr, Timeout: 100 * time.Millisecond}}
	require.NoError(t, m.SetRoutes(ctx, entries))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	err := m.WaitNetworkReady(waitCtx)
	require.Error(t, err)
}

func TestWaitNetworkReadyFailsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	tr := transport.New("127.0.0.1:0", testLogger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	r := relay.New(tr, testLogger())
	go r.Run(ctx)

	m := New(r, testLogger())
	go m.Run(ctx)

	done := make(chan error, 1)
	go func() {
		done <- m.WaitNetworkReady(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, ErrNotActive)
}

func TestSetRoutesOneFailureFailsTheBatch(t *testing.T) {
	server := testutil.NewFakeRelayServer(t)
	server.FailJoins(3, 99)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.New("127.0.0.1:0", testLogger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	r := relay.New(tr, testLogger())
	go r.Run(ctx)

	m := New(r, testLogger())
	go m.Run(ctx)

	entries := []RouteSetupEntry{
		{RouteID: 1, PlayerID: 1, ServerAddr: server.Addr(), Timeout: 2 * time.Second},
		{RouteID: 2, PlayerID: 1, ServerAddr: server.Addr(), Timeout: 2 * time.Second},
		{RouteID: 3, PlayerID: 1, ServerAddr: server.Addr(), Timeout: 2 * time.Second},
	}
	require.NoError(t, m.SetRoutes(ctx, entries))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	err := m.WaitNetworkReady(waitCtx)
	require.ErrorIs(t, err, relay.ErrJoinFailed)
}
