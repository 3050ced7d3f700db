package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	bwbridge "github.com/relaycore/bwbridge/internal/bridge"
	"github.com/relaycore/bwbridge/internal/network"
	"github.com/relaycore/bwbridge/internal/relay"
	"github.com/relaycore/bwbridge/internal/snp"
	"github.com/relaycore/bwbridge/internal/transport"
	"github.com/relaycore/bwbridge/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	gt      *GameThread
	results GameResults
}

func (f *fakeRunner) Initialize() error { return nil }
func (f *fakeRunner) RunWindowLoop(stop <-chan struct{}) error {
	<-stop
	return nil
}
func (f *fakeRunner) StartGame() error {
	f.gt.NotifyResults(f.results)
	return nil
}
func (f *fakeRunner) ExitCleanup() error { return nil }

type fakeLobby struct{}

func (fakeLobby) CreateLobby(ctx context.Context, mapPath, gameType string, subType *uint8) error {
	return nil
}
func (fakeLobby) JoinLobby(ctx context.Context) error { return nil }
func (fakeLobby) SetupSlots(ctx context.Context, info *GameSetupInfo) error {
	return nil
}
func (fakeLobby) SendLobbyGameInit(ctx context.Context, seed uint32) error { return nil }
func (fakeLobby) PollLobbyGameInitComplete(ctx context.Context) (bool, error) {
	return true, nil
}

type fakeControlProcess struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func (f *fakeControlProcess) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.conns <- conn
}

func testPort(t *testing.T, addr string) int {
	t.Helper()
	parts := strings.Split(addr, ":")
	port, err := strconv.Atoi(parts[len(parts)-1])
	require.NoError(t, err)
	return port
}

// startAutoJoinRelayServer runs a UDP server that answers every JOIN_ROUTE
// with immediate success, for tests that don't care about route semantics.
func startAutoJoinRelayServer(t *testing.T) *net.UDPAddr {
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
	return server.LocalAddr().(*net.UDPAddr)
}

func TestSessionRunHostHappyPath(t *testing.T) {
	control := &fakeControlProcess{conns: make(chan *websocket.Conn, 1)}
	srv := httptest.NewServer(control)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bwbridge.New(testPort(t, srv.Listener.Addr().String()), "game-1", 50*time.Millisecond, testLogger())
	go b.Run(ctx)
	conn := <-control.conns

	tr := transport.New("127.0.0.1:0", testLogger())
	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	r := relay.New(tr, testLogger())
	go r.Run(ctx)
	netMgr := network.New(r, testLogger())
	go netMgr.Run(ctx)

	runner := &fakeRunner{results: GameResults{TimeMS: 4200}}
	gt := NewGameThread(runner)
	runner.gt = gt
	go gt.Run()

	session := NewSession(b, netMgr, gt, fakeLobby{}, testLogger())
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- session.Run(ctx) }()

	send := func(command string, payload any) {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(bwbridge.Command{Command: command, Payload: data}))
	}

	send(bwbridge.CmdLocalUser, map[string]any{"name": "p1", "id": 1})
	send(bwbridge.CmdSettings, map[string]any{"region": "us"})

	relayAddr := startAutoJoinRelayServer(t)
	send(bwbridge.CmdRoutes, []map[string]any{
		{"routeId": 1, "forPlayer": 1, "address": relayAddr.IP.String(), "port": relayAddr.Port, "timeoutMs": 2000},
	})

	// Bind the SNP side of WaitNetworkReady the way cmd/runtime wires the
	// adapter's BoundNotifier to the network manager in the real process.
	adapter := snp.New(func(h *snp.SendHandle) {
		if h != nil {
			netMgr.BindSnp(h)
		} else {
			netMgr.DestroySnp()
		}
	}, 8, 8)
	require.NoError(t, adapter.Initialize(snp.ClientInfo{Name: "p1"}, func() {}))

	send(bwbridge.CmdSetupGame, map[string]any{
		"name":     "test game",
		"mapPath":  "maps/test.scm",
		"gameType": "melee",
		"seed":     1,
		"gameId":   "game-1",
		"host":     map[string]any{"id": "p1", "name": "p1", "userId": 1, "playerId": 0, "type": "human"},
		"slots": []map[string]any{
			{"id": "p1", "name": "p1", "userId": 1, "playerId": 0, "type": "human"},
		},
	})

	// Drain the setupProgress and gameStart/gameEnd events the pipeline
	// sends, looking for the final /game/end report.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for /game/end")
		default:
		}
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var envelope struct {
			Command string          `json:"command"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &envelope))
		if envelope.Command == "/game/end" {
			var report bwbridge.GameResultsReport
			require.NoError(t, json.Unmarshal(envelope.Payload, &report))
			require.Equal(t, uint64(4200), report.Time)
			return
		}
	}
}
