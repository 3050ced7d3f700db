// Package bridge implements the control-process bridge: a single
// text-framed WebSocket connection to a known-local port, decoding inbound
// commands and encoding outbound progress/result events.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Command names recognized from the control process.
const (
	CmdSettings    = "settings"
	CmdLocalUser   = "localUser"
	CmdRoutes      = "routes"
	CmdSetupGame   = "setupGame"
	CmdQuit        = "quit"
	CmdCleanupQuit = "cleanup_and_quit"
)

// gameIDHeader carries the correlation id the connect request sends; the
// control process uses it to match this game process to its session.
const gameIDHeader = "x-game-id"

// originTag is the fixed Origin the connect request presents so the control
// process can tell game-process connections apart from stray local clients.
const originTag = "BROODWARS"

// Command is one decoded inbound message: {command, payload}.
type Command struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// SetupProgressState mirrors the control process's numeric progress states;
// ERROR is the one this runtime's error paths always report.
type SetupProgressState uint32

// GameStatusError is the control process's numeric code for a failed setup.
const GameStatusError SetupProgressState = 666

// SetupProgress is the `/game/setupProgress` outbound event. State nests
// under a `status` object, the shape the control process expects.
type SetupProgress struct {
	Status SetupProgressInfo `json:"status"`
}

// SetupProgressInfo is SetupProgress's nested payload.
type SetupProgressInfo struct {
	State uint32  `json:"state"`
	Extra *string `json:"extra,omitempty"`
}

// GamePlayerResult is one player's entry in a GameResultsReport.
type GamePlayerResult struct {
	Result string `json:"result"`
	Race   string `json:"race"`
	APM    uint32 `json:"apm"`
}

// GameResultsReport is the `/game/end` outbound event.
type GameResultsReport struct {
	UserID        uint32                      `json:"userId"`
	ResultCode    string                      `json:"resultCode"`
	Time          uint64                      `json:"time"`
	PlayerResults map[uint32]GamePlayerResult `json:"playerResults"`
}

// Bridge owns one WebSocket connection to the control process. Before the
// session has been established, connect failures are retried with backoff;
// once a connection is up, losing it is terminal for the session. The
// control process has no way to reconstruct mid-game state, so reconnecting
// mid-session would only mislead it.
type Bridge struct {
	url     string
	gameID  string
	backoff time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	commands chan Command
	closed   chan struct{}
}

// New creates a Bridge that will dial port on localhost, identifying itself
// with gameID. Call Run to connect and start serving.
func New(port int, gameID string, backoff time.Duration, log *slog.Logger) *Bridge {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("127.0.0.1:%d", port), Path: "/"}
	return &Bridge{
		url:     u.String(),
		gameID:  gameID,
		backoff: backoff,
		log:     log,

		commands: make(chan Command, 32),
		closed:   make(chan struct{}),
	}
}

// Commands returns the channel of decoded inbound commands. It is closed
// when Run returns: once an established connection drops, or when ctx is
// canceled. Failed connect attempts are retried and do not close it.
func (b *Bridge) Commands() <-chan Command {
	return b.commands
}

// Closed returns a channel closed the moment the bridge's connection has
// dropped for good; the orchestrator selects on this to end the session.
func (b *Bridge) Closed() <-chan struct{} {
	return b.closed
}

// Run connects, reconnecting with backoff on failure, then reads commands
// until the connection drops or ctx is canceled. It never reconnects once a
// connection has been successfully established and then lost.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.commands)
	defer close(b.closed)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header := http.Header{}
		header.Set(gameIDHeader, b.gameID)
		header.Set("Origin", originTag)

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, b.url, header)
		if err != nil {
			b.log.Warn("bridge: connect failed, retrying", "url", b.url, "error", err, "backoff", b.backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.backoff):
				continue
			}
		}

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.log.Info("bridge: connected", "url", b.url)
		err = b.readLoop(ctx, conn)
		_ = conn.Close()
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		return err
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bridge: read: %w", err)
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			b.log.Warn("bridge: dropping malformed command", "error", err)
			continue
		}

		select {
		case b.commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendSetupProgress encodes and sends a `/game/setupProgress` event.
func (b *Bridge) SendSetupProgress(state uint32, extra string) error {
	var extraPtr *string
	if extra != "" {
		extraPtr = &extra
	}
	return b.send("/game/setupProgress", SetupProgress{Status: SetupProgressInfo{State: state, Extra: extraPtr}})
}

// SendSetupError is a convenience wrapper reporting a fatal setup error with
// GameStatusError.
func (b *Bridge) SendSetupError(err error) error {
	return b.SendSetupProgress(uint32(GameStatusError), err.Error())
}

// SendGameStart encodes and sends a `/game/start` event.
func (b *Bridge) SendGameStart() error {
	return b.send("/game/start", struct{}{})
}

// SendGameEnd encodes and sends a `/game/end` event carrying results.
func (b *Bridge) SendGameEnd(results GameResultsReport) error {
	return b.send("/game/end", results)
}

func (b *Bridge) send(command string, payload any) error {
	envelope := struct {
		Command string `json:"command"`
		Payload any    `json:"payload"`
	}{Command: command, Payload: payload}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("bridge: marshal %s: %w", command, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("bridge: not connected")
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("bridge: write %s: %w", command, err)
	}
	return nil
}

// ParsePort parses a server_port process argument into an int, returning a
// descriptive error on failure.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bridge: invalid port %q: %w", s, err)
	}
	return port, nil
}
