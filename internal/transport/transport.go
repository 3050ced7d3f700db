// Package transport runs the runtime's one UDP socket on dedicated
// goroutines, bridging blocking send/recv into channels so that every
// send's success or failure is observable — unlike the platform's native
// async UDP, whose completion step for a send is not reliably surfaced.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Datagram is one received UDP packet.
type Datagram struct {
	Data   []byte
	Source *net.UDPAddr
}

type sendRequest struct {
	data    []byte
	dest    *net.UDPAddr
	errSink chan<- error
}

// Transport owns one UDP socket and exposes it as channels. Binds an
// unspecified "udp" address so the kernel serves both IPv4 and IPv6 peers
// off one socket on platforms (Linux, the runtime's primary target) whose
// default is dual-stack for unspecified addresses; stdlib net does not
// expose IPV6_V6ONLY directly, so this relies on that platform default
// rather than a raw syscall.
type Transport struct {
	log *slog.Logger

	localAddr string

	mu     sync.RWMutex
	conn   *net.UDPConn
	sendCh chan sendRequest
	recvCh chan Datagram
}

// New creates a Transport bound to localAddr (e.g. ":0" or "[::]:7777").
// Call Run to bind the socket and start serving.
func New(localAddr string, log *slog.Logger) *Transport {
	return &Transport{
		log:       log,
		localAddr: localAddr,
		sendCh:    make(chan sendRequest, 256),
		recvCh:    make(chan Datagram, 256),
	}
}

// Recv returns the channel of inbound datagrams as raw bytes. The transport
// does no decoding; its consumer decodes them and drops the malformed ones.
func (t *Transport) Recv() <-chan Datagram {
	return t.recvCh
}

// Send is fire-and-forget; if errSink is non-nil, a send failure is
// delivered there (non-blocking — a full errSink just drops the error,
// mirroring "else logged" for a caller who isn't watching closely enough
// to keep up).
func (t *Transport) Send(data []byte, dest *net.UDPAddr, errSink chan<- error) {
	select {
	case t.sendCh <- sendRequest{data: data, dest: dest, errSink: errSink}:
	default:
		t.log.Warn("transport: send queue full, dropping datagram", "dest", dest)
		if errSink != nil {
			select {
			case errSink <- fmt.Errorf("transport: send queue full"):
			default:
			}
		}
	}
}

// Run binds the socket and serves until ctx is canceled, automatically
// resetting (rebind + respawn) whenever the recv or send goroutine exits
// with an error. Run returns when ctx is canceled or a reset itself fails
// after its single retry.
func (t *Transport) Run(ctx context.Context) error {
	bound := false
	for {
		if !bound {
			if err := t.bind(); err != nil {
				return fmt.Errorf("transport: initial bind: %w", err)
			}
		}
		bound = false

		err := t.serveOneIncarnation(ctx)
		t.closeConn()

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}

		t.log.Warn("transport: incarnation ended, resetting", "error", err)
		if rerr := t.reset(); rerr != nil {
			return fmt.Errorf("transport: reset failed: %w", rerr)
		}
		bound = true
	}
}

func (t *Transport) serveOneIncarnation(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.recvLoop(gctx) })
	g.Go(func() error { return t.sendLoop(gctx) })
	return g.Wait()
}

func (t *Transport) bind() error {
	addr, err := net.ResolveUDPAddr("udp", t.localAddr)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", t.localAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", t.localAddr, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// reset rebinds the socket, retrying once after 500ms on failure.
func (t *Transport) reset() error {
	if err := t.bind(); err == nil {
		return nil
	}
	time.Sleep(500 * time.Millisecond)
	return t.bind()
}

func (t *Transport) closeConn() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// LocalAddr returns the socket's currently bound address, or nil if Run has
// not yet bound it (or it is mid-reset).
func (t *Transport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *Transport) currentConn() *net.UDPConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

func (t *Transport) recvLoop(ctx context.Context) error {
	conn := t.currentConn()
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.recvCh <- Datagram{Data: data, Source: src}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Transport) sendLoop(ctx context.Context) error {
	conn := t.currentConn()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-t.sendCh:
			_, err := conn.WriteToUDP(req.data, req.dest)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if req.errSink != nil {
					select {
					case req.errSink <- err:
					default:
					}
				} else {
					t.log.Error("transport: send failed", "dest", req.dest, "error", err)
				}
				if errors.Is(err, net.ErrClosed) {
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	}
}
