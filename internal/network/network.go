// Package network implements the network manager: the single task that
// owns the relay client handle, drives route joins, and gates readiness on
// both the route set and the SNP adapter being bound. Readiness is two
// independently satisfiable waiter lists joined per caller, not one flag,
// so either half can resolve first.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/relaycore/bwbridge/internal/relay"
	"github.com/relaycore/bwbridge/internal/snp"
	"github.com/relaycore/bwbridge/internal/wire"
)

// ErrNotActive is returned to any waiter left stranded by a collapsed
// subsystem (the relay client stopping, or the SNP adapter being destroyed
// while a readiness wait is outstanding).
var ErrNotActive = errors.New("network: not active")

// RouteSetupEntry is one entry of a Routes request: which route to join,
// who we are on it, which remote user it reaches, and against which server.
type RouteSetupEntry struct {
	RouteID    wire.RouteID
	PlayerID   wire.PlayerID
	ForUser    uint32
	ServerAddr *net.UDPAddr
	Timeout    time.Duration
}

type routesRequest struct {
	setup []RouteSetupEntry
}

type routesResolved struct {
	err error
}

type snpBindRequest struct {
	handle *snp.SendHandle
}

type waitReadyRequest struct {
	ctx  context.Context
	done chan<- error
}

// Manager owns one relay client and the currently installed route set. Its
// state is only ever mutated by the goroutine running Run, and its methods
// post to its request channel; the exception is the submitted route set,
// which SetRoutes and Routes read and write directly under routesMu.
type Manager struct {
	log   *slog.Logger
	relay *relay.Client

	reqCh chan any

	routesMu sync.Mutex
	routes   []RouteSetupEntry
}

// New creates a Manager atop an already-constructed relay client. Call Run
// to start serving.
func New(r *relay.Client, log *slog.Logger) *Manager {
	return &Manager{
		log:   log,
		relay: r,
		reqCh: make(chan any, 32),
	}
}

// SetRoutes records setup as the current route set and queues it for Run,
// which issues a JoinRoute for every entry. It returns nil as soon as the
// request is queued (or ctx.Err() if ctx ends first); it does not wait for
// the joins, whose outcome WaitNetworkReady reports.
func (m *Manager) SetRoutes(ctx context.Context, setup []RouteSetupEntry) error {
	m.routesMu.Lock()
	m.routes = append([]RouteSetupEntry(nil), setup...)
	m.routesMu.Unlock()
	select {
	case m.reqCh <- routesRequest{setup: setup}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Routes returns the most recently submitted route set; the peer assigner
// uses it to map remote users onto routes.
func (m *Manager) Routes() []RouteSetupEntry {
	m.routesMu.Lock()
	defer m.routesMu.Unlock()
	return append([]RouteSetupEntry(nil), m.routes...)
}

// BindSnp registers the SNP adapter's send handle, unblocking any
// WaitNetworkReady call that was only waiting on SNP.
func (m *Manager) BindSnp(handle *snp.SendHandle) {
	m.reqCh <- snpBindRequest{handle: handle}
}

// DestroySnp clears the registered SNP handle and fails any in-flight
// WaitNetworkReady waits that were depending on it.
func (m *Manager) DestroySnp() {
	m.reqCh <- snpBindRequest{handle: nil}
}

// WaitNetworkReady completes once both the route set has resolved
// successfully and the SNP adapter is bound; it fails with ErrNotActive if
// either side collapses before that happens.
func (m *Manager) WaitNetworkReady(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case m.reqCh <- waitReadyRequest{ctx: ctx, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the manager's state machine until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	var routes *error // nil until resolved; once resolved, points at the result (nil error = ok)
	var snpHandle *snp.SendHandle

	var waitingRoutes []chan error
	var waitingSnp []chan error

	failAll := func(err error) {
		for _, ch := range waitingRoutes {
			ch <- err
		}
		waitingRoutes = nil
		for _, ch := range waitingSnp {
			ch <- err
		}
		waitingSnp = nil
	}

	for {
		select {
		case <-ctx.Done():
			failAll(ErrNotActive)
			return nil

		case req := <-m.reqCh:
			switch r := req.(type) {
			case routesRequest:
				go m.resolveRoutes(ctx, r.setup)

			case routesResolved:
				err := r.err
				routes = &err
				for _, ch := range waitingRoutes {
					ch <- err
				}
				waitingRoutes = nil

			case snpBindRequest:
				if r.handle != nil {
					snpHandle = r.handle
					for _, ch := range waitingSnp {
						ch <- nil
					}
					waitingSnp = nil
				} else {
					snpHandle = nil
					for _, ch := range waitingSnp {
						ch <- ErrNotActive
					}
					waitingSnp = nil
				}

			case waitReadyRequest:
				routesCh := make(chan error, 1)
				if routes != nil {
					routesCh <- *routes
				} else {
					waitingRoutes = append(waitingRoutes, routesCh)
				}
				snpCh := make(chan error, 1)
				if snpHandle != nil {
					snpCh <- nil
				} else {
					waitingSnp = append(waitingSnp, snpCh)
				}
				go joinWaiters(r.ctx, routesCh, snpCh, r.done)
			}
		}
	}
}

func (m *Manager) resolveRoutes(ctx context.Context, setup []RouteSetupEntry) {
	errs := make(chan error, len(setup))
	for _, entry := range setup {
		entry := entry
		go func() {
			errs <- m.relay.JoinRoute(ctx, entry.ServerAddr, entry.RouteID, entry.PlayerID, entry.Timeout)
		}()
	}

	var firstErr error
	for range setup {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		firstErr = fmt.Errorf("network: routes: %w", firstErr)
	}

	select {
	case m.reqCh <- routesResolved{err: firstErr}:
	case <-ctx.Done():
	}
}

// joinWaiters joins the two halves of a readiness wait: routes must resolve
// successfully before SNP readiness is even consulted.
func joinWaiters(ctx context.Context, routesCh, snpCh chan error, done chan<- error) {
	select {
	case err := <-routesCh:
		if err != nil {
			done <- err
			return
		}
	case <-ctx.Done():
		done <- ctx.Err()
		return
	}

	select {
	case err := <-snpCh:
		done <- err
	case <-ctx.Done():
		done <- ctx.Err()
	}
}
