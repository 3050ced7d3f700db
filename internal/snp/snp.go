// Package snp implements the pure-Go half of the SNP adapter: the
// mutex-guarded queues and address-spoofing table the game-facing C ABI
// (cmd/snpshim) delegates into. The C ABI itself only exists behind cgo; this
// package is what drives its behavior and is what every test in this module
// exercises directly.
package snp

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// ErrNoMessagesWaiting mirrors the platform's "no messages waiting" error the
// game-facing ABI surfaces when ReceivePacket finds the inbound queue empty.
var ErrNoMessagesWaiting = errors.New("snp: no messages waiting")

// ErrNotBound is returned by operations that require Initialize to have been
// called first.
var ErrNotBound = errors.New("snp: adapter not bound")

// ClientInfo is the opaque per-session identity the game hands to
// Initialize. Its fields beyond Name are native-ABI bytes this runtime
// never interprets; cmd/snpshim copies them into Raw verbatim.
type ClientInfo struct {
	Name string
	Raw  []byte
}

// GameInfo is the single "spoofed game" entry the adapter advertises back to
// the game through GetGameInfo. Raw carries the native bw.SnpGameInfo bytes
// verbatim; this package never interprets them, only stores and returns them.
type GameInfo struct {
	Index uint32
	Raw   []byte
}

// ReceivedMessage is one inbound payload, already addressed by the spoofed
// in-game IPv4 that identifies its sender to the game.
type ReceivedMessage struct {
	From netip.Addr
	Data []byte
}

// OutboundMessage is one payload the game asked to send, still addressed by
// the spoofed destination; the network manager resolves it to a real route
// before handing it to the relay client.
type OutboundMessage struct {
	To   netip.Addr
	Data []byte
}

// WakeFunc is called by the adapter exactly when a message is appended to
// the inbound queue, mirroring the OS event the real game thread waits on.
// It must never block and must not be called while the adapter's mutex is
// held.
type WakeFunc func()

// SendHandle is what the async side (the network manager) uses to push
// inbound messages into the adapter; unbinding is reported separately, by
// the BoundNotifier being called with nil. It is handed to a BoundNotifier the moment the game calls Initialize.
type SendHandle struct {
	adapter *Adapter
}

// Deliver enqueues msg into the adapter's inbound queue and wakes the game.
// Safe to call from any goroutine.
func (h *SendHandle) Deliver(msg ReceivedMessage) {
	h.adapter.deliver(msg)
}

// BoundNotifier is invoked synchronously from Initialize with a handle the
// network manager should register, and invoked again with nil when Unbind
// tears the binding down.
type BoundNotifier func(*SendHandle)

// Adapter is the SNP adapter's pure-Go state: the inbound/outbound queues
// and the advertised game info. Spoofed addresses are kept in a separate
// SpoofTable, not in the Adapter. All methods are safe for concurrent use; the mutex is never
// held while calling out to wake or notifier callbacks.
type Adapter struct {
	notify BoundNotifier
	wake   WakeFunc

	outbound chan OutboundMessage

	mu          sync.Mutex
	bound       bool
	clientInfo  *ClientInfo
	spoofedGame *GameInfo
	inbound     chan ReceivedMessage
	inboundCap  int
}

// New creates an unbound Adapter. notify is called with a non-nil
// *SendHandle on Initialize and nil on Unbind; outboundQueueSize and
// inboundQueueSize come from config.SnpConfig.
func New(notify BoundNotifier, inboundQueueSize, outboundQueueSize int) *Adapter {
	return &Adapter{
		notify:     notify,
		outbound:   make(chan OutboundMessage, outboundQueueSize),
		inboundCap: inboundQueueSize,
	}
}

// Outbound returns the channel of messages the game has asked to send,
// drained only by the network manager.
func (a *Adapter) Outbound() <-chan OutboundMessage {
	return a.outbound
}

// Initialize binds the adapter: it records client info, installs wake as the
// receive-event signal, and notifies the network manager with a fresh
// SendHandle so it can start delivering inbound messages.
func (a *Adapter) Initialize(info ClientInfo, wake WakeFunc) error {
	a.mu.Lock()
	a.bound = true
	a.clientInfo = &info
	a.spoofedGame = nil
	a.inbound = make(chan ReceivedMessage, a.inboundCap)
	a.wake = wake
	a.mu.Unlock()

	if a.notify != nil {
		a.notify(&SendHandle{adapter: a})
	}
	return nil
}

// Unbind tears the adapter down: it drops the spoofed game and client info
// and tells the network manager the binding is gone.
func (a *Adapter) Unbind() {
	a.mu.Lock()
	a.bound = false
	a.clientInfo = nil
	a.spoofedGame = nil
	a.inbound = nil
	a.wake = nil
	a.mu.Unlock()

	if a.notify != nil {
		a.notify(nil)
	}
}

// SpoofGame installs the single game entry GetGameInfo(1, ...) returns,
// called by the orchestrator once it has decided what to advertise to the
// game.
func (a *Adapter) SpoofGame(info GameInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spoofedGame = &info
}

// GetGameInfo returns the spoofed game for index 1, and ok=false for any
// other index or if nothing has been spoofed yet.
func (a *Adapter) GetGameInfo(index uint32) (GameInfo, bool) {
	if index != 1 {
		return GameInfo{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spoofedGame == nil {
		return GameInfo{}, false
	}
	return *a.spoofedGame, true
}

// SendPacket enqueues data as one outbound message per target. It returns
// the number of targets for which the outbound queue had room. A target
// whose message does not fit is dropped silently; this package does not log.
func (a *Adapter) SendPacket(targets []netip.Addr, data []byte) int {
	sent := 0
	for _, t := range targets {
		select {
		case a.outbound <- OutboundMessage{To: t, Data: data}:
			sent++
		default:
		}
	}
	return sent
}

// ReceivePacket dequeues one inbound message. It returns ErrNoMessagesWaiting
// (mapped by the ABI layer to the platform's "no messages waiting" last-error
// and a 0 return) when the queue is empty.
func (a *Adapter) ReceivePacket() (ReceivedMessage, error) {
	a.mu.Lock()
	ch := a.inbound
	a.mu.Unlock()
	if ch == nil {
		return ReceivedMessage{}, ErrNotBound
	}
	select {
	case msg := <-ch:
		return msg, nil
	default:
		return ReceivedMessage{}, ErrNoMessagesWaiting
	}
}

func (a *Adapter) deliver(msg ReceivedMessage) {
	a.mu.Lock()
	ch := a.inbound
	wake := a.wake
	a.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		return
	}
	if wake != nil {
		wake()
	}
}

// Bound reports whether Initialize has been called without a matching
// Unbind, used by the C-ABI layer to answer calls that must fail cleanly
// before the game has bound the adapter.
func (a *Adapter) Bound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bound
}

// SpoofTable assigns deterministic synthetic IPv4 addresses to player slots
// so traces stay reproducible across runs. Address 10.0.x.y is derived from
// the slot index as x = slot/256, y = slot%256.
type SpoofTable struct {
	mu       sync.Mutex
	bySlot   map[int]netip.Addr
	bySlotOk map[netip.Addr]int
}

// NewSpoofTable creates an empty table.
func NewSpoofTable() *SpoofTable {
	return &SpoofTable{
		bySlot:   make(map[int]netip.Addr),
		bySlotOk: make(map[netip.Addr]int),
	}
}

// Assign deterministically derives and records the spoofed address for
// slot, returning the existing assignment if the slot was already assigned.
func (t *SpoofTable) Assign(slot int) netip.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr, ok := t.bySlot[slot]; ok {
		return addr
	}
	addr := netip.AddrFrom4([4]byte{10, 0, byte((slot / 256) % 256), byte(slot % 256)})
	t.bySlot[slot] = addr
	t.bySlotOk[addr] = slot
	return addr
}

// Lookup reverses Assign: given a spoofed address, it returns the slot index
// that owns it.
func (t *SpoofTable) Lookup(addr netip.Addr) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.bySlotOk[addr]
	return slot, ok
}

// AddrFor is a convenience wrapper returning an error instead of a bool, for
// call sites that thread errors through.
func (t *SpoofTable) AddrFor(slot int) (netip.Addr, error) {
	addr := t.Assign(slot)
	if !addr.IsValid() {
		return netip.Addr{}, fmt.Errorf("snp: could not derive spoofed address for slot %d", slot)
	}
	return addr, nil
}
