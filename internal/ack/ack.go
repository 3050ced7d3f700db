// Package ack implements the per-peer sliding-window reliability layer that
// sits between the SNP adapter and the relay client: it turns a stream of
// application payloads into GameMessages with piggybacked redundancy, and
// turns received GameMessages back into ack bookkeeping, without itself
// ordering or deduplicating payloads (that discipline lives above it).
package ack

import (
	"container/list"
	"errors"
	"fmt"
	"time"

	"github.com/relaycore/bwbridge/internal/wire"
)

const (
	sentPacketsSize     = 256
	receivedPacketsSize = 33
	maxAckBits          = 32
)

// ErrMalformed is returned by HandleIncoming for a GameMessage that violates
// the ack protocol's own well-formedness rules (not a wire decode error —
// the message parsed fine, but its field combination is nonsensical).
var ErrMalformed = errors.New("ack: malformed game message")

type sentPacketSlot struct {
	valid       bool
	packetNum   uint64
	payloadNums []uint64
}

type receivedPacketSlot struct {
	valid     bool
	packetNum uint64
}

// SentPayload is a payload this endpoint has sent and is still waiting to
// see acked, tracked so it can be re-included in future outgoing packets
// until the peer confirms receipt.
type SentPayload struct {
	PayloadNum uint64
	Body       []byte
	SendCount  int
	FirstSent  time.Time
}

// Manager is one peer's ack state. Zero value is not usable; use New.
type Manager struct {
	nextPacketNum  uint64
	nextPayloadNum uint64

	sentPackets [sentPacketsSize]sentPacketSlot

	unackedOrder *list.List               // of uint64 (payload_num), insertion order
	unackedIndex map[uint64]*list.Element // payload_num -> element in unackedOrder
	unackedBody  map[uint64]*SentPayload

	receivedPackets [receivedPacketsSize]receivedPacketSlot
	haveSeenRemote  bool
	lastSeenRemote  uint64

	maxPayloadSize int
	maxPayloadAge  time.Duration
	overdue        uint64
	haveOverdue    bool
}

// New creates a Manager that caps the combined serialized payload length of
// any single outgoing GameMessage at maxPayloadSize bytes (the header's own
// size is accounted separately by the caller via wire.HeaderSize).
func New(maxPayloadSize int) *Manager {
	return &Manager{
		unackedOrder:   list.New(),
		unackedIndex:   make(map[uint64]*list.Element),
		unackedBody:    make(map[uint64]*SentPayload),
		maxPayloadSize: maxPayloadSize,
	}
}

// SetMaxPayloadAge enables the dedicated-packet fallback for payloads too
// large to ever piggyback alongside new traffic: once a payload has gone
// unacked for longer than age, the next TakeOverdue call emits it alone in
// its own packet. Zero (the default) disables the fallback.
func (m *Manager) SetMaxPayloadAge(age time.Duration) {
	m.maxPayloadAge = age
}

// BuildOutgoing assigns body the next payload_num, folds in as much
// redundancy from unacked_payloads as the size budget allows (oldest
// first), and returns the resulting GameMessage.
func (m *Manager) BuildOutgoing(body []byte) wire.GameMessage {
	payloadNum := m.nextPayloadNum
	m.nextPayloadNum++

	packetNum := m.nextPacketNum
	m.nextPacketNum++

	ack := wire.AckSentinel
	var ackBits uint32
	if m.haveSeenRemote {
		ack = m.lastSeenRemote
		ackBits = m.buildAckBits()
	}

	msg := wire.GameMessage{
		PacketNum: packetNum,
		Ack:       ack,
		AckBits:   ackBits,
	}

	newPayload := wire.Payload{PayloadNum: payloadNum, Body: body}
	msg.Payloads = append(msg.Payloads, newPayload)
	m.track(payloadNum, body)

	used := newPayload.EncodedSize()
	payloadNums := []uint64{payloadNum}

	for e := m.unackedOrder.Front(); e != nil; e = e.Next() {
		pn := e.Value.(uint64)
		if pn == payloadNum {
			continue
		}
		sp := m.unackedBody[pn]
		candidate := wire.Payload{PayloadNum: pn, Body: sp.Body}
		size := candidate.EncodedSize()
		if used+size > m.maxPayloadSize {
			if m.maxPayloadAge > 0 && !m.haveOverdue && time.Since(sp.FirstSent) > m.maxPayloadAge {
				m.overdue = pn
				m.haveOverdue = true
			}
			continue
		}
		used += size
		sp.SendCount++
		msg.Payloads = append(msg.Payloads, candidate)
		payloadNums = append(payloadNums, pn)
	}

	m.recordSentPacket(packetNum, payloadNums)
	return msg
}

// TakeOverdue returns a dedicated single-payload packet for a payload that
// has been squeezed out of the piggyback budget for longer than the
// configured age, if one exists. The caller sends it as its own datagram.
func (m *Manager) TakeOverdue() (wire.GameMessage, bool) {
	if !m.haveOverdue {
		return wire.GameMessage{}, false
	}
	m.haveOverdue = false
	sp, ok := m.unackedBody[m.overdue]
	if !ok {
		return wire.GameMessage{}, false
	}

	packetNum := m.nextPacketNum
	m.nextPacketNum++

	ack := wire.AckSentinel
	var ackBits uint32
	if m.haveSeenRemote {
		ack = m.lastSeenRemote
		ackBits = m.buildAckBits()
	}

	sp.SendCount++
	m.recordSentPacket(packetNum, []uint64{sp.PayloadNum})
	return wire.GameMessage{
		PacketNum: packetNum,
		Ack:       ack,
		AckBits:   ackBits,
		Payloads:  []wire.Payload{{PayloadNum: sp.PayloadNum, Body: sp.Body}},
	}, true
}

func (m *Manager) track(payloadNum uint64, body []byte) {
	sp := &SentPayload{PayloadNum: payloadNum, Body: body, SendCount: 1, FirstSent: time.Now()}
	m.unackedBody[payloadNum] = sp
	m.unackedIndex[payloadNum] = m.unackedOrder.PushBack(payloadNum)
}

func (m *Manager) recordSentPacket(packetNum uint64, payloadNums []uint64) {
	slot := &m.sentPackets[packetNum%sentPacketsSize]
	slot.valid = true
	slot.packetNum = packetNum
	slot.payloadNums = payloadNums
}

// buildAckBits sets bit i (0-indexed) iff packet (lastSeenRemote - (i+1))
// is present in received_packets.
func (m *Manager) buildAckBits() uint32 {
	var bits uint32
	for i := 0; i < maxAckBits; i++ {
		target := m.lastSeenRemote - uint64(i+1)
		if m.lastSeenRemote < uint64(i+1) {
			break
		}
		if m.hasReceivedPacket(target) {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

func (m *Manager) hasReceivedPacket(packetNum uint64) bool {
	slot := m.receivedPackets[packetNum%receivedPacketsSize]
	return slot.valid && slot.packetNum == packetNum
}

// HandleIncoming validates and applies a received GameMessage: it rejects
// malformed combinations, records the packet as received, and acks every
// packet the message's ack/ack_bits fields reference, removing their
// payloads from unacked_payloads.
func (m *Manager) HandleIncoming(msg wire.GameMessage) error {
	if msg.PacketNum == wire.AckSentinel {
		return fmt.Errorf("%w: packet_num is the sentinel value", ErrMalformed)
	}
	if msg.Ack == wire.AckSentinel {
		if msg.AckBits != 0 {
			return fmt.Errorf("%w: ack_bits set alongside sentinel ack", ErrMalformed)
		}
	} else if msg.Ack > m.nextPacketNum {
		// The ack field references packets this endpoint sent; it can never
		// exceed our own packet counter.
		return fmt.Errorf("%w: ack %d exceeds local packet_num %d", ErrMalformed, msg.Ack, m.nextPacketNum)
	}

	m.recordReceivedPacket(msg.PacketNum)
	if !m.haveSeenRemote || msg.PacketNum > m.lastSeenRemote {
		m.haveSeenRemote = true
		m.lastSeenRemote = msg.PacketNum
	}

	if msg.Ack == wire.AckSentinel {
		return nil
	}

	m.ackPacket(msg.Ack)
	for i := uint64(1); i <= maxAckBits; i++ {
		if msg.Ack < i {
			break
		}
		bit := uint(i - 1)
		if msg.AckBits&(1<<bit) != 0 {
			m.ackPacket(msg.Ack - i)
		}
	}
	return nil
}

func (m *Manager) recordReceivedPacket(packetNum uint64) {
	slot := &m.receivedPackets[packetNum%receivedPacketsSize]
	slot.valid = true
	slot.packetNum = packetNum
}

func (m *Manager) ackPacket(packetNum uint64) {
	slot := &m.sentPackets[packetNum%sentPacketsSize]
	if !slot.valid || slot.packetNum != packetNum {
		return
	}
	for _, pn := range slot.payloadNums {
		m.removeUnacked(pn)
	}
	slot.valid = false
	slot.payloadNums = nil
}

func (m *Manager) removeUnacked(payloadNum uint64) {
	e, ok := m.unackedIndex[payloadNum]
	if !ok {
		return
	}
	m.unackedOrder.Remove(e)
	delete(m.unackedIndex, payloadNum)
	delete(m.unackedBody, payloadNum)
}

// UnackedCount reports how many payloads are still awaiting an ack, used by
// tests and by diagnostics logging.
func (m *Manager) UnackedCount() int {
	return m.unackedOrder.Len()
}
