// Package wire implements the two wire formats this runtime speaks:
// the relay control protocol (fixed-width little-endian fields, see
// relaymsg.go) and the peer-to-peer GameMessage envelope carried inside
// RECEIVE/FORWARD relay payloads (a length-prefixed compact encoding using
// stdlib varints, see this file).
package wire

import (
	"encoding/binary"
	"fmt"
)

// AckSentinel means "no packets yet seen from peer."
const AckSentinel uint64 = 0xFFFF_FFFF_FFFF_FFFF

// headerMaxBytes bounds the three varint-encoded header fields: a u64 varint
// costs at most 10 bytes, a u32 varint at most 5, and the header holds
// packet_num (u64) + ack (u64) + ack_bits (u32) = 10 + 10 + 5 = 25 bytes.
const headerMaxBytes = 25

// Payload is a single game message with its own monotonic sequence number.
type Payload struct {
	PayloadNum uint64
	Body       []byte
}

// EncodedSize returns the number of bytes Payload occupies when encoded
// inside a GameMessage, used by the ack manager to fit payloads into a
// packet's size budget without re-encoding.
func (p Payload) EncodedSize() int {
	return uvarintSize(p.PayloadNum) + uvarintSize(uint64(len(p.Body))) + len(p.Body)
}

// GameMessage is one UDP datagram's worth of ack metadata plus payloads.
type GameMessage struct {
	PacketNum uint64
	Ack       uint64
	AckBits   uint32
	Payloads  []Payload
}

// HeaderSize returns the worst-case encoded size of the fixed header,
// independent of payload count — used when computing how much budget
// remains for payloads.
func HeaderSize() int {
	return headerMaxBytes
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// EncodeGameMessage serializes msg as packet_num, ack, ack_bits,
// then each payload as payload_num + length-prefixed body, all the way to
// the end of the buffer (there is no trailing payload count — the datagram
// boundary terminates the message).
func EncodeGameMessage(msg GameMessage) []byte {
	size := uvarintSize(msg.PacketNum) + uvarintSize(msg.Ack) + uvarintSize(uint64(msg.AckBits))
	for _, p := range msg.Payloads {
		size += p.EncodedSize()
	}
	buf := make([]byte, size)
	n := binary.PutUvarint(buf, msg.PacketNum)
	n += binary.PutUvarint(buf[n:], msg.Ack)
	n += binary.PutUvarint(buf[n:], uint64(msg.AckBits))
	for _, p := range msg.Payloads {
		n += binary.PutUvarint(buf[n:], p.PayloadNum)
		n += binary.PutUvarint(buf[n:], uint64(len(p.Body)))
		n += copy(buf[n:], p.Body)
	}
	return buf[:n]
}

// DecodeGameMessage parses a GameMessage from data. Truncated varints or a
// body length that overruns the remaining buffer are reported as errors;
// the caller (the ack manager) is responsible for further semantic
// validation (ack vs. sentinel rules, etc.).
func DecodeGameMessage(data []byte) (GameMessage, error) {
	var msg GameMessage
	rest := data

	packetNum, n := binary.Uvarint(rest)
	if n <= 0 {
		return GameMessage{}, fmt.Errorf("wire: decode packet_num: %w", errTruncated(n))
	}
	rest = rest[n:]
	msg.PacketNum = packetNum

	ack, n := binary.Uvarint(rest)
	if n <= 0 {
		return GameMessage{}, fmt.Errorf("wire: decode ack: %w", errTruncated(n))
	}
	rest = rest[n:]
	msg.Ack = ack

	ackBits, n := binary.Uvarint(rest)
	if n <= 0 {
		return GameMessage{}, fmt.Errorf("wire: decode ack_bits: %w", errTruncated(n))
	}
	rest = rest[n:]
	if ackBits > 0xFFFF_FFFF {
		return GameMessage{}, fmt.Errorf("wire: ack_bits overflow u32: %d", ackBits)
	}
	msg.AckBits = uint32(ackBits)

	for len(rest) > 0 {
		payloadNum, n := binary.Uvarint(rest)
		if n <= 0 {
			return GameMessage{}, fmt.Errorf("wire: decode payload_num: %w", errTruncated(n))
		}
		rest = rest[n:]

		bodyLen, n := binary.Uvarint(rest)
		if n <= 0 {
			return GameMessage{}, fmt.Errorf("wire: decode payload length: %w", errTruncated(n))
		}
		rest = rest[n:]

		if uint64(len(rest)) < bodyLen {
			return GameMessage{}, fmt.Errorf("wire: payload body truncated: need %d, have %d", bodyLen, len(rest))
		}
		body := make([]byte, bodyLen)
		copy(body, rest[:bodyLen])
		rest = rest[bodyLen:]

		msg.Payloads = append(msg.Payloads, Payload{PayloadNum: payloadNum, Body: body})
	}

	return msg, nil
}

func errTruncated(n int) error {
	if n == 0 {
		return fmt.Errorf("buffer too short")
	}
	return fmt.Errorf("overflow (n=%d)", n)
}
