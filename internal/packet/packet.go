package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Type identifies the kind of message a client sends to the server.
type Type uint8

const (
	Heartbeat  Type = 1
	Register   Type = 2
	Deregister Type = 3
)

const (
	// Size of heartbeat and deregister packets.
	Size = 14
	// RegisterSize is the size of register packets, which carry the identifier.
	RegisterSize = 26
	// MaxSize is the largest packet a client may send.
	MaxSize = RegisterSize
	// MaxIdentifierLen is the room reserved for the identifier in register packets.
	MaxIdentifierLen = RegisterSize - Size
)

var (
	ErrShortPacket        = errors.New("packet too short")
	ErrUnknownType        = errors.New("unknown packet type")
	ErrIdentifierTooLong  = fmt.Errorf("identifier exceeds %d byte limit", MaxIdentifierLen)
	ErrInvalidIdentifier  = errors.New("identifier must be valid UTF-8 without NUL bytes")
	ErrPacketSizeExceeded = fmt.Errorf("packet exceeds %d bytes", MaxSize)
)

func (t Type) String() string {
	switch t {
	case Heartbeat:
		return "heartbeat"
	case Register:
		return "register"
	case Deregister:
		return "deregister"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Packet is the decoded form of a client datagram.
//
//	-------- ------------------------ ------------------------ ----------------------------
//	| Type |     Unix Timestamp     |    Process ID (pid)    |  REGISTER ONLY: Identifier  |
//	-------- ------------------------ ------------------------ ----------------------------
//	 2 Bytes         8 Bytes                  4 Bytes                   12 Bytes
//
// The first byte is reserved and always zero.
type Packet struct {
	Type       Type
	Timestamp  float64
	PID        int32
	Identifier string
}

// New builds a packet of the given type stamped with t.
func New(typ Type, pid int32, identifier string, t time.Time) Packet {
	return Packet{
		Type:       typ,
		Timestamp:  ToTimestamp(t),
		PID:        pid,
		Identifier: identifier,
	}
}

// Time converts the packet timestamp to a time.Time.
func (p Packet) Time() time.Time {
	return FromTimestamp(p.Timestamp)
}

// ValidateIdentifier reports whether id fits in a register packet. NUL is
// reserved for padding.
func ValidateIdentifier(id string) error {
	if len(id) > MaxIdentifierLen {
		return ErrIdentifierTooLong
	}
	if strings.IndexByte(id, 0) >= 0 || !utf8.ValidString(id) {
		return ErrInvalidIdentifier
	}
	return nil
}

// Encode serializes p. Only register packets carry the identifier.
func Encode(p Packet) ([]byte, error) {
	var buf []byte
	switch p.Type {
	case Register:
		if err := ValidateIdentifier(p.Identifier); err != nil {
			return nil, err
		}
		buf = make([]byte, RegisterSize)
		copy(buf[Size:], p.Identifier)
	case Heartbeat, Deregister:
		buf = make([]byte, Size)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, p.Type)
	}

	buf[1] = byte(p.Type)
	binary.BigEndian.PutUint64(buf[2:10], math.Float64bits(p.Timestamp))
	binary.BigEndian.PutUint32(buf[10:14], uint32(p.PID))

	return buf, nil
}

// Decode parses a datagram received from a client.
func Decode(data []byte) (Packet, error) {
	var p Packet

	if len(data) < Size {
		return p, fmt.Errorf("%w: got %d bytes", ErrShortPacket, len(data))
	}

	p.Type = Type(data[1])
	p.Timestamp = math.Float64frombits(binary.BigEndian.Uint64(data[2:10]))
	p.PID = int32(binary.BigEndian.Uint32(data[10:14]))

	switch p.Type {
	case Heartbeat, Deregister:
	case Register:
		if len(data) < RegisterSize {
			return p, fmt.Errorf("%w: register packet has %d bytes", ErrShortPacket, len(data))
		}
		p.Identifier = string(bytes.TrimRight(data[Size:RegisterSize], "\x00"))
		if err := ValidateIdentifier(p.Identifier); err != nil {
			return p, err
		}
	default:
		return p, fmt.Errorf("%w: %d", ErrUnknownType, data[1])
	}

	return p, nil
}

// ToTimestamp converts t to fractional Unix seconds.
func ToTimestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromTimestamp converts fractional Unix seconds to a time.Time.
func FromTimestamp(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
