// Copyright 2025 Certen Protocol
//
// Versioned wire envelope for consensus messages. A message is a 1-byte
// type, a 4-byte big-endian genesis index, and a versioned body. The
// networking layer hands the core the envelope verbatim.

package types

import (
	"encoding/binary"
	"errors"
)

// MessageType is the 1-byte discriminator at the head of every consensus
// message.
type MessageType uint8

const (
	MessageBlock              MessageType = 0
	MessageFinalization       MessageType = 1
	MessageFinalizationRecord MessageType = 2
	MessageCatchUpStatus      MessageType = 3
)

// BodyVersion is the current body version; the body's first byte.
const BodyVersion uint8 = 1

// ErrEnvelopeTooShort is returned when the header cannot be read.
var ErrEnvelopeTooShort = errors.New("message envelope too short")

// ErrUnknownMessageType is returned for a discriminator outside the table.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrUnsupportedBodyVersion is returned for a body version this build does
// not speak.
var ErrUnsupportedBodyVersion = errors.New("unsupported message body version")

// Envelope is a parsed message header plus its body bytes (version byte
// stripped).
type Envelope struct {
	Type         MessageType
	GenesisIndex GenesisIndex
	Body         []byte
}

// ParseEnvelope splits the header off a raw message. The body is not copied.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) < 6 {
		return nil, ErrEnvelopeTooShort
	}
	mt := MessageType(raw[0])
	if mt > MessageCatchUpStatus {
		return nil, ErrUnknownMessageType
	}
	if raw[5] != BodyVersion {
		return nil, ErrUnsupportedBodyVersion
	}
	return &Envelope{
		Type:         mt,
		GenesisIndex: GenesisIndex(binary.BigEndian.Uint32(raw[1:5])),
		Body:         raw[6:],
	}, nil
}

// EncodeEnvelope prepends the header and body version to a payload.
func EncodeEnvelope(mt MessageType, gi GenesisIndex, body []byte) []byte {
	out := make([]byte, 6+len(body))
	out[0] = byte(mt)
	binary.BigEndian.PutUint32(out[1:5], uint32(gi))
	out[5] = BodyVersion
	copy(out[6:], body)
	return out
}
