package codec

import (
	"encoding/binary"
	"fmt"
)

// MessageType tags the outer envelope so a receiver can dispatch to the
// right decoder before (and without) touching the hop-encrypted body.
type MessageType uint8

const (
	// MessageTypeUnknown is never sent; it is what an unrecognized wire
	// value decodes to. Envelopes of this type are dropped by the router
	// without inspection of EncryptedData.
	MessageTypeUnknown MessageType = 0

	MessageTypeRouteRequest  MessageType = 1
	MessageTypeRouteResponse MessageType = 2
	MessageTypeRoutedMessage MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRouteRequest:
		return "ROUTE_REQUEST"
	case MessageTypeRouteResponse:
		return "ROUTE_RESPONSE"
	case MessageTypeRoutedMessage:
		return "ROUTED_MESSAGE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

func messageTypeFromWire(code uint8) MessageType {
	switch code {
	case uint8(MessageTypeRouteRequest), uint8(MessageTypeRouteResponse), uint8(MessageTypeRoutedMessage):
		return MessageType(code)
	default:
		return MessageTypeUnknown
	}
}

// Envelope is the outer container every message is wrapped in before
// hop-encryption: {message_type: u8, encrypted_data: length-prefixed bytes}.
// EncryptedData holds the already-hop-encrypted inner message bytes; the
// codec package never sees plaintext inner fields at this layer.
type Envelope struct {
	MessageType   MessageType
	EncryptedData []byte
}

// EncodeEnvelope writes the outer container to wire bytes.
func EncodeEnvelope(e Envelope) []byte {
	out := make([]byte, 1+4+len(e.EncryptedData))
	out[0] = uint8(e.MessageType)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(e.EncryptedData)))
	copy(out[5:], e.EncryptedData)
	return out
}

// DecodeEnvelope reads the outer container from wire bytes. An unrecognized
// message type yields MessageTypeUnknown rather than an error, per the
// schema-stability requirement; callers must check for it before dispatch.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if len(data) < 5 {
		return e, fmt.Errorf("%w: envelope header", ErrTruncated)
	}
	e.MessageType = messageTypeFromWire(data[0])
	length := binary.LittleEndian.Uint32(data[1:5])
	if uint64(len(data)-5) < uint64(length) {
		return e, fmt.Errorf("%w: envelope body", ErrFieldTooLarge)
	}
	e.EncryptedData = append([]byte(nil), data[5:5+length]...)
	return e, nil
}
