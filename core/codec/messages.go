package codec

import (
	"fmt"

	"github.com/google/uuid"
)

// Tag numbers for RouteRequest fields.
const (
	tagReqUUID        uint8 = 1
	tagReqDestAddr    uint8 = 2
	tagReqRemainHops  uint8 = 3
	tagReqMaxTTLAbs   uint8 = 4
)

// Tag numbers for RouteResponse fields.
const (
	tagRespUUID     uint8 = 1
	tagRespStatus   uint8 = 2
	tagRespHopCount uint8 = 3
)

// Tag numbers for RoutedMessage fields.
const (
	tagRoutedFinalDest   uint8 = 1
	tagRoutedRouteUUID   uint8 = 2
	tagRoutedUsageUUID   uint8 = 3
	tagRoutedOrigSender  uint8 = 4
	tagRoutedE2EBody     uint8 = 5
	tagRoutedPayloadID   uint8 = 6
)

// RouteRequest is broadcast by the originator and relayed by intermediate
// nodes while a route to Destination is being discovered.
type RouteRequest struct {
	UUID                  uuid.UUID
	DestinationAddress    string
	RemainingHops         uint32
	MaxTTLAbsoluteMillis  int64
}

// Encode serializes the request as tag-length-value fields (no outer
// container — use Envelope to wrap it for transmission).
func (r RouteRequest) Encode() []byte {
	w := tlvWriter{}
	idBytes, _ := r.UUID.MarshalBinary()
	w.putBytes(tagReqUUID, idBytes)
	w.putString(tagReqDestAddr, r.DestinationAddress)
	w.putUint32(tagReqRemainHops, r.RemainingHops)
	w.putInt64(tagReqMaxTTLAbs, r.MaxTTLAbsoluteMillis)
	return w.bytes()
}

// DecodeRouteRequest parses a RouteRequest from its TLV-encoded body.
func DecodeRouteRequest(data []byte) (RouteRequest, error) {
	var r RouteRequest
	fields, err := parseTLV(data)
	if err != nil {
		return r, err
	}
	idBytes, ok := findField(fields, tagReqUUID)
	if !ok {
		return r, fmt.Errorf("%w: missing uuid", ErrTruncated)
	}
	if r.UUID, err = uuid.FromBytes(idBytes); err != nil {
		return r, fmt.Errorf("codec: invalid request uuid: %w", err)
	}
	r.DestinationAddress, _ = fieldString(fields, tagReqDestAddr)
	hops, _, err := fieldUint32(fields, tagReqRemainHops)
	if err != nil {
		return r, err
	}
	r.RemainingHops = hops
	ttl, _, err := fieldUint64(fields, tagReqMaxTTLAbs)
	if err != nil {
		return r, err
	}
	r.MaxTTLAbsoluteMillis = int64(ttl)
	return r, nil
}

// RouteResponse is sent back toward the originator as a discovery branch
// resolves, either hop-by-hop (intermediate nodes) or directly (the
// destination itself).
type RouteResponse struct {
	RequestUUID uuid.UUID
	Status      Status
	HopCount    uint32
}

// Encode serializes the response as tag-length-value fields.
func (r RouteResponse) Encode() []byte {
	w := tlvWriter{}
	idBytes, _ := r.RequestUUID.MarshalBinary()
	w.putBytes(tagRespUUID, idBytes)
	w.putUint8(tagRespStatus, uint8(r.Status))
	w.putUint32(tagRespHopCount, r.HopCount)
	return w.bytes()
}

// DecodeRouteResponse parses a RouteResponse from its TLV-encoded body.
// An unrecognized status code decodes to StatusUnknown rather than failing.
func DecodeRouteResponse(data []byte) (RouteResponse, error) {
	var r RouteResponse
	fields, err := parseTLV(data)
	if err != nil {
		return r, err
	}
	idBytes, ok := findField(fields, tagRespUUID)
	if !ok {
		return r, fmt.Errorf("%w: missing request_uuid", ErrTruncated)
	}
	if r.RequestUUID, err = uuid.FromBytes(idBytes); err != nil {
		return r, fmt.Errorf("codec: invalid request uuid: %w", err)
	}
	if sv, ok := findField(fields, tagRespStatus); ok && len(sv) == 1 {
		r.Status = statusFromWire(sv[0])
	} else {
		r.Status = StatusUnknown
	}
	hc, _, err := fieldUint32(fields, tagRespHopCount)
	if err != nil {
		return r, err
	}
	r.HopCount = hc
	return r, nil
}

// RoutedMessage carries an opaque end-to-end-encrypted application payload
// along an established source route. Intermediate nodes forward it without
// being able to read e2e_encrypted_body.
type RoutedMessage struct {
	FinalDestinationAddress string
	RouteUUID               uuid.UUID
	RouteUsageUUID          uuid.UUID
	OriginalSenderAddress   string
	E2EEncryptedBody        []byte
	PayloadID               *uint64 // optional
}

// Encode serializes the message as tag-length-value fields. PayloadID is
// omitted from the wire entirely when nil.
func (m RoutedMessage) Encode() []byte {
	w := tlvWriter{}
	w.putString(tagRoutedFinalDest, m.FinalDestinationAddress)
	routeBytes, _ := m.RouteUUID.MarshalBinary()
	w.putBytes(tagRoutedRouteUUID, routeBytes)
	usageBytes, _ := m.RouteUsageUUID.MarshalBinary()
	w.putBytes(tagRoutedUsageUUID, usageBytes)
	w.putString(tagRoutedOrigSender, m.OriginalSenderAddress)
	w.putBytes(tagRoutedE2EBody, m.E2EEncryptedBody)
	if m.PayloadID != nil {
		w.putUint64(tagRoutedPayloadID, *m.PayloadID)
	}
	return w.bytes()
}

// DecodeRoutedMessage parses a RoutedMessage from its TLV-encoded body.
func DecodeRoutedMessage(data []byte) (RoutedMessage, error) {
	var m RoutedMessage
	fields, err := parseTLV(data)
	if err != nil {
		return m, err
	}
	m.FinalDestinationAddress, _ = fieldString(fields, tagRoutedFinalDest)
	m.OriginalSenderAddress, _ = fieldString(fields, tagRoutedOrigSender)

	routeBytes, ok := findField(fields, tagRoutedRouteUUID)
	if !ok {
		return m, fmt.Errorf("%w: missing route_uuid", ErrTruncated)
	}
	if m.RouteUUID, err = uuid.FromBytes(routeBytes); err != nil {
		return m, fmt.Errorf("codec: invalid route uuid: %w", err)
	}

	usageBytes, ok := findField(fields, tagRoutedUsageUUID)
	if !ok {
		return m, fmt.Errorf("%w: missing route_usage_uuid", ErrTruncated)
	}
	if m.RouteUsageUUID, err = uuid.FromBytes(usageBytes); err != nil {
		return m, fmt.Errorf("codec: invalid route usage uuid: %w", err)
	}

	if body, ok := findField(fields, tagRoutedE2EBody); ok {
		m.E2EEncryptedBody = append([]byte(nil), body...)
	}

	if pid, present, err := fieldUint64(fields, tagRoutedPayloadID); err != nil {
		return m, err
	} else if present {
		m.PayloadID = &pid
	}

	return m, nil
}
