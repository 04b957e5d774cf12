// Package codec serializes and deserializes the three wire envelope kinds
// used by the mesh routing subsystem: RouteRequest, RouteResponse, and
// RoutedMessage, each wrapped in a common outer container.
//
// Inner messages use a tag-length-value encoding so the schema can evolve:
// unknown tags are skipped by length rather than causing a decode failure,
// and unknown enum values (status codes) map to a distinct UNKNOWN variant
// instead of erroring.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated indicates the input ended before a field could be read.
	ErrTruncated = errors.New("codec: truncated input")
	// ErrFieldTooLarge indicates a length-prefixed field claims more bytes
	// than are available.
	ErrFieldTooLarge = errors.New("codec: field length exceeds remaining input")
)

// tlvWriter accumulates tag-length-value fields into a byte buffer.
// Each field is encoded as tag(1) + length(u16 LE) + value.
type tlvWriter struct {
	buf []byte
}

func (w *tlvWriter) putBytes(tag uint8, v []byte) {
	if v == nil {
		return
	}
	w.buf = append(w.buf, tag)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(v)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, v...)
}

func (w *tlvWriter) putString(tag uint8, s string) {
	w.putBytes(tag, []byte(s))
}

func (w *tlvWriter) putUint32(tag uint8, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.putBytes(tag, b[:])
}

func (w *tlvWriter) putUint64(tag uint8, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.putBytes(tag, b[:])
}

func (w *tlvWriter) putInt64(tag uint8, v int64) {
	w.putUint64(tag, uint64(v))
}

func (w *tlvWriter) putUint8(tag uint8, v uint8) {
	w.putBytes(tag, []byte{v})
}

func (w *tlvWriter) bytes() []byte {
	return w.buf
}

// tlvField is one decoded tag-length-value field.
type tlvField struct {
	tag   uint8
	value []byte
}

// parseTLV splits data into a sequence of tag-length-value fields. It does
// not interpret tags; callers walk the returned slice and ignore tags they
// don't recognize, which is what gives the format forward compatibility.
func parseTLV(data []byte) ([]tlvField, error) {
	var fields []tlvField
	i := 0
	for i < len(data) {
		if i+3 > len(data) {
			return nil, fmt.Errorf("%w: incomplete field header", ErrTruncated)
		}
		tag := data[i]
		length := binary.LittleEndian.Uint16(data[i+1 : i+3])
		i += 3
		if i+int(length) > len(data) {
			return nil, fmt.Errorf("%w: tag %d wants %d bytes", ErrFieldTooLarge, tag, length)
		}
		fields = append(fields, tlvField{tag: tag, value: data[i : i+int(length)]})
		i += int(length)
	}
	return fields, nil
}

func findField(fields []tlvField, tag uint8) ([]byte, bool) {
	for _, f := range fields {
		if f.tag == tag {
			return f.value, true
		}
	}
	return nil, false
}

func fieldUint32(fields []tlvField, tag uint8) (uint32, bool, error) {
	v, ok := findField(fields, tag)
	if !ok {
		return 0, false, nil
	}
	if len(v) != 4 {
		return 0, true, fmt.Errorf("%w: tag %d expected 4 bytes, got %d", ErrTruncated, tag, len(v))
	}
	return binary.LittleEndian.Uint32(v), true, nil
}

func fieldUint64(fields []tlvField, tag uint8) (uint64, bool, error) {
	v, ok := findField(fields, tag)
	if !ok {
		return 0, false, nil
	}
	if len(v) != 8 {
		return 0, true, fmt.Errorf("%w: tag %d expected 8 bytes, got %d", ErrTruncated, tag, len(v))
	}
	return binary.LittleEndian.Uint64(v), true, nil
}

func fieldString(fields []tlvField, tag uint8) (string, bool) {
	v, ok := findField(fields, tag)
	if !ok {
		return "", false
	}
	return string(v), true
}
