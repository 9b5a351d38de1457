// Package wire implements Splinter's length-prefixed frame codec and
// the outer NetworkMessage envelope (spec.md §6). Grounded on
// network/protocols.go's send/readOne pair and network/connection.go's
// handling of partial reads into a per-connection buffer.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	server "splinterd.io/server"
)

// MessageType enumerates the outer envelope's dispatch tag
// (spec.md §6's "subset that affects core").
type MessageType uint16

const (
	NetworkEcho MessageType = iota
	HeartbeatRequest
	HeartbeatResponse
	CircuitErrorMessage
	CircuitManagementPayload
	ScabbardConsensusMessage
)

func (t MessageType) String() string {
	switch t {
	case NetworkEcho:
		return "NETWORK_ECHO"
	case HeartbeatRequest:
		return "HEARTBEAT_REQUEST"
	case HeartbeatResponse:
		return "HEARTBEAT_RESPONSE"
	case CircuitErrorMessage:
		return "CIRCUIT_ERROR_MESSAGE"
	case CircuitManagementPayload:
		return "CIRCUIT_MANAGEMENT_PAYLOAD"
	case ScabbardConsensusMessage:
		return "SCABBARD_CONSENSUS_MESSAGE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// Envelope is the tagged outer wrapper every frame payload carries
// (spec.md §6): `type` selects a Handler, `payload` is handler-specific.
type Envelope struct {
	Type    MessageType
	Payload []byte
}

// EncodeFrame prefixes payload with its big-endian u32 length, the
// wire format spec.md §6 mandates for every network frame.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > server.MaxFrameLength {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds MaxFrameLength %d", len(payload), server.MaxFrameLength)
	}
	buf := make([]byte, server.FrameLengthPrefixBytes+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[server.FrameLengthPrefixBytes:], payload)
	return buf, nil
}

// EncodeEnvelope serializes an Envelope's type tag followed by its
// payload bytes, then frames the result.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	buf := make([]byte, 2+len(e.Payload))
	binary.BigEndian.PutUint16(buf, uint16(e.Type))
	copy(buf[2:], e.Payload)
	return EncodeFrame(buf)
}

// DecodeEnvelope is the inverse of EncodeEnvelope, operating on an
// already length-delimited frame payload (the bytes after the 4-byte
// prefix has been stripped by the reactor).
func DecodeEnvelope(frame []byte) (Envelope, error) {
	if len(frame) < 2 {
		return Envelope{}, fmt.Errorf("wire: frame too short to contain an envelope type tag (%d bytes)", len(frame))
	}
	return Envelope{
		Type:    MessageType(binary.BigEndian.Uint16(frame)),
		Payload: frame[2:],
	}, nil
}

// FrameReader incrementally extracts complete frames from a byte
// stream, retaining partial frames across calls exactly as
// network/connection.go's per-connection input buffer does (spec.md
// §4.1: "Partial frames are retained in per-connection input
// buffers").
type FrameReader struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete frame's
// payload now available, in order. Any trailing partial frame is
// retained for the next call.
func (r *FrameReader) Feed(data []byte) ([][]byte, error) {
	r.buf = append(r.buf, data...)
	var frames [][]byte
	for {
		if len(r.buf) < server.FrameLengthPrefixBytes {
			return frames, nil
		}
		length := binary.BigEndian.Uint32(r.buf)
		if length > server.MaxFrameLength {
			return frames, fmt.Errorf("wire: incoming frame length %d exceeds MaxFrameLength %d", length, server.MaxFrameLength)
		}
		total := server.FrameLengthPrefixBytes + int(length)
		if len(r.buf) < total {
			return frames, nil
		}
		payload := make([]byte, length)
		copy(payload, r.buf[server.FrameLengthPrefixBytes:total])
		frames = append(frames, payload)
		r.buf = r.buf[total:]
	}
}

// ReadFrame reads exactly one length-prefixed frame from r, blocking
// until it is fully available. Used by transport.Transport.ReadOne,
// which (unlike the reactor's FrameReader-based read loop) is allowed
// to block.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > server.MaxFrameLength {
		return nil, fmt.Errorf("wire: incoming frame length %d exceeds MaxFrameLength %d", length, server.MaxFrameLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes a length-prefixed frame, looping on short writes
// exactly as network/protocols.go's TLSCapnpHandshaker.send does.
func WriteFrame(w io.Writer, payload []byte) error {
	framed, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	for len(framed) > 0 {
		n, err := w.Write(framed)
		if err != nil {
			return err
		}
		framed = framed[n:]
	}
	return nil
}
