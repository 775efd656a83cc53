package mavftp

import "encoding/binary"

// Operation is a single FTP protocol message: the fixed 12-byte header plus
// up to MaxPayload bytes of payload.
//
// The header layout on the wire is little-endian:
//
//	seq:u16 session:u8 opcode:u8 size:u8 req_opcode:u8 burst_complete:u8
//	padding:u8 offset:u32
//
// Size normally equals len(Payload); the burst and gap read requests reuse
// Size to carry the requested chunk length with an empty payload.
type Operation struct {
	Seq           uint16
	Session       uint8
	Opcode        Opcode
	Size          uint8
	ReqOpcode     Opcode
	BurstComplete bool
	Offset        uint32
	Payload       []byte
}

// newRequest builds a request operation. Size is set from the payload; the
// sequence number is stamped by the session on send.
func newRequest(session uint8, opcode Opcode, offset uint32, payload []byte) *Operation {
	return &Operation{
		Session: session,
		Opcode:  opcode,
		Size:    uint8(len(payload)),
		Offset:  offset,
		Payload: payload,
	}
}

// Encode serializes the operation into a full fixed-size envelope payload.
// The payload area is right-padded with zero bytes; the transport always
// sends FrameSize bytes.
func (op *Operation) Encode() []byte {
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(buf[0:2], op.Seq)
	buf[2] = op.Session
	buf[3] = byte(op.Opcode)
	buf[4] = op.Size
	buf[5] = byte(op.ReqOpcode)
	if op.BurstComplete {
		buf[6] = 1
	}
	// buf[7] is reserved padding, always zero
	binary.LittleEndian.PutUint32(buf[8:12], op.Offset)
	copy(buf[HeaderSize:], op.Payload)
	return buf
}

// Decode parses an envelope payload into an Operation.
//
// The payload is taken as min(size, remaining) bytes so that a trimmed or
// short envelope never causes an out-of-range access. Inputs shorter than
// the header fail with a MalformedHeader error.
func Decode(buf []byte) (*Operation, error) {
	if len(buf) < HeaderSize {
		return nil, &Error{
			Code:   ErrMalformedHeader,
			Op:     "decode",
			Detail: "envelope shorter than operation header",
		}
	}

	op := &Operation{
		Seq:           binary.LittleEndian.Uint16(buf[0:2]),
		Session:       buf[2],
		Opcode:        Opcode(buf[3]),
		Size:          buf[4],
		ReqOpcode:     Opcode(buf[5]),
		BurstComplete: buf[6] != 0,
		Offset:        binary.LittleEndian.Uint32(buf[8:12]),
	}

	n := int(op.Size)
	if remaining := len(buf) - HeaderSize; n > remaining {
		n = remaining
	}
	if n > 0 {
		op.Payload = make([]byte, n)
		copy(op.Payload, buf[HeaderSize:HeaderSize+n])
	}
	return op, nil
}

// errorCode extracts the Nack error code byte, or None for an empty payload.
func (op *Operation) errorCode() ErrorCode {
	if len(op.Payload) == 0 {
		return ErrNone
	}
	return ErrorCode(op.Payload[0])
}
