package mavftp

// MAVLink v2 framing for the FILE_TRANSFER_PROTOCOL message. This is the
// byte layer the concrete transport adapters sit on; the protocol engine
// itself only ever sees envelope payloads.

const (
	mavlinkMagic = 0xFD

	// msgFileTransferProtocol is the FILE_TRANSFER_PROTOCOL message id.
	msgFileTransferProtocol = 110

	// crcExtraFileTransferProtocol seeds the checksum with the message
	// definition, so peers with mismatched dialects reject each other.
	crcExtraFileTransferProtocol = 84

	// ftpMessagePayloadLen is the full message payload:
	// target_network, target_system, target_component, payload[251].
	ftpMessagePayloadLen = 3 + EnvelopeSize

	mavlinkHeaderLen   = 10
	mavlinkChecksumLen = 2
	mavlinkSignatureLen = 13

	// incompatFlagSigned marks a signed frame, which carries a trailer.
	incompatFlagSigned = 0x01
)

// x25Accumulate folds one byte into a CRC-16/X.25 checksum.
func x25Accumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func x25Checksum(data []byte, extra byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = x25Accumulate(b, crc)
	}
	return x25Accumulate(extra, crc)
}

// encodeMAVLinkFrame builds one MAVLink v2 FILE_TRANSFER_PROTOCOL frame.
// Trailing zero bytes of the message payload are trimmed, down to a minimum
// of one byte, as the v2 wire format requires.
func encodeMAVLinkFrame(seq, systemID, componentID, targetSystem, targetComponent uint8, payload []byte) []byte {
	msg := make([]byte, ftpMessagePayloadLen)
	// msg[0] is target_network, always zero
	msg[1] = targetSystem
	msg[2] = targetComponent
	copy(msg[3:], payload)

	n := len(msg)
	for n > 1 && msg[n-1] == 0 {
		n--
	}
	msg = msg[:n]

	frame := make([]byte, mavlinkHeaderLen+n+mavlinkChecksumLen)
	frame[0] = mavlinkMagic
	frame[1] = byte(n)
	// frame[2], frame[3]: incompat/compat flags, none set
	frame[4] = seq
	frame[5] = systemID
	frame[6] = componentID
	frame[7] = msgFileTransferProtocol & 0xFF
	frame[8] = (msgFileTransferProtocol >> 8) & 0xFF
	frame[9] = (msgFileTransferProtocol >> 16) & 0xFF
	copy(frame[mavlinkHeaderLen:], msg)

	crc := x25Checksum(frame[1:mavlinkHeaderLen+n], crcExtraFileTransferProtocol)
	frame[mavlinkHeaderLen+n] = byte(crc)
	frame[mavlinkHeaderLen+n+1] = byte(crc >> 8)
	return frame
}

// frameParser is an incremental MAVLink v2 stream parser. Feed it arbitrary
// byte runs; it emits every well-formed FILE_TRANSFER_PROTOCOL message and
// silently skips other messages, garbage between frames, and frames with a
// bad checksum.
type frameParser struct {
	buf []byte
}

// parse appends data to the parse buffer and extracts complete envelopes.
func (p *frameParser) parse(data []byte) []*Envelope {
	p.buf = append(p.buf, data...)
	var out []*Envelope

	for {
		// resync to the next magic byte
		start := 0
		for start < len(p.buf) && p.buf[start] != mavlinkMagic {
			start++
		}
		p.buf = p.buf[start:]
		if len(p.buf) < mavlinkHeaderLen {
			return out
		}

		payloadLen := int(p.buf[1])
		frameLen := mavlinkHeaderLen + payloadLen + mavlinkChecksumLen
		if p.buf[2]&incompatFlagSigned != 0 {
			frameLen += mavlinkSignatureLen
		}
		if len(p.buf) < frameLen {
			return out
		}

		body := p.buf[1 : mavlinkHeaderLen+payloadLen]
		ckLow := p.buf[mavlinkHeaderLen+payloadLen]
		ckHigh := p.buf[mavlinkHeaderLen+payloadLen+1]
		msgID := int(p.buf[7]) | int(p.buf[8])<<8 | int(p.buf[9])<<16

		if msgID != msgFileTransferProtocol {
			p.buf = p.buf[frameLen:]
			continue
		}

		crc := x25Checksum(body, crcExtraFileTransferProtocol)
		if byte(crc) != ckLow || byte(crc>>8) != ckHigh {
			// corrupt frame; shift one byte and rescan
			p.buf = p.buf[1:]
			continue
		}

		// re-extend the zero-trimmed payload
		msg := make([]byte, ftpMessagePayloadLen)
		copy(msg, p.buf[mavlinkHeaderLen:mavlinkHeaderLen+payloadLen])

		env := &Envelope{
			SystemID:        p.buf[5],
			ComponentID:     p.buf[6],
			TargetSystem:    msg[1],
			TargetComponent: msg[2],
		}
		copy(env.Payload[:], msg[3:])
		out = append(out, env)

		p.buf = p.buf[frameLen:]
	}
}
