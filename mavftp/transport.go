package mavftp

import "time"

// EnvelopeSize is the FILE_TRANSFER_PROTOCOL payload array length. Every
// envelope carries exactly this many bytes; short operations are zero padded.
const EnvelopeSize = FrameSize

// Envelope is one FILE_TRANSFER_PROTOCOL message as seen above the MAVLink
// layer.
type Envelope struct {
	// SystemID and ComponentID identify the sender.
	SystemID    uint8
	ComponentID uint8

	// TargetSystem and TargetComponent identify the addressee.
	TargetSystem    uint8
	TargetComponent uint8

	// Payload is the fixed-size operation frame.
	Payload [EnvelopeSize]byte
}

// Transport moves envelopes to and from the remote peer. Implementations
// own all framing below the envelope (MAVLink packetization, checksums,
// link management).
type Transport interface {
	// Send transmits one envelope payload to the addressed component.
	Send(targetSystem, targetComponent uint8, payload []byte) error

	// Receive waits up to timeout for the next envelope. It returns
	// (nil, nil) when nothing arrived in time; errors are reserved for
	// transport failure.
	Receive(timeout time.Duration) (*Envelope, error)
}

// addressedToUs reports whether an envelope targets the local identity.
// Target zero is the broadcast address and is always accepted.
func addressedToUs(env *Envelope, systemID, componentID uint8) bool {
	if env.TargetSystem != 0 && env.TargetSystem != systemID {
		return false
	}
	if env.TargetComponent != 0 && env.TargetComponent != componentID {
		return false
	}
	return true
}
