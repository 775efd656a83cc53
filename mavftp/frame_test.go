package mavftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationRoundTrip(t *testing.T) {
	op := &Operation{
		Seq:           513,
		Session:       7,
		Opcode:        OpWriteFile,
		Size:          5,
		ReqOpcode:     OpNone,
		BurstComplete: true,
		Offset:        0xDEADBEEF,
		Payload:       []byte("hello"),
	}

	buf := op.Encode()
	require.Len(t, buf, FrameSize)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, op.Seq, got.Seq)
	assert.Equal(t, op.Session, got.Session)
	assert.Equal(t, op.Opcode, got.Opcode)
	assert.Equal(t, op.Size, got.Size)
	assert.Equal(t, op.ReqOpcode, got.ReqOpcode)
	assert.Equal(t, op.BurstComplete, got.BurstComplete)
	assert.Equal(t, op.Offset, got.Offset)
	assert.Equal(t, op.Payload, got.Payload)
}

func TestOperationRoundTripEmptyPayload(t *testing.T) {
	op := newRequest(3, OpTerminateSession, 0, nil)
	buf := op.Encode()
	require.Len(t, buf, FrameSize)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, OpTerminateSession, got.Opcode)
	assert.Empty(t, got.Payload)
}

func TestEncodePadsPayloadArea(t *testing.T) {
	op := newRequest(0, OpOpenFileRO, 0, []byte("a"))
	buf := op.Encode()
	for i := HeaderSize + 1; i < FrameSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d not zero padded: %#x", i, buf[i])
		}
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrMalformedHeader, e.Code)
}

func TestDecodeClampsOversizedClaim(t *testing.T) {
	// Size claims more bytes than the buffer holds; the payload must be
	// clamped, never read out of range.
	buf := make([]byte, HeaderSize+3)
	buf[4] = 200
	buf[HeaderSize] = 'x'
	buf[HeaderSize+1] = 'y'
	buf[HeaderSize+2] = 'z'

	op, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), op.Payload)
}

func TestNewRequestSetsSizeFromPayload(t *testing.T) {
	op := newRequest(1, OpCreateFile, 42, []byte("path"))
	assert.Equal(t, uint8(4), op.Size)
	assert.Equal(t, uint32(42), op.Offset)
	assert.Equal(t, uint8(1), op.Session)
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "BurstReadFile", OpBurstReadFile.String())
	assert.Equal(t, "Nack", OpNack.String())
	assert.Equal(t, "UNKNOWN", Opcode(42).String())
}
