package mavftp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nackOp(payload ...byte) *Operation {
	return &Operation{Opcode: OpNack, Size: uint8(len(payload)), Payload: payload}
}

func TestDecodeNack(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantCode  ErrorCode
		wantErrno int
	}{
		{"empty payload", nil, ErrNoErrorCodeInPayload, 0},
		{"explicit zero code", []byte{0}, ErrNoErrorCodeInNack, 0},
		{"errno code without errno", []byte{2}, ErrNoFilesystemErrorInPayload, 0},
		{"plain failure", []byte{1}, ErrFail, 0},
		{"end of file", []byte{6}, ErrEndOfFile, 0},
		{"file not found", []byte{10}, ErrFileNotFound, 0},
		{"out of range code", []byte{11}, ErrInvalidErrorCode, 0},
		{"way out of range code", []byte{200}, ErrInvalidErrorCode, 0},
		{"errno carried", []byte{2, 13}, ErrFailErrno, 13},
		{"two bytes, not errno", []byte{1, 13}, ErrPayloadTooLarge, 0},
		{"three bytes", []byte{2, 13, 0}, ErrPayloadTooLarge, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := decodeNack("get", nackOp(tt.payload...))
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantErrno, e.Errno)
			assert.Equal(t, "get", e.Op)
		})
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Code: ErrFileNotFound, Op: "get"}
	assert.Equal(t, "mavftp get: file not found", e.Error())

	e = &Error{Code: ErrFailErrno, Op: "put", Errno: 28}
	assert.Contains(t, e.Error(), "errno 28")

	e = &Error{Code: ErrFail, Op: "list", Detail: "transport: broken pipe"}
	assert.Contains(t, e.Error(), "broken pipe")
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "end of file", ErrEndOfFile.String())
	assert.Equal(t, "remote reply timeout", ErrRemoteReplyTimeout.String())
	assert.Equal(t, "error code 77", ErrorCode(77).String())
}

func TestErrorPredicates(t *testing.T) {
	timeout := newError(ErrRemoteReplyTimeout, "get")
	notFound := newError(ErrFileNotFound, "get")
	eof := newError(ErrEndOfFile, "get")

	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsTimeout(notFound))
	assert.True(t, IsFileNotFound(notFound))
	assert.True(t, IsEOF(eof))
	assert.False(t, IsEOF(timeout))

	// Predicates must see through wrapping.
	wrapped := fmt.Errorf("fetch failed: %w", timeout)
	assert.True(t, IsTimeout(wrapped))
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(fmt.Errorf("plain")))
}
