package mavftp

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a protocol or client-local error condition.
//
// Codes below 64 are defined by the protocol and travel in Nack payloads.
// Codes from 100 up are synthesized by this client and never appear on the
// wire.
type ErrorCode int

// Protocol error codes, as carried in Nack payloads.
const (
	ErrNone                ErrorCode = 0
	ErrFail                ErrorCode = 1
	ErrFailErrno           ErrorCode = 2
	ErrInvalidDataSize     ErrorCode = 3
	ErrInvalidSession      ErrorCode = 4
	ErrNoSessionsAvailable ErrorCode = 5
	ErrEndOfFile           ErrorCode = 6
	ErrUnknownCommand      ErrorCode = 7
	ErrFileExists          ErrorCode = 8
	ErrFileProtected       ErrorCode = 9
	ErrFileNotFound        ErrorCode = 10
)

// Client-local error codes.
const (
	ErrNoErrorCodeInPayload ErrorCode = iota + 100
	ErrNoErrorCodeInNack
	ErrNoFilesystemErrorInPayload
	ErrInvalidErrorCode
	ErrPayloadTooLarge
	ErrInvalidOpcode
	ErrInvalidArguments
	ErrPutAlreadyInProgress
	ErrFailToOpenLocalFile
	ErrRemoteReplyTimeout
	ErrMalformedHeader
)

var errorCodeNames = map[ErrorCode]string{
	ErrNone:                       "no error",
	ErrFail:                       "operation failed",
	ErrFailErrno:                  "operation failed with filesystem error",
	ErrInvalidDataSize:            "invalid data size",
	ErrInvalidSession:             "invalid session",
	ErrNoSessionsAvailable:        "no sessions available",
	ErrEndOfFile:                  "end of file",
	ErrUnknownCommand:             "unknown command",
	ErrFileExists:                 "file exists",
	ErrFileProtected:              "file protected",
	ErrFileNotFound:               "file not found",
	ErrNoErrorCodeInPayload:       "no error code in payload",
	ErrNoErrorCodeInNack:          "no error code in nack",
	ErrNoFilesystemErrorInPayload: "no filesystem error in payload",
	ErrInvalidErrorCode:           "invalid error code",
	ErrPayloadTooLarge:            "payload too large",
	ErrInvalidOpcode:              "invalid opcode",
	ErrInvalidArguments:           "invalid arguments",
	ErrPutAlreadyInProgress:       "put already in progress",
	ErrFailToOpenLocalFile:        "failed to open local file",
	ErrRemoteReplyTimeout:         "remote reply timeout",
	ErrMalformedHeader:            "malformed header",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Error is the result of a failed FTP operation. It carries the taxonomy
// code plus whatever diagnostics the reply contained.
type Error struct {
	// Code is the taxonomy code.
	Code ErrorCode

	// Op is the operation that failed ("get", "put", "list", ...).
	Op string

	// Errno is the remote filesystem errno from a two-byte FailErrno Nack.
	Errno int

	// Detail is optional free-form context.
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("mavftp %s: %s", e.Op, e.Code)
	if e.Code == ErrFailErrno {
		msg += fmt.Sprintf(" (errno %d)", e.Errno)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// newError creates an operation error with no diagnostics.
func newError(code ErrorCode, op string) *Error {
	return &Error{Code: code, Op: op}
}

// decodeNack maps a Nack payload onto the error taxonomy.
//
// The decoding rules:
//   - empty payload: the server sent a bare Nack
//   - one byte: the byte is the code; 0 and FailErrno are remapped because
//     neither is meaningful without further payload; unknown bytes are
//     rejected
//   - two bytes starting with FailErrno: the second byte is a filesystem
//     errno
//   - anything longer is not a valid Nack payload
func decodeNack(op string, nack *Operation) *Error {
	payload := nack.Payload
	switch len(payload) {
	case 0:
		return newError(ErrNoErrorCodeInPayload, op)
	case 1:
		code := ErrorCode(payload[0])
		switch {
		case code == ErrNone:
			return newError(ErrNoErrorCodeInNack, op)
		case code == ErrFailErrno:
			return newError(ErrNoFilesystemErrorInPayload, op)
		case code > ErrFileNotFound:
			return newError(ErrInvalidErrorCode, op)
		default:
			return newError(code, op)
		}
	case 2:
		if ErrorCode(payload[0]) == ErrFailErrno {
			return &Error{Code: ErrFailErrno, Op: op, Errno: int(payload[1])}
		}
		return newError(ErrPayloadTooLarge, op)
	default:
		return newError(ErrPayloadTooLarge, op)
	}
}

// Parameter blob decoding errors (see DecodeParamBlob).
var (
	// ErrTruncatedBlob reports a parameter blob that ends before a record
	// it declares.
	ErrTruncatedBlob = errors.New("mavftp: truncated parameter blob")

	// ErrCountMismatch reports a parameter blob whose decoded record count
	// differs from the declared total.
	ErrCountMismatch = errors.New("mavftp: parameter count mismatch")

	// ErrBadParamMagic reports a parameter blob with an unknown magic value.
	ErrBadParamMagic = errors.New("mavftp: bad parameter blob magic")
)

// IsTimeout checks whether an error is a remote reply timeout.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrRemoteReplyTimeout
	}
	return false
}

// IsFileNotFound checks whether an error reports a missing remote file.
func IsFileNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrFileNotFound
	}
	return false
}

// IsEOF checks whether an error carries the protocol end-of-file code.
func IsEOF(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrEndOfFile
	}
	return false
}
