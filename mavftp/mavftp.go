// Package mavftp implements the client side of the MAVLink File Transfer
// Protocol.
//
// MAVLink FTP is a request/reply protocol carried inside fixed-size
// FILE_TRANSFER_PROTOCOL message envelopes. The transport below the envelope
// may drop and reorder messages, so the package implements burst reads with
// gap detection and back-fill, a sliding-window multi-block write path, and a
// poll-driven watchdog for retries and idle detection.
//
// The package is designed as a library: the caller supplies a Transport that
// moves 251-byte envelope payloads, and the Session drives the protocol over
// it. Concrete UDP and SSH transport adapters are included.
package mavftp

// Protocol frame geometry.
const (
	// HeaderSize is the size of the fixed operation header.
	HeaderSize = 12

	// MaxPayload is the largest operation payload that fits an envelope.
	MaxPayload = 239

	// FrameSize is the full envelope payload: header plus padded payload.
	FrameSize = HeaderSize + MaxPayload
)

// Opcode identifies an FTP operation.
type Opcode uint8

// Operation opcodes (see the opNames table for display names).
const (
	OpNone             Opcode = 0
	OpTerminateSession Opcode = 1
	OpResetSessions    Opcode = 2
	OpListDirectory    Opcode = 3
	OpOpenFileRO       Opcode = 4
	OpReadFile         Opcode = 5
	OpCreateFile       Opcode = 6
	OpWriteFile        Opcode = 7
	OpRemoveFile       Opcode = 8
	OpCreateDirectory  Opcode = 9
	OpRemoveDirectory  Opcode = 10
	OpOpenFileWO       Opcode = 11
	OpTruncateFile     Opcode = 12
	OpRename           Opcode = 13
	OpCalcFileCRC32    Opcode = 14
	OpBurstReadFile    Opcode = 15
	OpAck              Opcode = 128
	OpNack             Opcode = 129
)

// opNames provides human-readable names for opcodes.
// Used for debugging and logging.
var opNames = map[Opcode]string{
	OpNone:             "None",
	OpTerminateSession: "TerminateSession",
	OpResetSessions:    "ResetSessions",
	OpListDirectory:    "ListDirectory",
	OpOpenFileRO:       "OpenFileRO",
	OpReadFile:         "ReadFile",
	OpCreateFile:       "CreateFile",
	OpWriteFile:        "WriteFile",
	OpRemoveFile:       "RemoveFile",
	OpCreateDirectory:  "CreateDirectory",
	OpRemoveDirectory:  "RemoveDirectory",
	OpOpenFileWO:       "OpenFileWO",
	OpTruncateFile:     "TruncateFile",
	OpRename:           "Rename",
	OpCalcFileCRC32:    "CalcFileCRC32",
	OpBurstReadFile:    "BurstReadFile",
	OpAck:              "Ack",
	OpNack:             "Nack",
}

// String returns the human-readable name for an opcode.
// Returns "UNKNOWN" for opcodes outside the protocol set.
func (o Opcode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// Directory entry tags used in ListDirectory reply payloads.
const (
	entryTagDirectory = 'D'
	entryTagFile      = 'F'
	entryTagSkip      = 'S'
)
