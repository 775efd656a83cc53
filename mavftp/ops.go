package mavftp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"strconv"
	"strings"
)

// DirEntry is one remote directory entry from a ListDirectory exchange.
type DirEntry struct {
	Name  string
	Size  int64
	IsDir bool
}

// pendingOp is the state of a one-shot request/reply operation. Only List
// carries sub-state: the running entry accumulator and the continuation
// offset for repeated ListDirectory requests.
type pendingOp struct {
	name   string
	opcode Opcode
	path   string

	entries     []DirEntry
	entriesSeen uint32
	totalBytes  uint64

	done      func(*Operation, error)
	doneFired bool
}

func (p *pendingOp) complete(ack *Operation, err error) {
	if p.doneFired {
		return
	}
	p.doneFired = true
	if p.done != nil {
		p.done(ack, err)
	}
}

// startSimple issues a one-shot operation carrying payload.
func (s *Session) startSimple(name string, opcode Opcode, payload []byte, done func(*Operation, error)) error {
	if s.active() {
		return &Error{Code: ErrFail, Op: name, Detail: "another operation in progress"}
	}
	s.pending = &pendingOp{name: name, opcode: opcode, done: done}
	if err := s.send(newRequest(s.sessionID, opcode, 0, payload)); err != nil {
		s.pending = nil
		return err
	}
	return nil
}

func (s *Session) handlePendingReply(op *Operation) {
	p := s.pending
	if p == nil || p.opcode != op.ReqOpcode {
		return
	}

	if op.ReqOpcode == OpListDirectory {
		s.handleListReply(op)
		return
	}

	s.pending = nil
	if op.Opcode == OpAck {
		p.complete(op, nil)
	} else {
		p.complete(nil, decodeNack(p.name, op))
	}
}

// handleListReply accumulates one batch of directory entries. The server
// ends a listing by nacking the request with EndOfFile once the offset runs
// past the directory, which is a normal termination, not a failure.
func (s *Session) handleListReply(op *Operation) {
	p := s.pending

	if op.Opcode == OpNack {
		e := decodeNack(p.name, op)
		s.pending = nil
		if e.Code == ErrEndOfFile {
			p.complete(op, nil)
		} else {
			p.complete(nil, e)
		}
		return
	}

	batch := 0
	for _, raw := range bytes.Split(op.Payload, []byte{0}) {
		if len(raw) == 0 {
			continue
		}
		batch++
		entry := string(raw)
		switch entry[0] {
		case entryTagDirectory:
			name := entry[1:]
			if name == "." || name == ".." {
				continue
			}
			p.entries = append(p.entries, DirEntry{Name: name, IsDir: true})
		case entryTagFile:
			name := entry[1:]
			var size int64
			if tab := strings.IndexByte(name, '\t'); tab >= 0 {
				if n, err := strconv.ParseInt(name[tab+1:], 10, 64); err == nil {
					size = n
				}
				name = name[:tab]
			}
			p.entries = append(p.entries, DirEntry{Name: name, Size: size})
			p.totalBytes += uint64(size)
		case entryTagSkip:
			// entry withheld by the server, still counts toward the offset
		default:
			s.logger.Debug("unrecognized list entry %q", entry)
		}
	}

	if batch == 0 {
		s.pending = nil
		p.complete(op, nil)
		return
	}

	p.entriesSeen += uint32(batch)
	if err := s.send(newRequest(s.sessionID, OpListDirectory, p.entriesSeen, []byte(p.path))); err != nil {
		s.pending = nil
		p.complete(nil, &Error{Code: ErrFail, Op: p.name, Detail: "transport: " + err.Error()})
	}
}

// runSimple drives a one-shot operation to completion and returns the ack.
func (s *Session) runSimple(ctx context.Context, name string, opcode Opcode, payload []byte) (*Operation, error) {
	var ack *Operation
	var opErr error
	err := s.startSimple(name, opcode, payload, func(op *Operation, e error) {
		ack, opErr = op, e
	})
	if err != nil {
		return nil, err
	}
	if err := s.waitIdle(ctx); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return ack, nil
}

// List returns the entries of a remote directory.
func (s *Session) List(ctx context.Context, path string) ([]DirEntry, error) {
	if path == "" {
		path = "/"
	}
	if s.active() {
		return nil, &Error{Code: ErrFail, Op: "list", Detail: "another operation in progress"}
	}
	var entries []DirEntry
	var opErr error
	p := &pendingOp{name: "list", opcode: OpListDirectory, path: path}
	p.done = func(_ *Operation, e error) {
		opErr = e
		entries = p.entries
	}
	s.pending = p
	if err := s.send(newRequest(s.sessionID, OpListDirectory, 0, []byte(path))); err != nil {
		s.pending = nil
		return nil, err
	}
	if err := s.waitIdle(ctx); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return entries, nil
}

// Remove deletes a remote file.
func (s *Session) Remove(ctx context.Context, path string) error {
	_, err := s.runSimple(ctx, "rm", OpRemoveFile, []byte(path))
	return err
}

// RemoveDirectory deletes a remote directory.
func (s *Session) RemoveDirectory(ctx context.Context, path string) error {
	_, err := s.runSimple(ctx, "rmdir", OpRemoveDirectory, []byte(path))
	return err
}

// MakeDirectory creates a remote directory.
func (s *Session) MakeDirectory(ctx context.Context, path string) error {
	_, err := s.runSimple(ctx, "mkdir", OpCreateDirectory, []byte(path))
	return err
}

// Rename moves a remote file or directory.
func (s *Session) Rename(ctx context.Context, oldPath, newPath string) error {
	if oldPath == "" || newPath == "" {
		return &Error{Code: ErrInvalidArguments, Op: "rename", Detail: "empty path"}
	}
	payload := append([]byte(oldPath), 0)
	payload = append(payload, []byte(newPath)...)
	_, err := s.runSimple(ctx, "rename", OpRename, payload)
	return err
}

// CalcFileCRC32 asks the server to checksum a remote file.
func (s *Session) CalcFileCRC32(ctx context.Context, path string) (uint32, error) {
	ack, err := s.runSimple(ctx, "crc", OpCalcFileCRC32, []byte(path))
	if err != nil {
		return 0, err
	}
	if len(ack.Payload) < 4 {
		return 0, newError(ErrInvalidDataSize, "crc")
	}
	return binary.LittleEndian.Uint32(ack.Payload[:4]), nil
}

// Get downloads a remote file into the supplied sink and returns the number
// of bytes assembled. The sink is closed on completion if it is a Closer.
func (s *Session) Get(ctx context.Context, remotePath string, sink io.WriteSeeker) (int64, error) {
	return s.get(ctx, remotePath, func() (io.WriteSeeker, error) { return sink, nil })
}

// GetFile downloads a remote file to a local path.
func (s *Session) GetFile(ctx context.Context, remotePath, localPath string) (int64, error) {
	return s.get(ctx, remotePath, func() (io.WriteSeeker, error) {
		return os.Create(localPath)
	})
}

func (s *Session) get(ctx context.Context, remotePath string, openSink func() (io.WriteSeeker, error)) (int64, error) {
	var size int64
	var opErr error
	err := s.startGet(remotePath, openSink, func(n int64, e error) {
		size, opErr = n, e
	})
	if err != nil {
		return 0, err
	}
	if err := s.waitIdle(ctx); err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, opErr
	}
	return size, nil
}

// Put uploads size bytes from the seekable source to the remote path.
func (s *Session) Put(ctx context.Context, source io.ReadSeeker, size int64, remotePath string) error {
	return s.put(ctx, remotePath, func() (io.ReadSeeker, int64, error) {
		return source, size, nil
	})
}

// PutFile uploads a local file to the remote path.
func (s *Session) PutFile(ctx context.Context, localPath, remotePath string) error {
	return s.put(ctx, remotePath, func() (io.ReadSeeker, int64, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return nil, 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil
	})
}

func (s *Session) put(ctx context.Context, remotePath string, openSource func() (io.ReadSeeker, int64, error)) error {
	var opErr error
	err := s.startPut(remotePath, openSource, func(_ int64, e error) {
		opErr = e
	})
	if err != nil {
		return err
	}
	if err := s.waitIdle(ctx); err != nil {
		return err
	}
	return opErr
}

// GetParameters fetches and decodes the full parameter table from the
// virtual parameter pack file.
func (s *Session) GetParameters(ctx context.Context, withDefaults bool) ([]Param, error) {
	path := ParamPackPath
	if withDefaults {
		path += "?withdefaults=1"
	}
	buf := NewMemoryFile()
	if _, err := s.Get(ctx, path, buf); err != nil {
		return nil, err
	}
	return DecodeParamBlob(buf.Bytes())
}
