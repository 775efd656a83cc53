package mavftp

import (
	"io"
	"time"
)

// writeTransfer is the state of one sliding-window upload: CreateFile, then
// up to WriteQueueDepth WriteFile blocks in flight, round-robin over the
// not-yet-acknowledged block set.
type writeTransfer struct {
	name   string
	source io.ReadSeeker
	size   int64

	blockSize   uint16
	totalBlocks uint32
	pending     map[uint32]struct{}
	nextSend    uint32
	lastAcked   int64 // -1 until the first acknowledgment
	inFlight    int

	created     bool
	lastAdvance time.Time

	tracker *ProgressTracker

	done      func(int64, error)
	doneFired bool
}

func (w *writeTransfer) complete(n int64, err error) {
	if w.doneFired {
		return
	}
	w.doneFired = true
	if w.done != nil {
		w.done(n, err)
	}
}

func (w *writeTransfer) closeSource() {
	if c, ok := w.source.(io.Closer); ok {
		c.Close()
	}
}

// nextPendingIndex returns the next unacknowledged block at or after the
// round-robin cursor, wrapping at the end of the file.
func (w *writeTransfer) nextPendingIndex() (uint32, bool) {
	if len(w.pending) == 0 || w.totalBlocks == 0 {
		return 0, false
	}
	for i := uint32(0); i < w.totalBlocks; i++ {
		idx := (w.nextSend + i) % w.totalBlocks
		if _, ok := w.pending[idx]; ok {
			return idx, true
		}
	}
	return 0, false
}

// startPut begins an upload to the remote path. The source is opened before
// anything touches the wire; a put while another put is active is rejected.
func (s *Session) startPut(name string, openSource func() (io.ReadSeeker, int64, error), done func(int64, error)) error {
	if s.write != nil {
		return &Error{Code: ErrPutAlreadyInProgress, Op: "put"}
	}
	if s.active() {
		return &Error{Code: ErrFail, Op: "put", Detail: "another operation in progress"}
	}
	if name == "" {
		return &Error{Code: ErrInvalidArguments, Op: "put", Detail: "empty remote path"}
	}

	source, size, err := openSource()
	if err != nil {
		return &Error{Code: ErrFailToOpenLocalFile, Op: "put", Detail: err.Error()}
	}

	blockSize := s.config.WriteBlockSize
	if blockSize < 1 {
		blockSize = 1
	}
	if blockSize > MaxPayload {
		blockSize = MaxPayload
	}

	total := uint32((size + int64(blockSize) - 1) / int64(blockSize))
	pending := make(map[uint32]struct{}, total)
	for i := uint32(0); i < total; i++ {
		pending[i] = struct{}{}
	}

	s.write = &writeTransfer{
		name:        name,
		source:      source,
		size:        size,
		blockSize:   blockSize,
		totalBlocks: total,
		pending:     pending,
		lastAcked:   -1,
		lastAdvance: s.clock.Now(),
		done:        done,
	}

	if err := s.send(newRequest(s.sessionID, OpCreateFile, 0, []byte(name))); err != nil {
		s.write.closeSource()
		s.write = nil
		return err
	}
	return nil
}

// failWrite ends the upload with an error and terminates the session.
func (s *Session) failWrite(e *Error) {
	w := s.write
	if w == nil {
		return
	}
	s.write = nil
	w.closeSource()
	w.complete(0, e)
	s.terminate(nil)
}

// succeedWrite reports completion and releases the source.
func (s *Session) succeedWrite() {
	w := s.write
	s.write = nil
	if w.tracker != nil {
		w.tracker.Update(w.size)
		w.tracker.Complete()
	}
	w.closeSource()
	w.complete(w.size, nil)
	s.terminate(nil)
}

func (s *Session) handleCreateReply(op *Operation) {
	w := s.write
	if w == nil || w.created {
		return
	}

	if op.Opcode != OpAck {
		if op.Opcode == OpNack {
			s.failWrite(decodeNack("put", op))
		} else {
			s.failWrite(newError(ErrInvalidOpcode, "put"))
		}
		return
	}

	w.created = true
	w.lastAdvance = s.clock.Now()
	w.tracker = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	w.tracker.Start(w.name, w.size)

	if w.totalBlocks == 0 {
		s.succeedWrite()
		return
	}
	s.fillWriteWindow()
}

// fillWriteWindow tops the send window back up to WriteQueueDepth in-flight
// blocks.
func (s *Session) fillWriteWindow() {
	w := s.write
	for w != nil && w.created && w.inFlight < s.config.WriteQueueDepth {
		idx, ok := w.nextPendingIndex()
		if !ok {
			return
		}

		offset := int64(idx) * int64(w.blockSize)
		n := int64(w.blockSize)
		if rem := w.size - offset; rem < n {
			n = rem
		}
		buf := make([]byte, n)
		if _, err := w.source.Seek(offset, io.SeekStart); err != nil {
			s.failWrite(&Error{Code: ErrFail, Op: "put", Detail: "local read: " + err.Error()})
			return
		}
		if _, err := io.ReadFull(w.source, buf); err != nil {
			s.failWrite(&Error{Code: ErrFail, Op: "put", Detail: "local read: " + err.Error()})
			return
		}

		if err := s.send(newRequest(s.sessionID, OpWriteFile, uint32(offset), buf)); err != nil {
			s.failWrite(&Error{Code: ErrFail, Op: "put", Detail: "transport: " + err.Error()})
			return
		}
		w.inFlight++
		w.nextSend = (idx + 1) % w.totalBlocks
		w = s.write
	}
}

// handleWriteReply accounts one WriteFile acknowledgment. The server is
// assumed to acknowledge blocks in the order it received them, so every
// index skipped between the last acknowledgment and this one was lost in
// flight and its window slot is reclaimed; the blocks themselves stay
// pending and are resent by the round-robin refill.
func (s *Session) handleWriteReply(op *Operation) {
	w := s.write
	if w == nil || !w.created {
		return
	}

	if op.Opcode == OpNack {
		s.failWrite(decodeNack("put", op))
		return
	}

	idx := op.Offset / uint32(w.blockSize)
	if idx >= w.totalBlocks {
		s.logger.Debug("write ack for impossible offset %d", op.Offset)
		return
	}
	if _, ok := w.pending[idx]; !ok {
		s.logger.Debug("duplicate write ack for block %d", idx)
		return
	}

	if int64(idx) > w.lastAcked {
		// This ack plus every never-acked index it jumped over leaves the
		// window.
		w.inFlight -= int(int64(idx) - w.lastAcked)
		w.lastAcked = int64(idx)
	} else {
		w.inFlight--
	}
	if w.inFlight < 0 {
		w.inFlight = 0
	}
	w.lastAdvance = s.clock.Now()
	delete(w.pending, idx)

	acked := int64(w.totalBlocks) - int64(len(w.pending))
	done := acked * int64(w.blockSize)
	if done > w.size {
		done = w.size
	}
	w.tracker.Update(done)

	if len(w.pending) == 0 {
		s.succeedWrite()
		return
	}
	s.fillWriteWindow()
}

// checkWriteStalled reclaims one window slot when no acknowledgment has
// advanced the transfer for ten round trips (floor one second), on the
// assumption that a block in flight was lost.
func (s *Session) checkWriteStalled(now time.Time) {
	w := s.write
	if w == nil || !w.created || w.inFlight == 0 || len(w.pending) == 0 {
		return
	}

	stallAfter := 10 * s.rtt
	if stallAfter < time.Second {
		stallAfter = time.Second
	}
	if now.Sub(w.lastAdvance) > stallAfter {
		w.inFlight--
		w.lastAdvance = now
	}
}
