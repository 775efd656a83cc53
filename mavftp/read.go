package mavftp

import (
	"encoding/binary"
	"io"
	"time"
)

// gap is a byte range known to be missing from an otherwise-advancing read.
type gap struct {
	offset uint32
	length uint16
}

// gapList is an ordered set of gaps with a per-gap probe timestamp. Insertion
// order is preserved so gap servicing walks the oldest ranges first; a zero
// probe time marks a gap that has never been sent (or is due for resend).
type gapList struct {
	order []gap
	probe map[gap]time.Time
}

func newGapList() *gapList {
	return &gapList{probe: make(map[gap]time.Time)}
}

func (g *gapList) add(gp gap) {
	if _, ok := g.probe[gp]; ok {
		return
	}
	g.order = append(g.order, gp)
	g.probe[gp] = time.Time{}
}

// remove deletes a gap by exact (offset, length) match. It reports whether
// the gap was present; a miss means the chunk was a duplicate.
func (g *gapList) remove(gp gap) bool {
	if _, ok := g.probe[gp]; !ok {
		return false
	}
	delete(g.probe, gp)
	for i, cur := range g.order {
		if cur == gp {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

func (g *gapList) len() int { return len(g.order) }

func (g *gapList) probeTime(gp gap) time.Time { return g.probe[gp] }

func (g *gapList) setProbe(gp gap, t time.Time) {
	if _, ok := g.probe[gp]; ok {
		g.probe[gp] = t
	}
}

// snapshot returns the gaps in servicing order. The returned slice is a copy
// so callers may mutate the list while iterating.
func (g *gapList) snapshot() []gap {
	out := make([]gap, len(g.order))
	copy(out, g.order)
	return out
}

// readTransfer is the state of one burst read: OpenFileRO, then unsolicited
// burst chunks assembled into the sink, with explicit ReadFile probes filling
// whatever the burst dropped.
type readTransfer struct {
	name     string
	openSink func() (io.WriteSeeker, error)
	sink     io.WriteSeeker
	opened   bool

	burstSize  uint16
	cursor     uint32 // contiguous write position, mirrors the sink position
	gaps       *gapList
	reachedEOF bool

	backlog    int
	duplicates int
	retries    int

	remoteSize    uint32
	lastBurstData time.Time
	lastGapSend   time.Time

	tracker *ProgressTracker

	done      func(int64, error)
	doneFired bool
}

// complete delivers the terminal callback. It fires at most once regardless
// of how the transfer ends.
func (r *readTransfer) complete(n int64, err error) {
	if r.doneFired {
		return
	}
	r.doneFired = true
	if r.done != nil {
		r.done(n, err)
	}
}

func (r *readTransfer) closeSink() {
	if c, ok := r.sink.(io.Closer); ok {
		c.Close()
	}
}

// startGet begins a burst read of the remote path. The sink is created
// lazily, once the remote open succeeds. The done continuation receives the
// assembled byte count or the failure, exactly once.
func (s *Session) startGet(name string, openSink func() (io.WriteSeeker, error), done func(int64, error)) error {
	if name == "" {
		return &Error{Code: ErrInvalidArguments, Op: "get", Detail: "empty remote path"}
	}
	if s.active() {
		return &Error{Code: ErrFail, Op: "get", Detail: "another operation in progress"}
	}

	burst := s.config.BurstSize
	if burst < 1 {
		burst = 1
	}
	if burst > MaxPayload {
		burst = MaxPayload
	}

	s.openRetries = 0
	s.read = &readTransfer{
		name:          name,
		openSink:      openSink,
		burstSize:     burst,
		gaps:          newGapList(),
		lastBurstData: s.clock.Now(),
		done:          done,
	}

	if err := s.send(newRequest(s.sessionID, OpOpenFileRO, 0, []byte(name))); err != nil {
		s.read = nil
		return err
	}
	return nil
}

// failRead ends the read transfer with an error and terminates the session.
func (s *Session) failRead(e *Error) {
	r := s.read
	if r == nil {
		return
	}
	s.read = nil
	r.closeSink()
	r.complete(0, e)
	s.terminate(nil)
}

func (s *Session) handleOpenReply(op *Operation) {
	r := s.read
	if r == nil || r.opened {
		return
	}

	if op.Opcode != OpAck {
		s.failRead(decodeNack("get", op))
		return
	}

	sink, err := r.openSink()
	if err != nil {
		s.failRead(&Error{Code: ErrFailToOpenLocalFile, Op: "get", Detail: err.Error()})
		return
	}
	r.sink = sink
	r.opened = true
	if len(op.Payload) >= 4 {
		r.remoteSize = binary.LittleEndian.Uint32(op.Payload[:4])
	}
	r.tracker = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	r.tracker.Start(r.name, int64(r.remoteSize))

	s.sendBurstRead(0)
}

// sendBurstRead requests a burst starting at offset. The requested chunk
// length rides in the Size field with an empty payload.
func (s *Session) sendBurstRead(offset uint32) {
	r := s.read
	op := newRequest(s.sessionID, OpBurstReadFile, offset, nil)
	op.Size = uint8(r.burstSize)
	if err := s.send(op); err != nil {
		s.failRead(&Error{Code: ErrFail, Op: "get", Detail: "transport: " + err.Error()})
	}
}

// ingestChunk places one data chunk into the sink, maintaining the
// contiguous cursor and the gap list. Chunks behind the cursor either fill a
// recorded gap or count as duplicates; chunks ahead of it open new gaps.
func (s *Session) ingestChunk(op *Operation) {
	r := s.read
	size := uint16(len(op.Payload))

	if size > r.burstSize {
		// The server ignored the burst size hint; request full chunks from
		// now on so gap arithmetic matches what it actually sends.
		r.burstSize = MaxPayload
	}

	switch {
	case op.Offset < r.cursor:
		if !r.gaps.remove(gap{offset: op.Offset, length: size}) {
			r.duplicates++
			s.logger.Debug("duplicate chunk at %d (%d bytes)", op.Offset, size)
			return
		}
		if err := s.writeChunkAt(op.Offset, op.Payload, r.cursor); err != nil {
			s.failRead(&Error{Code: ErrFail, Op: "get", Detail: "local write: " + err.Error()})
			return
		}

	case op.Offset > r.cursor:
		for start := r.cursor; start < op.Offset; {
			l := op.Offset - start
			if l > uint32(r.burstSize) {
				l = uint32(r.burstSize)
			}
			r.gaps.add(gap{offset: start, length: uint16(l)})
			start += l
		}
		newCursor := op.Offset + uint32(size)
		if err := s.writeChunkAt(op.Offset, op.Payload, newCursor); err != nil {
			s.failRead(&Error{Code: ErrFail, Op: "get", Detail: "local write: " + err.Error()})
			return
		}
		r.cursor = newCursor

	default:
		if _, err := r.sink.Write(op.Payload); err != nil {
			s.failRead(&Error{Code: ErrFail, Op: "get", Detail: "local write: " + err.Error()})
			return
		}
		r.cursor += uint32(size)
	}

	r.tracker.Update(int64(r.cursor))
}

// writeChunkAt writes payload at offset and repositions the sink at restore.
func (s *Session) writeChunkAt(offset uint32, payload []byte, restore uint32) error {
	r := s.read
	if _, err := r.sink.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	if _, err := r.sink.Write(payload); err != nil {
		return err
	}
	if int64(offset)+int64(len(payload)) != int64(restore) {
		if _, err := r.sink.Seek(int64(restore), io.SeekStart); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleBurstReply(op *Operation) {
	r := s.read
	if r == nil || !r.opened {
		return
	}

	if op.Opcode == OpNack {
		e := decodeNack("get", op)
		switch e.Code {
		case ErrEndOfFile, ErrNoErrorCodeInNack, ErrNoErrorCodeInPayload:
			if op.Offset > r.cursor {
				// The tail of the burst was lost; the EOF claim is ahead of
				// everything we hold. Let the watchdog resend the burst
				// instead of declaring EOF early.
				s.logger.Debug("burst tail lost: EOF claimed at %d, cursor %d", op.Offset, r.cursor)
				return
			}
			r.reachedEOF = true
			s.checkReadFinished()
		default:
			s.failRead(e)
		}
		return
	}

	requested := r.burstSize
	r.lastBurstData = s.clock.Now()
	s.ingestChunk(op)
	if s.read == nil {
		return // ingest failed the transfer
	}

	size := uint16(len(op.Payload))
	if op.BurstComplete {
		if size > 0 && size < requested {
			// Short final chunk: the only in-band EOF signal.
			r.reachedEOF = true
		} else {
			s.sendBurstRead(op.Offset + uint32(size))
		}
	}
	s.checkReadFinished()
}

func (s *Session) handleGapReadReply(op *Operation) {
	r := s.read
	if r == nil || !r.opened {
		return
	}
	if r.backlog > 0 {
		r.backlog--
	}

	if op.Opcode == OpNack {
		// A direct read failing means the remote file shrank or is
		// otherwise unusable; there is nothing sensible to back-fill.
		s.failRead(decodeNack("get", op))
		return
	}

	s.ingestChunk(op)
	s.checkReadFinished()
}

// checkReadFinished completes the transfer once EOF has been seen and every
// gap is filled.
func (s *Session) checkReadFinished() {
	r := s.read
	if r == nil || !r.reachedEOF || r.gaps.len() > 0 {
		return
	}

	size := int64(r.cursor)
	s.read = nil
	if r.tracker != nil {
		r.tracker.Update(size)
		r.tracker.Complete()
	}
	r.closeSink()
	r.complete(size, nil)
	s.terminate(nil)
}

// serviceGaps issues ReadFile probes for unsent gaps and re-arms probed gaps
// whose retry interval has elapsed. Probes are paced: at most MaxBacklog in
// flight and no two sends closer than gapSendSpacing. Re-arming waits for
// EOF so gaps are not chased while the burst is still delivering.
func (s *Session) serviceGaps(now time.Time) {
	r := s.read
	if r == nil || !r.opened {
		return
	}

	for _, gp := range r.gaps.snapshot() {
		probed := r.gaps.probeTime(gp)
		if probed.IsZero() {
			if r.backlog >= s.config.MaxBacklog {
				return
			}
			if !r.lastGapSend.IsZero() && now.Sub(r.lastGapSend) < gapSendSpacing {
				return
			}
			op := newRequest(s.sessionID, OpReadFile, gp.offset, nil)
			op.Size = uint8(gp.length)
			if err := s.send(op); err != nil {
				s.failRead(&Error{Code: ErrFail, Op: "get", Detail: "transport: " + err.Error()})
				return
			}
			r.gaps.setProbe(gp, now)
			r.backlog++
			r.lastGapSend = now
		} else if r.reachedEOF && now.Sub(probed) >= s.config.RetryTime {
			r.gaps.setProbe(gp, time.Time{})
		}
	}
}
