package mavftp

import (
	"context"
	"fmt"
	"time"
)

// gapSendSpacing is the minimum spacing between consecutive gap read sends.
const gapSendSpacing = 50 * time.Millisecond

// Config holds session configuration.
type Config struct {
	// TargetSystem and TargetComponent address the remote FTP server.
	TargetSystem    uint8
	TargetComponent uint8

	// SystemID and ComponentID are the local identity; envelopes addressed
	// elsewhere are rejected.
	SystemID    uint8
	ComponentID uint8

	// BurstSize is the chunk length requested per burst read, clamped to
	// [1, MaxPayload] at the start of each transfer.
	BurstSize uint16

	// WriteBlockSize is the payload length of each WriteFile block.
	WriteBlockSize uint16

	// WriteQueueDepth is the number of write blocks kept in flight.
	WriteQueueDepth int

	// MaxBacklog caps the number of outstanding gap reads.
	MaxBacklog int

	// RetryTime is how long an open or burst may be outstanding before the
	// watchdog retries it, and how long a probed gap waits before being
	// reissued.
	RetryTime time.Duration

	// RecvTimeout is the per-poll receive timeout of the blocking loop.
	RecvTimeout time.Duration

	// IdleDetectionTime is how long without any send before the watchdog
	// reports the exchange quiescent.
	IdleDetectionTime time.Duration

	// OperationTimeout bounds one blocking command end to end. Zero means
	// no overall limit.
	OperationTimeout time.Duration

	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		TargetSystem:      1,
		TargetComponent:   1,
		SystemID:          255,
		ComponentID:       190,
		BurstSize:         MaxPayload,
		WriteBlockSize:    80,
		WriteQueueDepth:   5,
		MaxBacklog:        5,
		RetryTime:         500 * time.Millisecond,
		RecvTimeout:       100 * time.Millisecond,
		IdleDetectionTime: 1200 * time.Millisecond,
		OperationTimeout:  30 * time.Second,
		ProgressInterval:  100 * time.Millisecond,
	}
}

// validate enforces the timing invariant the watchdog depends on.
func (c *Config) validate() error {
	if c.RecvTimeout <= 0 || c.RetryTime <= c.RecvTimeout || c.IdleDetectionTime <= c.RetryTime {
		return fmt.Errorf("mavftp: timing invariant violated: need IdleDetectionTime (%v) > RetryTime (%v) > RecvTimeout (%v) > 0",
			c.IdleDetectionTime, c.RetryTime, c.RecvTimeout)
	}
	if c.WriteQueueDepth < 1 {
		return fmt.Errorf("mavftp: write queue depth must be at least 1")
	}
	if c.MaxBacklog < 1 {
		return fmt.Errorf("mavftp: max backlog must be at least 1")
	}
	return nil
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) { s.config = config }
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock sets the time source used by retry and idle detection.
func WithClock(clock Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithLossPolicy sets the fault-injection policy.
func WithLossPolicy(policy LossPolicy) Option {
	return func(s *Session) { s.loss = policy }
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) { s.callbacks = mergeCallbacks(callbacks) }
}

// Session owns one MAVLink FTP exchange with a remote server: the sequence
// number, the session id, the single in-flight last operation, and whichever
// transfer pipeline is currently active.
//
// A Session is single threaded and poll driven. The blocking command methods
// (Get, Put, List, ...) run the poll loop internally; callers that bring
// their own loop feed envelopes through HandleEnvelope and tick the watchdog
// with Poll. Concurrent callers must serialize: one outstanding command at a
// time.
type Session struct {
	transport Transport
	config    *Config
	logger    Logger
	clock     Clock
	loss      LossPolicy
	callbacks *Callbacks

	seq       uint16
	sessionID uint8

	lastOp       *Operation
	lastOpTime   time.Time
	lastSendTime time.Time
	rtt          time.Duration

	openRetries int

	read    *readTransfer
	write   *writeTransfer
	pending *pendingOp

	stats counters
}

type counters struct {
	sent     uint64
	received uint64
	dropsTX  uint64
	dropsRX  uint64
}

// NewSession creates a session over the given transport.
func NewSession(transport Transport, opts ...Option) (*Session, error) {
	s := &Session{
		transport: transport,
		config:    DefaultConfig(),
		logger:    NoopLogger{},
		clock:     systemClock{},
		loss:      NoLoss{},
		callbacks: defaultCallbacks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// active reports whether any command is in flight.
func (s *Session) active() bool {
	return s.read != nil || s.write != nil || s.pending != nil
}

// send stamps the sequence number, encodes and transmits the operation, and
// retains it for retry construction. The sequence wraps at 256.
func (s *Session) send(op *Operation) error {
	op.Seq = s.seq
	now := s.clock.Now()

	if s.loss.DropTX() {
		s.stats.dropsTX++
		s.logger.Debug("TX dropped by loss policy: %s", FormatOperationLog(">>", op))
	} else {
		s.logger.Debug("%s", FormatOperationLog(">>", op))
		if err := s.transport.Send(s.config.TargetSystem, s.config.TargetComponent, op.Encode()); err != nil {
			return err
		}
		s.stats.sent++
	}

	s.seq = (s.seq + 1) % 256
	s.lastOp = op
	s.lastOpTime = now
	s.lastSendTime = now
	return nil
}

// HandleEnvelope dispatches one received envelope. Envelopes addressed to a
// different identity or dropped by the loss policy are discarded without any
// state change.
func (s *Session) HandleEnvelope(env *Envelope) {
	if !addressedToUs(env, s.config.SystemID, s.config.ComponentID) {
		s.logger.Debug("envelope for %d/%d ignored", env.TargetSystem, env.TargetComponent)
		return
	}
	if s.loss.DropRX() {
		s.stats.dropsRX++
		s.logger.Debug("RX dropped by loss policy")
		return
	}
	op, err := Decode(env.Payload[:])
	if err != nil {
		s.logger.Error("discarding reply: %v", err)
		return
	}
	s.stats.received++
	s.handleReply(op)
}

// handleReply routes a decoded reply to the pipeline that issued the
// request. Replies bearing a stale session id are rejected outright so a
// terminated transfer cannot be revived by late packets.
func (s *Session) handleReply(op *Operation) {
	s.logger.Debug("%s", FormatOperationLog("<<", op))

	if op.Session != s.sessionID {
		s.logger.Debug("stale session %d (current %d), reply ignored", op.Session, s.sessionID)
		return
	}

	if s.lastOp != nil && op.ReqOpcode == s.lastOp.Opcode && op.Seq == (s.lastOp.Seq+1)%256 {
		if dt := s.clock.Now().Sub(s.lastOpTime); dt >= 0 && (s.rtt == 0 || dt < s.rtt) {
			s.rtt = dt
		}
	}

	switch op.ReqOpcode {
	case OpOpenFileRO:
		s.handleOpenReply(op)
	case OpBurstReadFile:
		s.handleBurstReply(op)
	case OpReadFile:
		s.handleGapReadReply(op)
	case OpCreateFile:
		s.handleCreateReply(op)
	case OpWriteFile:
		s.handleWriteReply(op)
	case OpListDirectory, OpRename, OpCreateDirectory, OpRemoveDirectory,
		OpRemoveFile, OpCalcFileCRC32:
		s.handlePendingReply(op)
	case OpTerminateSession, OpResetSessions, OpNone:
		// housekeeping acks carry no state
	default:
		s.logger.Info("reply for unrecognized request opcode %d", uint8(op.ReqOpcode))
	}
}

// terminate sends a TerminateSession request, fails whatever completion is
// still pending with cause, and bumps the session id so stale in-flight
// replies are rejected by the dispatcher. A nil cause is used on the success
// paths, where the completion has already been delivered.
func (s *Session) terminate(cause *Error) {
	if err := s.send(newRequest(s.sessionID, OpTerminateSession, 0, nil)); err != nil {
		s.logger.Error("terminate send failed: %v", err)
	}
	s.finish(cause)
	s.sessionID = s.sessionID + 1
}

// finish clears all transfer state, delivering cause to any completion that
// has not fired yet. Each completion fires exactly once.
func (s *Session) finish(cause *Error) {
	if r := s.read; r != nil {
		s.read = nil
		r.closeSink()
		if cause == nil {
			cause = newError(ErrFail, "get")
		}
		r.complete(0, cause)
	}
	if w := s.write; w != nil {
		s.write = nil
		w.closeSource()
		if cause == nil {
			cause = newError(ErrFail, "put")
		}
		w.complete(0, cause)
	}
	if p := s.pending; p != nil {
		s.pending = nil
		if cause == nil {
			cause = newError(ErrFail, p.name)
		}
		p.complete(nil, cause)
	}
}

// Cancel aborts the active command, synchronously invoking its completion
// with a failure value and resetting session state. It is a no-op when idle.
func (s *Session) Cancel() {
	if !s.active() {
		return
	}
	s.terminate(&Error{Code: ErrFail, Op: s.activeOpName(), Detail: "transfer cancelled"})
}

func (s *Session) activeOpName() string {
	switch {
	case s.read != nil:
		return "get"
	case s.write != nil:
		return "put"
	case s.pending != nil:
		return s.pending.name
	}
	return "idle"
}

// waitIdle runs the blocking poll loop of one command: receive with timeout,
// dispatch, tick the watchdog, check the overall deadline. It returns when
// the command's completion has fired, the context is cancelled, or the
// transport fails.
func (s *Session) waitIdle(ctx context.Context) error {
	var deadline time.Time
	if s.config.OperationTimeout > 0 {
		deadline = s.clock.Now().Add(s.config.OperationTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	for s.active() {
		select {
		case <-ctx.Done():
			s.terminate(&Error{Code: ErrFail, Op: s.activeOpName(), Detail: "context cancelled"})
			return ctx.Err()
		default:
		}

		env, err := s.transport.Receive(s.config.RecvTimeout)
		if err != nil {
			s.finish(&Error{Code: ErrFail, Op: s.activeOpName(), Detail: "transport: " + err.Error()})
			return err
		}
		if env != nil {
			s.HandleEnvelope(env)
		}

		quiescent := s.Poll()

		if !deadline.IsZero() && s.clock.Now().After(deadline) {
			s.terminate(newError(ErrRemoteReplyTimeout, s.activeOpName()))
			continue
		}
		if quiescent && s.active() {
			// No send for longer than the idle window: the exchange is
			// stalled with nothing left to retry.
			s.terminate(newError(ErrRemoteReplyTimeout, s.activeOpName()))
		}
	}
	return nil
}

// Stats is a snapshot of session health counters.
type Stats struct {
	Active          string
	RTTEstimate     time.Duration
	OpenRetries     int
	BurstRetries    int
	Duplicates      int
	GapsOutstanding int
	ReadBacklog     int
	BlocksPending   int
	FramesSent      uint64
	FramesReceived  uint64
	FramesDroppedTX uint64
	FramesDroppedRX uint64
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Active:          s.activeOpName(),
		RTTEstimate:     s.rtt,
		OpenRetries:     s.openRetries,
		FramesSent:      s.stats.sent,
		FramesReceived:  s.stats.received,
		FramesDroppedTX: s.stats.dropsTX,
		FramesDroppedRX: s.stats.dropsRX,
	}
	if r := s.read; r != nil {
		st.BurstRetries = r.retries
		st.Duplicates = r.duplicates
		st.GapsOutstanding = r.gaps.len()
		st.ReadBacklog = r.backlog
	}
	if w := s.write; w != nil {
		st.BlocksPending = len(w.pending)
	}
	return st
}
