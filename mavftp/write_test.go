package mavftp

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putResult records the terminal callback of a write transfer.
type putResult struct {
	n     int64
	err   error
	fired int
}

func (p *putResult) cb() func(int64, error) {
	return func(n int64, err error) {
		p.fired++
		p.n = n
		p.err = err
	}
}

func memSourceOpener(content []byte) func() (io.ReadSeeker, int64, error) {
	return func() (io.ReadSeeker, int64, error) {
		return NewMemoryFileFrom(content), int64(len(content)), nil
	}
}

// openWriteTransfer starts a put and acknowledges the create. On return the
// initial window of WriteFile blocks has been sent.
func openWriteTransfer(t *testing.T, s *Session, ft *fakeTransport, content []byte) *putResult {
	t.Helper()
	res := &putResult{}
	require.NoError(t, s.startPut("out.bin", memSourceOpener(content), res.cb()))

	create := ft.lastSent()
	require.Equal(t, OpCreateFile, create.Opcode)
	require.Equal(t, []byte("out.bin"), create.Payload)

	s.handleReply(ackReply(create, nil))
	return res
}

// writeAck acknowledges the WriteFile block at the given byte offset.
func writeAck(session uint8, offset uint32) *Operation {
	return &Operation{Session: session, Opcode: OpAck, ReqOpcode: OpWriteFile, Offset: offset}
}

func TestPutInOrderAcks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	cfg.WriteQueueDepth = 5
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	content := patternBytes(400) // exactly 5 blocks
	res := openWriteTransfer(t, s, ft, content)

	blocks := ft.sentOps(OpWriteFile)
	require.Len(t, blocks, 5, "initial fill sends a full window")
	for i, b := range blocks {
		assert.Equal(t, uint32(i*80), b.Offset)
		assert.Equal(t, content[i*80:(i+1)*80], b.Payload)
	}

	for i := 0; i < 5; i++ {
		assert.Zero(t, res.fired)
		s.handleReply(writeAck(0, uint32(i*80)))
	}

	require.Equal(t, 1, res.fired)
	require.NoError(t, res.err)
	assert.Equal(t, int64(400), res.n)
	assert.Nil(t, s.write)
	assert.NotEmpty(t, ft.sentOps(OpTerminateSession))
}

func TestPutShortFinalBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	content := patternBytes(100) // one full block and a 20-byte tail
	res := openWriteTransfer(t, s, ft, content)

	blocks := ft.sentOps(OpWriteFile)
	require.Len(t, blocks, 2)
	assert.Equal(t, content[0:80], blocks[0].Payload)
	assert.Equal(t, content[80:100], blocks[1].Payload)

	s.handleReply(writeAck(0, 0))
	s.handleReply(writeAck(0, 80))
	require.Equal(t, 1, res.fired)
	assert.Equal(t, int64(100), res.n)
}

func TestPutZeroLengthFile(t *testing.T) {
	s, ft, _ := newTestSession(t)

	res := openWriteTransfer(t, s, ft, nil)

	require.Equal(t, 1, res.fired)
	require.NoError(t, res.err)
	assert.Empty(t, ft.sentOps(OpWriteFile), "nothing to write after the create ack")
	assert.Nil(t, s.write)
}

func TestPutWindowNeverExceedsDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	cfg.WriteQueueDepth = 2
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	content := patternBytes(400)
	res := openWriteTransfer(t, s, ft, content)

	assert.Len(t, ft.sentOps(OpWriteFile), 2)
	assert.Equal(t, 2, s.write.inFlight)

	for res.fired == 0 {
		require.LessOrEqual(t, s.write.inFlight, 2)
		blocks := ft.sentOps(OpWriteFile)
		last := blocks[len(blocks)-1]
		s.handleReply(writeAck(0, last.Offset))
		if s.write == nil {
			break
		}
	}

	// Acking the most recent send each round keeps the window legal and
	// eventually drains the pending set.
	require.Equal(t, 1, res.fired)
	require.NoError(t, res.err)
}

func TestPutSkippedAckReclaimsWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	cfg.WriteQueueDepth = 3
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	content := patternBytes(480) // six blocks, window of three
	res := openWriteTransfer(t, s, ft, content)
	require.Equal(t, 3, s.write.inFlight)

	s.handleReply(writeAck(0, 0))
	require.NotNil(t, s.write)

	// Block 1 was lost in flight. Acks arrive in server receive order, so
	// the ack for block 2 proves block 1 never arrived: the skipped index
	// gives its window slot back too, and the refill sends two new blocks
	// off a single ack.
	before := len(ft.sentOps(OpWriteFile))
	s.handleReply(writeAck(0, 160))
	sent := ft.sentOps(OpWriteFile)
	require.Len(t, sent, before+2)
	assert.Contains(t, s.write.pending, uint32(1), "the lost block stays pending")

	// The late ack for the resent block 1 and the remaining tail complete
	// the transfer.
	s.handleReply(writeAck(0, 80))
	s.handleReply(writeAck(0, 240))
	s.handleReply(writeAck(0, 320))
	s.handleReply(writeAck(0, 400))
	require.Equal(t, 1, res.fired)
	require.NoError(t, res.err)
	assert.Equal(t, int64(480), res.n)
}

func TestPutDuplicateAckIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	cfg.WriteQueueDepth = 2
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	content := patternBytes(240)
	res := openWriteTransfer(t, s, ft, content)

	s.handleReply(writeAck(0, 0))
	s.handleReply(writeAck(0, 0)) // retransmitted ack, block already gone
	require.NotNil(t, s.write)
	assert.NotContains(t, s.write.pending, uint32(0))

	s.handleReply(writeAck(0, 80))
	s.handleReply(writeAck(0, 160))
	require.Equal(t, 1, res.fired)
	require.NoError(t, res.err)
}

func TestPutImpossibleOffsetIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	openWriteTransfer(t, s, ft, patternBytes(160))
	before := s.write.inFlight
	s.handleReply(writeAck(0, 8000))
	assert.Equal(t, before, s.write.inFlight)
	assert.Len(t, s.write.pending, 2)
}

func TestPutCreateNack(t *testing.T) {
	s, ft, _ := newTestSession(t)

	res := &putResult{}
	require.NoError(t, s.startPut("out.bin", memSourceOpener(patternBytes(10)), res.cb()))
	s.handleReply(nackReply(ft.lastSent(), byte(ErrFileExists)))

	require.Equal(t, 1, res.fired)
	var e *Error
	require.ErrorAs(t, res.err, &e)
	assert.Equal(t, ErrFileExists, e.Code)
	assert.Nil(t, s.write)
}

func TestPutWriteNack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	s, ft, _ := newTestSession(t, WithConfig(cfg))

	res := openWriteTransfer(t, s, ft, patternBytes(160))

	s.handleReply(&Operation{Opcode: OpNack, ReqOpcode: OpWriteFile, Size: 2, Payload: []byte{byte(ErrFailErrno), 28}})
	require.Equal(t, 1, res.fired)
	var e *Error
	require.ErrorAs(t, res.err, &e)
	assert.Equal(t, ErrFailErrno, e.Code)
	assert.Equal(t, 28, e.Errno)
}

func TestPutBusyRejections(t *testing.T) {
	s, _, _ := newTestSession(t)

	require.NoError(t, s.startPut("a.bin", memSourceOpener([]byte("x")), nil))

	var e *Error
	err := s.startPut("b.bin", memSourceOpener([]byte("y")), nil)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPutAlreadyInProgress, e.Code)

	s.Cancel()

	// A put over a non-put command is plain busy, not put-over-put.
	require.NoError(t, s.startGet("a.bin", memSinkOpener(), nil))
	err = s.startPut("b.bin", memSourceOpener([]byte("y")), nil)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrFail, e.Code)
}

func TestPutEmptyRemotePath(t *testing.T) {
	s, _, _ := newTestSession(t)
	var e *Error
	err := s.startPut("", memSourceOpener([]byte("x")), nil)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrInvalidArguments, e.Code)
}

func TestWriteStallReclaimsOneSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	cfg.WriteQueueDepth = 2
	s, ft, clock := newTestSession(t, WithConfig(cfg))

	openWriteTransfer(t, s, ft, patternBytes(240))
	require.Equal(t, 2, s.write.inFlight)

	// No acknowledgment at all: after the stall interval one slot is
	// reclaimed per check, letting the refill resend.
	s.checkWriteStalled(clock.Now())
	assert.Equal(t, 2, s.write.inFlight, "stall interval has not elapsed")

	clock.Advance(time.Second + time.Millisecond)
	s.checkWriteStalled(clock.Now())
	assert.Equal(t, 1, s.write.inFlight)

	clock.Advance(time.Second + time.Millisecond)
	s.checkWriteStalled(clock.Now())
	assert.Equal(t, 0, s.write.inFlight)
}

func TestWriteStallScalesWithRTT(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBlockSize = 80
	cfg.WriteQueueDepth = 1
	s, ft, clock := newTestSession(t, WithConfig(cfg))

	openWriteTransfer(t, s, ft, patternBytes(80))
	s.rtt = 300 * time.Millisecond

	clock.Advance(2 * time.Second) // above the floor, below 10 round trips
	s.checkWriteStalled(clock.Now())
	assert.Equal(t, 1, s.write.inFlight)

	clock.Advance(time.Second + time.Millisecond) // past 3s total
	s.checkWriteStalled(clock.Now())
	assert.Equal(t, 0, s.write.inFlight)
}
