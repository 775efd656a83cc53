package mavftp

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeTransport records every sent operation and serves queued replies. When
// the queue is empty a Receive advances the fake clock by the poll timeout so
// blocking loops make deterministic progress toward their deadlines.
//
// An optional respond hook acts as a scripted server: it sees each decoded
// request right after it is recorded and may push replies.
type fakeTransport struct {
	t *testing.T

	sent  []*Operation
	queue []*Envelope

	clock   *fakeClock
	respond func(op *Operation)
	sendErr error
}

func (ft *fakeTransport) Send(targetSystem, targetComponent uint8, payload []byte) error {
	if ft.sendErr != nil {
		return ft.sendErr
	}
	op, err := Decode(payload)
	if err != nil {
		ft.t.Fatalf("transport got undecodable payload: %v", err)
	}
	ft.sent = append(ft.sent, op)
	if ft.respond != nil {
		ft.respond(op)
	}
	return nil
}

func (ft *fakeTransport) Receive(timeout time.Duration) (*Envelope, error) {
	if len(ft.queue) > 0 {
		env := ft.queue[0]
		ft.queue = ft.queue[1:]
		return env, nil
	}
	if ft.clock != nil {
		ft.clock.Advance(timeout)
	}
	return nil, nil
}

// push queues a reply as a broadcast envelope, which every identity accepts.
func (ft *fakeTransport) push(op *Operation) {
	env := &Envelope{SystemID: 1, ComponentID: 1}
	copy(env.Payload[:], op.Encode())
	ft.queue = append(ft.queue, env)
}

// lastSent returns the most recently sent operation.
func (ft *fakeTransport) lastSent() *Operation {
	if len(ft.sent) == 0 {
		ft.t.Fatal("nothing sent")
	}
	return ft.sent[len(ft.sent)-1]
}

// sentOps returns every sent operation with the given opcode.
func (ft *fakeTransport) sentOps(opcode Opcode) []*Operation {
	var out []*Operation
	for _, op := range ft.sent {
		if op.Opcode == opcode {
			out = append(out, op)
		}
	}
	return out
}

// newTestSession builds a session over a fake transport and fake clock.
func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeTransport, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	ft := &fakeTransport{t: t, clock: clock}
	opts = append([]Option{WithClock(clock)}, opts...)
	s, err := NewSession(ft, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, ft, clock
}

// ackReply builds an Ack for a recorded request.
func ackReply(req *Operation, payload []byte) *Operation {
	return &Operation{
		Seq:       (req.Seq + 1) % 256,
		Session:   req.Session,
		Opcode:    OpAck,
		Size:      uint8(len(payload)),
		ReqOpcode: req.Opcode,
		Offset:    req.Offset,
		Payload:   payload,
	}
}

// nackReply builds a Nack for a recorded request.
func nackReply(req *Operation, payload ...byte) *Operation {
	return &Operation{
		Seq:       (req.Seq + 1) % 256,
		Session:   req.Session,
		Opcode:    OpNack,
		Size:      uint8(len(payload)),
		ReqOpcode: req.Opcode,
		Offset:    req.Offset,
		Payload:   payload,
	}
}

// burstChunk builds one burst data reply.
func burstChunk(session uint8, offset uint32, payload []byte, burstComplete bool) *Operation {
	return &Operation{
		Session:       session,
		Opcode:        OpAck,
		Size:          uint8(len(payload)),
		ReqOpcode:     OpBurstReadFile,
		BurstComplete: burstComplete,
		Offset:        offset,
		Payload:       payload,
	}
}

// gapChunk builds one ReadFile data reply.
func gapChunk(session uint8, offset uint32, payload []byte) *Operation {
	return &Operation{
		Session:   session,
		Opcode:    OpAck,
		Size:      uint8(len(payload)),
		ReqOpcode: OpReadFile,
		Offset:    offset,
		Payload:   payload,
	}
}

// patternBytes builds n deterministic non-repeating-ish bytes for content
// comparison.
func patternBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + i/251)
	}
	return buf
}
