package mavftp

import (
	"net"
	"time"
)

// UDPTransport speaks MAVLink over a UDP socket. Each datagram may carry one
// or more frames; non-FTP traffic sharing the link (heartbeats, telemetry)
// is skipped by the frame parser.
type UDPTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	systemID    uint8
	componentID uint8
	seq         uint8

	parser  frameParser
	backlog []*Envelope
	readBuf []byte
}

// DialUDP connects to a MAVLink endpoint, e.g. "127.0.0.1:14550".
// systemID/componentID stamp outgoing frames as the local sender identity.
func DialUDP(addr string, systemID, componentID uint8) (*UDPTransport, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{
		conn:        conn,
		remote:      remote,
		systemID:    systemID,
		componentID: componentID,
		readBuf:     make([]byte, 2048),
	}, nil
}

// Send transmits one envelope payload as a single MAVLink frame.
func (t *UDPTransport) Send(targetSystem, targetComponent uint8, payload []byte) error {
	frame := encodeMAVLinkFrame(t.seq, t.systemID, t.componentID, targetSystem, targetComponent, payload)
	t.seq++
	_, err := t.conn.Write(frame)
	return err
}

// Receive waits up to timeout for the next FTP envelope. Datagrams can
// bundle several frames, so surplus envelopes are queued for later calls.
func (t *UDPTransport) Receive(timeout time.Duration) (*Envelope, error) {
	if len(t.backlog) > 0 {
		env := t.backlog[0]
		t.backlog = t.backlog[1:]
		return env, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, err := t.conn.Read(t.readBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, nil
			}
			return nil, err
		}

		envs := t.parser.parse(t.readBuf[:n])
		if len(envs) == 0 {
			continue // datagram held no FTP frames, keep waiting
		}
		t.backlog = append(t.backlog, envs[1:]...)
		return envs[0], nil
	}
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
