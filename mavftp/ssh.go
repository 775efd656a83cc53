package mavftp

import (
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHTransport speaks MAVLink over the stdin/stdout of a remote bridge
// command run on a companion computer, typically something that ties the
// flight controller's serial port to the session, e.g.
//
//	socat - /dev/ttyAMA0,b921600,raw
//
// SSH pipes have no read deadlines, so a pump goroutine parses the stream
// and Receive selects on the resulting channel.
type SSHTransport struct {
	session *ssh.Session
	stdin   io.WriteCloser

	systemID    uint8
	componentID uint8
	seq         uint8

	envelopes chan *Envelope
	errs      chan error
	done      chan error
}

// NewSSHTransport starts bridgeCmd on the SSH session and begins parsing
// its output.
func NewSSHTransport(session *ssh.Session, bridgeCmd string, systemID, componentID uint8) (*SSHTransport, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	if err := session.Start(bridgeCmd); err != nil {
		stdin.Close()
		return nil, err
	}

	t := &SSHTransport{
		session:     session,
		stdin:       stdin,
		systemID:    systemID,
		componentID: componentID,
		envelopes:   make(chan *Envelope, 64),
		errs:        make(chan error, 1),
		done:        make(chan error, 1),
	}

	go t.pump(stdout)
	go func() {
		t.done <- session.Wait()
	}()

	return t, nil
}

// pump reads the bridge output and feeds parsed envelopes to Receive.
func (t *SSHTransport) pump(stdout io.Reader) {
	parser := &frameParser{}
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, env := range parser.parse(buf[:n]) {
				t.envelopes <- env
			}
		}
		if err != nil {
			t.errs <- err
			return
		}
	}
}

// Send transmits one envelope payload as a single MAVLink frame.
func (t *SSHTransport) Send(targetSystem, targetComponent uint8, payload []byte) error {
	frame := encodeMAVLinkFrame(t.seq, t.systemID, t.componentID, targetSystem, targetComponent, payload)
	t.seq++
	_, err := t.stdin.Write(frame)
	return err
}

// Receive waits up to timeout for the next FTP envelope.
func (t *SSHTransport) Receive(timeout time.Duration) (*Envelope, error) {
	select {
	case env := <-t.envelopes:
		return env, nil
	case err := <-t.errs:
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	case <-time.After(timeout):
		return nil, nil
	}
}

// Close shuts the bridge command down and waits for it to exit.
func (t *SSHTransport) Close() error {
	t.stdin.Close()
	select {
	case err := <-t.done:
		return err
	case <-time.After(2 * time.Second):
		return t.session.Close()
	}
}
