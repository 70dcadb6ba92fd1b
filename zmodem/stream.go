package zmodem

import (
	"io"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/crypto/ssh"
)

// Stream is the polymorphic bidirectional peer connection the engine runs
// a session over — a pipe, a socket, an SSH exec channel, a serial port,
// or a child process's stdio pair all satisfy it the same way.
type Stream interface {
	io.Reader
	io.Writer
	SetReadDeadline(time.Time) error
}

// noDeadlineStream adapts any io.ReadWriter that doesn't support
// deadlines (an os.Pipe, a net.Pipe half, an *exec.Cmd's stdio) into a
// Stream whose SetReadDeadline is a no-op. Cancellation still works via
// context at the session layer; only the idle-timeout retry behavior is
// unavailable on such a transport.
type noDeadlineStream struct {
	io.Reader
	io.Writer
}

// NewPipeStream wraps an io.ReadWriter with no native deadline support
// (an os.Pipe pair, a net.Pipe half, two unidirectional pipes glued
// together) as a Stream.
func NewPipeStream(rw io.ReadWriter) Stream {
	return &noDeadlineStream{Reader: rw, Writer: rw}
}

// NewPipeHalves wraps a separate reader and writer (e.g. a child
// process's Stdout/Stdin pipes, or an SSH session's Stdout/Stdin) as a
// single Stream.
func NewPipeHalves(r io.Reader, w io.Writer) Stream {
	return &noDeadlineStream{Reader: r, Writer: w}
}

func (n *noDeadlineStream) SetReadDeadline(time.Time) error { return nil }

// SSHStream drives a transfer over an already-started SSH exec session
// (e.g. one that ran "sz --zmodem" or "rz --zmodem" on the remote end).
// Grounded on the SSH session wrapper pattern in the upstream sz/rz
// wrapper this package's CLI front ends are modeled on.
type SSHStream struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// NewSSHStream starts cmd on session and returns a Stream wrapping its
// stdin/stdout. The caller is responsible for calling session.Wait (or
// Close) once the transfer completes.
func NewSSHStream(session *ssh.Session, cmd string) (*SSHStream, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, NewIOError("open ssh stdin pipe", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, NewIOError("open ssh stdout pipe", err)
	}
	if err := session.Start(cmd); err != nil {
		return nil, NewIOError("start remote command", err)
	}
	return &SSHStream{session: session, stdin: stdin, stdout: stdout}, nil
}

func (s *SSHStream) Read(p []byte) (int, error)     { return s.stdout.Read(p) }
func (s *SSHStream) Write(p []byte) (int, error)    { return s.stdin.Write(p) }
func (s *SSHStream) SetReadDeadline(time.Time) error { return nil }
func (s *SSHStream) CloseWrite() error              { return s.stdin.Close() }
func (s *SSHStream) Wait() error                    { return s.session.Wait() }
func (s *SSHStream) Close() error                   { return s.session.Close() }

// SerialStream wraps a real serial port as a Stream — ZMODEM's original
// transport, modem to modem over a serial line. Grounded on the
// tarm/serial usage pattern for framed binary protocols over a UART.
type SerialStream struct {
	port *serial.Port
}

// SerialConfig configures the serial port a SerialStream opens.
type SerialConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultSerialConfig returns the conventional ZMODEM-over-serial
// defaults: 8N1 at 115200 baud.
func DefaultSerialConfig(name string) SerialConfig {
	return SerialConfig{Name: name, Baud: 115200, ReadTimeout: time.Second}
}

// OpenSerialStream opens the named serial device and wraps it as a Stream.
func OpenSerialStream(cfg SerialConfig) (*SerialStream, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, NewIOError("open serial port", err)
	}
	return &SerialStream{port: port}, nil
}

func (s *SerialStream) Read(p []byte) (int, error)     { return s.port.Read(p) }
func (s *SerialStream) Write(p []byte) (int, error)    { return s.port.Write(p) }
func (s *SerialStream) SetReadDeadline(time.Time) error { return nil }
func (s *SerialStream) Flush() error                    { return s.port.Flush() }
func (s *SerialStream) Close() error                    { return s.port.Close() }
