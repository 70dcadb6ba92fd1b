package zmodem

import (
	"context"
	"io"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHSession drives a ZModem transfer over an SSH exec channel, starting
// the remote sz/rz command itself and shutting it down once the transfer
// finishes. Grounded on the SSH session wrapper the upstream sz/rz wrapper
// uses to pair a local ZModem engine with a remote command.
type SSHSession struct {
	*Session
	ssh    *ssh.Session
	stdin  io.WriteCloser
	stderr io.Reader
}

// NewSSHSession wraps an unstarted SSH session for ZModem transfers. The
// remote command (sz or rz) is started lazily by SendFiles/ReceiveFiles,
// since which one to run depends on the transfer direction.
func NewSSHSession(sshSession *ssh.Session, opts ...Option) (*SSHSession, error) {
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		return nil, NewIOError("open ssh stdin pipe", err)
	}
	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		return nil, NewIOError("open ssh stdout pipe", err)
	}
	stderr, err := sshSession.StderrPipe()
	if err != nil {
		return nil, NewIOError("open ssh stderr pipe", err)
	}

	stream := NewPipeHalves(stdout, stdin)
	session := NewSession(stream, opts...)

	return &SSHSession{Session: session, ssh: sshSession, stdin: stdin, stderr: stderr}, nil
}

// Stderr returns the remote command's stderr, for the diagnostic text
// lrzsz-family tools write outside the protocol stream.
func (s *SSHSession) Stderr() io.Reader { return s.stderr }

// runRemote starts cmd on the SSH session and runs fn concurrently with
// waiting for the remote command to exit via an errgroup — either one
// failing cancels the wait for the other. stdin is closed once fn
// returns so the remote side sees end-of-input.
func (s *SSHSession) runRemote(ctx context.Context, cmd string, fn func() error) error {
	if err := s.ssh.Start(cmd); err != nil {
		return NewIOError("start remote command", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.stdin.Close()
		return fn()
	})
	g.Go(s.ssh.Wait)

	return g.Wait()
}

// SendFiles starts the remote "rz" and sends files to it.
func (s *SSHSession) SendFiles(ctx context.Context, files []FileInfo) error {
	return s.runRemote(ctx, "rz --zmodem", func() error {
		return s.Session.SendFiles(ctx, files)
	})
}

// ReceiveFiles starts the remote "sz" and receives files from it.
func (s *SSHSession) ReceiveFiles(ctx context.Context, maxFiles int) (int, error) {
	var n int
	err := s.runRemote(ctx, "sz --zmodem", func() error {
		var rerr error
		n, rerr = s.Session.ReceiveFiles(ctx, maxFiles)
		return rerr
	})
	return n, err
}

// SendFile starts the remote "rz" and sends a single file.
func (s *SSHSession) SendFile(ctx context.Context, filename string, file io.Reader, info os.FileInfo) error {
	return s.runRemote(ctx, "rz --zmodem", func() error {
		return s.Session.SendFile(ctx, filename, file, info)
	})
}

// ReceiveFile starts the remote "sz" and receives a single file.
func (s *SSHSession) ReceiveFile(ctx context.Context) error {
	return s.runRemote(ctx, "sz --zmodem", func() error {
		return s.Session.ReceiveFile(ctx)
	})
}

// Close closes the SSH session and its stdin pipe.
func (s *SSHSession) Close() error {
	s.stdin.Close()
	return s.ssh.Close()
}
