package zmodem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	path "path/filepath"
	"time"
)

// Config holds session-wide behavior that isn't specific to either the
// sender or receiver half of the protocol.
type Config struct {
	Timeout          time.Duration
	ProgressInterval time.Duration
	Logger           *slog.Logger
}

// DefaultConfig returns the conventional lrzsz-compatible defaults: a ten
// second per-read timeout and progress callbacks rate-limited to 10Hz.
func DefaultConfig() *Config {
	return &Config{
		Timeout:          10 * time.Second,
		ProgressInterval: 100 * time.Millisecond,
		Logger:           slog.Default(),
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) { s.config = config }
}

// WithCallbacks sets the session's event hooks, merging over the defaults.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) { s.callbacks = mergeCallbacks(callbacks) }
}

// WithContext sets the context used when one isn't passed explicitly to a
// SendFile/ReceiveFile call.
func WithContext(ctx context.Context) Option {
	return func(s *Session) { s.ctx = ctx }
}

// WithSessionLogger sets the logger used for protocol diagnostics.
func WithSessionLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// Session wraps a Stream plus Config, exposing file-level send/receive
// operations with accept/skip prompting and progress reporting on top of
// the bare Sender/Receiver engines. Each file transferred over a Session
// runs its own independent handshake — the peer is expected to offer (or
// request) files one at a time, re-initializing between them, which keeps
// the state machines in receiver.go and sender.go exactly one file wide.
type Session struct {
	stream    Stream
	config    *Config
	callbacks *Callbacks
	ctx       context.Context
	logger    *slog.Logger
}

// NewSession creates a ZModem session over stream.
func NewSession(stream Stream, opts ...Option) *Session {
	s := &Session{
		stream:    stream,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = s.config.Logger
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// FileInfo names a file to offer over SendFiles.
type FileInfo struct {
	Filename string
	Info     os.FileInfo
}

// SendFile offers a single file to the peer and streams it, reporting
// progress and start/complete events through the session's callbacks.
func (s *Session) SendFile(ctx context.Context, filename string, file io.Reader, info os.FileInfo) error {
	if ctx == nil {
		ctx = s.ctx
	}
	_, base := path.Split(filename)

	source, err := asReadSeeker(file)
	if err != nil {
		s.callbacks.OnError(err, "buffer file for seeking")
		return err
	}

	tracker := NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	tracker.Start(base, info.Size())
	s.callbacks.OnFileStart(base, info.Size(), info.Mode())

	tracked := &progressReadSeeker{ReadSeeker: source, tracker: tracker}
	sender := NewSender(s.stream, SenderConfig{Timeout: s.config.Timeout, Logger: s.logger})
	if err := sender.Run(ctx, tracked, base, info.Size(), info.ModTime()); err != nil {
		s.callbacks.OnError(err, "send file")
		return err
	}

	duration := tracker.Complete()
	s.callbacks.OnFileComplete(base, info.Size(), duration)
	return nil
}

// ReceiveFile waits for the peer to offer one file, prompts via
// OnFilePrompt, and — if accepted — streams it to the sink OnFileCreate
// (or os.Create, by default) produces.
func (s *Session) ReceiveFile(ctx context.Context) error {
	if ctx == nil {
		ctx = s.ctx
	}

	var (
		base     string
		size     int64
		mode     os.FileMode
		modTime  time.Time
		osFile   *os.File
		sinkBack io.Closer
	)
	tracker := NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)

	onHeader := func(meta FileHeaderInfo) (io.Writer, error) {
		base = path.Base(meta.Name)
		size = meta.Size
		modTime = time.Unix(meta.ModTime, 0)
		mode = os.FileMode(meta.Mode)
		if mode == 0 {
			mode = 0644
		}

		accept, err := s.callbacks.OnFilePrompt(base, size, mode)
		if err != nil {
			return nil, err
		}
		if !accept {
			return nil, NewError(ErrFileSkipped, base)
		}

		var sink io.Writer
		if s.callbacks.OnFileCreate != nil {
			sink, err = s.callbacks.OnFileCreate(base, size, mode)
		} else {
			f, ferr := os.Create(base)
			osFile, sink, err = f, f, ferr
		}
		if err != nil {
			return nil, NewIOError("create file", err)
		}
		if c, ok := sink.(io.Closer); ok {
			sinkBack = c
		}

		tracker.Start(base, size)
		s.callbacks.OnFileStart(base, size, mode)
		return &progressWriter{Writer: sink, tracker: tracker}, nil
	}

	receiver := NewReceiver(s.stream, ReceiverConfig{
		Timeout:      s.config.Timeout,
		Logger:       s.logger,
		OnFileHeader: onHeader,
	})

	_, err := receiver.Run(ctx, nil)

	if sinkBack != nil {
		sinkBack.Close()
	}

	if err != nil {
		s.callbacks.OnError(err, "receive file")
		return err
	}

	if osFile != nil {
		os.Chmod(osFile.Name(), mode)
		os.Chtimes(osFile.Name(), modTime, modTime)
	}

	duration := tracker.Complete()
	s.callbacks.OnFileComplete(base, size, duration)
	return nil
}

// SendFiles offers each file in turn, skipping past files the peer
// declines and retrying once on any error OnError approves a retry for.
func (s *Session) SendFiles(ctx context.Context, files []FileInfo) error {
	for _, fi := range files {
		file, info, err := s.openFile(fi)
		if err != nil {
			s.callbacks.OnError(err, "open file")
			continue
		}

		if err := s.SendFile(ctx, fi.Filename, file, info); err != nil {
			if closer, ok := file.(io.Closer); ok {
				closer.Close()
			}
			if IsFileSkipped(err) {
				s.logger.Info("file skipped by receiver", "file", fi.Filename)
				continue
			}
			if s.callbacks.OnError(err, "send file") {
				file, info, rerr := s.openFile(fi)
				if rerr != nil {
					return rerr
				}
				if err := s.SendFile(ctx, fi.Filename, file, info); err != nil {
					if closer, ok := file.(io.Closer); ok {
						closer.Close()
					}
					return err
				}
				if closer, ok := file.(io.Closer); ok {
					closer.Close()
				}
				continue
			}
			return err
		}
		if closer, ok := file.(io.Closer); ok {
			closer.Close()
		}
	}
	return nil
}

func (s *Session) openFile(fi FileInfo) (io.Reader, os.FileInfo, error) {
	if s.callbacks.OnFileOpen != nil {
		return s.callbacks.OnFileOpen(fi.Filename)
	}
	f, err := os.Open(fi.Filename)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// ReceiveFiles accepts files one after another until the peer stops
// offering them (detected as the stream closing between files) or
// maxFiles have been received (0 means unlimited).
func (s *Session) ReceiveFiles(ctx context.Context, maxFiles int) (int, error) {
	received := 0
	for maxFiles <= 0 || received < maxFiles {
		err := s.ReceiveFile(ctx)
		if err != nil {
			if IsFileSkipped(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return received, nil
			}
			return received, err
		}
		received++
	}
	return received, nil
}

func asReadSeeker(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewIOError("buffer non-seekable reader", err)
	}
	return bytes.NewReader(data), nil
}

// progressReadSeeker reports read progress to a ProgressTracker, keeping
// its own position current across seeks so a retry-driven rewind doesn't
// misreport transferred bytes.
type progressReadSeeker struct {
	io.ReadSeeker
	tracker *ProgressTracker
	pos     int64
}

func (p *progressReadSeeker) Read(buf []byte) (int, error) {
	n, err := p.ReadSeeker.Read(buf)
	if n > 0 {
		p.pos += int64(n)
		p.tracker.Update(p.pos)
	}
	return n, err
}

func (p *progressReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.ReadSeeker.Seek(offset, whence)
	if err == nil {
		p.pos = pos
	}
	return pos, err
}

// progressWriter reports write progress to a ProgressTracker.
type progressWriter struct {
	io.Writer
	tracker *ProgressTracker
	pos     int64
}

func (p *progressWriter) Write(buf []byte) (int, error) {
	n, err := p.Writer.Write(buf)
	p.pos += int64(n)
	p.tracker.Update(p.pos)
	return n, err
}
