package zmodem

import (
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// TerminalIO wraps an interactive terminal's read/write pair and scans
// the incoming byte stream for a ZMODEM ZRINIT signature, transparently
// handing control to a Session when one appears — the same detect-and-
// splice mechanism a terminal emulator uses to auto-launch rz/sz, built
// around the Session/Sender/Receiver API and golang.org/x/term raw-mode
// toggling.
type TerminalIO struct {
	reader io.Reader
	writer io.Writer

	config    *Config
	callbacks *Callbacks
	ctx       context.Context

	fd int // local terminal fd to toggle raw mode on; -1 disables it

	mu         sync.Mutex
	scanBuffer []byte
}

const terminalScanWindow = 16

// NewTerminalIO creates TerminalIO middleware over reader/writer. fd is
// the file descriptor of the local terminal to put into raw mode for the
// duration of a detected transfer (pass -1 to skip raw-mode toggling —
// e.g. when reader/writer aren't backed by a real terminal).
func NewTerminalIO(reader io.Reader, writer io.Writer, fd int, opts ...Option) *TerminalIO {
	t := &TerminalIO{
		reader:     reader,
		writer:     writer,
		config:     DefaultConfig(),
		callbacks:  defaultCallbacks(),
		ctx:        context.Background(),
		fd:         fd,
		scanBuffer: make([]byte, 0, terminalScanWindow),
	}

	probe := &Session{config: t.config, callbacks: t.callbacks, ctx: t.ctx}
	for _, opt := range opts {
		opt(probe)
	}
	t.config, t.callbacks, t.ctx = probe.config, probe.callbacks, probe.ctx

	return t
}

// Read implements io.Reader: it passes terminal output through untouched,
// except that discovering a ZRINIT signature triggers a synchronous
// ZMODEM transfer before the read returns.
func (t *TerminalIO) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if n > 0 {
		if start := t.scanForZRINIT(p[:n]); start >= 0 {
			before := append([]byte(nil), p[:start]...)
			t.runTransfer(p[start:n])
			if len(before) > 0 {
				return copy(p, before), nil
			}
			return t.reader.Read(p)
		}
	}
	return n, err
}

// scanForZRINIT looks for a ZRINIT hex header, checking both the current
// read and the tail of the previous one (in case the header straddles
// two Read calls).
func (t *TerminalIO) scanForZRINIT(buf []byte) int {
	if idx := findZRINITHex(buf); idx >= 0 {
		return idx
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanBuffer = append(t.scanBuffer, buf...)
	if len(t.scanBuffer) > terminalScanWindow {
		t.scanBuffer = t.scanBuffer[len(t.scanBuffer)-terminalScanWindow:]
	}
	spanning := findZRINITHex(t.scanBuffer)
	bufStart := len(t.scanBuffer) - len(buf)
	if spanning >= 0 && spanning >= bufStart {
		return spanning - bufStart
	}
	return -1
}

// findZRINITHex looks for "**\x18B01" (ZPAD ZPAD ZDLE ZHEX '0' '1'), the
// wire form of a ZRINIT hex header — the signal that the peer is ready
// to receive and a transfer should start.
func findZRINITHex(buf []byte) int {
	for i := 0; i+5 < len(buf); i++ {
		if buf[i] == ZPAD && buf[i+1] == ZPAD && buf[i+2] == ZDLE && buf[i+3] == ZHEX &&
			buf[i+4] == '0' && buf[i+5] == '1' {
			return i
		}
	}
	return -1
}

// runTransfer puts the local terminal into raw mode (if fd >= 0),
// builds a Session over a reader that starts with the already-consumed
// prefix, and hands off to SendFiles/ReceiveFiles depending on
// OnFileList — a remote ZRINIT means the remote wants to receive, so a
// local file list (if any) is offered; otherwise the session receives.
func (t *TerminalIO) runTransfer(prefix []byte) {
	defer func() {
		t.mu.Lock()
		t.scanBuffer = t.scanBuffer[:0]
		t.mu.Unlock()
	}()

	var restore func()
	if t.fd >= 0 && term.IsTerminal(t.fd) {
		state, err := term.MakeRaw(t.fd)
		if err == nil {
			restore = func() { term.Restore(t.fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	spliced := io.MultiReader(newByteReader(prefix), t.reader)
	stream := NewPipeHalves(spliced, t.writer)
	session := NewSession(stream,
		WithConfig(t.config),
		WithCallbacks(t.callbacks),
		WithContext(t.ctx),
	)

	if t.callbacks.OnFileList != nil {
		names, err := t.callbacks.OnFileList()
		if err == nil && len(names) > 0 {
			files := make([]FileInfo, len(names))
			for i, name := range names {
				files[i] = FileInfo{Filename: name}
			}
			session.SendFiles(t.ctx, files)
			return
		}
	}

	session.ReceiveFiles(t.ctx, 0)
}

func newByteReader(b []byte) io.Reader {
	if len(b) == 0 {
		return bytesEmptyReader{}
	}
	return &byteSliceReader{data: b}
}

type bytesEmptyReader struct{}

func (bytesEmptyReader) Read([]byte) (int, error) { return 0, io.EOF }

type byteSliceReader struct {
	data []byte
	pos  int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// StdinRawFD returns the fd to pass to NewTerminalIO for putting the
// controlling terminal into raw mode, or -1 if stdin isn't a terminal.
func StdinRawFD() int {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		return fd
	}
	return -1
}
