package zmodem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// SenderState names a node in the sender's closed state machine. The
// transition table is implemented literally in (*Sender).transition.
type SenderState int

const (
	WaitingInit SenderState = iota
	SendingZRQINIT
	SendingZFILE
	WaitingZPOS
	SendingData
	SendingZFIN
	SenderDone
)

func (s SenderState) String() string {
	switch s {
	case WaitingInit:
		return "WaitingInit"
	case SendingZRQINIT:
		return "SendingZRQINIT"
	case SendingZFILE:
		return "SendingZFILE"
	case WaitingZPOS:
		return "WaitingZPOS"
	case SendingData:
		return "SendingData"
	case SendingZFIN:
		return "SendingZFIN"
	case SenderDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// SubpacketSize is the maximum payload carried by one data subpacket.
const SubpacketSize = 8192

// SubpacketsPerBurst bounds how many subpackets the sender emits between
// ZDATA headers before pausing for a ZACK/ZRPOS.
const SubpacketsPerBurst = 10

// SenderConfig controls a single send session.
type SenderConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultSenderConfig returns the conventional lrzsz-compatible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{Timeout: 10 * time.Second, Logger: slog.Default()}
}

// Sender drives a single ZMODEM send session to completion.
type Sender struct {
	br     *bufferedPeerReader
	w      io.Writer
	logger *slog.Logger

	state SenderState
	use32 bool

	source   io.ReadSeeker
	filename string
	size     int64
	modTime  time.Time
}

// NewSender builds a Sender over stream, using cfg (zero value is
// DefaultSenderConfig()).
func NewSender(stream Stream, cfg SenderConfig) *Sender {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSenderConfig().Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sender{
		br:     newBufferedPeerReader(streamDeadliner{stream}, 8192, cfg.Timeout),
		w:      stream,
		logger: cfg.Logger,
		state:  WaitingInit,
		use32:  true,
	}
}

// Send drives a send session over stream to completion: offering
// filename/size (sourced from source) and streaming its bytes.
func Send(ctx context.Context, stream Stream, source io.ReadSeeker, filename string, size int64) error {
	s := NewSender(stream, DefaultSenderConfig())
	return s.Run(ctx, source, filename, size, time.Now())
}

// Run executes the sender's main loop per the transition table in §4.6:
// flush output, find ZPAD, parse header, compute the next state from
// (state, frame type), run that state's action, repeat until Done.
func (s *Sender) Run(ctx context.Context, source io.ReadSeeker, filename string, size int64, modTime time.Time) error {
	s.source = source
	s.filename = filename
	s.size = size
	s.modTime = modTime
	s.br.SetContext(ctx)
	s.w = &contextWriter{ctx: ctx, w: s.w}

	if err := s.sendZRQINIT(); err != nil {
		return err
	}

	for s.state != SenderDone {
		select {
		case <-ctx.Done():
			return NewError(ErrCancelled, "send cancelled")
		default:
		}

		if f, ok := s.w.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				return NewIOError("flush", err)
			}
		}

		if err := findZPad(s.br); err != nil {
			return NewIOError("find ZPAD", err)
		}
		frameType, hdr, _, ok, err := readHeader(s.br)
		if err != nil {
			if zerr, isZ := err.(*Error); isZ && zerr.Type == ErrCancelledByPeer {
				return err
			}
			return NewIOError("read header", err)
		}
		if !ok {
			if err := writeHexHeader(s.w, ZNAK, Header{}); err != nil {
				return err
			}
			continue
		}
		if frameType == ZCAN {
			return NewError(ErrCancelledByPeer, "peer cancelled session")
		}
		if frameType == ZSKIP {
			return NewError(ErrFileSkipped, "peer skipped file")
		}

		s.state = s.transition(frameType)
		if err := s.act(hdr); err != nil {
			return err
		}
	}

	return nil
}

func (s *Sender) transition(frameType int) SenderState {
	switch s.state {
	case WaitingInit:
		if frameType == ZRINIT {
			return SendingZFILE
		}
		return SendingZRQINIT
	case SendingZRQINIT:
		if frameType == ZRINIT {
			return SendingZFILE
		}
		return SendingZRQINIT
	case SendingZFILE:
		switch frameType {
		case ZRINIT:
			return WaitingZPOS
		case ZRPOS:
			return SendingData
		default:
			return SendingZFILE
		}
	case WaitingZPOS:
		if frameType == ZRPOS {
			return SendingData
		}
		return WaitingZPOS
	case SendingData:
		if frameType == ZRINIT {
			return SendingZFIN
		}
		return SendingData
	case SendingZFIN:
		if frameType == ZFIN {
			return SenderDone
		}
		return SendingZFIN
	default:
		return s.state
	}
}

func (s *Sender) act(hdr Header) error {
	switch s.state {
	case WaitingInit:
		return nil
	case SendingZRQINIT:
		return s.sendZRQINIT()
	case SendingZFILE:
		return s.sendZFILE()
	case WaitingZPOS:
		return nil
	case SendingData:
		return s.sendData(int64(rclhdr(hdr)))
	case SendingZFIN:
		return s.sendZFIN()
	case SenderDone:
		return s.finish()
	}
	return nil
}

func (s *Sender) sendZRQINIT() error {
	return writeHexHeader(s.w, ZRQINIT, Header{})
}

func (s *Sender) sendZFILE() error {
	hdr := Header{ZCBIN, 0, 0, 0}
	if err := writeBinHeader(s.w, ZFILE, hdr, true); err != nil {
		return err
	}
	payload := BuildFileHeader(s.filename, s.size, s.modTime)
	return writeSubpacket(s.w, payload, ZCRCW, true)
}

// sendData seeks the source to offset and streams up to
// SubpacketsPerBurst subpackets of up to SubpacketSize bytes each,
// ZCRCG-terminated except for the burst's final subpacket, which uses
// ZCRCW. Reaching end-of-file before emitting any bytes instead writes
// ZEOF(offset).
func (s *Sender) sendData(offset int64) error {
	if _, err := s.source.Seek(offset, io.SeekStart); err != nil {
		return NewIOError("seek source", err)
	}

	pos := offset
	buf := make([]byte, SubpacketSize)
	headerWritten := false

	for i := 0; i < SubpacketsPerBurst; i++ {
		n, err := io.ReadFull(s.source, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return NewIOError("read source", err)
		}
		if n == 0 {
			if !headerWritten {
				return writeHexHeader(s.w, ZEOF, stohdr(uint32(offset)))
			}
			break
		}

		isLast := n < SubpacketSize
		if !isLast {
			isLast = s.atEOF()
		}
		if i == SubpacketsPerBurst-1 {
			isLast = true
		}

		if !headerWritten {
			if err := writeBinHeader(s.w, ZDATA, stohdr(uint32(offset)), true); err != nil {
				return err
			}
			headerWritten = true
		}

		terminator := byte(ZCRCG)
		if isLast {
			terminator = ZCRCW
		}
		if err := writeSubpacket(s.w, buf[:n], terminator, true); err != nil {
			return err
		}
		pos += int64(n)
		if isLast {
			break
		}
	}
	return nil
}

// atEOF peeks one byte ahead to decide whether a just-completed
// full-size subpacket was actually the file's final chunk, so the
// sender doesn't emit a ZCRCG subpacket with nothing to follow it (the
// exact-multiple-of-SubpacketSize boundary case).
func (s *Sender) atEOF() bool {
	var probe [1]byte
	n, err := s.source.Read(probe[:])
	if n == 0 || err == io.EOF {
		return true
	}
	_, _ = s.source.Seek(-1, io.SeekCurrent)
	return false
}

func (s *Sender) sendZFIN() error {
	return writeHexHeader(s.w, ZFIN, Header{})
}

func (s *Sender) finish() error {
	return writeOverAndOut(s.w)
}

// BuildFileHeader renders the NUL-terminated filename followed by the
// ASCII metadata block "<size> <mtime_octal> 0 0 1 <size>" the ZFILE
// subpacket carries.
func BuildFileHeader(filename string, size int64, modTime time.Time) []byte {
	buf := append([]byte(filename), 0)
	meta := fmt.Sprintf("%d %o 0 0 1 %d", size, modTime.Unix(), size)
	return append(buf, []byte(meta)...)
}
