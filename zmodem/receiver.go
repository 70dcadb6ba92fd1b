package zmodem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ReceiverState names a node in the receiver's closed state machine.
// The transition table is implemented literally in (*Receiver).transition.
type ReceiverState int

const (
	SendingZRINIT ReceiverState = iota
	ProcessingZFILE
	ReceivingData
	CheckingData
	ReceiverDone
)

func (s ReceiverState) String() string {
	switch s {
	case SendingZRINIT:
		return "SendingZRINIT"
	case ProcessingZFILE:
		return "ProcessingZFILE"
	case ReceivingData:
		return "ReceivingData"
	case CheckingData:
		return "CheckingData"
	case ReceiverDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// ReceiverConfig controls a single receive session.
type ReceiverConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger

	// OnFileHeader, if set, is called once the sender's ZFILE subpacket
	// has been parsed, before any data flows. It must return the sink to
	// write the file into, or an error to decline it — the declining
	// error is what Run ultimately returns, after ZSKIP is sent to the
	// peer. When nil, the sink passed to Run is used directly.
	OnFileHeader func(FileHeaderInfo) (io.Writer, error)
}

// DefaultReceiverConfig returns the conventional lrzsz-compatible
// defaults: CRC-32 capable, 10 second read timeout.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{Timeout: 10 * time.Second, Logger: slog.Default()}
}

// Receiver drives a single ZMODEM receive session to completion.
type Receiver struct {
	br     *bufferedPeerReader
	w      io.Writer
	logger *slog.Logger

	state ReceiverState
	use32 bool
	count int64
	sink  io.Writer

	onFileHeader func(FileHeaderInfo) (io.Writer, error)
	fileMeta     FileHeaderInfo
}

// NewReceiver builds a Receiver over stream, using cfg (zero value is
// DefaultReceiverConfig()).
func NewReceiver(stream Stream, cfg ReceiverConfig) *Receiver {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultReceiverConfig().Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Receiver{
		br:           newBufferedPeerReader(streamDeadliner{stream}, 8192, cfg.Timeout),
		w:            stream,
		logger:       cfg.Logger,
		state:        SendingZRINIT,
		use32:        true,
		onFileHeader: cfg.OnFileHeader,
	}
}

// FileMeta returns the metadata parsed from the sender's ZFILE subpacket.
// Only meaningful once Run has advanced past ProcessingZFILE.
func (r *Receiver) FileMeta() FileHeaderInfo { return r.fileMeta }

// streamDeadliner adapts a Stream (io.Reader + SetReadDeadline) to the
// ReaderWithTimeout interface bufferedPeerReader wants.
type streamDeadliner struct{ Stream }

// FileHeaderInfo captures the metadata the sender's ZFILE subpacket carries.
type FileHeaderInfo struct {
	Name    string
	Size    int64
	ModTime int64 // unix seconds, parsed from octal mtime
	Mode    int64
}

// Recv drives a receive session over stream to completion, writing the
// transferred bytes to sink and returning the total written.
func Recv(ctx context.Context, stream Stream, sink io.Writer) (int64, error) {
	r := NewReceiver(stream, DefaultReceiverConfig())
	return r.Run(ctx, sink)
}

// Run executes the receiver's main loop per the transition table in
// §4.5: find ZPAD, parse header, compute the next state from (state,
// frame type), run that state's action, repeat until Done.
func (r *Receiver) Run(ctx context.Context, sink io.Writer) (int64, error) {
	r.sink = sink
	r.br.SetContext(ctx)
	r.w = &contextWriter{ctx: ctx, w: r.w}

	if err := r.sendZRINIT(); err != nil {
		return 0, err
	}

	for r.state != ReceiverDone {
		select {
		case <-ctx.Done():
			return r.count, NewError(ErrCancelled, "receive cancelled")
		default:
		}

		if err := findZPad(r.br); err != nil {
			return r.count, NewIOError("find ZPAD", err)
		}
		frameType, hdr, use32, ok, err := r.readHeaderWithEncoding()
		if err != nil {
			if zerr, isZ := err.(*Error); isZ && zerr.Type == ErrCancelledByPeer {
				return r.count, err
			}
			return r.count, NewIOError("read header", err)
		}
		if !ok {
			if err := r.nak(); err != nil {
				return r.count, err
			}
			continue
		}
		r.use32 = use32

		r.state = r.transition(frameType)
		if err := r.act(frameType, hdr); err != nil {
			return r.count, err
		}
	}

	return r.count, nil
}

func (r *Receiver) transition(frameType int) ReceiverState {
	switch r.state {
	case SendingZRINIT:
		if frameType == ZFILE {
			return ProcessingZFILE
		}
		return SendingZRINIT
	case ProcessingZFILE:
		if frameType == ZDATA {
			return ReceivingData
		}
		return ProcessingZFILE
	case ReceivingData:
		if frameType == ZEOF {
			return CheckingData
		}
		return ReceivingData
	case CheckingData:
		switch frameType {
		case ZDATA:
			return ReceivingData
		case ZFIN:
			return ReceiverDone
		default:
			return CheckingData
		}
	default:
		return r.state
	}
}

func (r *Receiver) act(frameType int, hdr Header) error {
	switch r.state {
	case SendingZRINIT:
		return r.sendZRINIT()
	case ProcessingZFILE:
		return r.processZFILE()
	case ReceivingData:
		return r.receiveData(hdr)
	case CheckingData:
		return r.checkData(hdr)
	case ReceiverDone:
		return r.finish()
	}
	return nil
}

func (r *Receiver) sendZRINIT() error {
	hdr := Header{CANFC32 | CANFDX | CANOVIO, 0, 0, 0}
	return writeHexHeader(r.w, ZRINIT, hdr)
}

func (r *Receiver) processZFILE() error {
	un := newZDLEUnescaper(r.br)
	payload, _, ok, err := readSubpacket(un, r.use32)
	if err != nil {
		return err
	}
	if !ok {
		return r.nak()
	}
	r.fileMeta = parseFileHeader(payload)
	if r.onFileHeader != nil {
		sink, err := r.onFileHeader(r.fileMeta)
		if err != nil {
			if werr := writeHexHeader(r.w, ZSKIP, Header{}); werr != nil {
				return werr
			}
			return err
		}
		r.sink = sink
	}
	r.count = 0
	return r.sendZRPOS(0)
}

func (r *Receiver) receiveData(hdr Header) error {
	offset := int64(rclhdr(hdr))
	if offset != r.count {
		return r.sendZRPOS(r.count)
	}
	for {
		un := newZDLEUnescaper(r.br)
		payload, terminator, ok, err := readSubpacket(un, r.use32)
		if err != nil {
			return err
		}
		if !ok {
			return r.sendZRPOS(r.count)
		}
		if len(payload) > 0 {
			if _, err := r.sink.Write(payload); err != nil {
				return NewIOError("write to sink", err)
			}
			r.count += int64(len(payload))
		}
		switch terminator {
		case ZCRCG:
			continue
		case ZCRCQ:
			if err := r.sendACK(); err != nil {
				return err
			}
			continue
		case ZCRCW:
			return r.sendACK()
		case ZCRCE:
			return nil
		default:
			return NewError(ErrProtocol, fmt.Sprintf("unexpected subpacket terminator %q", terminator))
		}
	}
}

func (r *Receiver) checkData(hdr Header) error {
	if int64(rclhdr(hdr)) != r.count {
		return nil
	}
	return r.sendZRINIT()
}

func (r *Receiver) finish() error {
	if err := writeHexHeader(r.w, ZFIN, Header{}); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

func (r *Receiver) nak() error {
	if r.state == ReceivingData {
		return r.sendZRPOS(r.count)
	}
	return writeHexHeader(r.w, ZNAK, Header{})
}

func (r *Receiver) sendZRPOS(offset int64) error {
	return writeHexHeader(r.w, ZRPOS, stohdr(uint32(offset)))
}

func (r *Receiver) sendACK() error {
	return writeHexHeader(r.w, ZACK, stohdr(uint32(r.count)))
}

// readHeaderWithEncoding mirrors readHeader but also reports which
// encoding governed the header, so the caller can apply the matching
// CRC width to the subpacket stream that follows. BIN32 and HEX headers
// both carry CRC-32-width subpackets; only a BIN16 header switches the
// stream to CRC-16.
func (r *Receiver) readHeaderWithEncoding() (frameType int, hdr Header, use32 bool, ok bool, err error) {
	var enc HeaderEncoding
	frameType, hdr, enc, ok, err = readHeader(r.br)
	if err != nil || !ok {
		return frameType, hdr, r.use32, ok, err
	}
	return frameType, hdr, enc != EncodingBin16, ok, err
}

// parseFileHeader parses the NUL-terminated filename followed by ASCII
// metadata ("size mtime mode 0 filesleft totalleft") that the sender's
// ZFILE subpacket carries. Parsing is best-effort: a malformed or
// truncated metadata tail yields zero values rather than an error.
func parseFileHeader(data []byte) FileHeaderInfo {
	nul := -1
	for i, b := range data {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return FileHeaderInfo{Name: string(data)}
	}
	info := FileHeaderInfo{Name: string(data[:nul])}
	fields := strings.Fields(string(data[nul+1:]))
	if len(fields) > 0 {
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			info.Size = v
		}
	}
	if len(fields) > 1 {
		if v, err := strconv.ParseInt(fields[1], 8, 64); err == nil {
			info.ModTime = v
		}
	}
	if len(fields) > 2 {
		if v, err := strconv.ParseInt(fields[2], 8, 64); err == nil {
			info.Mode = v
		}
	}
	return info
}

// contextWriter aborts writes promptly once ctx is done, instead of
// blocking on a peer that will never read again.
type contextWriter struct {
	ctx context.Context
	w   io.Writer
}

func (c *contextWriter) Write(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, NewError(ErrCancelled, "write cancelled")
	default:
	}
	return c.w.Write(p)
}
