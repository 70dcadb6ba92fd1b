package zmodem

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// chanReader/chanWriter give a pair of pipe halves non-blocking buffering
// (up to the channel's capacity), so a sender and receiver running in
// lockstep goroutines never deadlock on a synchronous handoff the way a
// bare io.Pipe would.
type chanReader struct {
	ch  <-chan []byte
	buf []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		data, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

type chanWriter struct {
	ch chan<- []byte
}

func (w *chanWriter) Write(p []byte) (int, error) {
	buf := append([]byte(nil), p...)
	w.ch <- buf
	return len(p), nil
}

func (w *chanWriter) Close() { close(w.ch) }

// newLinkedStreams builds a pair of Streams wired to each other, suitable
// for running a Sender on one end and a Receiver on the other inside the
// same test process.
func newLinkedStreams() (a, b Stream, closeA, closeB func()) {
	abCh := make(chan []byte, 64)
	baCh := make(chan []byte, 64)

	aw := &chanWriter{ch: abCh}
	bw := &chanWriter{ch: baCh}

	a = NewPipeHalves(&chanReader{ch: baCh}, aw)
	b = NewPipeHalves(&chanReader{ch: abCh}, bw)
	return a, b, aw.Close, bw.Close
}

func testConfig() (SenderConfig, ReceiverConfig) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return SenderConfig{Timeout: 5 * time.Second, Logger: quiet},
		ReceiverConfig{Timeout: 5 * time.Second, Logger: quiet}
}

func runLoopback(t *testing.T, content []byte) []byte {
	t.Helper()

	senderStream, receiverStream, closeSender, closeReceiver := newLinkedStreams()
	senderCfg, receiverCfg := testConfig()

	sender := NewSender(senderStream, senderCfg)
	receiver := NewReceiver(receiverStream, receiverCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sink bytes.Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer closeSender()
		return sender.Run(gctx, bytes.NewReader(content), "payload.bin", int64(len(content)), time.Unix(1700000000, 0))
	})
	g.Go(func() error {
		defer closeReceiver()
		_, err := receiver.Run(gctx, &sink)
		return err
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("loopback transfer failed: %v", err)
	}
	return sink.Bytes()
}

func TestLoopbackSmallFile(t *testing.T) {
	content := []byte("Hello, ZMODEM loopback test! This is a small file.")
	got := runLoopback(t, content)
	if !bytes.Equal(got, content) {
		t.Errorf("received %d bytes, want %d matching bytes", len(got), len(content))
	}
}

func TestLoopbackEmptyFile(t *testing.T) {
	got := runLoopback(t, nil)
	if len(got) != 0 {
		t.Errorf("received %d bytes for an empty file, want 0", len(got))
	}
}

func TestLoopbackBurstBoundaryFile(t *testing.T) {
	// Exactly SubpacketsPerBurst*SubpacketSize bytes: the sender's atEOF
	// lookahead must still detect end-of-file on the last subpacket of
	// the burst rather than emitting an extra empty ZDATA round.
	content := make([]byte, SubpacketsPerBurst*SubpacketSize)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	got := runLoopback(t, content)
	if !bytes.Equal(got, content) {
		t.Errorf("received %d bytes, want %d matching bytes", len(got), len(content))
	}
}

func TestLoopbackExactSubpacketBoundaryFile(t *testing.T) {
	// A file that is an exact multiple of SubpacketSize and shorter than
	// one burst (three full subpackets), exercising atEOF's one-byte
	// peek-and-unread between full subpackets rather than only at the
	// file's true end.
	content := make([]byte, SubpacketSize*3)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	got := runLoopback(t, content)
	if !bytes.Equal(got, content) {
		t.Errorf("received %d bytes, want %d matching bytes", len(got), len(content))
	}
}

func TestLoopbackLargeRandomFile(t *testing.T) {
	content := make([]byte, 256*1024)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	got := runLoopback(t, content)
	if !bytes.Equal(got, content) {
		t.Errorf("received %d bytes, want %d matching bytes", len(got), len(content))
	}
}

func TestLoopbackEscapeHeavyPayload(t *testing.T) {
	// A payload built entirely from bytes the escape layer treats
	// specially (ZDLE, XON, XOFF, their high-bit variants, and the
	// subpacket terminator alphabet) so the transfer only succeeds if
	// escaping and unescaping are both exactly inverse operations.
	special := []byte{ZDLE, XON, XOFF, XON | 0x80, XOFF | 0x80, 'h', 'i', 'j', 'k', 0x0D, '@', CAN}
	content := bytes.Repeat(special, 700) // > SubpacketSize once escaped
	got := runLoopback(t, content)
	if !bytes.Equal(got, content) {
		t.Errorf("received %d bytes, want %d matching bytes", len(got), len(content))
	}
}

func TestLoopbackMidStreamCorruptionTriggersZRPOS(t *testing.T) {
	abCh := make(chan []byte, 64)
	baCh := make(chan []byte, 64)
	aw := &chanWriter{ch: abCh}
	bw := &chanWriter{ch: baCh}

	senderStream := NewPipeHalves(&chanReader{ch: baCh}, &corruptingWriter{inner: aw, flipAfter: 5000})
	receiverStream := NewPipeHalves(&chanReader{ch: abCh}, bw)

	content := make([]byte, SubpacketSize*4)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	senderCfg, receiverCfg := testConfig()
	sender := NewSender(senderStream, senderCfg)
	receiver := NewReceiver(receiverStream, receiverCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sink bytes.Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer aw.Close()
		return sender.Run(gctx, bytes.NewReader(content), "flaky.bin", int64(len(content)), time.Now())
	})
	g.Go(func() error {
		defer bw.Close()
		_, err := receiver.Run(gctx, &sink)
		return err
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("loopback transfer with induced corruption failed: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Error("content mismatch after induced corruption and ZRPOS recovery")
	}
}

// corruptingWriter flips the last byte of whichever write pushes its
// cumulative byte count past flipAfter, simulating a single-bit line
// error partway through a burst — by the time a few thousand bytes have
// gone out, the stream is well past ZRQINIT/ZFILE and into ZDATA.
type corruptingWriter struct {
	inner     io.Writer
	flipAfter int
	total     int
	done      bool
}

func (c *corruptingWriter) Write(p []byte) (int, error) {
	if !c.done {
		c.total += len(p)
		if c.total > c.flipAfter && len(p) > 0 {
			buf := append([]byte(nil), p...)
			buf[len(buf)-1] ^= 0xFF
			c.done = true
			return c.inner.Write(buf)
		}
	}
	return c.inner.Write(p)
}
