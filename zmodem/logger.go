package zmodem

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
)

// FormatFrameLog renders a frame's direction, type, position and header
// bytes for structured logging. The payload in data is not rendered; only
// dataSize is appended, and only when it is positive.
func FormatFrameLog(direction string, frameType int, hdr Header, data []byte, dataSize int) string {
	msg := fmt.Sprintf("%s %s pos=%d hdr=%02x", direction, FrameTypeName(frameType), rclhdr(hdr), hdr[:])
	if dataSize > 0 {
		msg += fmt.Sprintf(" data_size=%d", dataSize)
	}
	return msg
}

// LoggingReader wraps an io.Reader and hex-dumps what it reads at debug
// level, tagged "In:". It changes no stream semantics: errors and byte
// counts pass through unmodified.
type LoggingReader struct {
	reader io.Reader
	logger *slog.Logger
	name   string
}

func NewLoggingReader(reader io.Reader, logger *slog.Logger, name string) *LoggingReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingReader{reader: reader, logger: logger, name: name}
}

func (lr *LoggingReader) Read(p []byte) (int, error) {
	n, err := lr.reader.Read(p)
	if n > 0 && lr.logger.Enabled(context.Background(), slog.LevelDebug) {
		lr.logger.Debug("In:", "stream", lr.name, "bytes", n, "hex", hexDump(p[:n]))
	}
	if err != nil && err != io.EOF {
		lr.logger.Debug("read error", "stream", lr.name, "err", err)
	}
	return n, err
}

// LoggingWriter wraps an io.Writer and hex-dumps what it writes at debug
// level, tagged "Out:".
type LoggingWriter struct {
	writer io.Writer
	logger *slog.Logger
	name   string
}

func NewLoggingWriter(writer io.Writer, logger *slog.Logger, name string) *LoggingWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingWriter{writer: writer, logger: logger, name: name}
}

func (lw *LoggingWriter) Write(p []byte) (int, error) {
	n, err := lw.writer.Write(p)
	if n > 0 && lw.logger.Enabled(context.Background(), slog.LevelDebug) {
		lw.logger.Debug("Out:", "stream", lw.name, "bytes", n, "hex", hexDump(p[:n]))
	}
	if err != nil {
		lw.logger.Debug("write error", "stream", lw.name, "err", err)
	}
	return n, err
}

func hexDump(p []byte) string {
	const max = 128
	if len(p) > max {
		return hex.EncodeToString(p[:max]) + "...[truncated]"
	}
	return hex.EncodeToString(p)
}
