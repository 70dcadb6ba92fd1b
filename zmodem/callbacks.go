package zmodem

import (
	"io"
	"os"
	"time"
)

// Callbacks hooks the Session-level send/receive loop. They sit above the
// bare Sender/Receiver engines, which only expose the narrower
// OnFileHeader hook on ReceiverConfig for accept/skip decisions made
// before any data flows; Callbacks additionally covers file sourcing,
// progress, and lifecycle events for callers driving a Session. Every
// field is optional — a nil field behaves per mergeCallbacks' defaults.
type Callbacks struct {
	// OnFileOpen supplies the reader and metadata for a file a Sender is
	// about to offer. nil falls back to os.Open/os.Stat.
	OnFileOpen func(filename string) (io.Reader, os.FileInfo, error)

	// OnFileList returns the files to offer when a remote rz triggers a
	// send. nil or an empty slice sends nothing.
	OnFileList func() ([]string, error)

	// OnFilePrompt decides whether to accept an incoming file. An error
	// aborts the transfer; false with a nil error skips just that file.
	OnFilePrompt func(filename string, size int64, mode os.FileMode) (bool, error)

	// OnFileCreate supplies the sink an accepted file is written into.
	// nil falls back to os.Create.
	OnFileCreate func(filename string, size int64, mode os.FileMode) (io.Writer, error)

	// OnFileStart fires once per file before its data flows: on a send,
	// before the handshake starts; on a receive, once the ZFILE header has
	// been accepted and its sink created.
	OnFileStart func(filename string, size int64, mode os.FileMode)

	// OnProgress fires at most once per Config.ProgressInterval while a
	// file transfers. total is 0 when the size is unknown; rate is in
	// bytes per second.
	OnProgress func(filename string, transferred, total int64, rate float64)

	// OnFileComplete fires once a file transfer finishes successfully.
	OnFileComplete func(filename string, bytesTransferred int64, duration time.Duration)

	// OnError fires on a recoverable error. Returning true asks the
	// caller to retry; the default is to not retry.
	OnError func(err error, context string) bool

	// OnEvent is the hook for low-level protocol events. It is stored and
	// merged like the other fields, but no code in this package calls it.
	OnEvent func(event Event)
}

// Event is a low-level protocol occurrence reported via OnEvent.
type Event struct {
	Type      EventType
	Message   string
	FrameType int
	Timestamp time.Time
}

// EventType categorizes an Event.
type EventType int

const (
	EventFrameSent EventType = iota
	EventFrameReceived
	EventFileStart
	EventFileComplete
	EventError
	EventTimeout
	EventCancelled
)

func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnFilePrompt:   func(string, int64, os.FileMode) (bool, error) { return true, nil },
		OnProgress:     func(string, int64, int64, float64) {},
		OnFileStart:    func(string, int64, os.FileMode) {},
		OnFileComplete: func(string, int64, time.Duration) {},
		OnError:        func(error, string) bool { return false },
		OnEvent:        func(Event) {},
	}
}

// mergeCallbacks overlays user's non-nil fields onto the defaults.
// OnFileOpen, OnFileList, and OnFileCreate have no default implementation
// and pass through as-is: when OnFileOpen or OnFileCreate is nil, their
// callers (Session's openFile/onHeader) fall back to the filesystem
// directly; when OnFileList is nil, TerminalIO receives instead of sending.
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	merged := *def
	if user.OnFilePrompt != nil {
		merged.OnFilePrompt = user.OnFilePrompt
	}
	if user.OnProgress != nil {
		merged.OnProgress = user.OnProgress
	}
	if user.OnFileStart != nil {
		merged.OnFileStart = user.OnFileStart
	}
	if user.OnFileComplete != nil {
		merged.OnFileComplete = user.OnFileComplete
	}
	if user.OnError != nil {
		merged.OnError = user.OnError
	}
	if user.OnEvent != nil {
		merged.OnEvent = user.OnEvent
	}
	merged.OnFileOpen = user.OnFileOpen
	merged.OnFileList = user.OnFileList
	merged.OnFileCreate = user.OnFileCreate

	return &merged
}
