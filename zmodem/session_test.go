package zmodem

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// fakeFileInfo satisfies os.FileInfo without touching the filesystem.
type fakeFileInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Unix(1700000000, 0) }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

func TestSessionSendReceiveRoundTrip(t *testing.T) {
	senderStream, receiverStream, closeSender, closeReceiver := newLinkedStreams()

	content := []byte("session-level round trip content, short and sweet")
	var received bytes.Buffer
	var completedName string
	var completedBytes int64

	senderSession := NewSession(senderStream, WithConfig(&Config{
		Timeout:          2 * time.Second,
		ProgressInterval: time.Millisecond,
	}))
	receiverSession := NewSession(receiverStream, WithCallbacks(&Callbacks{
		OnFileCreate: func(filename string, size int64, mode os.FileMode) (io.Writer, error) {
			return &received, nil
		},
		OnFileComplete: func(filename string, bytesTransferred int64, duration time.Duration) {
			completedName = filename
			completedBytes = bytesTransferred
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer closeSender()
		info := fakeFileInfo{name: "note.txt", size: int64(len(content)), mode: 0644}
		return senderSession.SendFile(gctx, "note.txt", bytes.NewReader(content), info)
	})
	g.Go(func() error {
		defer closeReceiver()
		return receiverSession.ReceiveFile(gctx)
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("session round trip failed: %v", err)
	}
	if !bytes.Equal(received.Bytes(), content) {
		t.Errorf("received %d bytes, want %d matching bytes", received.Len(), len(content))
	}
	if completedName != "note.txt" {
		t.Errorf("OnFileComplete filename = %q, want note.txt", completedName)
	}
	if completedBytes != int64(len(content)) {
		t.Errorf("OnFileComplete bytesTransferred = %d, want %d", completedBytes, len(content))
	}
}

func TestSessionReceiveFileDeclined(t *testing.T) {
	senderStream, receiverStream, closeSender, closeReceiver := newLinkedStreams()

	content := []byte("this file will be skipped by the receiver")

	senderSession := NewSession(senderStream)
	receiverSession := NewSession(receiverStream, WithCallbacks(&Callbacks{
		OnFilePrompt: func(filename string, size int64, mode os.FileMode) (bool, error) {
			return false, nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer closeSender()
		info := fakeFileInfo{name: "declined.bin", size: int64(len(content)), mode: 0644}
		return senderSession.SendFile(gctx, "declined.bin", bytes.NewReader(content), info)
	})
	g.Go(func() error {
		defer closeReceiver()
		return receiverSession.ReceiveFile(gctx)
	})

	err := g.Wait()
	if err == nil {
		t.Fatal("expected a file-skipped error, got nil")
	}
	if !IsFileSkipped(err) {
		t.Errorf("expected IsFileSkipped(err) to be true, got err=%v", err)
	}
}

func TestSessionReceiveFilesStopsAtEOF(t *testing.T) {
	senderStream, receiverStream, closeSender, closeReceiver := newLinkedStreams()

	files := []struct {
		name    string
		content []byte
	}{
		{"a.txt", []byte("first file")},
		{"b.txt", []byte("second file, a little longer than the first")},
	}

	received := map[string]*bytes.Buffer{}
	senderSession := NewSession(senderStream, WithCallbacks(&Callbacks{
		OnFileOpen: func(filename string) (io.Reader, os.FileInfo, error) {
			for _, f := range files {
				if f.name == filename {
					return bytes.NewReader(f.content), fakeFileInfo{name: f.name, size: int64(len(f.content)), mode: 0644}, nil
				}
			}
			return nil, nil, os.ErrNotExist
		},
	}))
	receiverSession := NewSession(receiverStream, WithCallbacks(&Callbacks{
		OnFileCreate: func(filename string, size int64, mode os.FileMode) (io.Writer, error) {
			buf := &bytes.Buffer{}
			received[filename] = buf
			return buf, nil
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer closeSender()
		fileInfos := make([]FileInfo, len(files))
		for i, f := range files {
			fileInfos[i] = FileInfo{Filename: f.name, Info: fakeFileInfo{name: f.name, size: int64(len(f.content)), mode: 0644}}
		}
		return senderSession.SendFiles(gctx, fileInfos)
	})

	var n int
	g.Go(func() error {
		defer closeReceiver()
		var err error
		n, err = receiverSession.ReceiveFiles(gctx, 0)
		return err
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("multi-file session failed: %v", err)
	}
	if n != len(files) {
		t.Errorf("ReceiveFiles reported %d files, want %d", n, len(files))
	}
	for _, f := range files {
		buf, ok := received[f.name]
		if !ok {
			t.Errorf("file %q not received", f.name)
			continue
		}
		if !bytes.Equal(buf.Bytes(), f.content) {
			t.Errorf("file %q content mismatch", f.name)
		}
	}
}
