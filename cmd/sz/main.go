package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hexpad/zmodem/zmodem"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	root := &cobra.Command{
		Use:   "sz file...",
		Short: "Send files with the ZMODEM protocol",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose mode")
	root.Flags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode, minimal output")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signalContext()
	defer cancel()

	callbacks := &zmodem.Callbacks{
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			if quiet || !verbose {
				return
			}
			percent := float64(0)
			if total > 0 {
				percent = float64(transferred) / float64(total) * 100
			}
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename, percent, rate)
		},
		OnFileComplete: func(filename string, bytesTransferred int64, duration time.Duration) {
			if quiet {
				return
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "\ncompleted: %s (%d bytes in %v)\n", filename, bytesTransferred, duration)
				return
			}
			fmt.Fprintf(os.Stderr, "%s\n", filename)
		},
		OnError: func(err error, context string) bool {
			fmt.Fprintf(os.Stderr, "error in %s: %v\n", context, err)
			return false
		},
	}

	stream := zmodem.NewPipeHalves(os.Stdin, os.Stdout)
	session := zmodem.NewSession(stream,
		zmodem.WithCallbacks(callbacks),
		zmodem.WithContext(ctx),
		zmodem.WithSessionLogger(logger),
	)

	files := make([]zmodem.FileInfo, 0, len(args))
	for _, name := range args {
		abs, err := filepath.Abs(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		if info.IsDir() {
			fmt.Fprintf(os.Stderr, "%s: is a directory, skipping\n", name)
			continue
		}
		files = append(files, zmodem.FileInfo{Filename: abs, Info: info})
	}
	if len(files) == 0 {
		return fmt.Errorf("no valid files to send")
	}

	return session.SendFiles(ctx, files)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
