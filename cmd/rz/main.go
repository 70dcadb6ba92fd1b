package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hexpad/zmodem/zmodem"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	quiet     bool
	overwrite bool
	protect   bool
)

func main() {
	root := &cobra.Command{
		Use:   "rz",
		Short: "Receive files with the ZMODEM protocol",
		RunE:  runReceive,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose mode")
	root.Flags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode, minimal output")
	root.Flags().BoolVarP(&overwrite, "overwrite", "y", false, "overwrite existing files")
	root.Flags().BoolVarP(&protect, "protect", "p", false, "skip files that already exist")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReceive(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signalContext()
	defer cancel()

	callbacks := &zmodem.Callbacks{
		OnFilePrompt: func(filename string, size int64, mode os.FileMode) (bool, error) {
			if protect && !overwrite {
				if _, err := os.Stat(filename); err == nil {
					if verbose {
						fmt.Fprintf(os.Stderr, "skipping %s (protected)\n", filename)
					}
					return false, nil
				}
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "receiving: %s (%d bytes)\n", filename, size)
			}
			return true, nil
		},
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

	n, err := session.ReceiveFiles(ctx, 0)
	if err != nil {
		return err
	}
	if n == 0 && !quiet {
		fmt.Fprintln(os.Stderr, "no files received")
	}
	return nil
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
