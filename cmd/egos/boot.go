package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/yacyam/egos-2000/internal/capability"
	"github.com/yacyam/egos-2000/internal/config"
	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/earth/disk"
	"github.com/yacyam/egos-2000/internal/timeslice"
)

// termTTY adapts the host terminal to the syscall.TTY capability,
// putting stdin into raw mode so a booted shell sees keystrokes
// unbuffered the way it would over a real UART.
type termTTY struct {
	fd       int
	oldState *term.State
}

func newTermTTY() (*termTTY, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &termTTY{fd: -1}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("put terminal in raw mode: %w", err)
	}
	return &termTTY{fd: fd, oldState: old}, nil
}

func (t *termTTY) Read(buf []byte) (int, error) { return os.Stdin.Read(buf) }

func (t *termTTY) Write(buf []byte, length int) (int, error) {
	if length > len(buf) {
		length = len(buf)
	}
	return os.Stdout.Write(buf[:length])
}

func (t *termTTY) Close() error {
	if t.oldState == nil {
		return nil
	}
	return term.Restore(t.fd, t.oldState)
}

func runBoot(args []string) error {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	configPath := fs.String("config", "", "boot manifest (yaml); defaults to config.Default()")
	diskPath := fs.String("disk", "", "disk image backing the kernel (required)")
	tracePath := fs.String("trace", "", "write a timeslice trace of every scheduler yield here")
	ticks := fs.Int("ticks", 200, "number of timer ticks to run before exiting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *diskPath == "" {
		return fmt.Errorf("-disk is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.TracePath != "" && *tracePath == "" {
		*tracePath = cfg.TracePath
	}

	log := debug.WithSource("cmd.egos")

	d, err := disk.NewROM(*diskPath, debug.WithSource("earth.disk"))
	if err != nil {
		return fmt.Errorf("open disk image %s: %w", *diskPath, err)
	}
	defer d.Close()

	tty, err := newTermTTY()
	if err != nil {
		return err
	}
	defer tty.Close()

	_, grass, err := capability.Boot(capability.Config{
		Disk:         d,
		TTY:          tty,
		Platform:     capability.PlatformQEMULatest,
		NumFrames:    cfg.CoreMapFrames,
		NumProcSlots: cfg.MaxProcesses,
		FirstUserPid: cfg.FirstUserPID,
		Log:          debug.WithSource("capability"),
	})
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	var trace interface{ Close() error }
	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			return fmt.Errorf("create trace %s: %w", *tracePath, err)
		}
		closer, err := timeslice.Open(f)
		if err != nil {
			return fmt.Errorf("open timeslice trace: %w", err)
		}
		grass.Scheduler.WithTrace(timeslice.NewRecorder())
		trace = closer
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	bar := progressbar.Default(int64(*ticks), "scheduling")

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		for i := 0; i < *ticks; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			grass.Scheduler.HandleTimer()
			_ = bar.Add(1)
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	grp.Go(func() error {
		select {
		case <-sigCh:
			cancel()
			return fmt.Errorf("interrupted")
		case <-ctx.Done():
			return nil
		}
	})

	runErr := grp.Wait()
	_ = bar.Finish()
	if trace != nil {
		if err := trace.Close(); err != nil {
			log.Writef("closing trace: %v", err)
		}
	}
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}
