package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/timeslice"
)

func kindName(k debug.DebugKind) string {
	switch k {
	case debug.DebugKindBytes:
		return "bytes"
	case debug.DebugKindString:
		return "string"
	default:
		return "invalid"
	}
}

func runTracedump(args []string) error {
	fs := flag.NewFlagSet("tracedump", flag.ExitOnError)
	debugLog := fs.String("debug-log", "", "path to a debug.OpenFile structured log")
	sourceFilter := fs.String("source", "", "only print entries from this source")
	slicePath := fs.String("timeslice", "", "path to a timeslice trace")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *debugLog == "" && *slicePath == "" {
		return fmt.Errorf("at least one of -debug-log or -timeslice is required")
	}

	if *debugLog != "" {
		r, closer, err := debug.NewReaderFromFile(*debugLog)
		if err != nil {
			return fmt.Errorf("open debug log %s: %w", *debugLog, err)
		}
		defer closer.Close()

		print := func(ts time.Time, kind debug.DebugKind, source string, data []byte) error {
			fmt.Printf("%s [%s] %s: %s\n", ts.Format(time.RFC3339Nano), kindName(kind), source, data)
			return nil
		}
		if *sourceFilter != "" {
			err = r.EachSource(*sourceFilter, func(ts time.Time, kind debug.DebugKind, data []byte) error {
				return print(ts, kind, *sourceFilter, data)
			})
		} else {
			err = r.Each(print)
		}
		if err != nil {
			return fmt.Errorf("reading debug log: %w", err)
		}
	}

	if *slicePath != "" {
		f, err := os.Open(*slicePath)
		if err != nil {
			return fmt.Errorf("open timeslice trace %s: %w", *slicePath, err)
		}
		defer f.Close()

		err = timeslice.ReadAllRecords(f, func(id string, flags timeslice.SliceFlags, duration time.Duration) error {
			fmt.Printf("%-16s %-10s %s\n", id, flags, duration)
			return nil
		})
		if err != nil {
			return fmt.Errorf("reading timeslice trace: %w", err)
		}
	}

	return nil
}
