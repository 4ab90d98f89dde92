// Command egos boots a simulated egos-2000 kernel instance against a
// disk image and drives its scheduler loop, or dumps a previously
// recorded debug/timeslice trace.
package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: egos <boot|tracedump> [flags]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "boot":
		err = runBoot(os.Args[2:])
	case "tracedump":
		err = runTracedump(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "egos:", err)
		os.Exit(1)
	}
}
