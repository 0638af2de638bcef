// Command tofsctl is a small inspection and administration tool for
// tofs volumes backed by a host file — format a fresh volume, and
// put/cat/list/rm its files from the shell. Grounded on cmd/ldb/main.go's
// stdlib-flag, positional-subcommand shape; tofsctl needs none of ldb's
// key-value-specific flags (--from/--to/--hex), only volume geometry and
// a file name.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gprossliner/tofs"
	"github.com/gprossliner/tofs/device"
)

var (
	volPath     = flag.String("vol", "", "path to the volume file (required)")
	offsetBits  = flag.Uint("offset-bits", 12, "log2(block size); volume geometry, must match across format/put/cat/list/rm")
	blockCount  = flag.Uint("blocks", 256, "number of erase blocks; volume geometry, must match across format/put/cat/list/rm")
	priorityStr = flag.String("priority", "normal", "priority for a file created by put: low, normal, or high")
	help        = flag.Bool("help", false, "print usage")
)

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}
	if *volPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --vol flag is required")
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "format":
		err = cmdFormat()
	case "put":
		err = cmdPut(args)
	case "cat":
		err = cmdCat(args)
	case "list":
		err = cmdList()
	case "rm":
		err = cmdRm(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: tofsctl --vol=<path> [flags] <command> [args]

Commands:
  format            Create and format a fresh volume at --vol
  put <name> <data> Write data as one record to name, creating it if missing
  cat <name>        Print every record of name to stdout, newline-separated
  list              List every live file: name, priority, size
  rm <name>         Delete a file

Flags:`)
	flag.PrintDefaults()
}

func openDevice() (device.Device, error) {
	return device.OpenFileDevice(*volPath, uint8(*offsetBits), uint32(*blockCount))
}

func mount(autoFormat bool) (*tofs.Volume, error) {
	dev, err := openDevice()
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	v := tofs.NewVolume(dev, tofs.DefaultMountOptions())
	if err := v.Mount(autoFormat); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return v, nil
}

func cmdFormat() error {
	v, err := mount(true)
	if err != nil {
		return err
	}
	return v.Close()
}

func parsePriority(s string) (tofs.Priority, error) {
	switch s {
	case "low":
		return tofs.PriorityLow, nil
	case "normal", "":
		return tofs.PriorityNormal, nil
	case "high":
		return tofs.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q (want low, normal, or high)", s)
	}
}

func cmdPut(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: tofsctl put <name> <data>")
	}
	priority, err := parsePriority(*priorityStr)
	if err != nil {
		return err
	}

	v, err := mount(false)
	if err != nil {
		return err
	}
	defer v.Close()

	h, err := v.Open(args[0], tofs.ModeAppend, flagForPriority(priority))
	if err != nil {
		return fmt.Errorf("open %q: %w", args[0], err)
	}
	defer h.Close()

	if _, err := h.Write([]byte(args[1])); err != nil {
		return fmt.Errorf("write %q: %w", args[0], err)
	}
	return nil
}

func flagForPriority(p tofs.Priority) tofs.OpenFlags {
	switch p {
	case tofs.PriorityLow:
		return tofs.FlagPriorityLow
	case tofs.PriorityHigh:
		return tofs.FlagPriorityHigh
	default:
		return tofs.FlagPriorityNormal
	}
}

func cmdCat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tofsctl cat <name>")
	}

	v, err := mount(false)
	if err != nil {
		return err
	}
	defer v.Close()

	h, err := v.Open(args[0], tofs.ModeRead, tofs.FlagDontCreate)
	if err != nil {
		return fmt.Errorf("open %q: %w", args[0], err)
	}
	defer h.Close()

	buf := make([]byte, 4096)
	for {
		n, err := h.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %q: %w", args[0], err)
		}
		fmt.Println(string(buf[:n]))
	}
}

func cmdList() error {
	v, err := mount(false)
	if err != nil {
		return err
	}
	defer v.Close()

	return v.List(func(e tofs.Entry) bool {
		fmt.Printf("%-15s %-7s %d bytes\n", e.Name, e.Priority, e.Size())
		return true
	})
}

func cmdRm(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tofsctl rm <name>")
	}

	v, err := mount(false)
	if err != nil {
		return err
	}
	defer v.Close()

	return v.Delete(args[0])
}
