// corepoolctl is a small command line tool for creating and inspecting
// persistent memory pools, in the spirit of the teacher's own single-binary
// cmd tools: one flag-driven subcommand per verb, errors printed to stderr
// and a non-zero exit status on failure.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kylerchin/corepool/pool"
	"github.com/kylerchin/corepool/recovery"
	"github.com/kylerchin/corepool/zone"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "recover":
		err = runRecover(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "corepoolctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: corepoolctl <create|info|recover> [flags] <path>")
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	sizeGiB := fs.Int("size-gib", 0, "pool size in GiB (0 uses the 8 MiB default)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("create needs exactly one path argument")
	}

	flags := pool.OCF
	if *sizeGiB > 0 {
		flags |= pool.SizeFlag(*sizeGiB)
	}
	p, err := pool.Open(fs.Arg(0), flags)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("created pool %s (%d bytes, generation %d)\n", fs.Arg(0), p.Size(), p.Gen())
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("info needs exactly one path argument")
	}

	p, err := pool.Open(fs.Arg(0), 0)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Printf("path:       %s\n", fs.Arg(0))
	fmt.Printf("size:       %d bytes\n", p.Size())
	fmt.Printf("available:  %d bytes\n", p.Available())
	fmt.Printf("generation: %d\n", p.Gen())
	if off, err := p.Root(); err == nil {
		fmt.Printf("root:       0x%x\n", off)
	} else {
		fmt.Printf("root:       (none)\n")
	}
	return nil
}

func runRecover(args []string) error {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("recover needs exactly one path argument")
	}

	p, err := pool.Open(fs.Arg(0), 0)
	if err != nil {
		return err
	}
	defer p.Close()

	a := zone.New(p)
	if err := recovery.Run(p, a); err != nil {
		return err
	}
	fmt.Println("recovery complete")
	return nil
}
