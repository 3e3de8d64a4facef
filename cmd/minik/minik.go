/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Mar  1 11:05:52 2018 mstenber
 * Last modified: Sun Mar  4 17:30:16 2018 mstenber
 * Edit time:     47 min
 *
 */

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fingon/go-minik/disk/factory"
	"github.com/fingon/go-minik/kern"
	"github.com/fingon/go-minik/mkfs"
	"github.com/fingon/go-minik/userland"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s [STORAGEDIR]\n", os.Args[0])
		flag.PrintDefaults()
	}
	backendp := flag.String("backend", "inmemory",
		fmt.Sprintf("Backend to use (possible: %v)", factory.List()))
	password := flag.String("password", "", "Password (kv backends only)")
	salt := flag.String("salt", "salt", "Salt")
	compress := flag.Bool("compress", false, "Compress sectors (kv backends only)")
	ncpu := flag.Int("ncpu", 2, "Number of simulated CPUs")
	format := flag.Bool("format", false, "Format the disk even if nonempty")
	flag.Parse()

	d := factory.New(factory.Config{
		Name:       *backendp,
		Dir:        flag.Arg(0),
		NumSectors: mkfs.FSSIZE,
		Password:   *password,
		Salt:       *salt,
		Compress:   *compress,
	})
	defer d.Close()

	// A zero superblock sector means a fresh disk
	sb := make([]byte, mkfs.BSIZE)
	if err := d.ReadSector(1, sb); err != nil {
		fmt.Fprintf(os.Stderr, "disk error: %s\n", err)
		os.Exit(1)
	}
	empty := true
	for _, b := range sb {
		if b != 0 {
			empty = false
			break
		}
	}
	if empty || *format {
		if err := mkfs.Build(d, userland.Images()); err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
			os.Exit(1)
		}
	}

	k := kern.NewKernel(kern.Config{
		NumCPU: *ncpu,
		Disk:   d,
		Init:   userland.Init,
	})
	userland.Register(k)
	k.Boot()
	defer k.Shutdown()

	// Pump console output to stdout
	go func() {
		defer k.Attach()()
		seen := 0
		for {
			out := k.ConsoleBytes()
			if len(out) > seen {
				os.Stdout.Write(out[seen:])
				seen = len(out)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	// Pump stdin to the console
	detach := k.Attach()
	defer detach()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		k.ConsoleIntr(scanner.Text() + "\n")
	}
	k.ConsoleIntr("\x04") // EOF; the shell exits
	time.Sleep(100 * time.Millisecond)
}
