/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Mar  1 12:31:08 2018 mstenber
 * Last modified: Sun Mar  4 17:38:51 2018 mstenber
 * Edit time:     24 min
 *
 */

package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/fingon/go-minik/disk/factory"
	"github.com/fingon/go-minik/mkfs"
	"github.com/fingon/go-minik/userland"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s STORAGEDIR [FILE..]\n", os.Args[0])
		flag.PrintDefaults()
	}
	backendp := flag.String("backend", "file",
		fmt.Sprintf("Backend to use (possible: %v)", factory.List()))
	password := flag.String("password", "", "Password (kv backends only)")
	salt := flag.String("salt", "salt", "Salt")
	compress := flag.Bool("compress", false, "Compress sectors (kv backends only)")
	bare := flag.Bool("bare", false, "Skip the stock program images")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	d := factory.New(factory.Config{
		Name:       *backendp,
		Dir:        flag.Arg(0),
		NumSectors: mkfs.FSSIZE,
		Password:   *password,
		Salt:       *salt,
		Compress:   *compress,
	})
	defer d.Close()

	files := map[string][]byte{}
	if !*bare {
		files = userland.Images()
	}
	for _, path := range flag.Args()[1:] {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
			os.Exit(1)
		}
		files[filepath.Base(path)] = data
	}

	if err := mkfs.Build(d, files); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}
}
