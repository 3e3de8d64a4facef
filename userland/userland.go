/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Mar  1 09:25:10 2018 mstenber
 * Last modified: Sun Mar  4 17:12:44 2018 mstenber
 * Edit time:     84 min
 *
 */

// userland is the stock program set: init, a small shell and a few
// utilities. Each program exists twice: as a Go body registered with
// the kernel, and as an ELF stub on the disk image that exec resolves
// to that body.
package userland

import (
	"strings"

	"github.com/fingon/go-minik/kern"
	"github.com/fingon/go-minik/mkfs"
)

// Programs maps name to body for everything except init, which is
// not exec'd but handed to the kernel as the first process.
var Programs = map[string]func(*kern.User){
	"sh":   sh,
	"echo": echo,
	"cat":  cat,
	"wc":   wc,
}

// Register binds the program bodies to a kernel instance.
func Register(k *kern.Kernel) {
	for name, body := range Programs {
		k.RegisterProgram(name, body)
	}
}

// Images returns the root directory contents for mkfs: one ELF stub
// per program.
func Images() map[string][]byte {
	m := make(map[string][]byte, len(Programs))
	for name := range Programs {
		m[name] = mkfs.ELFImage(mkfs.TrapText)
	}
	return m
}

// Init is the first process: set up the console on fds 0-2, then keep
// a shell running.
func Init(u *kern.User) {
	if u.Open("console", kern.O_RDWR) < 0 {
		u.Mknod("console", kern.CONSOLE, 0)
		u.Open("console", kern.O_RDWR)
	}
	u.Dup(0) // stdout
	u.Dup(0) // stderr
	for {
		u.Printf("init: starting sh\n")
		pid := u.Fork(func(c *kern.User) {
			c.Exec("sh", []string{"sh"})
			c.Printf("init: exec sh failed\n")
			c.Exit()
		})
		if pid < 0 {
			u.Printf("init: fork failed\n")
			u.Exit()
		}
		// A parentless zombie reparents here; keep reaping
		// until the shell itself is gone
		for {
			wpid := u.Wait()
			if wpid < 0 || wpid == pid {
				break
			}
		}
	}
}

func readline(u *kern.User) (string, bool) {
	var line []byte
	var b [1]byte
	for {
		n := u.Read(0, b[:])
		if n < 1 {
			return string(line), len(line) > 0
		}
		if b[0] == '\n' {
			return string(line), true
		}
		line = append(line, b[0])
	}
}

func sh(u *kern.User) {
	for {
		u.Printf("$ ")
		line, ok := readline(u)
		if !ok {
			u.Exit()
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "cd" {
			if len(fields) < 2 || u.Chdir(fields[1]) < 0 {
				u.Printf("cannot cd %s\n", line)
			}
			continue
		}
		if fields[0] == "exit" {
			u.Exit()
		}
		pid := u.Fork(func(c *kern.User) {
			c.Exec(fields[0], fields)
			c.Printf("exec %s failed\n", fields[0])
			c.Exit()
		})
		if pid >= 0 {
			u.Wait()
		}
	}
}

func echo(u *kern.User) {
	args := u.Args()
	if len(args) > 1 {
		u.Printf("%s", strings.Join(args[1:], " "))
	}
	u.Printf("\n")
	u.Exit()
}

func cat(u *kern.User) {
	args := u.Args()
	copyAll := func(fd int) {
		buf := make([]byte, 512)
		for {
			n := u.Read(fd, buf)
			if n <= 0 {
				return
			}
			u.Write(1, buf[:n])
		}
	}
	if len(args) < 2 {
		copyAll(0)
		u.Exit()
	}
	for _, name := range args[1:] {
		fd := u.Open(name, kern.O_RDONLY)
		if fd < 0 {
			u.Printf("cat: cannot open %s\n", name)
			u.Exit()
		}
		copyAll(fd)
		u.Close(fd)
	}
	u.Exit()
}

func wc(u *kern.User) {
	args := u.Args()
	count := func(fd int, name string) {
		lines, words, chars := 0, 0, 0
		inword := false
		buf := make([]byte, 512)
		for {
			n := u.Read(fd, buf)
			if n <= 0 {
				break
			}
			for _, c := range buf[:n] {
				chars++
				if c == '\n' {
					lines++
				}
				if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
					inword = false
				} else if !inword {
					inword = true
					words++
				}
			}
		}
		u.Printf("%d %d %d %s\n", lines, words, chars, name)
	}
	if len(args) < 2 {
		count(0, "")
		u.Exit()
	}
	for _, name := range args[1:] {
		fd := u.Open(name, kern.O_RDONLY)
		if fd < 0 {
			u.Printf("wc: cannot open %s\n", name)
			u.Exit()
		}
		count(fd, name)
		u.Close(fd)
	}
	u.Exit()
}
