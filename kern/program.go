/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 27 12:44:19 2018 mstenber
 * Last modified: Sun Mar  4 15:58:03 2018 mstenber
 * Edit time:     88 min
 *
 */

package kern

import (
	"encoding/binary"
	"fmt"
)

// User is the view a program body has of the machine: the syscall
// stubs. Every call marshals its arguments onto the real user stack
// and enters the kernel through the trap path, so argument fetching
// and address checking happen exactly as they would for machine code.
//
// Pointer arguments point into a scratch page obtained with sbrk on
// first use; the stubs copy Go values in and out of it through the
// process page tables.
type User struct {
	k  *Kernel
	p  *Proc
	va uint32 // scratch page, 0 until allocated
}

// Scratch page layout: two string slots, then a data window.
const (
	scratchStr1 = 0
	scratchStr2 = 1024
	scratchData = 2048
	scratchSize = PGSIZE - scratchData
)

func (self *User) syscall(num uint32, args ...uint32) int {
	p := self.p
	tf := p.tf
	oldesp := tf.esp
	frame := make([]byte, 4*(1+len(args)))
	binary.LittleEndian.PutUint32(frame[0:], 0xffffffff)
	for i, a := range args {
		binary.LittleEndian.PutUint32(frame[4+4*i:], a)
	}
	sp := (oldesp - uint32(len(frame))) &^ 3
	if self.k.copyout(p.pgdir, sp, frame) != nil {
		return -1
	}
	tf.esp = sp
	tf.eax = num
	tf.trapno = T_SYSCALL
	self.k.trap(tf)
	tf.esp = oldesp
	return int(int32(tf.eax))
}

func (self *User) scratch() (uint32, bool) {
	if self.va == 0 {
		r := self.syscall(SYS_sbrk, PGSIZE)
		if r < 0 {
			return 0, false
		}
		self.va = uint32(r)
	}
	return self.va, true
}

func (self *User) pokeStr(va uint32, s string) bool {
	if len(s) >= scratchStr2-scratchStr1 {
		return false
	}
	b := append([]byte(s), 0)
	return self.k.copyout(self.p.pgdir, va, b) == nil
}

// Fork starts a child running body with a copy of this address space
// and file table. Returns the child pid, or -1; the child does not
// return from Fork, it starts fresh in body.
func (self *User) Fork(body func(*User)) int {
	self.p.childBody = body
	return self.syscall(SYS_fork)
}

// Exit terminates the process. Never returns.
func (self *User) Exit() {
	self.syscall(SYS_exit)
}

func (self *User) Wait() int { return self.syscall(SYS_wait) }

func (self *User) Getpid() int { return self.syscall(SYS_getpid) }

func (self *User) Uptime() int { return self.syscall(SYS_uptime) }

func (self *User) Kill(pid int) int { return self.syscall(SYS_kill, uint32(pid)) }

func (self *User) Sbrk(n int) int { return self.syscall(SYS_sbrk, uint32(n)) }

func (self *User) Sleep(ticks int) int { return self.syscall(SYS_sleep, uint32(ticks)) }

func (self *User) Close(fd int) int { return self.syscall(SYS_close, uint32(fd)) }

func (self *User) Dup(fd int) int { return self.syscall(SYS_dup, uint32(fd)) }

func (self *User) Open(path string, omode int) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, path) {
		return -1
	}
	return self.syscall(SYS_open, va+scratchStr1, uint32(omode))
}

func (self *User) Mkdir(path string) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, path) {
		return -1
	}
	return self.syscall(SYS_mkdir, va+scratchStr1)
}

func (self *User) Chdir(path string) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, path) {
		return -1
	}
	return self.syscall(SYS_chdir, va+scratchStr1)
}

func (self *User) Unlink(path string) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, path) {
		return -1
	}
	return self.syscall(SYS_unlink, va+scratchStr1)
}

func (self *User) Mknod(path string, major, minor int) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, path) {
		return -1
	}
	return self.syscall(SYS_mknod, va+scratchStr1, uint32(major), uint32(minor))
}

func (self *User) Link(old, new string) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, old) ||
		!self.pokeStr(va+scratchStr2, new) {
		return -1
	}
	return self.syscall(SYS_link, va+scratchStr1, va+scratchStr2)
}

// Read fills buf from fd, chunking through the scratch window.
// Returns total bytes read, or -1.
func (self *User) Read(fd int, buf []byte) int {
	va, ok := self.scratch()
	if !ok {
		return -1
	}
	total := 0
	for total < len(buf) {
		n := len(buf) - total
		if n > scratchSize {
			n = scratchSize
		}
		r := self.syscall(SYS_read, uint32(fd), va+scratchData, uint32(n))
		if r < 0 {
			return -1
		}
		if r > 0 {
			if self.k.copyin(self.p.pgdir, buf[total:total+r], va+scratchData) != nil {
				return -1
			}
			total += r
		}
		if r < n {
			break
		}
	}
	return total
}

func (self *User) Write(fd int, buf []byte) int {
	va, ok := self.scratch()
	if !ok {
		return -1
	}
	total := 0
	for total < len(buf) {
		n := len(buf) - total
		if n > scratchSize {
			n = scratchSize
		}
		if self.k.copyout(self.p.pgdir, va+scratchData, buf[total:total+n]) != nil {
			return -1
		}
		r := self.syscall(SYS_write, uint32(fd), va+scratchData, uint32(n))
		if r < 0 {
			return -1
		}
		total += r
		if r < n {
			break
		}
	}
	return total
}

func (self *User) Fstat(fd int) (Stat, int) {
	var st Stat
	va, ok := self.scratch()
	if !ok {
		return st, -1
	}
	r := self.syscall(SYS_fstat, uint32(fd), va+scratchData)
	if r < 0 {
		return st, -1
	}
	b := make([]byte, statSize)
	if self.k.copyin(self.p.pgdir, b, va+scratchData) != nil {
		return st, -1
	}
	decodeStat(b, &st)
	return st, r
}

// Pipe returns the read and write descriptors of a fresh pipe.
func (self *User) Pipe() (rfd, wfd, r int) {
	va, ok := self.scratch()
	if !ok {
		return -1, -1, -1
	}
	r = self.syscall(SYS_pipe, va+scratchData)
	if r < 0 {
		return -1, -1, -1
	}
	var b [8]byte
	if self.k.copyin(self.p.pgdir, b[:], va+scratchData) != nil {
		return -1, -1, -1
	}
	rfd = int(binary.LittleEndian.Uint32(b[0:]))
	wfd = int(binary.LittleEndian.Uint32(b[4:]))
	return rfd, wfd, 0
}

// Exec replaces the image with the program at path. On success it
// does not return; the registered body runs instead.
func (self *User) Exec(path string, argv []string) int {
	va, ok := self.scratch()
	if !ok || !self.pokeStr(va+scratchStr1, path) {
		return -1
	}
	// Strings packed into the data window, pointer array after them
	ptrs := make([]uint32, len(argv)+1)
	off := va + scratchData
	for i, arg := range argv {
		b := append([]byte(arg), 0)
		if int(off)+len(b) > int(va)+PGSIZE-4*len(ptrs) {
			return -1
		}
		if self.k.copyout(self.p.pgdir, off, b) != nil {
			return -1
		}
		ptrs[i] = off
		off += uint32(len(b))
	}
	off = (off + 3) &^ 3
	ab := make([]byte, 4*len(ptrs))
	for i, pv := range ptrs {
		binary.LittleEndian.PutUint32(ab[4*i:], pv)
	}
	if self.k.copyout(self.p.pgdir, off, ab) != nil {
		return -1
	}
	return self.syscall(SYS_exec, va+scratchStr1, off)
}

// Args is argv as exec laid it out.
func (self *User) Args() []string { return self.p.args }

// Printf formats to fd 1.
func (self *User) Printf(format string, args ...interface{}) int {
	return self.Write(1, []byte(fmt.Sprintf(format, args...)))
}
