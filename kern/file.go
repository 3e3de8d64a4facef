/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 20 09:21:38 2018 mstenber
 * Last modified: Sun Mar  4 12:40:51 2018 mstenber
 * Edit time:     96 min
 *
 */

package kern

import "github.com/fingon/go-minik/util"

// Open-file objects. Process file descriptors index into the
// per-process ofile array whose entries point here; dup and fork
// share the object (and so the offset).

type FileType int

const (
	FD_NONE FileType = iota
	FD_PIPE
	FD_INODE
)

type File struct {
	typ      FileType
	ref      int // protected by ftable lock
	readable bool
	writable bool
	pipe     *pipe
	ip       *inode
	off      uint32
}

type ftable struct {
	lock Spinlock
	file [NFILE]File
}

// devsw maps a device major number to its driver entry points.
type devsw struct {
	read  func(ip *inode, dst []byte) int
	write func(ip *inode, src []byte) int
}

// CONSOLE is the major number of the console device.
const CONSOLE = 1

func (self *Kernel) fileinit() {
	self.ftable.lock.Init(self, "ftable")
}

func (self *Kernel) filealloc() *File {
	self.ftable.lock.Acquire()
	defer self.ftable.lock.Release()
	for i := range self.ftable.file {
		f := &self.ftable.file[i]
		if f.ref == 0 {
			f.ref = 1
			return f
		}
	}
	return nil
}

func (self *Kernel) filedup(f *File) *File {
	self.ftable.lock.Acquire()
	defer self.ftable.lock.Release()
	if f.ref < 1 {
		self.panic("filedup")
	}
	f.ref++
	return f
}

// fileclose drops a reference; the last one tears down whatever the
// file was attached to.
func (self *Kernel) fileclose(f *File) {
	self.ftable.lock.Acquire()
	if f.ref < 1 {
		self.panic("fileclose")
	}
	f.ref--
	if f.ref > 0 {
		self.ftable.lock.Release()
		return
	}
	ff := *f
	f.ref = 0
	f.typ = FD_NONE
	self.ftable.lock.Release()

	switch ff.typ {
	case FD_PIPE:
		self.pipeclose(ff.pipe, ff.writable)
	case FD_INODE:
		self.beginOp()
		self.iput(ff.ip)
		self.endOp()
	}
}

func (self *Kernel) filestat(f *File, st *Stat) int {
	if f.typ == FD_INODE {
		self.ilock(f.ip)
		self.stati(f.ip, st)
		self.iunlock(f.ip)
		return 0
	}
	return -1
}

func (self *Kernel) fileread(f *File, dst []byte) int {
	if !f.readable {
		return -1
	}
	switch f.typ {
	case FD_PIPE:
		return self.piperead(f.pipe, dst)
	case FD_INODE:
		self.ilock(f.ip)
		r := self.readi(f.ip, dst, f.off, uint32(len(dst)))
		if r > 0 {
			f.off += uint32(r)
		}
		self.iunlock(f.ip)
		return r
	}
	self.panic("fileread")
	return -1
}

func (self *Kernel) filewrite(f *File, src []byte) int {
	if !f.writable {
		return -1
	}
	switch f.typ {
	case FD_PIPE:
		return self.pipewrite(f.pipe, src)
	case FD_INODE:
		// Split big writes so each chunk's worst case (two
		// bitmap/indirect blocks plus the data blocks, inode
		// and allocation overhead) fits one log transaction.
		max := ((MAXOPBLOCKS - 1 - 1 - 2) / 2) * BSIZE
		i := 0
		for i < len(src) {
			n := util.IMin(len(src)-i, max)
			self.beginOp()
			self.ilock(f.ip)
			r := self.writei(f.ip, src[i:i+n], f.off, uint32(n))
			if r > 0 {
				f.off += uint32(r)
			}
			self.iunlock(f.ip)
			self.endOp()
			if r < 0 {
				break
			}
			if r != n {
				self.panic("short filewrite")
			}
			i += r
		}
		if i == len(src) {
			return i
		}
		return -1
	}
	self.panic("filewrite")
	return -1
}
