/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 27 09:03:55 2018 mstenber
 * Last modified: Sun Mar  4 15:20:42 2018 mstenber
 * Edit time:     97 min
 *
 */

package kern

import (
	"encoding/binary"
	"strings"

	"github.com/fingon/go-minik/mlog"
)

// ELF32 loader. The image on disk is a real little endian ELF binary
// (mkfs writes one per program); what the entry point does when
// jumped to is the Go body registered under the program's name.

const ELF_MAGIC = 0x464C457F

const (
	elfHeaderSize  = 52
	progHeaderSize = 32
	ELF_PROG_LOAD  = 1
)

type elfHeader struct {
	magic uint32
	entry uint32
	phoff uint32
	phnum uint16
}

func decodeElfHeader(b []byte) (h elfHeader) {
	h.magic = binary.LittleEndian.Uint32(b[0:])
	h.entry = binary.LittleEndian.Uint32(b[24:])
	h.phoff = binary.LittleEndian.Uint32(b[28:])
	h.phnum = binary.LittleEndian.Uint16(b[44:])
	return h
}

type progHeader struct {
	typ    uint32
	off    uint32
	vaddr  uint32
	filesz uint32
	memsz  uint32
}

func decodeProgHeader(b []byte) (ph progHeader) {
	ph.typ = binary.LittleEndian.Uint32(b[0:])
	ph.off = binary.LittleEndian.Uint32(b[4:])
	ph.vaddr = binary.LittleEndian.Uint32(b[8:])
	ph.filesz = binary.LittleEndian.Uint32(b[16:])
	ph.memsz = binary.LittleEndian.Uint32(b[20:])
	return ph
}

// execRestart pivots the kernel thread onto the new program body. The
// trampoline catches it and reruns.
type execRestart struct{}

// RegisterProgram binds a program name to the Go function that acts
// as its machine code. exec of /bin/foo (or any path whose last
// element is foo) runs the body registered as foo.
func (self *Kernel) RegisterProgram(name string, body func(*User)) {
	defer self.proglock.Locked()()
	self.programs[name] = body
}

func (self *Kernel) lookupProgram(path string) func(*User) {
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	defer self.proglock.Locked()()
	return self.programs[name]
}

// exec replaces the current image with the ELF at path. On success it
// does not return; on any failure the old image is intact and -1
// comes back.
func (self *Kernel) exec(path string, argv []string) int {
	curproc := self.myproc()
	body := self.lookupProgram(path)
	if body == nil {
		mlog.Printf2("kern/exec", "exec: no program registered for %s", path)
		return -1
	}

	self.beginOp()
	ip := self.namei(path)
	if ip == nil {
		self.endOp()
		return -1
	}
	self.ilock(ip)
	pgdir := uint32(0)

	bad := func() int {
		if pgdir != 0 {
			self.freevm(pgdir)
		}
		if ip != nil {
			self.iunlockput(ip)
			self.endOp()
		}
		return -1
	}

	var ehbuf [elfHeaderSize]byte
	if self.readi(ip, ehbuf[:], 0, elfHeaderSize) != elfHeaderSize {
		return bad()
	}
	elf := decodeElfHeader(ehbuf[:])
	if elf.magic != ELF_MAGIC {
		return bad()
	}
	pgdir = self.setupkvm()
	if pgdir == 0 {
		return bad()
	}

	// Load each program segment
	sz := uint32(0)
	off := elf.phoff
	for i := uint16(0); i < elf.phnum; i++ {
		var phbuf [progHeaderSize]byte
		if self.readi(ip, phbuf[:], off, progHeaderSize) != progHeaderSize {
			return bad()
		}
		off += progHeaderSize
		ph := decodeProgHeader(phbuf[:])
		if ph.typ != ELF_PROG_LOAD {
			continue
		}
		if ph.memsz < ph.filesz {
			return bad()
		}
		if ph.vaddr+ph.memsz < ph.vaddr {
			return bad()
		}
		sz = self.allocuvm(pgdir, sz, ph.vaddr+ph.memsz)
		if sz == 0 {
			return bad()
		}
		if ph.vaddr%PGSIZE != 0 {
			return bad()
		}
		if self.loaduvm(pgdir, ph.vaddr, ip, ph.off, ph.filesz) != nil {
			return bad()
		}
	}
	self.iunlockput(ip)
	self.endOp()
	ip = nil

	// Two pages at the next boundary: an inaccessible guard, then
	// the user stack.
	sz = PGROUNDUP(sz)
	sz = self.allocuvm(pgdir, sz, sz+2*PGSIZE)
	if sz == 0 {
		return bad()
	}
	self.clearpteu(pgdir, sz-2*PGSIZE)
	sp := sz

	// argv strings, then the argv array, argc and a fake return PC
	ustack := make([]uint32, 3+len(argv)+1)
	for i, arg := range argv {
		sp = (sp - uint32(len(arg)+1)) &^ 3
		b := append([]byte(arg), 0)
		if self.copyout(pgdir, sp, b) != nil {
			return bad()
		}
		ustack[3+i] = sp
	}
	ustack[3+len(argv)] = 0
	ustack[0] = 0xffffffff // fake return PC
	ustack[1] = uint32(len(argv))
	ustack[2] = sp - uint32(len(argv)+1)*4 // argv pointer

	sp -= uint32(len(ustack)) * 4
	ub := make([]byte, len(ustack)*4)
	for i, v := range ustack {
		binary.LittleEndian.PutUint32(ub[i*4:], v)
	}
	if self.copyout(pgdir, sp, ub) != nil {
		return bad()
	}

	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	// Commit to the new image
	oldpgdir := curproc.pgdir
	curproc.name = name
	curproc.sz = sz
	curproc.pgdir = pgdir
	curproc.tf.eip = elf.entry
	curproc.tf.esp = sp
	curproc.body = body
	curproc.args = argv
	self.switchuvm(curproc)
	self.freevm(oldpgdir)
	panic(execRestart{})
}
