/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Feb 15 11:22:48 2018 mstenber
 * Last modified: Sat Mar  3 11:37:26 2018 mstenber
 * Edit time:     203 min
 *
 */

package kern

import (
	"errors"

	"github.com/fingon/go-minik/mlog"
)

type procstate int

const (
	UNUSED procstate = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

var procstates = map[procstate]string{
	UNUSED:   "unused",
	EMBRYO:   "embryo",
	SLEEPING: "sleep ",
	RUNNABLE: "runble",
	RUNNING:  "run   ",
	ZOMBIE:   "zombie",
}

// Proc is one process. The kernel thread behind it is a goroutine
// parked on ctx; whoever sends a CPU there runs the process.
type Proc struct {
	sz     uint32    // size of user memory in bytes
	pgdir  uint32    // page directory
	state  procstate // protected by ptable lock
	pid    int
	parent *Proc
	tf     *trapFrame
	ctx    chan *CPU   // "saved registers"; context switch handoff
	wchan  interface{} // if non-nil, sleeping on this
	killed bool
	ofile  [NOFILE]*File
	cwd    *inode
	name   string

	// body is what the process does when it next enters user
	// mode. fork and exec install it; the trampoline runs it.
	body func(*User)

	// childBody is staged by the fork stub for sysFork to pick
	// up, since a function value does not fit in a register.
	childBody func(*User)

	args []string // argv as laid out on the stack by exec
}

type ptable struct {
	lock Spinlock
	proc [NPROC]Proc
}

// errProcDied unwinds a kernel thread whose process is gone. The
// trampoline absorbs it.
var errProcDied = errors.New("kernel thread unwound")

func (self *Kernel) pinit() {
	self.ptable.lock.Init(self, "ptable")
}

// allocproc finds an UNUSED slot, marks it EMBRYO and starts the
// kernel thread, parked until the scheduler first picks the process.
func (self *Kernel) allocproc() *Proc {
	self.ptable.lock.Acquire()
	for i := range self.ptable.proc {
		p := &self.ptable.proc[i]
		if p.state != UNUSED {
			continue
		}
		p.state = EMBRYO
		p.pid = self.nextpid
		self.nextpid++
		self.ptable.lock.Release()

		p.tf = &trapFrame{}
		p.ctx = make(chan *CPU)
		self.wg.Add(1)
		go self.procRun(p)
		return p
	}
	self.ptable.lock.Release()
	return nil
}

// userinit builds the first process. Its page 0 carries the stub
// initcode image; what program counter 0 actually means is the Init
// body given at kernel construction.
func (self *Kernel) userinit() {
	p := self.allocproc()
	self.initproc = p
	p.pgdir = self.setupkvm()
	if p.pgdir == 0 {
		self.panic("userinit: out of memory")
	}
	self.inituvm(p.pgdir, initcode)
	p.sz = PGSIZE
	*p.tf = trapFrame{esp: PGSIZE, eip: 0}
	p.name = "initcode"
	p.cwd = self.namei("/")
	p.body = self.initBody

	self.ptable.lock.Acquire()
	p.state = RUNNABLE
	self.ptable.lock.Release()
}

// initcode would trap right back into the kernel on a real machine
// (int $0x40).
var initcode = []byte{0xcd, 0x40}

// growproc grows or shrinks user memory by n bytes.
func (self *Kernel) growproc(n int) int {
	curproc := self.myproc()
	sz := curproc.sz
	if n > 0 {
		sz = self.allocuvm(curproc.pgdir, sz, sz+uint32(n))
		if sz == 0 {
			return -1
		}
	} else if n < 0 {
		sz = self.deallocuvm(curproc.pgdir, sz, sz-uint32(-n))
	}
	curproc.sz = sz
	self.switchuvm(curproc)
	return 0
}

// fork duplicates the current process. The child gets a copy of the
// address space and the trap frame with eax forced to 0; childBody is
// what the child runs in user mode.
func (self *Kernel) fork(childBody func(*User)) int {
	curproc := self.myproc()
	np := self.allocproc()
	if np == nil {
		return -1
	}
	np.pgdir = self.copyuvm(curproc.pgdir, curproc.sz)
	if np.pgdir == 0 {
		self.reapThread(np)
		self.ptable.lock.Acquire()
		np.state = UNUSED
		self.ptable.lock.Release()
		return -1
	}
	np.sz = curproc.sz
	np.parent = curproc
	*np.tf = *curproc.tf
	np.tf.eax = 0 // fork returns 0 in the child
	for i, f := range curproc.ofile {
		if f != nil {
			np.ofile[i] = self.filedup(f)
		}
	}
	np.cwd = self.idup(curproc.cwd)
	np.name = curproc.name
	np.body = childBody
	np.args = curproc.args
	pid := np.pid

	self.ptable.lock.Acquire()
	np.state = RUNNABLE
	self.ptable.lock.Release()
	return pid
}

// reapThread unparks and unwinds the kernel thread of a process that
// never ran (allocproc succeeded, setup failed).
func (self *Kernel) reapThread(p *Proc) {
	close(p.ctx)
	p.ctx = nil
	p.tf = nil
}

// exit ends the current process. It stays ZOMBIE until the parent
// calls wait. Never returns.
func (self *Kernel) exit() {
	curproc := self.myproc()
	if curproc == self.initproc {
		self.panic("init exiting")
	}
	for fd := 0; fd < NOFILE; fd++ {
		if curproc.ofile[fd] != nil {
			self.fileclose(curproc.ofile[fd])
			curproc.ofile[fd] = nil
		}
	}
	self.beginOp()
	self.iput(curproc.cwd)
	self.endOp()
	curproc.cwd = nil

	self.ptable.lock.Acquire()
	self.wakeup1(curproc.parent)
	// Orphans go to init
	for i := range self.ptable.proc {
		p := &self.ptable.proc[i]
		if p.parent == curproc {
			p.parent = self.initproc
			if p.state == ZOMBIE {
				self.wakeup1(self.initproc)
			}
		}
	}
	curproc.state = ZOMBIE
	self.sched()
	self.panic("zombie exit")
}

// wait blocks until a child exits, then reclaims it and returns its
// pid; -1 if there are no children.
func (self *Kernel) wait() int {
	curproc := self.myproc()
	self.ptable.lock.Acquire()
	for {
		havekids := false
		for i := range self.ptable.proc {
			p := &self.ptable.proc[i]
			if p.parent != curproc {
				continue
			}
			havekids = true
			if p.state == ZOMBIE {
				pid := p.pid
				self.freevm(p.pgdir)
				p.pgdir = 0
				p.pid = 0
				p.parent = nil
				p.name = ""
				p.killed = false
				p.tf = nil
				p.ctx = nil
				p.args = nil
				p.state = UNUSED
				self.ptable.lock.Release()
				return pid
			}
		}
		if !havekids || curproc.killed {
			self.ptable.lock.Release()
			return -1
		}
		// Sleep on this process; exit wakes the parent
		self.sleep(curproc, &self.ptable.lock)
	}
}

// kill marks the process; it dies when it next crosses the kernel
// boundary. Sleepers are made runnable so they notice.
func (self *Kernel) kill(pid int) int {
	self.ptable.lock.Acquire()
	defer self.ptable.lock.Release()
	for i := range self.ptable.proc {
		p := &self.ptable.proc[i]
		if p.pid == pid {
			p.killed = true
			if p.state == SLEEPING {
				p.state = RUNNABLE
			}
			return 0
		}
	}
	return -1
}

// procdump lists the process table on the console. Runs lockless so
// it works from a wedged machine; triggered by console Ctrl-P.
func (self *Kernel) procdump() {
	for i := range self.ptable.proc {
		p := &self.ptable.proc[i]
		if p.state == UNUSED {
			continue
		}
		state, ok := procstates[p.state]
		if !ok {
			state = "???"
		}
		self.cprintf("%d %s %s", p.pid, state, p.name)
		if p.state == SLEEPING {
			self.cprintf(" on %T", p.wchan)
		}
		self.cprintf("\n")
	}
}

// procRun is the kernel thread trampoline. It parks until the
// scheduler hands it a CPU for the first time, releases the process
// table lock on the scheduler's behalf and drops into user mode.
func (self *Kernel) procRun(p *Proc) {
	defer self.wg.Done()
	defer func() {
		if r := recover(); r != nil && r != errProcDied {
			panic(r)
		}
	}()
	if !self.swtchWait(p) {
		return // reaped before first run
	}
	self.forkret()
	for self.runBody(p) {
		mlog.Printf2("kern/proc", "pid %d: exec restart as %s", p.pid, p.name)
	}
	// Falling off the end of the program is exit(0)
	self.exit()
}

// runBody runs the user program once. True means exec replaced the
// image and the new body should run.
func (self *Kernel) runBody(p *Proc) (restarted bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(execRestart); ok {
			restarted = true
			return
		}
		panic(r)
	}()
	p.body(&User{k: self, p: p})
	return false
}
