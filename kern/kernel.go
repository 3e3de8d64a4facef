/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Feb 15 10:31:22 2018 mstenber
 * Last modified: Sat Mar  3 10:41:09 2018 mstenber
 * Edit time:     142 min
 *
 */

// kern implements a small Unix kernel as a library: fixed process
// table, two-level paged virtual memory, buffer cache, write-ahead
// logged inode file system, pipes and a per-CPU scheduler. The
// machine it runs on is simulated: physical memory is a byte slice,
// CPUs are goroutines, and a context switch is a channel handoff of
// the CPU record. The kernel-side semantics (lock ordering, interrupt
// nesting bookkeeping, sleep/wakeup) are the real thing.
//
// Multiple kernels can run in one test binary; nothing is global.
package kern

import (
	"sync"
	"sync/atomic"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/util"
	"github.com/fingon/go-minik/util/gid"
)

// CPU is one simulated processor. Spinlock ownership and the
// cli-nesting count live here, so a lock held across a context switch
// travels with the CPU rather than with the goroutine.
type CPU struct {
	id       int
	schedctx chan *CPU // the scheduler's saved context
	proc     *Proc     // process currently running, or nil
	ncli     int       // depth of pushcli nesting
	intena   bool      // were interrupts enabled before pushcli?
	intr     bool      // simulated interrupt-enable flag
	pgdir    uint32    // simulated cr3
}

type Config struct {
	NumCPU  int          // simulated processors; default 2
	PhysTop uint32       // bytes of physical memory; default DefaultPhysTop
	Disk    disk.Backend // storage behind the root device
	Init    func(*User)  // body of the first user process
}

type Kernel struct {
	mem     []byte
	physTop uint32

	cpus    []*CPU
	gidcpu  map[uint64]*CPU
	gidlock util.MutexLocked
	quit    chan struct{}
	stopped uint32
	wg      sync.WaitGroup

	panicked uint32

	kmem   kmem
	kpgdir uint32

	ptable   ptable
	nextpid  int
	initproc *Proc
	first    bool
	initBody func(*User)

	ticks     uint32
	tickslock Spinlock

	disk   disk.Backend
	bcache bcache
	ide    ideState
	log    logState
	sb     superblock
	icache icache
	ftable ftable
	devsw  [NDEV]devsw
	cons   console

	programs map[string]func(*User)
	proglock util.MutexLocked
}

func NewKernel(config Config) *Kernel {
	self := &Kernel{}
	self.physTop = config.PhysTop
	if self.physTop == 0 {
		self.physTop = DefaultPhysTop
	}
	ncpu := config.NumCPU
	if ncpu == 0 {
		ncpu = 2
	}
	if ncpu > NCPU {
		ncpu = NCPU
	}
	self.mem = make([]byte, self.physTop)
	self.cpus = make([]*CPU, ncpu)
	for i := range self.cpus {
		self.cpus[i] = &CPU{id: i, schedctx: make(chan *CPU)}
	}
	self.gidcpu = make(map[uint64]*CPU)
	self.quit = make(chan struct{})
	self.nextpid = 1
	self.first = true
	self.initBody = config.Init
	self.disk = config.Disk
	self.programs = make(map[string]func(*User))
	return self
}

// Boot initializes the subsystems in dependency order and starts one
// scheduler goroutine per CPU. The calling goroutine acts as CPU 0
// for the duration.
func (self *Kernel) Boot() {
	self.registerGid(self.cpus[0])
	self.kinit1(kernEndVA, P2V(4*1024*1024))
	self.kvmalloc()
	self.consoleinit()
	self.tickslock.Init(self, "time")
	self.pinit()
	self.binit()
	self.icinit()
	self.fileinit()
	self.ideinit()
	self.userinit()
	self.kinit2(P2V(4*1024*1024), P2V(self.physTop))
	self.unregisterGid()
	for _, c := range self.cpus {
		self.wg.Add(1)
		go self.scheduler(c)
	}
	self.startTicker()
}

// Shutdown stops the machine: schedulers exit, blocked kernel threads
// unwind. Does not close the disk backend; the caller opened it.
func (self *Kernel) Shutdown() {
	atomic.StoreUint32(&self.stopped, 1)
	close(self.quit)
	self.wg.Wait()
}

func (self *Kernel) registerGid(c *CPU) {
	defer self.gidlock.Locked()()
	self.gidcpu[gid.GetGoroutineID()] = c
}

func (self *Kernel) unregisterGid() {
	defer self.gidlock.Locked()()
	delete(self.gidcpu, gid.GetGoroutineID())
}

// mycpu returns the CPU record the calling goroutine runs on. Only
// goroutines that were handed a CPU (or Attached one) may call it.
func (self *Kernel) mycpu() *CPU {
	self.gidlock.Lock()
	c := self.gidcpu[gid.GetGoroutineID()]
	self.gidlock.Unlock()
	if c == nil {
		panic("mycpu: goroutine not bound to a cpu")
	}
	return c
}

// myproc returns the current process, or nil if in scheduler or
// interrupt context.
func (self *Kernel) myproc() *Proc {
	self.pushcli()
	c := self.mycpu()
	p := c.proc
	self.popcli()
	return p
}

// Attach binds the calling goroutine to a CPU record of its own so it
// may take kernel spinlocks and issue wakeups, the way an interrupt
// handler would. It must not sleep. Returns the detach function.
func (self *Kernel) Attach() func() {
	c := &CPU{id: -1, intr: true}
	self.registerGid(c)
	return self.unregisterGid
}
