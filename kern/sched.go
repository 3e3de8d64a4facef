/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Feb 16 09:04:12 2018 mstenber
 * Last modified: Sat Mar  3 12:19:58 2018 mstenber
 * Edit time:     176 min
 *
 */

package kern

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/fingon/go-minik/mlog"
)

// Context switching. A "saved context" is a parked goroutine waiting
// to receive a CPU record; handing the record over resumes it. The
// scheduler's own context is CPU.schedctx, a process's is Proc.ctx.
// The process table lock is routinely held across the handoff; lock
// ownership follows the CPU record, so whoever ends up with the CPU
// can release it.

// scheduler is the per-CPU idle loop: pick a RUNNABLE process, run it
// until it gives the CPU back, repeat.
func (self *Kernel) scheduler(c *CPU) {
	defer self.wg.Done()
	self.registerGid(c)
	for atomic.LoadUint32(&self.stopped) == 0 {
		// Interrupts on while idling
		c.intr = true
		found := false
		self.ptable.lock.Acquire()
		for i := range self.ptable.proc {
			p := &self.ptable.proc[i]
			if p.state != RUNNABLE {
				continue
			}
			found = true
			c.proc = p
			self.switchuvm(p)
			p.state = RUNNING
			mlog.Printf2("kern/sched", "cpu%d: run pid %d (%s)",
				c.id, p.pid, p.name)
			select {
			case p.ctx <- c:
			case <-self.quit:
				self.ptable.lock.Release()
				return
			}
			select {
			case <-c.schedctx:
			case <-self.quit:
				return
			}
			// The process is done for now; it may have
			// changed our lock state but ownership is ours
			self.switchkvm()
			c.proc = nil
		}
		self.ptable.lock.Release()
		if found {
			runtime.Gosched()
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

// swtchWait parks the calling kernel thread until a scheduler hands
// it a CPU. False means the process was reaped before ever running.
func (self *Kernel) swtchWait(p *Proc) bool {
	select {
	case c, ok := <-p.ctx:
		if !ok {
			return false
		}
		self.registerGid(c)
		return true
	case <-self.quit:
		panic(errProcDied)
	}
}

// sched gives the CPU back to the scheduler. Caller holds only the
// process table lock and has set the process state already.
func (self *Kernel) sched() {
	p := self.myproc()
	if !self.ptable.lock.Holding() {
		self.panic("sched ptable.lock")
	}
	c := self.mycpu()
	if c.ncli != 1 {
		self.panic("sched locks")
	}
	if p.state == RUNNING {
		self.panic("sched running")
	}
	if c.intr {
		self.panic("sched interruptible")
	}
	intena := c.intena
	if p.state == ZOMBIE {
		// One-way trip: hand the CPU over and unwind
		select {
		case c.schedctx <- c:
		case <-self.quit:
		}
		panic(errProcDied)
	}
	select {
	case c.schedctx <- c:
	case <-self.quit:
		panic(errProcDied)
	}
	self.swtchWait(p)
	self.mycpu().intena = intena
}

// yield gives up the CPU for one scheduling round.
func (self *Kernel) yield() {
	self.ptable.lock.Acquire()
	self.myproc().state = RUNNABLE
	self.sched()
	self.ptable.lock.Release()
}

// forkret is the first thing a new process runs; the scheduler left
// the process table lock for us to release. The very first process
// also brings up the file system here, as that sleeps and so cannot
// happen at boot.
func (self *Kernel) forkret() {
	self.ptable.lock.Release()
	if self.first {
		self.first = false
		self.iinit(ROOTDEV)
		self.initlog(ROOTDEV)
	}
}

// sleep releases lk and suspends the process on channel wchan;
// reacquires lk before returning. The ptable lock dance guarantees no
// wakeup is lost between the release and the suspend.
func (self *Kernel) sleep(wchan interface{}, lk *Spinlock) {
	p := self.myproc()
	if p == nil {
		self.panic("sleep")
	}
	if lk == nil {
		self.panic("sleep without lk")
	}
	if lk != &self.ptable.lock {
		self.ptable.lock.Acquire()
		lk.Release()
	}
	p.wchan = wchan
	p.state = SLEEPING
	self.sched()
	p.wchan = nil
	if lk != &self.ptable.lock {
		self.ptable.lock.Release()
		lk.Acquire()
	}
}

// wakeup1 makes all processes sleeping on wchan runnable. Caller
// holds the process table lock.
func (self *Kernel) wakeup1(wchan interface{}) {
	for i := range self.ptable.proc {
		p := &self.ptable.proc[i]
		if p.state == SLEEPING && p.wchan == wchan {
			p.state = RUNNABLE
		}
	}
}

func (self *Kernel) wakeup(wchan interface{}) {
	self.ptable.lock.Acquire()
	self.wakeup1(wchan)
	self.ptable.lock.Release()
}
