/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Feb 25 11:02:17 2018 mstenber
 * Last modified: Sun Mar  4 13:22:10 2018 mstenber
 * Edit time:     61 min
 *
 */

package kern

import (
	"sync/atomic"
	"time"
)

// trapFrame is the register state saved when a process enters the
// kernel. The simulated machine never pushes one in hardware; syscall
// stubs fill in esp/eax, fork copies it wholesale, exec rewrites
// eip/esp for the new image.
type trapFrame struct {
	edi    uint32
	esi    uint32
	ebp    uint32
	ebx    uint32
	edx    uint32
	ecx    uint32
	eax    uint32
	trapno uint32
	err    uint32
	eip    uint32
	eflags uint32
	esp    uint32
}

const (
	T_SYSCALL = 64 // int 0x40
	T_IRQ0    = 32
	IRQ_TIMER = 0
)

// trap dispatches on the saved trap number. Only the syscall and
// timer vectors occur on the simulated machine; anything else is a
// fault and kills the process rather than the kernel.
func (self *Kernel) trap(tf *trapFrame) {
	p := self.myproc()
	switch tf.trapno {
	case T_SYSCALL:
		if p.killed {
			self.exit()
		}
		tf.eax = uint32(self.syscall())
		if p.killed {
			self.exit()
		}
		// The syscall boundary is the preemption point
		if p.state == RUNNING {
			self.yield()
		}
	case T_IRQ0 + IRQ_TIMER:
		if p != nil && p.state == RUNNING {
			self.yield()
		}
	default:
		self.cprintf("pid %d %s: trap %d err %d on eip 0x%x -- kill proc\n",
			p.pid, p.name, tf.trapno, tf.err, tf.eip)
		p.killed = true
	}
	if p.killed {
		self.exit()
	}
}

// startTicker is the timer: a goroutine standing in for the LAPIC,
// bumping ticks and waking sys_sleep waiters. Preemption of RUNNING
// processes happens at their own trap boundaries instead, since a
// goroutine cannot be interrupted from outside.
func (self *Kernel) startTicker() {
	self.wg.Add(1)
	go func() {
		defer self.wg.Done()
		defer self.Attach()()
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				self.tickslock.Acquire()
				atomic.AddUint32(&self.ticks, 1)
				self.wakeup(&self.ticks)
				self.tickslock.Release()
			case <-self.quit:
				return
			}
		}
	}()
}

// Ticks returns the timer counter. Safe from any goroutine.
func (self *Kernel) Ticks() uint32 {
	return atomic.LoadUint32(&self.ticks)
}
