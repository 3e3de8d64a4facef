/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 11:02:18 2018 mstenber
 * Last modified: Fri Mar  2 11:31:46 2018 mstenber
 * Edit time:     68 min
 *
 */

package kern

import (
	"log"
	"runtime"
	"sync/atomic"
)

// Spinlock is the short-term kernel mutex. It is acquired with
// interrupts disabled on the current CPU and spins on an atomic
// exchange; ownership is recorded per CPU, not per goroutine, so a
// lock held across a context switch travels with the CPU.
type Spinlock struct {
	k      *Kernel
	locked uint32
	name   string
	cpu    *CPU
}

func (self *Spinlock) Init(k *Kernel, name string) {
	self.k = k
	self.name = name
}

func (self *Spinlock) Acquire() {
	self.k.pushcli()
	if self.Holding() {
		log.Panicf("acquire %s: already held", self.name)
	}
	for !atomic.CompareAndSwapUint32(&self.locked, 0, 1) {
		runtime.Gosched()
	}
	self.cpu = self.k.mycpu()
}

func (self *Spinlock) Release() {
	if !self.Holding() {
		log.Panicf("release %s: not held", self.name)
	}
	self.cpu = nil
	atomic.StoreUint32(&self.locked, 0)
	self.k.popcli()
}

// Holding reports whether this CPU holds the lock.
func (self *Spinlock) Holding() bool {
	self.k.pushcli()
	r := atomic.LoadUint32(&self.locked) != 0 && self.cpu == self.k.mycpu()
	self.k.popcli()
	return r
}

// pushcli/popcli are like cli/sti except that they nest: it takes two
// popcli to undo two pushcli, and if interrupts were enabled at the
// outermost pushcli they come back on only at the matching popcli.
func (self *Kernel) pushcli() {
	cpu := self.mycpu()
	intr := cpu.intr
	cpu.intr = false
	if cpu.ncli == 0 {
		cpu.intena = intr
	}
	cpu.ncli++
}

func (self *Kernel) popcli() {
	cpu := self.mycpu()
	if cpu.intr {
		log.Panic("popcli: interruptible")
	}
	cpu.ncli--
	if cpu.ncli < 0 {
		log.Panic("popcli")
	}
	if cpu.ncli == 0 && cpu.intena {
		cpu.intr = true
	}
}
