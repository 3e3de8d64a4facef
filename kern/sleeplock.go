/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 11:44:09 2018 mstenber
 * Last modified: Thu Mar  1 12:40:58 2018 mstenber
 * Edit time:     23 min
 *
 */

package kern

// Sleeplock is the long-term kernel lock: the holder may suspend
// voluntarily (disk waits, for one) which a Spinlock holder must never
// do. Must not be taken from interrupt context.
type Sleeplock struct {
	lk     Spinlock
	locked bool
	name   string
	pid    int
}

func (self *Sleeplock) Init(k *Kernel, name string) {
	self.lk.Init(k, "sleep lock")
	self.name = name
}

func (self *Sleeplock) Acquire() {
	k := self.lk.k
	self.lk.Acquire()
	for self.locked {
		k.sleep(self, &self.lk)
	}
	self.locked = true
	self.pid = k.myproc().pid
	self.lk.Release()
}

func (self *Sleeplock) Release() {
	k := self.lk.k
	self.lk.Acquire()
	self.locked = false
	self.pid = 0
	k.wakeup(self)
	self.lk.Release()
}

// Holding reports whether the current process holds the lock.
func (self *Sleeplock) Holding() bool {
	self.lk.Acquire()
	r := self.locked && self.pid == self.lk.k.myproc().pid
	self.lk.Release()
	return r
}
