/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Feb 26 10:30:12 2018 mstenber
 * Last modified: Sun Mar  4 14:10:21 2018 mstenber
 * Edit time:     22 min
 *
 */

package kern

func (self *Kernel) sysFork() int {
	p := self.myproc()
	body := p.childBody
	p.childBody = nil
	if body == nil {
		return -1
	}
	return self.fork(body)
}

func (self *Kernel) sysExit() int {
	self.exit()
	return 0 // not reached
}

func (self *Kernel) sysWait() int {
	return self.wait()
}

func (self *Kernel) sysKill() int {
	pid, err := self.argint(0)
	if err != nil {
		return -1
	}
	return self.kill(pid)
}

func (self *Kernel) sysGetpid() int {
	return self.myproc().pid
}

func (self *Kernel) sysSbrk() int {
	n, err := self.argint(0)
	if err != nil {
		return -1
	}
	addr := self.myproc().sz
	if self.growproc(n) < 0 {
		return -1
	}
	return int(addr)
}

func (self *Kernel) sysSleep() int {
	n, err := self.argint(0)
	if err != nil {
		return -1
	}
	self.tickslock.Acquire()
	ticks0 := self.ticks
	for self.ticks-ticks0 < uint32(n) {
		if self.myproc().killed {
			self.tickslock.Release()
			return -1
		}
		self.sleep(&self.ticks, &self.tickslock)
	}
	self.tickslock.Release()
	return 0
}

func (self *Kernel) sysUptime() int {
	self.tickslock.Acquire()
	t := self.ticks
	self.tickslock.Release()
	return int(t)
}
