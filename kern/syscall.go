/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Feb 26 09:11:40 2018 mstenber
 * Last modified: Sun Mar  4 14:02:33 2018 mstenber
 * Edit time:     58 min
 *
 */

package kern

import "github.com/fingon/go-minik/mlog"

// System call dispatch. Arguments live on the user stack above the
// fake return address (esp+4, esp+8, ...); the call number is in eax.
// The fetchers bounds-check everything against the process size so a
// bad pointer fails the call instead of touching kernel memory.

const (
	SYS_fork = iota + 1
	SYS_exit
	SYS_wait
	SYS_pipe
	SYS_read
	SYS_kill
	SYS_exec
	SYS_fstat
	SYS_chdir
	SYS_dup
	SYS_getpid
	SYS_sbrk
	SYS_sleep
	SYS_uptime
	SYS_open
	SYS_write
	SYS_mknod
	SYS_unlink
	SYS_link
	SYS_mkdir
	SYS_close
)

// fetchint reads a 32-bit word from user virtual address addr.
func (self *Kernel) fetchint(addr uint32) (uint32, error) {
	p := self.myproc()
	if addr >= p.sz || addr+4 > p.sz {
		return 0, ErrBadAddress
	}
	var b [4]byte
	if err := self.copyin(p.pgdir, b[:], addr); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// fetchstr reads the NUL-terminated string at addr. The string must
// lie entirely inside the address space.
func (self *Kernel) fetchstr(addr uint32) (string, error) {
	p := self.myproc()
	if addr >= p.sz {
		return "", ErrBadAddress
	}
	buf := make([]byte, p.sz-addr)
	if err := self.copyin(p.pgdir, buf, addr); err != nil {
		return "", err
	}
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", ErrBadAddress
}

// argint fetches the n'th syscall argument as an integer.
func (self *Kernel) argint(n int) (int, error) {
	v, err := self.fetchint(self.myproc().tf.esp + 4 + 4*uint32(n))
	return int(int32(v)), err
}

// argptr fetches the n'th argument as a pointer to a block of size
// bytes and checks that the whole block is inside the address space.
func (self *Kernel) argptr(n int, size int) (uint32, error) {
	i, err := self.argint(n)
	if err != nil {
		return 0, err
	}
	p := self.myproc()
	if size < 0 || uint32(i) >= p.sz || uint32(i)+uint32(size) > p.sz {
		return 0, ErrBadAddress
	}
	return uint32(i), nil
}

// argstr fetches the n'th argument as a string.
func (self *Kernel) argstr(n int) (string, error) {
	addr, err := self.argint(n)
	if err != nil {
		return "", err
	}
	return self.fetchstr(uint32(addr))
}

var syscallNames = [...]string{
	SYS_fork: "fork", SYS_exit: "exit", SYS_wait: "wait",
	SYS_pipe: "pipe", SYS_read: "read", SYS_kill: "kill",
	SYS_exec: "exec", SYS_fstat: "fstat", SYS_chdir: "chdir",
	SYS_dup: "dup", SYS_getpid: "getpid", SYS_sbrk: "sbrk",
	SYS_sleep: "sleep", SYS_uptime: "uptime", SYS_open: "open",
	SYS_write: "write", SYS_mknod: "mknod", SYS_unlink: "unlink",
	SYS_link: "link", SYS_mkdir: "mkdir", SYS_close: "close",
}

func (self *Kernel) syscall() int {
	p := self.myproc()
	num := p.tf.eax
	var r int
	switch num {
	case SYS_fork:
		r = self.sysFork()
	case SYS_exit:
		r = self.sysExit()
	case SYS_wait:
		r = self.sysWait()
	case SYS_pipe:
		r = self.sysPipe()
	case SYS_read:
		r = self.sysRead()
	case SYS_kill:
		r = self.sysKill()
	case SYS_exec:
		r = self.sysExec()
	case SYS_fstat:
		r = self.sysFstat()
	case SYS_chdir:
		r = self.sysChdir()
	case SYS_dup:
		r = self.sysDup()
	case SYS_getpid:
		r = self.sysGetpid()
	case SYS_sbrk:
		r = self.sysSbrk()
	case SYS_sleep:
		r = self.sysSleep()
	case SYS_uptime:
		r = self.sysUptime()
	case SYS_open:
		r = self.sysOpen()
	case SYS_write:
		r = self.sysWrite()
	case SYS_mknod:
		r = self.sysMknod()
	case SYS_unlink:
		r = self.sysUnlink()
	case SYS_link:
		r = self.sysLink()
	case SYS_mkdir:
		r = self.sysMkdir()
	case SYS_close:
		r = self.sysClose()
	default:
		self.cprintf("%d %s: unknown sys call %d\n", p.pid, p.name, num)
		return -1
	}
	mlog.Printf2("kern/syscall", "%d %s: %s => %d",
		p.pid, p.name, syscallNames[num], r)
	return r
}
