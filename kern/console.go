/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Feb 25 13:40:02 2018 mstenber
 * Last modified: Sun Mar  4 13:31:55 2018 mstenber
 * Edit time:     74 min
 *
 */

package kern

import (
	"fmt"
	"sync/atomic"

	"github.com/fingon/go-minik/mlog"
)

// Console line discipline. Input bytes arrive through ConsoleIntr
// (the simulated keyboard interrupt) into a 128-byte ring with three
// indices: r (next byte a reader takes), w (end of committed lines),
// e (edit position). Editing happens between w and e; newline, CR or
// C-D commits. Output accumulates in cons.out; ConsoleBytes reads it
// back.

const INPUT_BUF = 128
const BACKSPACE = 0x100

func ctrl(c byte) byte { return c - '@' }

type console struct {
	lock    Spinlock
	locking bool
	buf     [INPUT_BUF]byte
	r       uint32 // read index
	w       uint32 // write index
	e       uint32 // edit index
	out     []byte
}

func (self *Kernel) consoleinit() {
	self.cons.lock.Init(self, "console")
	self.cons.locking = true
	self.devsw[CONSOLE].read = self.consoleread
	self.devsw[CONSOLE].write = self.consolewrite
}

// consputc emits one byte (or the BACKSPACE pseudo-byte, which erases
// the previous one on screen). Once a panic is in flight other CPUs
// stop emitting, so the panic message is the last thing on the
// console.
func (self *Kernel) consputc(c int) {
	if atomic.LoadUint32(&self.panicked) != 0 {
		return
	}
	if c == BACKSPACE {
		self.cons.out = append(self.cons.out, '\b', ' ', '\b')
		return
	}
	self.cons.out = append(self.cons.out, byte(c))
}

// cprintf is the kernel's printf. It holds the console lock unless
// consoleinit has not run yet or a panic has turned locking off.
func (self *Kernel) cprintf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	locking := self.cons.locking && atomic.LoadUint32(&self.panicked) == 0
	if locking {
		self.cons.lock.Acquire()
	}
	for i := 0; i < len(s); i++ {
		self.consputc(int(s[i]))
	}
	if locking {
		self.cons.lock.Release()
	}
	mlog.Printf2("kern/console", "%s", s)
}

// ConsoleBytes returns a copy of everything written to the console so
// far. The calling goroutine must be Attached.
func (self *Kernel) ConsoleBytes() []byte {
	self.cons.lock.Acquire()
	defer self.cons.lock.Release()
	b := make([]byte, len(self.cons.out))
	copy(b, self.cons.out)
	return b
}

// ConsoleIntr feeds input bytes, playing the role of the keyboard
// interrupt handler. The calling goroutine must be Attached.
func (self *Kernel) ConsoleIntr(s string) {
	cons := &self.cons
	cons.lock.Acquire()
	doprocdump := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ctrl('P'):
			// procdump() locks cons.lock indirectly; invoke later
			doprocdump = true
		case ctrl('U'): // kill line
			for cons.e != cons.w && cons.buf[(cons.e-1)%INPUT_BUF] != '\n' {
				cons.e--
				self.consputc(BACKSPACE)
			}
		case ctrl('H'), 0x7f: // backspace
			if cons.e != cons.w {
				cons.e--
				self.consputc(BACKSPACE)
			}
		default:
			if c != 0 && cons.e-cons.r < INPUT_BUF {
				if c == '\r' {
					c = '\n'
				}
				cons.buf[cons.e%INPUT_BUF] = c
				cons.e++
				self.consputc(int(c))
				if c == '\n' || c == ctrl('D') || cons.e == cons.r+INPUT_BUF {
					cons.w = cons.e
					self.wakeup(&cons.r)
				}
			}
		}
	}
	cons.lock.Release()
	if doprocdump {
		self.procdump()
	}
}

// consoleread blocks until a committed line is available. C-D at the
// start of a read yields 0 bytes; mid-line it terminates the read and
// is saved for the next one so that read sees the EOF too.
func (self *Kernel) consoleread(ip *inode, dst []byte) int {
	self.iunlock(ip)
	cons := &self.cons
	target := len(dst)
	cons.lock.Acquire()
	n := 0
	for n < target {
		for cons.r == cons.w {
			if self.myproc().killed {
				cons.lock.Release()
				self.ilock(ip)
				return -1
			}
			self.sleep(&cons.r, &cons.lock)
		}
		c := cons.buf[cons.r%INPUT_BUF]
		cons.r++
		if c == ctrl('D') {
			if n > 0 {
				// Save EOF for next time
				cons.r--
			}
			break
		}
		dst[n] = c
		n++
		if c == '\n' {
			break
		}
	}
	cons.lock.Release()
	self.ilock(ip)
	return n
}

func (self *Kernel) consolewrite(ip *inode, src []byte) int {
	self.iunlock(ip)
	self.cons.lock.Acquire()
	for _, c := range src {
		self.consputc(int(c))
	}
	self.cons.lock.Release()
	self.ilock(ip)
	return len(src)
}
