/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 10:40:27 2018 mstenber
 * Last modified: Thu Mar  1 12:10:33 2018 mstenber
 * Edit time:     12 min
 *
 */

package kern

import (
	"errors"
	"log"
	"runtime"
	"sync/atomic"

	"github.com/fingon/go-minik/mlog"
)

var ErrNoMem = errors.New("out of memory")
var ErrBadAddress = errors.New("bad user address")
var ErrCorruptImage = errors.New("corrupt program image")

// panic marks the kernel dead, logs the message with the caller's
// chain of program counters and unwinds with a Go panic carrying the
// message. The console freezes once panicked is set.
func (self *Kernel) panic(s string) {
	atomic.StoreUint32(&self.panicked, 1)
	pcs := make([]uintptr, 10)
	n := runtime.Callers(2, pcs)
	mlog.Printf2("kern/panic", "kernel panic: %s", s)
	log.Printf("kernel panic: %s; call chain %x", s, pcs[:n])
	log.Panicf("kernel panic: %s", s)
}

func (self *Kernel) Panicked() bool {
	return atomic.LoadUint32(&self.panicked) != 0
}
