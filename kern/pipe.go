/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 20 10:14:29 2018 mstenber
 * Last modified: Sun Mar  4 13:05:46 2018 mstenber
 * Edit time:     54 min
 *
 */

package kern

const PIPESIZE = 512

// pipe is one bounded byte channel with two File endpoints. nread and
// nwrite count forever; the ring index is the count modulo PIPESIZE,
// which also makes full (nwrite == nread+PIPESIZE) and empty (nwrite
// == nread) unambiguous.
type pipe struct {
	lock      Spinlock
	data      [PIPESIZE]byte
	nread     uint32
	nwrite    uint32
	readopen  bool
	writeopen bool
}

func (self *Kernel) pipealloc() (rf, wf *File, ok bool) {
	rf = self.filealloc()
	if rf != nil {
		wf = self.filealloc()
	}
	if rf == nil || wf == nil {
		if rf != nil {
			self.fileclose(rf)
		}
		return nil, nil, false
	}
	p := &pipe{readopen: true, writeopen: true}
	p.lock.Init(self, "pipe")
	rf.typ = FD_PIPE
	rf.readable = true
	rf.writable = false
	rf.pipe = p
	wf.typ = FD_PIPE
	wf.readable = false
	wf.writable = true
	wf.pipe = p
	return rf, wf, true
}

func (self *Kernel) pipeclose(p *pipe, writable bool) {
	p.lock.Acquire()
	if writable {
		p.writeopen = false
		self.wakeup(&p.nread)
	} else {
		p.readopen = false
		self.wakeup(&p.nwrite)
	}
	p.lock.Release()
}

func (self *Kernel) pipewrite(p *pipe, src []byte) int {
	p.lock.Acquire()
	for _, c := range src {
		for {
			if !p.readopen || self.myproc().killed {
				p.lock.Release()
				return -1
			}
			if p.nwrite != p.nread+PIPESIZE {
				break
			}
			self.wakeup(&p.nread)
			self.sleep(&p.nwrite, &p.lock)
		}
		p.data[p.nwrite%PIPESIZE] = c
		p.nwrite++
	}
	self.wakeup(&p.nread)
	p.lock.Release()
	return len(src)
}

func (self *Kernel) piperead(p *pipe, dst []byte) int {
	p.lock.Acquire()
	for p.nread == p.nwrite && p.writeopen {
		if self.myproc().killed {
			p.lock.Release()
			return -1
		}
		self.sleep(&p.nread, &p.lock)
	}
	i := 0
	for ; i < len(dst); i++ {
		if p.nread == p.nwrite {
			break
		}
		dst[i] = p.data[p.nread%PIPESIZE]
		p.nread++
	}
	self.wakeup(&p.nwrite)
	p.lock.Release()
	return i
}
