/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Feb 26 11:14:03 2018 mstenber
 * Last modified: Sun Mar  4 14:55:37 2018 mstenber
 * Edit time:     131 min
 *
 */

package kern

// File-descriptor flavored system calls. Every path-touching call is
// bracketed by beginOp/endOp so its block writes land in one log
// transaction.

const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREATE = 0x200
)

// argfd fetches the n'th argument as a file descriptor and returns
// both the number and the open file.
func (self *Kernel) argfd(n int) (int, *File, error) {
	fd, err := self.argint(n)
	if err != nil {
		return 0, nil, err
	}
	if fd < 0 || fd >= NOFILE {
		return 0, nil, ErrBadAddress
	}
	f := self.myproc().ofile[fd]
	if f == nil {
		return 0, nil, ErrBadAddress
	}
	return fd, f, nil
}

// fdalloc stores f in the first free slot of the per-process table.
func (self *Kernel) fdalloc(f *File) int {
	p := self.myproc()
	for fd := 0; fd < NOFILE; fd++ {
		if p.ofile[fd] == nil {
			p.ofile[fd] = f
			return fd
		}
	}
	return -1
}

func (self *Kernel) sysDup() int {
	_, f, err := self.argfd(0)
	if err != nil {
		return -1
	}
	fd := self.fdalloc(f)
	if fd < 0 {
		return -1
	}
	self.filedup(f)
	return fd
}

func (self *Kernel) sysRead() int {
	_, f, err := self.argfd(0)
	if err != nil {
		return -1
	}
	n, err := self.argint(2)
	if err != nil || n < 0 {
		return -1
	}
	addr, err := self.argptr(1, n)
	if err != nil {
		return -1
	}
	buf := make([]byte, n)
	r := self.fileread(f, buf)
	if r < 0 {
		return -1
	}
	p := self.myproc()
	if self.copyout(p.pgdir, addr, buf[:r]) != nil {
		return -1
	}
	return r
}

func (self *Kernel) sysWrite() int {
	_, f, err := self.argfd(0)
	if err != nil {
		return -1
	}
	n, err := self.argint(2)
	if err != nil || n < 0 {
		return -1
	}
	addr, err := self.argptr(1, n)
	if err != nil {
		return -1
	}
	buf := make([]byte, n)
	p := self.myproc()
	if self.copyin(p.pgdir, buf, addr) != nil {
		return -1
	}
	return self.filewrite(f, buf)
}

func (self *Kernel) sysClose() int {
	fd, f, err := self.argfd(0)
	if err != nil {
		return -1
	}
	self.myproc().ofile[fd] = nil
	self.fileclose(f)
	return 0
}

func (self *Kernel) sysFstat() int {
	_, f, err := self.argfd(0)
	if err != nil {
		return -1
	}
	addr, err := self.argptr(1, statSize)
	if err != nil {
		return -1
	}
	var st Stat
	if self.filestat(f, &st) < 0 {
		return -1
	}
	p := self.myproc()
	if self.copyout(p.pgdir, addr, encodeStat(&st)) != nil {
		return -1
	}
	return 0
}

// sysLink makes path new a fresh name for the inode of path old.
func (self *Kernel) sysLink() int {
	old, err := self.argstr(0)
	if err != nil {
		return -1
	}
	new, err := self.argstr(1)
	if err != nil {
		return -1
	}
	self.beginOp()
	ip := self.namei(old)
	if ip == nil {
		self.endOp()
		return -1
	}
	self.ilock(ip)
	if ip.typ == T_DIR {
		self.iunlockput(ip)
		self.endOp()
		return -1
	}
	ip.nlink++
	self.iupdate(ip)
	self.iunlock(ip)

	dp, name := self.nameiparent(new)
	if dp != nil {
		self.ilock(dp)
		if dp.dev != ip.dev || self.dirlink(dp, name, ip.inum) < 0 {
			self.iunlockput(dp)
			dp = nil
		} else {
			self.iunlockput(dp)
			self.iput(ip)
			self.endOp()
			return 0
		}
	}
	// Undo the link count
	self.ilock(ip)
	ip.nlink--
	self.iupdate(ip)
	self.iunlockput(ip)
	self.endOp()
	return -1
}

// isdirempty is true when dp contains only "." and "..".
func (self *Kernel) isdirempty(dp *inode) bool {
	for off := uint32(2 * direntSize); off < dp.size; off += direntSize {
		var b [direntSize]byte
		if self.readi(dp, b[:], off, direntSize) != direntSize {
			self.panic("isdirempty: readi")
		}
		inum, _ := decodeDirent(b[:])
		if inum != 0 {
			return false
		}
	}
	return true
}

func (self *Kernel) sysUnlink() int {
	path, err := self.argstr(0)
	if err != nil {
		return -1
	}
	self.beginOp()
	dp, name := self.nameiparent(path)
	if dp == nil {
		self.endOp()
		return -1
	}
	self.ilock(dp)

	// Cannot unlink "." or "..".
	if name == "." || name == ".." {
		self.iunlockput(dp)
		self.endOp()
		return -1
	}
	ip, off := self.dirlookup(dp, name)
	if ip == nil {
		self.iunlockput(dp)
		self.endOp()
		return -1
	}
	self.ilock(ip)
	if ip.nlink < 1 {
		self.panic("unlink: nlink < 1")
	}
	if ip.typ == T_DIR && !self.isdirempty(ip) {
		self.iunlockput(ip)
		self.iunlockput(dp)
		self.endOp()
		return -1
	}
	var zero [direntSize]byte
	if self.writei(dp, zero[:], off, direntSize) != direntSize {
		self.panic("unlink: writei")
	}
	if ip.typ == T_DIR {
		dp.nlink-- // the child's ".."
		self.iupdate(dp)
	}
	self.iunlockput(dp)

	ip.nlink--
	self.iupdate(ip)
	self.iunlockput(ip)
	self.endOp()
	return 0
}

// create makes a new inode of the given type under path's parent, or
// for open+O_CREATE returns the existing file. Returns the inode
// locked.
func (self *Kernel) create(path string, typ int16, major, minor int16) *inode {
	dp, name := self.nameiparent(path)
	if dp == nil {
		return nil
	}
	self.ilock(dp)

	if ip, _ := self.dirlookup(dp, name); ip != nil {
		self.iunlockput(dp)
		self.ilock(ip)
		if typ == T_FILE && ip.typ == T_FILE {
			return ip
		}
		self.iunlockput(ip)
		return nil
	}

	ip := self.ialloc(dp.dev, typ)
	self.ilock(ip)
	ip.major = major
	ip.minor = minor
	ip.nlink = 1
	self.iupdate(ip)

	if typ == T_DIR {
		dp.nlink++ // for ".."
		self.iupdate(dp)
		// No ip.nlink++ for "."; that would leave the
		// directory unremovable
		if self.dirlink(ip, ".", ip.inum) < 0 ||
			self.dirlink(ip, "..", dp.inum) < 0 {
			self.panic("create dots")
		}
	}
	if self.dirlink(dp, name, ip.inum) < 0 {
		self.panic("create: dirlink")
	}
	self.iunlockput(dp)
	return ip
}

func (self *Kernel) sysOpen() int {
	path, err := self.argstr(0)
	if err != nil {
		return -1
	}
	omode, err := self.argint(1)
	if err != nil {
		return -1
	}
	self.beginOp()
	var ip *inode
	if omode&O_CREATE != 0 {
		ip = self.create(path, T_FILE, 0, 0)
		if ip == nil {
			self.endOp()
			return -1
		}
	} else {
		ip = self.namei(path)
		if ip == nil {
			self.endOp()
			return -1
		}
		self.ilock(ip)
		if ip.typ == T_DIR && omode != O_RDONLY {
			self.iunlockput(ip)
			self.endOp()
			return -1
		}
	}

	f := self.filealloc()
	if f == nil {
		self.iunlockput(ip)
		self.endOp()
		return -1
	}
	fd := self.fdalloc(f)
	if fd < 0 {
		self.fileclose(f)
		self.iunlockput(ip)
		self.endOp()
		return -1
	}
	self.iunlock(ip)
	self.endOp()

	f.typ = FD_INODE
	f.ip = ip
	f.off = 0
	f.readable = omode&O_WRONLY == 0
	f.writable = omode&O_WRONLY != 0 || omode&O_RDWR != 0
	return fd
}

func (self *Kernel) sysMkdir() int {
	path, err := self.argstr(0)
	if err != nil {
		return -1
	}
	self.beginOp()
	ip := self.create(path, T_DIR, 0, 0)
	if ip == nil {
		self.endOp()
		return -1
	}
	self.iunlockput(ip)
	self.endOp()
	return 0
}

func (self *Kernel) sysMknod() int {
	path, err := self.argstr(0)
	if err != nil {
		return -1
	}
	major, err1 := self.argint(1)
	minor, err2 := self.argint(2)
	if err1 != nil || err2 != nil {
		return -1
	}
	self.beginOp()
	ip := self.create(path, T_DEV, int16(major), int16(minor))
	if ip == nil {
		self.endOp()
		return -1
	}
	self.iunlockput(ip)
	self.endOp()
	return 0
}

func (self *Kernel) sysChdir() int {
	path, err := self.argstr(0)
	if err != nil {
		return -1
	}
	p := self.myproc()
	self.beginOp()
	ip := self.namei(path)
	if ip == nil {
		self.endOp()
		return -1
	}
	self.ilock(ip)
	if ip.typ != T_DIR {
		self.iunlockput(ip)
		self.endOp()
		return -1
	}
	self.iunlock(ip)
	self.iput(p.cwd)
	self.endOp()
	p.cwd = ip
	return 0
}

func (self *Kernel) sysExec() int {
	path, err := self.argstr(0)
	if err != nil {
		return -1
	}
	uargv, err := self.argint(1)
	if err != nil {
		return -1
	}
	argv := make([]string, 0, MAXARG)
	for i := 0; ; i++ {
		if i >= MAXARG {
			return -1
		}
		uarg, err := self.fetchint(uint32(uargv) + 4*uint32(i))
		if err != nil {
			return -1
		}
		if uarg == 0 {
			break
		}
		s, err := self.fetchstr(uarg)
		if err != nil {
			return -1
		}
		argv = append(argv, s)
	}
	return self.exec(path, argv)
}

func (self *Kernel) sysPipe() int {
	addr, err := self.argptr(0, 8)
	if err != nil {
		return -1
	}
	rf, wf, ok := self.pipealloc()
	if !ok {
		return -1
	}
	fd0 := self.fdalloc(rf)
	fd1 := -1
	if fd0 >= 0 {
		fd1 = self.fdalloc(wf)
	}
	p := self.myproc()
	if fd0 < 0 || fd1 < 0 {
		if fd0 >= 0 {
			p.ofile[fd0] = nil
		}
		self.fileclose(rf)
		self.fileclose(wf)
		return -1
	}
	var b [8]byte
	putUint32LE(b[0:], uint32(fd0))
	putUint32LE(b[4:], uint32(fd1))
	if self.copyout(p.pgdir, addr, b[:]) != nil {
		p.ofile[fd0] = nil
		p.ofile[fd1] = nil
		self.fileclose(rf)
		self.fileclose(wf)
		return -1
	}
	return 0
}
