/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Mar  2 10:40:31 2018 mstenber
 * Last modified: Sun Mar  4 19:21:48 2018 mstenber
 * Edit time:     187 min
 *
 */

package kern_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/disk/inmemory"
	"github.com/fingon/go-minik/kern"
	"github.com/fingon/go-minik/mkfs"
	"github.com/fingon/go-minik/userland"
	sha256 "github.com/minio/sha256-simd"
	"github.com/stvp/assert"
	"golang.org/x/sync/errgroup"
)

// The tests drive the kernel the way user programs would: an init
// body issues syscalls and reports the first thing that went wrong on
// a buffered channel; empty string means the scenario passed.

func newDisk(t *testing.T) disk.Backend {
	d := inmemory.NewInMemoryBackend(mkfs.FSSIZE)
	err := mkfs.Build(d, userland.Images())
	assert.Nil(t, err)
	return d
}

func boot(t *testing.T, d disk.Backend, init func(*kern.User)) *kern.Kernel {
	k := kern.NewKernel(kern.Config{Disk: d, Init: init})
	userland.Register(k)
	k.Boot()
	return k
}

// scenario wraps a test body so the init process never returns (init
// exiting is a kernel panic).
func scenario(body func(*kern.User) string, done chan string) func(*kern.User) {
	return func(u *kern.User) {
		done <- body(u)
		for {
			u.Sleep(1000)
		}
	}
}

func await(t *testing.T, done chan string) {
	select {
	case s := <-done:
		assert.Equal(t, s, "")
	case <-time.After(30 * time.Second):
		t.Fatal("scenario timed out")
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/256)
	}
	return b
}

func typeConsole(k *kern.Kernel, s string) {
	defer k.Attach()()
	k.ConsoleIntr(s)
}

func waitConsole(t *testing.T, k *kern.Kernel, substr string) {
	defer k.Attach()()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if bytes.Contains(k.ConsoleBytes(), []byte(substr)) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("console never showed %q; have %q", substr, k.ConsoleBytes())
}

func TestBoot(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		if u.Getpid() != 1 {
			return "init pid is not 1"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

// Write through the indirect block, read it back, stat it, unlink it.
func TestFileRoundtrip(t *testing.T) {
	t.Parallel()
	data := pattern(8000) // crosses the NDIRECT boundary
	sum := sha256.Sum256(data)
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		fd := u.Open("f", kern.O_CREATE|kern.O_RDWR)
		if fd < 0 {
			return "create failed"
		}
		if u.Write(fd, data) != len(data) {
			return "short write"
		}
		st, r := u.Fstat(fd)
		if r < 0 || st.Type != kern.T_FILE || st.Size != uint32(len(data)) {
			return fmt.Sprintf("bad stat: %+v", st)
		}
		u.Close(fd)

		fd = u.Open("f", kern.O_RDONLY)
		if fd < 0 {
			return "reopen failed"
		}
		buf := make([]byte, len(data))
		if u.Read(fd, buf) != len(data) {
			return "short read"
		}
		if sha256.Sum256(buf) != sum {
			return "content mismatch"
		}
		u.Close(fd)

		if u.Unlink("f") != 0 {
			return "unlink failed"
		}
		if u.Open("f", kern.O_RDONLY) >= 0 {
			return "file survived unlink"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

// Writing past MAXFILE blocks fails without corrupting the file.
func TestFileMaxSize(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		fd := u.Open("big", kern.O_CREATE|kern.O_RDWR)
		if fd < 0 {
			return "create failed"
		}
		// MAXFILE is 140 blocks; the writes past it must fail
		// without disturbing what got through
		chunk := pattern(512)
		wrote := 0
		for i := 0; i < 200; i++ {
			r := u.Write(fd, chunk)
			if r < 0 {
				break
			}
			wrote += r
		}
		if wrote > 140*512 {
			return "file exceeded the size limit"
		}
		st, r := u.Fstat(fd)
		if r < 0 || int(st.Size) != wrote {
			return "size does not match successful writes"
		}
		u.Close(fd)
		u.Unlink("big")
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

// fork+wait leaves no process slot and no page behind.
func TestForkWait(t *testing.T) {
	t.Parallel()
	kch := make(chan *kern.Kernel, 1)
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		kk := <-kch
		free0 := kk.FreePages()
		for i := 0; i < 10; i++ {
			pid := u.Fork(func(c *kern.User) {
				c.Exit()
			})
			if pid <= 0 {
				return "fork failed"
			}
			if u.Wait() != pid {
				return "wait returned wrong pid"
			}
		}
		if kk.FreePages() != free0 {
			return fmt.Sprintf("leaked pages: %d -> %d", free0, kk.FreePages())
		}
		if u.Wait() >= 0 {
			return "wait with no children should fail"
		}
		return ""
	}, done))
	kch <- k
	defer k.Shutdown()
	await(t, done)
}

func TestSbrk(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		old := u.Sbrk(4096)
		if old < 0 {
			return "sbrk grow failed"
		}
		if u.Sbrk(0) != old+4096 {
			return "sbrk did not grow"
		}
		if u.Sbrk(-4096) != old+4096 {
			return "sbrk shrink returned wrong top"
		}
		if u.Sbrk(0) != old {
			return "sbrk did not shrink"
		}
		if u.Sbrk(0x10000000) >= 0 {
			return "impossible sbrk succeeded"
		}
		if u.Sbrk(0) != old {
			return "failed sbrk changed the size"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

// A writer four buffers ahead of the reader has to stall and wake.
func TestPipe(t *testing.T) {
	t.Parallel()
	data := pattern(4 * kern.PIPESIZE)
	sum := sha256.Sum256(data)
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		rfd, wfd, r := u.Pipe()
		if r != 0 {
			return "pipe failed"
		}
		pid := u.Fork(func(c *kern.User) {
			c.Close(rfd)
			c.Write(wfd, data)
			c.Exit()
		})
		if pid < 0 {
			return "fork failed"
		}
		u.Close(wfd)
		var got []byte
		buf := make([]byte, 512)
		for {
			n := u.Read(rfd, buf)
			if n < 0 {
				return "pipe read failed"
			}
			if n == 0 {
				break
			}
			got = append(got, buf[:n]...)
		}
		if len(got) != len(data) || sha256.Sum256(got) != sum {
			return fmt.Sprintf("pipe moved %d bytes, wanted %d", len(got), len(data))
		}
		if u.Wait() != pid {
			return "wait failed"
		}
		if u.Read(rfd, buf) != 0 {
			return "read past EOF should return 0"
		}
		u.Close(rfd)

		// Writing with no reader left fails
		rfd, wfd, _ = u.Pipe()
		u.Close(rfd)
		if u.Write(wfd, []byte("x")) >= 0 {
			return "write to closed pipe should fail"
		}
		u.Close(wfd)
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

func TestKill(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		pid := u.Fork(func(c *kern.User) {
			for {
				c.Sleep(10000)
			}
		})
		if pid < 0 {
			return "fork failed"
		}
		if u.Kill(pid) != 0 {
			return "kill failed"
		}
		if u.Wait() != pid {
			return "killed child was not reaped"
		}
		if u.Kill(424242) == 0 {
			return "kill of nonexistent pid should fail"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

func TestSleepTicks(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		t0 := u.Uptime()
		if u.Sleep(5) != 0 {
			return "sleep failed"
		}
		if u.Uptime()-t0 < 5 {
			return "sleep returned early"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

func TestDirOps(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		if u.Mkdir("d") != 0 {
			return "mkdir failed"
		}
		if u.Mkdir("d") == 0 {
			return "second mkdir should fail"
		}
		if u.Chdir("d") != 0 {
			return "chdir failed"
		}
		fd := u.Open("f", kern.O_CREATE|kern.O_WRONLY)
		if fd < 0 || u.Write(fd, []byte("x")) != 1 {
			return "create in subdir failed"
		}
		u.Close(fd)
		if u.Link("f", "g") != 0 {
			return "link failed"
		}
		fd = u.Open("/d/g", kern.O_RDONLY)
		if fd < 0 {
			return "open via link failed"
		}
		st, _ := u.Fstat(fd)
		if st.Nlink != 2 {
			return "nlink is not 2"
		}
		u.Close(fd)
		if u.Chdir("/") != 0 {
			return "chdir / failed"
		}
		if u.Unlink("d") == 0 {
			return "unlink of nonempty dir should fail"
		}
		if u.Unlink("d/.") == 0 {
			return "unlink of . should fail"
		}
		if u.Unlink("d/f") != 0 || u.Unlink("d/g") != 0 {
			return "unlink failed"
		}
		if u.Unlink("d") != 0 {
			return "unlink of empty dir failed"
		}
		if u.Open("d", kern.O_RDONLY) >= 0 {
			return "dir survived unlink"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

func TestDupSharesOffset(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		fd := u.Open("f", kern.O_CREATE|kern.O_RDWR)
		if fd < 0 {
			return "create failed"
		}
		fd2 := u.Dup(fd)
		if fd2 < 0 {
			return "dup failed"
		}
		u.Write(fd, []byte("ab"))
		u.Write(fd2, []byte("cd"))
		u.Close(fd)
		u.Close(fd2)
		fd = u.Open("f", kern.O_RDONLY)
		buf := make([]byte, 8)
		n := u.Read(fd, buf)
		if n != 4 || string(buf[:4]) != "abcd" {
			return fmt.Sprintf("dup offset not shared: %q", buf[:n])
		}
		u.Close(fd)
		u.Unlink("f")
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

// Full path: init brings up the console, sh reads a line, exec runs
// the echoed command as a fresh image.
func TestShellEcho(t *testing.T) {
	t.Parallel()
	k := boot(t, newDisk(t), userland.Init)
	defer k.Shutdown()
	waitConsole(t, k, "$ ")
	typeConsole(k, "echo hello world\n")
	waitConsole(t, k, "hello world")
}

func TestConsoleEditing(t *testing.T) {
	t.Parallel()
	k := boot(t, newDisk(t), userland.Init)
	defer k.Shutdown()
	waitConsole(t, k, "$ ")
	// Backspace over a typo
	typeConsole(k, "ecXX\x08\x08ho one\n")
	waitConsole(t, k, "one")
	// C-U kills the whole line
	typeConsole(k, "garbage\x15echo two\n")
	waitConsole(t, k, "two")
}

func TestExecBadPath(t *testing.T) {
	t.Parallel()
	done := make(chan string, 1)
	k := boot(t, newDisk(t), scenario(func(u *kern.User) string {
		if u.Exec("no-such-program", []string{"x"}) >= 0 {
			return "exec of missing file should fail"
		}
		// Still alive and able to work afterwards
		if u.Getpid() != 1 {
			return "process damaged by failed exec"
		}
		return ""
	}, done))
	defer k.Shutdown()
	await(t, done)
}

// Several kernels in one process must not interfere; nothing in the
// kernel is global state.
func TestParallelKernels(t *testing.T) {
	t.Parallel()
	var g errgroup.Group
	for i := 0; i < 3; i++ {
		i := i
		g.Go(func() error {
			done := make(chan string, 1)
			d := inmemory.NewInMemoryBackend(mkfs.FSSIZE)
			if err := mkfs.Build(d, userland.Images()); err != nil {
				return err
			}
			k := kern.NewKernel(kern.Config{Disk: d, Init: scenario(func(u *kern.User) string {
				name := fmt.Sprintf("f%d", i)
				fd := u.Open(name, kern.O_CREATE|kern.O_RDWR)
				if fd < 0 {
					return "create failed"
				}
				data := pattern(1000 + i)
				if u.Write(fd, data) != len(data) {
					return "write failed"
				}
				u.Close(fd)
				return ""
			}, done)})
			userland.Register(k)
			k.Boot()
			defer k.Shutdown()
			select {
			case s := <-done:
				if s != "" {
					return fmt.Errorf("kernel %d: %s", i, s)
				}
			case <-time.After(30 * time.Second):
				return fmt.Errorf("kernel %d timed out", i)
			}
			return nil
		})
	}
	assert.Nil(t, g.Wait())
}
