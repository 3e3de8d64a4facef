/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 13 12:31:19 2018 mstenber
 * Last modified: Fri Mar  2 10:20:03 2018 mstenber
 * Edit time:     29 min
 *
 */

package factory

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/fingon/go-minik/disk"
	"github.com/stvp/assert"
)

func TestList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, len(List()), len(backendFactories))
}

func testBackend(t *testing.T, be disk.Backend) {
	defer be.Close()
	n := be.NumSectors()
	assert.Equal(t, n, uint32(16))

	buf := make([]byte, disk.SectorSize)
	zero := make([]byte, disk.SectorSize)

	// Unwritten sectors read as zeroes
	err := be.ReadSector(3, buf)
	assert.Nil(t, err)
	assert.Equal(t, string(buf), string(zero))

	copy(buf, "hello sector")
	err = be.WriteSector(3, buf)
	assert.Nil(t, err)

	buf2 := make([]byte, disk.SectorSize)
	err = be.ReadSector(3, buf2)
	assert.Nil(t, err)
	assert.Equal(t, string(buf2), string(buf))

	// Neighbor unaffected
	err = be.ReadSector(4, buf2)
	assert.Nil(t, err)
	assert.Equal(t, string(buf2), string(zero))

	err = be.ReadSector(16, buf)
	assert.Equal(t, err, disk.ErrOutOfRange)
	err = be.WriteSector(0, buf[:7])
	assert.Equal(t, err, disk.ErrShortSector)
}

func TestBackends(t *testing.T) {
	for _, name := range List() {
		name := name
		t.Run(name, func(t *testing.T) {
			dir, err := ioutil.TempDir("", "disk-factory")
			assert.Nil(t, err)
			defer os.RemoveAll(dir)
			config := Config{Name: name, Dir: dir, NumSectors: 16}
			if codecCapable[name] {
				config.Password = "s1kr3t"
				config.Compress = true
			}
			testBackend(t, New(config))
		})
	}
}
