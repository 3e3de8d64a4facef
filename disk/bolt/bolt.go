/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Feb 13 11:02:40 2018 mstenber
 * Last modified: Fri Mar  2 09:44:18 2018 mstenber
 * Edit time:     41 min
 *
 */

package bolt

import (
	"encoding/binary"
	"fmt"
	"log"

	bbolt "github.com/coreos/bbolt"

	"github.com/fingon/go-minik/disk"
	"github.com/fingon/go-minik/disk/codec"
	"github.com/fingon/go-minik/mlog"
)

var sectorKey = []byte("sectors")

// boltBackend provides on-disk sector storage.
//
// - bucket "sectors": big-endian sector number -> payload
//
// Absent keys read as zero sectors. As bbolt stores variable length
// values, the payload may be run through a Codec (compression,
// encryption); the sector number is fed in as additional authenticated
// data so an attacker with file access cannot swap sectors around.
type boltBackend struct {
	db *bbolt.DB
	n  uint32
	c  codec.Codec
}

var _ disk.Backend = &boltBackend{}

func NewBoltBackend(dir string, nsectors uint32, c codec.Codec) disk.Backend {
	db, err := bbolt.Open(fmt.Sprintf("%s/bbolt.db", dir), 0600, nil)
	if err != nil {
		log.Fatal("bbolt.Open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sectorKey)
		return err
	})
	if err != nil {
		log.Panic(err)
	}
	return &boltBackend{db: db, n: nsectors, c: c}
}

func (self *boltBackend) Close() {
	self.db.Close()
}

func (self *boltBackend) NumSectors() uint32 {
	return self.n
}

func sectorKeyBytes(n uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, n)
	return k
}

func (self *boltBackend) ReadSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	var v []byte
	k := sectorKeyBytes(n)
	self.db.View(func(tx *bbolt.Tx) error {
		v = tx.Bucket(sectorKey).Get(k)
		return nil
	})
	if v == nil {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	mlog.Printf2("disk/bolt/bolt", "bb.ReadSector %d (%d b)", n, len(v))
	if self.c != nil {
		v2, err := self.c.DecodeBytes(v, k)
		if err != nil {
			return err
		}
		v = v2
	}
	if len(v) != disk.SectorSize {
		return disk.ErrShortSector
	}
	copy(buf, v)
	return nil
}

func (self *boltBackend) WriteSector(n uint32, buf []byte) error {
	if err := disk.CheckIO(self.n, n, buf); err != nil {
		return err
	}
	k := sectorKeyBytes(n)
	v := buf
	if self.c != nil {
		var err error
		v, err = self.c.EncodeBytes(buf, k)
		if err != nil {
			return err
		}
	}
	mlog.Printf2("disk/bolt/bolt", "bb.WriteSector %d (%d b)", n, len(v))
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sectorKey).Put(k, v)
	})
}
