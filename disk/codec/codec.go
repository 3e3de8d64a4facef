/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 08:55:29 2018 mstenber
 * Last modified: Fri Mar  2 09:31:44 2018 mstenber
 * Edit time:     96 min
 *
 */

// codec library is responsible for transforming sector payloads on
// their way to and from a key-value backed device. In practise this
// means encrypting/decrypting or compressing/uncompressing on
// case-by-case basis. The sector number travels as additional
// authenticated data so sectors cannot be swapped around underneath
// the kernel.
//
// As the transformed payloads are variable length, the codec is only
// usable with backends that store variable length values (bolt,
// badger); the flat image file stays raw.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log"

	"github.com/minio/sha256-simd"
	"github.com/pierrec/lz4"
	"golang.org/x/crypto/pbkdf2"
)

// Codec
//
// Single transformation of byte slices.
type Codec interface {
	DecodeBytes(data, additionalData []byte) (ret []byte, err error)
	EncodeBytes(data, additionalData []byte) (ret []byte, err error)
}

var ErrCorrupt = errors.New("corrupt codec framing")

// EncryptingCodec
//
// AES GCM based encrypting/decrypting (+authenticating) Codec.
// Frame: 1 byte nonce length, nonce, ciphertext.
type EncryptingCodec struct {
	gcm cipher.AEAD
}

const keyIterations = 1234

func (self EncryptingCodec) Init(password, salt []byte) *EncryptingCodec {
	mk := pbkdf2.Key(password, salt, keyIterations, 32, sha256.New)
	block, err := aes.NewCipher(mk)
	if err != nil {
		log.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Fatal(err)
	}
	self.gcm = gcm
	return &self
}

func (self *EncryptingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	nonce := make([]byte, self.gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return
	}
	ret = make([]byte, 0, 1+len(nonce)+len(data)+self.gcm.Overhead())
	ret = append(ret, byte(len(nonce)))
	ret = append(ret, nonce...)
	ret = self.gcm.Seal(ret, nonce, data, additionalData)
	return
}

func (self *EncryptingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	if len(data) < 1 {
		return nil, ErrCorrupt
	}
	nl := int(data[0])
	if len(data) < 1+nl {
		return nil, ErrCorrupt
	}
	nonce := data[1 : 1+nl]
	ret, err = self.gcm.Open(nil, nonce, data[1+nl:], additionalData)
	return
}

// CompressingCodec
//
// On-the-fly compressing Codec. If the result does not improve, the
// payload is marked plaintext and passed as-is (at cost of 5 bytes).
type CompressingCodec struct {
}

const (
	compressionPlain = byte(iota)
	compressionLZ4
)

func (self *CompressingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	rd := make([]byte, len(data))
	var n int
	n, err = lz4.CompressBlock(data, rd, 0)
	if err != nil {
		return
	}
	ct := compressionLZ4
	if n == 0 || n >= len(data) {
		ct = compressionPlain
		rd = data
	} else {
		rd = rd[:n]
	}
	ret = make([]byte, 0, 5+len(rd))
	ret = append(ret, ct)
	ret = binary.LittleEndian.AppendUint32(ret, uint32(len(data)))
	ret = append(ret, rd...)
	return
}

func (self *CompressingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	if len(data) < 5 {
		return nil, ErrCorrupt
	}
	origlen := binary.LittleEndian.Uint32(data[1:5])
	switch data[0] {
	case compressionPlain:
		ret = data[5:]
	case compressionLZ4:
		ret = make([]byte, origlen)
		var n int
		n, err = lz4.UncompressBlock(data[5:], ret, 0)
		if err != nil {
			return
		}
		ret = ret[:n]
	default:
		err = ErrCorrupt
	}
	return
}

// CodecChain combines multiple Codecs that do the particular
// sub-EncodeBytes/DecodeBytes steps.
//
// Codecs are given in decryption order, so e.g. encrypting one should
// be given before compressing one.
type CodecChain struct {
	codecs, reverseCodecs []Codec
}

func (self CodecChain) Init(codecs ...Codec) *CodecChain {
	self.codecs = codecs
	rc := make([]Codec, len(codecs))
	for i, c := range codecs {
		rc[len(codecs)-i-1] = c
	}
	self.reverseCodecs = rc
	return &self
}

func (self *CodecChain) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.codecs {
		ret, err = c.DecodeBytes(data, additionalData)
		if err != nil {
			return
		}
		data = ret
	}
	return
}

func (self *CodecChain) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.reverseCodecs {
		ret, err = c.EncodeBytes(data, additionalData)
		if err != nil {
			return
		}
		data = ret
	}
	return
}
