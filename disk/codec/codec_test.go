/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Feb 14 09:40:11 2018 mstenber
 * Last modified: Fri Mar  2 09:58:31 2018 mstenber
 * Edit time:     22 min
 *
 */

package codec

import (
	"bytes"
	"testing"

	"github.com/stvp/assert"
)

func testCodecRoundtrip(t *testing.T, c Codec, data, ad []byte) {
	enc, err := c.EncodeBytes(data, ad)
	assert.Nil(t, err)
	dec, err := c.DecodeBytes(enc, ad)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(data, dec))
}

func TestCompressingCodec(t *testing.T) {
	t.Parallel()
	c := &CompressingCodec{}
	// Compressible payload shrinks
	data := bytes.Repeat([]byte("minik"), 100)
	enc, err := c.EncodeBytes(data, nil)
	assert.Nil(t, err)
	assert.True(t, len(enc) < len(data))
	testCodecRoundtrip(t, c, data, nil)
	// Incompressible payload travels as plaintext + header
	data = []byte{42, 1, 7, 3}
	enc, err = c.EncodeBytes(data, nil)
	assert.Nil(t, err)
	assert.Equal(t, len(enc), len(data)+5)
	testCodecRoundtrip(t, c, data, nil)

	_, err = c.DecodeBytes([]byte{1, 2}, nil)
	assert.Equal(t, err, ErrCorrupt)
}

func TestEncryptingCodec(t *testing.T) {
	t.Parallel()
	c := EncryptingCodec{}.Init([]byte("secret"), []byte("salt"))
	data := []byte("sector content here")
	ad := []byte{0, 0, 0, 42}
	testCodecRoundtrip(t, c, data, ad)

	// Same payload, different sector number -> must not decode
	enc, err := c.EncodeBytes(data, ad)
	assert.Nil(t, err)
	_, err = c.DecodeBytes(enc, []byte{0, 0, 0, 43})
	assert.True(t, err != nil)

	_, err = c.DecodeBytes(nil, ad)
	assert.Equal(t, err, ErrCorrupt)
}

func TestCodecChain(t *testing.T) {
	t.Parallel()
	c1 := EncryptingCodec{}.Init([]byte("secret"), []byte("salt"))
	c2 := &CompressingCodec{}
	c := CodecChain{}.Init(c1, c2)
	data := bytes.Repeat([]byte("0123456789"), 70)
	ad := []byte{0, 0, 0, 7}
	enc, err := c.EncodeBytes(data, ad)
	assert.Nil(t, err)
	// Compression ran before encryption
	assert.True(t, len(enc) < len(data))
	dec, err := c.DecodeBytes(enc, ad)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(data, dec))
}
