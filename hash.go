// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import "encoding/binary"

// Hash is the 64-bit Jenkins-mix hash used by the runtime to checksum kernel
// binaries. Words are always assembled byte-wise in little-endian order, so
// the value never depends on buffer alignment or host endianness.
type Hash struct {
	a, hi, lo uint32
}

// NewHash returns a Hash in its initial state.
func NewHash() *Hash {
	h := &Hash{}
	h.Reset()
	return h
}

// Reset restores the initial state.
func (h *Hash) Reset() {
	h.a = 0x428a2f98
	h.hi = 0x71374491
	h.lo = 0xb5c0fbcf
}

func jenkinsMix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= b
	a -= c
	a ^= c >> 13
	b -= c
	b -= a
	b ^= a << 8
	c -= a
	c -= b
	c ^= b >> 13
	a -= b
	a -= c
	a ^= c >> 12
	b -= c
	b -= a
	b ^= a << 16
	c -= a
	c -= b
	c ^= b >> 5
	a -= b
	a -= c
	a ^= c >> 3
	b -= c
	b -= a
	b ^= a << 10
	c -= a
	c -= b
	c ^= b >> 15
	return a, b, c
}

// tailValue packs the 1..3 trailing bytes the way the runtime does.
func tailValue(b []byte) uint32 {
	var v uint32
	i := 0
	switch len(b) {
	case 3:
		v = uint32(b[i])
		i++
		v <<= 8
		fallthrough
	case 2:
		v |= uint32(b[i])
		i++
		v <<= 8
		fallthrough
	case 1:
		v |= uint32(b[i])
		v <<= 8
	}
	return v
}

// Update mixes buff into the running state.
func (h *Hash) Update(buff []byte) {
	for len(buff) >= 4 {
		h.a ^= binary.LittleEndian.Uint32(buff)
		h.a, h.hi, h.lo = jenkinsMix(h.a, h.hi, h.lo)
		buff = buff[4:]
	}
	if len(buff) > 0 {
		h.a ^= tailValue(buff)
		h.a, h.hi, h.lo = jenkinsMix(h.a, h.hi, h.lo)
	}
}

// Finish returns the 64-bit digest of the bytes seen so far.
func (h *Hash) Finish() uint64 {
	return uint64(h.hi)<<32 | uint64(h.lo)
}

// HashBytes hashes buff in one call.
func HashBytes(buff []byte) uint64 {
	h := NewHash()
	h.Update(buff)
	return h.Finish()
}

// KernelChecksum computes the 32-bit checksum stored in a kernel binary
// header: the low half of the hash over everything that follows the header.
func KernelChecksum(blobAfterHeader []byte) uint32 {
	return uint32(HashBytes(blobAfterHeader) & 0xFFFFFFFF)
}
