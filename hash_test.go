// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"testing"
)

func TestHashDeterminism(t *testing.T) {

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"word", []byte{1, 2, 3, 4}},
		{"word plus tail", []byte{1, 2, 3, 4, 5, 6, 7}},
		{"kernel-ish blob", []byte("ExampleKernel\x00some isa bytes and a heap")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := HashBytes(tt.in)
			second := HashBytes(tt.in)
			if first != second {
				t.Errorf("hash not deterministic, got %#x then %#x", first, second)
			}
		})
	}
}

func TestHashLengthIndependence(t *testing.T) {
	// Mutating the byte just past the hashed length must not change the
	// digest.
	buff := make([]byte, 64)
	for i := range buff {
		buff[i] = byte(i * 7)
	}

	for _, n := range []int{0, 1, 3, 4, 31, 63} {
		before := HashBytes(buff[:n])
		buff[n] ^= 0xFF
		after := HashBytes(buff[:n])
		if before != after {
			t.Errorf("hash(b, %d) changed after mutating b[%d]: %#x vs %#x",
				n, n, before, after)
		}
	}
}

func TestHashAlignmentIndependence(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x10, 0x20, 0x30}

	backing := make([]byte, 32)
	want := HashBytes(payload)
	for offset := 0; offset < 8; offset++ {
		copy(backing[offset:], payload)
		got := HashBytes(backing[offset : offset+len(payload)])
		if got != want {
			t.Errorf("hash at offset %d = %#x, want %#x", offset, got, want)
		}
	}
}

func TestHashIncrementalUpdate(t *testing.T) {
	blob := []byte("the quick brown fox jumps over the lazy dog")

	h := NewHash()
	h.Update(blob[:8])
	h.Update(blob[8:])
	split := h.Finish()

	// Word boundaries matter to the mix; splitting off a word multiple must
	// agree with the one-shot value.
	if whole := HashBytes(blob); split != whole {
		t.Errorf("incremental hash %#x differs from one-shot %#x", split, whole)
	}
}

func TestKernelChecksumIsLow32Bits(t *testing.T) {
	blob := []byte("name\x00heap bytes")
	want := uint32(HashBytes(blob) & 0xFFFFFFFF)
	if got := KernelChecksum(blob); got != want {
		t.Errorf("KernelChecksum = %#x, want %#x", got, want)
	}
}
