// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// Errors
var (

	// ErrInvalidElfSize is returned when the input is smaller than an ELF64
	// header.
	ErrInvalidElfSize = errors.New("not an OpenCL ELF binary, smaller than ELF64 header")

	// ErrElfMagicNotFound is returned when the ELF identity magic is missing.
	ErrElfMagicNotFound = errors.New("ELF header magic not found")

	// ErrElfClassNot64 is returned when the identity class byte is not ELF64.
	ErrElfClassNot64 = errors.New("ELF class is not 64-bit")

	// ErrElfSectionOutsideFile is returned when a section header or its data
	// lies beyond the end of the binary.
	ErrElfSectionOutsideFile = errors.New("ELF section outside of file bounds")

	// ErrElfSectionNameOutsideFile is returned when a section name offset
	// points beyond the end of the section name table.
	ErrElfSectionNameOutsideFile = errors.New("ELF section name outside of file bounds")

	// ErrElfSizeMismatch is returned when header + section headers + section
	// data do not add up to the binary size, or when the section header entry
	// size is not 64.
	ErrElfSizeMismatch = errors.New("ELF binary size differs from the sum of its parts")

	// ErrNoDeviceBinary is returned when the OpenCL device binary section is
	// missing from the container.
	ErrNoDeviceBinary = errors.New("device binary section was not found")

	// ErrInvalidProgramMagic describes a program binary header whose magic is
	// not MAGIC_CL. DecodeProgram reports that case as ErrInvalidBinary.
	ErrInvalidProgramMagic = errors.New("program binary header magic not found")

	// ErrInvalidBinary is returned by DecodeProgram when the device binary
	// fails to decode: a failed bounds check, a program header magic other
	// than MAGIC_CL, or a conflicting kernel argument type.
	ErrInvalidBinary = errors.New("invalid device binary")

	// ErrOutsideBoundary is reported when attempting to read an address
	// beyond binary limits.
	ErrOutsideBoundary = errors.New("reading data outside boundary")

	// ErrUnknownFieldWidth is returned for a schema field width outside
	// {1,2,4,8}.
	ErrUnknownFieldWidth = errors.New("unknown field width")
)

// Max returns the larger of x or y.
func Max(x, y uint32) uint32 {
	if x < y {
		return y
	}
	return x
}

// alignUp rounds value up to the nearest multiple of alignment. The
// alignment must be a power of two.
func alignUp(value, alignment uint32) uint32 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// addSlash appends a trailing path separator when one is missing.
func addSlash(path string) string {
	if path == "" || strings.HasSuffix(path, "/") || strings.HasSuffix(path, "\\") {
		return path
	}
	return path + "/"
}

// readUnalignedU16 reads a little-endian uint16 without alignment
// requirements.
func readUnalignedU16(data []byte) uint16 {
	return binary.LittleEndian.Uint16(data)
}

// readUnalignedU32 reads a little-endian uint32 without alignment
// requirements.
func readUnalignedU32(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data)
}

// readUnalignedU64 reads a little-endian uint64 without alignment
// requirements.
func readUnalignedU64(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data)
}

// structUnpack decodes a little-endian fixed-size structure out of data at
// offset. The bytes are copied into the destination, never aliased.
func structUnpack(iface interface{}, data []byte, offset, size uint32) error {
	totalSize := uint64(offset) + uint64(size)
	if totalSize > uint64(len(data)) {
		return ErrOutsideBoundary
	}

	buf := bytes.NewReader(data[offset : offset+size])
	return binary.Read(buf, binary.LittleEndian, iface)
}

// streamReader is a bounds-checked cursor over a byte slice. Every typed
// read in the decoder is preceded by a has call; a cursor that moved outside
// its window indicates a decoder defect, not malformed input.
type streamReader struct {
	data []byte
	pos  int
}

func (s *streamReader) has(n int) bool {
	return s.dataLeft() >= n
}

func (s *streamReader) dataLeft() int {
	if s.pos < 0 || s.pos > len(s.data) {
		panic("stream cursor moved outside of its window")
	}
	return len(s.data) - s.pos
}

func (s *streamReader) advance(n int) {
	s.pos += n
	if s.pos < 0 || s.pos > len(s.data) {
		panic("stream cursor moved outside of its window")
	}
}

// remaining returns the unconsumed tail of the stream.
func (s *streamReader) remaining() []byte {
	return s.data[s.pos:]
}

// cstring cuts b at the first NUL byte.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
