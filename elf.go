// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

// ELF identity bytes and indices.
const (
	ElfMag0 = 0x7f
	ElfMag1 = 'E'
	ElfMag2 = 'L'
	ElfMag3 = 'F'

	IdIdxMagic0  = 0
	IdIdxMagic1  = 1
	IdIdxMagic2  = 2
	IdIdxMagic3  = 3
	IdIdxClass   = 4
	IdIdxVersion = 5

	// IdIdxNumBytes is the size of the identity block.
	IdIdxNumBytes = 16
)

// ElfHeaderType represents the type of the ELF header `Type` field.
// OS-specific codes start at 0xfe00, processor-specific codes at 0xff00.
type ElfHeaderType uint16

// ELF header types. The OpenCL range mirrors what the compiler toolchain
// emits at each stage.
const (
	ElfTypeNone        ElfHeaderType = 0
	ElfTypeRelocatable ElfHeaderType = 1
	ElfTypeExecutable  ElfHeaderType = 2
	ElfTypeDynamic     ElfHeaderType = 3
	ElfTypeCore        ElfHeaderType = 4

	// ElfTypeOpenCLSource is the format used to pass CL text sections to the
	// frontend.
	ElfTypeOpenCLSource ElfHeaderType = 0xff01

	// ElfTypeOpenCLObjects is the format used to pass LLVM objects / store
	// LLVM binary output.
	ElfTypeOpenCLObjects ElfHeaderType = 0xff02

	// ElfTypeOpenCLLibrary is the format used to store LLVM archive output.
	ElfTypeOpenCLLibrary ElfHeaderType = 0xff03

	// ElfTypeOpenCLExecutable is the format used to store executable output.
	ElfTypeOpenCLExecutable ElfHeaderType = 0xff04

	// ElfTypeOpenCLDebug is the format used to store debug output.
	ElfTypeOpenCLDebug ElfHeaderType = 0xff05
)

// ElfSectionType represents the type of an ELF section header `Type` field.
type ElfSectionType uint32

// ELF section types. OpenCL-specific codes begin at 0xff000000.
const (
	ElfSectionTypeNull     ElfSectionType = 0
	ElfSectionTypeProgBits ElfSectionType = 1
	ElfSectionTypeSymTbl   ElfSectionType = 2
	ElfSectionTypeStrTbl   ElfSectionType = 3
	ElfSectionTypeNoBits   ElfSectionType = 8

	// ElfSectionTypeOpenCLSource holds CL source to link into an LLVM binary.
	ElfSectionTypeOpenCLSource ElfSectionType = 0xff000000

	// ElfSectionTypeOpenCLHeader holds a CL header to link into an LLVM binary.
	ElfSectionTypeOpenCLHeader ElfSectionType = 0xff000001

	// ElfSectionTypeOpenCLLLVMText holds LLVM text.
	ElfSectionTypeOpenCLLLVMText ElfSectionType = 0xff000002

	// ElfSectionTypeOpenCLLLVMBinary holds LLVM byte code.
	ElfSectionTypeOpenCLLLVMBinary ElfSectionType = 0xff000003

	// ElfSectionTypeOpenCLLLVMArchive holds LLVM archive(s).
	ElfSectionTypeOpenCLLLVMArchive ElfSectionType = 0xff000004

	// ElfSectionTypeOpenCLDevBinary holds the device binary.
	ElfSectionTypeOpenCLDevBinary ElfSectionType = 0xff000005

	// ElfSectionTypeOpenCLOptions holds the CL build options.
	ElfSectionTypeOpenCLOptions ElfSectionType = 0xff000006

	// ElfSectionTypeOpenCLPCH holds pre-compiled headers.
	ElfSectionTypeOpenCLPCH ElfSectionType = 0xff000007

	// ElfSectionTypeOpenCLDevDebug holds device debug data.
	ElfSectionTypeOpenCLDevDebug ElfSectionType = 0xff000008

	// ElfSectionTypeSpirv holds a SPIR-V module.
	ElfSectionTypeSpirv ElfSectionType = 0xff000009
)

// ELF header version.
const (
	ElfVersionInvalid = 0
	ElfVersionCurrent = 1
)

// ElfClass64 is the identity class byte for 64-bit ELF structures.
const ElfClass64 = 2

// Elf64Header is the 64-byte ELF64 file header. All multi-byte fields are
// little-endian.
type Elf64Header struct {
	Identity                [IdIdxNumBytes]byte
	Type                    ElfHeaderType
	Machine                 uint16
	Version                 uint32
	EntryAddress            uint64
	ProgramHeadersOffset    uint64
	SectionHeadersOffset    uint64
	Flags                   uint32
	ElfHeaderSize           uint16
	ProgramHeaderEntrySize  uint16
	NumProgramHeaderEntries uint16
	SectionHeaderEntrySize  uint16
	NumSectionHeaderEntries uint16
	SectionNameTableIndex   uint16
}

// Elf64SectionHeader is the 64-byte ELF64 section header.
type Elf64SectionHeader struct {
	Name       uint32
	Type       ElfSectionType
	Flags      uint64
	Address    uint64
	DataOffset uint64
	DataSize   uint64
	Link       uint32
	Info       uint32
	Alignment  uint64
	EntrySize  uint64
}

// Elf64HeaderSize and Elf64SectionHeaderSize are fixed by the format.
const (
	Elf64HeaderSize        = 64
	Elf64SectionHeaderSize = 64
)

// ElfSection is a parsed section: header, resolved name, and a view into the
// container bytes.
type ElfSection struct {
	Header Elf64SectionHeader
	Name   string
	Data   []byte
}

// ElfContainer is the parsed outer container.
type ElfContainer struct {
	Header   Elf64Header
	Sections []ElfSection
}

// ParseElf validates and parses an ELF64 OpenCL container. The validation
// checks the identity magic and class, requires a 64-byte section header
// entry size, keeps every section header and its data inside the file and
// every name offset inside the name table, and requires the sum of header +
// entries + data to equal the binary size. A section header entry size other
// than 64 is reported as ErrElfSizeMismatch.
func ParseElf(data []byte) (*ElfContainer, error) {
	if len(data) < Elf64HeaderSize {
		return nil, ErrInvalidElfSize
	}

	container := &ElfContainer{}
	hdr := &container.Header
	if err := structUnpack(hdr, data, 0, Elf64HeaderSize); err != nil {
		return nil, err
	}

	if hdr.Identity[IdIdxMagic0] != ElfMag0 ||
		hdr.Identity[IdIdxMagic1] != ElfMag1 ||
		hdr.Identity[IdIdxMagic2] != ElfMag2 ||
		hdr.Identity[IdIdxMagic3] != ElfMag3 {
		return nil, ErrElfMagicNotFound
	}
	if hdr.Identity[IdIdxClass] != ElfClass64 {
		return nil, ErrElfClassNot64
	}
	if hdr.SectionHeaderEntrySize != Elf64SectionHeaderSize {
		return nil, ErrElfSizeMismatch
	}

	fileSize := uint64(len(data))
	ourSize := uint64(hdr.ElfHeaderSize)
	entrySize := uint64(hdr.SectionHeaderEntrySize)

	// Locate the name table section header up front; names resolve against
	// its data.
	var nameTable []byte
	if hdr.SectionNameTableIndex < hdr.NumSectionHeaderEntries {
		strTabOffset := hdr.SectionHeadersOffset +
			uint64(hdr.SectionNameTableIndex)*entrySize
		if strTabOffset+Elf64SectionHeaderSize <= fileSize {
			var strTabHdr Elf64SectionHeader
			if err := structUnpack(&strTabHdr, data, uint32(strTabOffset),
				Elf64SectionHeaderSize); err == nil {
				if strTabHdr.DataOffset+strTabHdr.DataSize <= fileSize {
					nameTable = data[strTabHdr.DataOffset : strTabHdr.DataOffset+strTabHdr.DataSize]
				}
			}
		}
	}

	for i := uint16(0); i < hdr.NumSectionHeaderEntries; i++ {
		entryOffset := hdr.SectionHeadersOffset + uint64(i)*entrySize

		if entryOffset+Elf64SectionHeaderSize > fileSize {
			return nil, ErrElfSectionOutsideFile
		}

		var secHeader Elf64SectionHeader
		if err := structUnpack(&secHeader, data, uint32(entryOffset),
			Elf64SectionHeaderSize); err != nil {
			return nil, err
		}

		if secHeader.DataOffset+secHeader.DataSize > fileSize ||
			secHeader.DataOffset+secHeader.DataSize < secHeader.DataOffset {
			return nil, ErrElfSectionOutsideFile
		}

		var name string
		if nameTable != nil {
			if uint64(secHeader.Name) > uint64(len(nameTable)) {
				return nil, ErrElfSectionNameOutsideFile
			}
			name = cstring(nameTable[secHeader.Name:])
		}

		container.Sections = append(container.Sections, ElfSection{
			Header: secHeader,
			Name:   name,
			Data:   data[secHeader.DataOffset : secHeader.DataOffset+secHeader.DataSize],
		})

		// tally up the sizes
		ourSize += secHeader.DataSize
		ourSize += entrySize
	}

	if ourSize != fileSize {
		return nil, ErrElfSizeMismatch
	}

	return container, nil
}

// SectionByType returns the first section of the given type, or nil.
func (c *ElfContainer) SectionByType(t ElfSectionType) *ElfSection {
	for i := range c.Sections {
		if c.Sections[i].Header.Type == t {
			return &c.Sections[i]
		}
	}
	return nil
}
