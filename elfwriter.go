// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"bytes"
	"encoding/binary"
)

// sectionNode is one queued section awaiting resolution.
type sectionNode struct {
	Type  ElfSectionType
	Flags uint64
	Name  string
	Data  []byte
}

// ElfWriter accumulates sections in insertion order and resolves them into a
// single ELF64 binary. Section 0 is always a null section and an implicit
// string table section is appended last; the header's name-table index points
// at it.
type ElfWriter struct {
	elfType         ElfHeaderType
	machine         uint16
	flags           uint64
	nodes           []sectionNode
	dataSize        uint64
	stringTableSize uint64
}

// NewElfWriter returns a writer for a container of the given type.
func NewElfWriter(elfType ElfHeaderType, machine uint16, flags uint64) *ElfWriter {
	w := &ElfWriter{
		elfType: elfType,
		machine: machine,
		flags:   flags,
	}
	// Empty section 0 of type null.
	w.AddSection(ElfSectionTypeNull, 0, "", nil)
	return w
}

// AddSection queues a section. The data is copied.
func (w *ElfWriter) AddSection(t ElfSectionType, flags uint64, name string, data []byte) {
	node := sectionNode{Type: t, Flags: flags, Name: name}
	if len(data) > 0 {
		node.Data = make([]byte, len(data))
		copy(node.Data, data)
	}
	w.nodes = append(w.nodes, node)
	w.dataSize += uint64(len(node.Data))
	w.stringTableSize += uint64(len(name)) + 1
}

// Resolve lays out the queued sections and returns the final binary:
// [ header | section headers (incl. string table) | section data | strings ].
func (w *ElfWriter) Resolve() []byte {
	numSections := uint64(len(w.nodes)) + 1 // +1 to account for string table entry

	headersOffset := uint64(Elf64HeaderSize)
	dataOffset := headersOffset + numSections*Elf64SectionHeaderSize
	stringTableOffset := dataOffset + w.dataSize
	totalSize := stringTableOffset + w.stringTableSize

	headers := make([]Elf64SectionHeader, 0, numSections)
	data := make([]byte, 0, w.dataSize)
	strTab := make([]byte, 0, w.stringTableSize)

	curDataOffset := dataOffset
	for _, node := range w.nodes {
		headers = append(headers, Elf64SectionHeader{
			Name:       uint32(len(strTab)),
			Type:       node.Type,
			Flags:      node.Flags,
			DataOffset: curDataOffset,
			DataSize:   uint64(len(node.Data)),
		})
		data = append(data, node.Data...)
		curDataOffset += uint64(len(node.Data))

		strTab = append(strTab, node.Name...)
		strTab = append(strTab, 0)
	}

	// The implicit string table section comes last and names itself at
	// offset 0 (the null section's empty name).
	headers = append(headers, Elf64SectionHeader{
		Name:       0,
		Type:       ElfSectionTypeStrTbl,
		DataOffset: stringTableOffset,
		DataSize:   w.stringTableSize,
	})

	hdr := Elf64Header{
		Type:                    w.elfType,
		Machine:                 w.machine,
		Version:                 ElfVersionCurrent,
		SectionHeadersOffset:    headersOffset,
		Flags:                   uint32(w.flags),
		ElfHeaderSize:           Elf64HeaderSize,
		SectionHeaderEntrySize:  Elf64SectionHeaderSize,
		NumSectionHeaderEntries: uint16(numSections),
		SectionNameTableIndex:   uint16(numSections - 1), // last index
	}
	hdr.Identity[IdIdxMagic0] = ElfMag0
	hdr.Identity[IdIdxMagic1] = ElfMag1
	hdr.Identity[IdIdxMagic2] = ElfMag2
	hdr.Identity[IdIdxMagic3] = ElfMag3
	hdr.Identity[IdIdxClass] = ElfClass64
	hdr.Identity[IdIdxVersion] = ElfVersionCurrent

	out := bytes.NewBuffer(make([]byte, 0, totalSize))
	binary.Write(out, binary.LittleEndian, &hdr)
	for i := range headers {
		binary.Write(out, binary.LittleEndian, &headers[i])
	}
	out.Write(data)
	out.Write(strTab)
	return out.Bytes()
}
