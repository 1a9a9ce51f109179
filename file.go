// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/oclbin/devbin/log"
)

// A File represents an open OpenCL ELF device binary.
type File struct {
	Elf       *ElfContainer
	Program   *DecodedProgram
	Options   []byte
	Ir        []byte
	IrIsSpirv bool
	Anomalies []string

	data   mmap.MMap
	size   uint32
	f      *os.File
	opts   *Opts
	logger *log.Helper
}

// Opts for parsing.
type Opts struct {

	// Disables the 128-byte prefetch padding and 64-byte alignment during
	// re-assembly.
	IgnoreIsaPadding bool

	// Suppress all diagnostic output.
	Quiet bool

	// A custom logger.
	Logger log.Logger
}

func (o *Opts) helper() *log.Helper {
	if o.Quiet {
		return log.NewHelper(log.Discard)
	}
	if o.Logger != nil {
		return log.NewHelper(o.Logger)
	}
	return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout),
		log.FilterLevel(log.LevelWarn)))
}

// New instantiates a file instance with options given a file name. The
// binary is memory mapped instead of read into the heap.
func New(name string, opts *Opts) (*File, error) {

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Opts{}
	}
	file.logger = file.opts.helper()

	file.data = data
	file.size = uint32(len(file.data))
	file.f = f
	return &file, nil
}

// NewBytes instantiates a file instance with options given a memory buffer.
func NewBytes(data []byte, opts *Opts) (*File, error) {

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Opts{}
	}
	file.logger = file.opts.helper()

	file.data = data
	file.size = uint32(len(file.data))
	return &file, nil
}

// Close closes the File.
func (f *File) Close() error {
	if f.data != nil && f.f != nil {
		_ = f.data.Unmap()
	}

	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

// Parse performs the container parsing: the outer ELF, the typed sections,
// and the device binary's patch-token model. The model keeps views into the
// mapped bytes; it is valid until Close.
func (f *File) Parse() error {

	elf, err := ParseElf(f.data)
	if err != nil {
		return err
	}
	f.Elf = elf

	var devBinary []byte
	for i := range elf.Sections {
		section := &elf.Sections[i]
		switch section.Header.Type {
		case ElfSectionTypeOpenCLLLVMBinary:
			f.Ir = section.Data
			f.IrIsSpirv = false
		case ElfSectionTypeSpirv:
			f.Ir = section.Data
			f.IrIsSpirv = true
		case ElfSectionTypeOpenCLOptions:
			f.Options = section.Data
		case ElfSectionTypeOpenCLDevBinary:
			devBinary = section.Data
		}
	}

	if devBinary == nil {
		return ErrNoDeviceBinary
	}

	program, err := DecodeProgram(devBinary, f.logger)
	f.Program = program
	if err != nil {
		return err
	}

	for i := range program.Kernels {
		kernel := &program.Kernels[i]
		if kernel.HasInvalidChecksum() {
			f.Anomalies = append(f.Anomalies,
				"Kernel `"+kernel.KernelName()+"` checksum differs from the recomputed value")
		}
	}
	if len(program.UnhandledTokens) > 0 {
		f.Anomalies = append(f.Anomalies, "Program carries unhandled patch tokens")
	}

	return nil
}
