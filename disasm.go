// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"github.com/oclbin/devbin/log"
)

// Disassembler drives the disasm pipeline: outer ELF to side files, device
// binary to PTM text, kernel heaps to per-kernel dump files.
type Disassembler struct {
	Fs          Filesystem
	Asm         Assembler
	PathToDump  string
	PathToPatch string

	logger *log.Helper
}

// NewDisassembler wires a disassembler with the given dump and patch
// directories.
func NewDisassembler(pathToDump, pathToPatch string, opts *Opts) *Disassembler {
	if opts == nil {
		opts = &Opts{}
	}
	return &Disassembler{
		Fs:          OsFilesystem{},
		Asm:         UnknownPlatformAssembler{},
		PathToDump:  addSlash(pathToDump),
		PathToPatch: pathToPatch,
		logger:      opts.helper(),
	}
}

// Decode runs the pipeline over a parsed file: writes build.bin and
// llvm.bin/spirv.bin, renders PTM.txt, and dumps every kernel's heaps. A
// missing device binary section is fatal and already surfaced by Parse.
func (d *Disassembler) Decode(file *File) error {
	if d.PathToPatch == "" {
		d.logger.Warnf("Path to patch list not provided - using defaults, skipping patchtokens as undefined.")
	}
	schema, err := ParseSchema(d.Fs, d.PathToPatch, d.logger)
	if err != nil {
		return err
	}

	if file.Options != nil {
		if err := d.Fs.WriteFile(d.PathToDump+"build.bin", file.Options); err != nil {
			return err
		}
	}
	if file.Ir != nil {
		irName := "llvm.bin"
		if file.IrIsSpirv {
			irName = "spirv.bin"
		}
		if err := d.Fs.WriteFile(d.PathToDump+irName, file.Ir); err != nil {
			return err
		}
	}

	if file.Program == nil {
		return ErrNoDeviceBinary
	}

	ptm, err := schema.RenderProgram(file.Program, d.logger)
	if err != nil {
		return err
	}
	if err := d.Fs.WriteFile(d.PathToDump+"PTM.txt", []byte(ptm)); err != nil {
		return err
	}

	for i := range file.Program.Kernels {
		if err := d.dumpKernelFiles(&file.Program.Kernels[i]); err != nil {
			return err
		}
	}
	return nil
}

// dumpKernelFiles writes the ISA and state heaps of one kernel. The ISA is
// additionally disassembled to .asm when the platform is known, else kept as
// a .dat copy so re-assembly always has an input.
func (d *Disassembler) dumpKernelFiles(kernel *DecodedKernel) error {
	name := kernel.KernelName()

	if err := d.Fs.WriteFile(d.PathToDump+name+"_KernelHeap.bin", kernel.Isa); err != nil {
		return err
	}

	disassembled := false
	if d.Asm.IsKnownPlatform() {
		if text, err := d.Asm.Disassemble(kernel.Isa); err == nil {
			if err := d.Fs.WriteFile(d.PathToDump+name+"_KernelHeap.asm", []byte(text)); err != nil {
				return err
			}
			disassembled = true
		} else {
			d.logger.Warnf("Could not disassemble kernel %s: %v", name, err)
		}
	}
	if !disassembled {
		if err := d.Fs.WriteFile(d.PathToDump+name+"_KernelHeap.dat", kernel.Isa); err != nil {
			return err
		}
	}

	if kernel.Header.GeneralStateHeapSize != 0 {
		d.logger.Warnf("GeneralStateHeapSize wasn't 0.")
		if err := d.Fs.WriteFile(d.PathToDump+name+"_GeneralStateHeap.bin", kernel.Heaps.GeneralState); err != nil {
			return err
		}
	}
	if err := d.Fs.WriteFile(d.PathToDump+name+"_DynamicStateHeap.bin", kernel.Heaps.DynamicState); err != nil {
		return err
	}
	return d.Fs.WriteFile(d.PathToDump+name+"_SurfaceStateHeap.bin", kernel.Heaps.SurfaceState)
}
