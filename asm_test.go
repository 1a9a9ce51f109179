// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"bytes"
	"testing"
)

const asmTestPTM = "ProgramBinaryHeader:\n" +
	"\t4 Magic 1229870147\n" +
	"\t4 Version 1095\n" +
	"\t4 Device 12\n" +
	"\t4 GPUPointerSizeInBytes 8\n" +
	"\t4 NumberOfKernels 1\n" +
	"\t4 SteppingId 0\n" +
	"\t4 PatchListSize 0\n" +
	"Kernel #0\n" +
	"KernelBinaryHeader:\n" +
	"\t4 CheckSum 0\n" +
	"\t8 ShaderHashCode 0\n" +
	"\t4 KernelNameSize 14\n" +
	"\t4 PatchListSize 0\n" +
	"\t4 KernelHeapSize 0\n" +
	"\t4 GeneralStateHeapSize 0\n" +
	"\t4 DynamicStateHeapSize 0\n" +
	"\t4 SurfaceStateHeapSize 0\n" +
	"\t4 KernelUnpaddedSize 0\n" +
	"\tKernelName ExampleKernel\n"

func asmTestFs(isa []byte) *MemFilesystem {
	fs := NewMemFilesystem()
	fs.WriteFile("dump/PTM.txt", []byte(asmTestPTM))
	fs.WriteFile("dump/ExampleKernel_KernelHeap.dat", isa)
	fs.WriteFile("dump/ExampleKernel_DynamicStateHeap.bin", nil)
	fs.WriteFile("dump/ExampleKernel_SurfaceStateHeap.bin", nil)
	return fs
}

func newTestEncoder(fs *MemFilesystem, opts *Opts) *Encoder {
	e := NewEncoder("dump", "out.bin", opts)
	e.Fs = fs
	return e
}

func TestEncodeIsaPadding(t *testing.T) {
	isa := make([]byte, 16)
	for i := range isa {
		isa[i] = byte(i + 1)
	}
	fs := asmTestFs(isa)

	e := newTestEncoder(fs, &Opts{Quiet: true})
	if err := e.Encode(); err != nil {
		t.Fatalf("Encode failed, reason: %v", err)
	}

	deviceBinary, err := fs.ReadFile("dump/device_binary.bin")
	if err != nil {
		t.Fatalf("device_binary.bin not written: %v", err)
	}

	program, err := DecodeProgram(deviceBinary, testLogger())
	if err != nil {
		t.Fatalf("re-decoding assembled binary failed, reason: %v", err)
	}

	k := &program.Kernels[0]
	// 16 bytes of ISA + 128 bytes of prefetch padding, aligned up to 64.
	if k.Header.KernelHeapSize != 192 {
		t.Errorf("KernelHeapSize = %d, want 192", k.Header.KernelHeapSize)
	}
	if k.Header.KernelUnpaddedSize != 16 {
		t.Errorf("KernelUnpaddedSize = %d, want 16", k.Header.KernelUnpaddedSize)
	}
	if !bytes.Equal(k.Isa[:16], isa) {
		t.Errorf("ISA bytes were not copied verbatim")
	}
	for i, b := range k.Isa[16:] {
		if b != 0 {
			t.Errorf("padding byte %d = %#x, want 0", 16+i, b)
			break
		}
	}
}

func TestEncodeChecksumRecomputation(t *testing.T) {
	fs := asmTestFs([]byte{1, 2, 3, 4})

	e := newTestEncoder(fs, &Opts{Quiet: true})
	if err := e.Encode(); err != nil {
		t.Fatalf("Encode failed, reason: %v", err)
	}

	deviceBinary, _ := fs.ReadFile("dump/device_binary.bin")
	program, err := DecodeProgram(deviceBinary, testLogger())
	if err != nil {
		t.Fatalf("re-decoding assembled binary failed, reason: %v", err)
	}

	k := &program.Kernels[0]
	if k.Header.CheckSum == 0 {
		t.Errorf("checksum was not recomputed")
	}
	if k.HasInvalidChecksum() {
		t.Errorf("recomputed checksum does not match the kernel blob")
	}
}

func TestEncodeIgnoreIsaPadding(t *testing.T) {
	fs := asmTestFs([]byte{1, 2, 3, 4})

	e := newTestEncoder(fs, &Opts{Quiet: true, IgnoreIsaPadding: true})
	if err := e.Encode(); err != nil {
		t.Fatalf("Encode failed, reason: %v", err)
	}

	deviceBinary, _ := fs.ReadFile("dump/device_binary.bin")
	program, err := DecodeProgram(deviceBinary, testLogger())
	if err != nil {
		t.Fatalf("re-decoding assembled binary failed, reason: %v", err)
	}
	if got := program.Kernels[0].Header.KernelHeapSize; got != 4 {
		t.Errorf("KernelHeapSize = %d, want 4 (padding disabled)", got)
	}
}

func TestEncodeProducesExecutableElf(t *testing.T) {
	fs := asmTestFs([]byte{1, 2, 3, 4})
	fs.WriteFile("dump/build.bin", []byte("-cl-std=CL1.2"))
	fs.WriteFile("dump/llvm.bin", []byte("BC\xc0\xde"))

	e := newTestEncoder(fs, &Opts{Quiet: true})
	if err := e.Encode(); err != nil {
		t.Fatalf("Encode failed, reason: %v", err)
	}

	elfData, err := fs.ReadFile("out.bin")
	if err != nil {
		t.Fatalf("out.bin not written: %v", err)
	}
	container, err := ParseElf(elfData)
	if err != nil {
		t.Fatalf("assembled container does not parse, reason: %v", err)
	}
	if container.Header.Type != ElfTypeOpenCLExecutable {
		t.Errorf("container type = %#x, want OPENCL_EXECUTABLE", container.Header.Type)
	}

	deviceBinary, _ := fs.ReadFile("dump/device_binary.bin")
	section := container.SectionByType(ElfSectionTypeOpenCLDevBinary)
	if section == nil {
		t.Fatalf("device binary section missing from container")
	}
	if !bytes.Equal(section.Data, deviceBinary) {
		t.Errorf("container device binary differs from device_binary.bin")
	}
	if opt := container.SectionByType(ElfSectionTypeOpenCLOptions); opt == nil ||
		!bytes.Equal(opt.Data, []byte("-cl-std=CL1.2")) {
		t.Errorf("options section missing or wrong")
	}
}

func TestEncodeMissingPTMFails(t *testing.T) {
	e := newTestEncoder(NewMemFilesystem(), &Opts{Quiet: true})
	if err := e.Encode(); err == nil {
		t.Errorf("Encode without PTM.txt succeeded")
	}
}

func TestEncodeMissingKernelHeapFails(t *testing.T) {
	fs := asmTestFs(nil)
	delete(fs.Files, "dump/ExampleKernel_KernelHeap.dat")

	e := newTestEncoder(fs, &Opts{Quiet: true})
	if err := e.Encode(); err == nil {
		t.Errorf("Encode without kernel heap input succeeded")
	}
}

type fixedAssembler struct {
	out   []byte
	calls int
}

func (a *fixedAssembler) Disassemble([]byte) (string, error) { return "", ErrUnknownPlatform }
func (a *fixedAssembler) Assemble(string) ([]byte, error) {
	a.calls++
	return a.out, nil
}
func (a *fixedAssembler) SetGfxCore(uint32)       {}
func (a *fixedAssembler) SetProductFamily(string) {}
func (a *fixedAssembler) IsKnownPlatform() bool   { return true }

func TestEncodePrefersAsmOverDat(t *testing.T) {
	fs := asmTestFs([]byte{0xde, 0xad})
	fs.WriteFile("dump/ExampleKernel_KernelHeap.asm", []byte("nop\n"))

	assembler := &fixedAssembler{out: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	e := newTestEncoder(fs, &Opts{Quiet: true, IgnoreIsaPadding: true})
	e.Asm = assembler

	if err := e.Encode(); err != nil {
		t.Fatalf("Encode failed, reason: %v", err)
	}
	if assembler.calls != 1 {
		t.Fatalf("assembler invoked %d times, want 1", assembler.calls)
	}

	deviceBinary, _ := fs.ReadFile("dump/device_binary.bin")
	program, err := DecodeProgram(deviceBinary, testLogger())
	if err != nil {
		t.Fatalf("re-decoding assembled binary failed, reason: %v", err)
	}
	if !bytes.Equal(program.Kernels[0].Isa, assembler.out) {
		t.Errorf("kernel heap = % x, want assembler output", program.Kernels[0].Isa)
	}
}
