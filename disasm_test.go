// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"bytes"
	"testing"
)

// wrapInElf packages a device binary the way the offline compiler does.
func wrapInElf(deviceBinary []byte, spirv bool) []byte {
	writer := NewElfWriter(ElfTypeOpenCLExecutable, 0, 0)
	writer.AddSection(ElfSectionTypeOpenCLOptions, 0, "BuildOptions", []byte("-cl-std=CL2.0"))
	if spirv {
		writer.AddSection(ElfSectionTypeSpirv, 0, "SPIRV Object", []byte{0x03, 0x02, 0x23, 0x07})
	} else {
		writer.AddSection(ElfSectionTypeOpenCLLLVMBinary, 0, "Intel(R) OpenCL LLVM Object", []byte("BC\xc0\xde"))
	}
	writer.AddSection(ElfSectionTypeOpenCLDevBinary, 0, "Intel(R) OpenCL Device Binary", deviceBinary)
	return writer.Resolve()
}

func newTestDisassembler(fs *MemFilesystem, pathToPatch string) *Disassembler {
	d := NewDisassembler("dump", pathToPatch, &Opts{Quiet: true})
	d.Fs = fs
	return d
}

func TestDisasmSideFiles(t *testing.T) {
	isa := []byte{1, 2, 3, 4}
	kernel := buildKernelFull("ExampleKernel", 14, isa,
		[]byte{0xAA}, []byte{0xBB, 0xBB}, []byte{0xCC}, nil)
	blob := wrapInElf(buildProgram(nil, kernel), false)

	file, err := NewBytes(blob, &Opts{Quiet: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	defer file.Close()
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed, reason: %v", err)
	}

	fs := NewMemFilesystem()
	d := newTestDisassembler(fs, "")
	if err := d.Decode(file); err != nil {
		t.Fatalf("Decode failed, reason: %v", err)
	}

	tests := []struct {
		path string
		data []byte
	}{
		{"dump/build.bin", []byte("-cl-std=CL2.0")},
		{"dump/llvm.bin", []byte("BC\xc0\xde")},
		{"dump/ExampleKernel_KernelHeap.bin", isa},
		{"dump/ExampleKernel_KernelHeap.dat", isa},
		{"dump/ExampleKernel_GeneralStateHeap.bin", []byte{0xAA}},
		{"dump/ExampleKernel_DynamicStateHeap.bin", []byte{0xBB, 0xBB}},
		{"dump/ExampleKernel_SurfaceStateHeap.bin", []byte{0xCC}},
	}
	for _, tt := range tests {
		data, err := fs.ReadFile(tt.path)
		if err != nil {
			t.Errorf("side file %s not written", tt.path)
			continue
		}
		if !bytes.Equal(data, tt.data) {
			t.Errorf("side file %s = % x, want % x", tt.path, data, tt.data)
		}
	}

	ptm, err := fs.ReadFile("dump/PTM.txt")
	if err != nil {
		t.Fatalf("PTM.txt not written")
	}
	if !bytes.Contains(ptm, []byte("KernelName ExampleKernel")) {
		t.Errorf("PTM.txt does not mention the kernel:\n%s", ptm)
	}
}

func TestDisasmSpirvSideFile(t *testing.T) {
	kernel := buildKernel("k", 2, nil, nil)
	blob := wrapInElf(buildProgram(nil, kernel), true)

	file, err := NewBytes(blob, &Opts{Quiet: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	defer file.Close()
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed, reason: %v", err)
	}

	fs := NewMemFilesystem()
	d := newTestDisassembler(fs, "")
	if err := d.Decode(file); err != nil {
		t.Fatalf("Decode failed, reason: %v", err)
	}

	if !fs.Exists("dump/spirv.bin") {
		t.Errorf("spirv.bin not written")
	}
	if fs.Exists("dump/llvm.bin") {
		t.Errorf("llvm.bin written for a SPIR-V container")
	}
}

func TestParseMissingDeviceBinarySection(t *testing.T) {
	writer := NewElfWriter(ElfTypeOpenCLExecutable, 0, 0)
	writer.AddSection(ElfSectionTypeOpenCLOptions, 0, "BuildOptions", []byte("-g"))
	blob := writer.Resolve()

	file, err := NewBytes(blob, &Opts{Quiet: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	defer file.Close()

	if err := file.Parse(); err != ErrNoDeviceBinary {
		t.Errorf("Parse = %v, want ErrNoDeviceBinary", err)
	}
}

func TestParseFlagsChecksumAnomaly(t *testing.T) {
	kernel := buildKernel("k", 2, nil, nil)
	deviceBinary := buildProgram(nil, kernel)
	// Corrupt the stored kernel checksum.
	deviceBinary[ProgramBinaryHeaderSize] ^= 0xFF
	blob := wrapInElf(deviceBinary, false)

	file, err := NewBytes(blob, &Opts{Quiet: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	defer file.Close()
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed, reason: %v", err)
	}

	if len(file.Anomalies) == 0 {
		t.Errorf("corrupted checksum produced no anomaly")
	}
}

func TestDisasmAsmRoundTrip(t *testing.T) {
	// A program with a program-scope inline-data token, an unidentified
	// token, and a kernel with ISA plus kernel-scope tokens has to survive
	// disasm followed by asm bit for bit (padding disabled, the input is
	// already padded the way the compiler left it).
	constantToken := buildToken(TokenAllocateConstantMemorySurfaceProgramBinaryInfo, 16, 0, 6)
	inline := []byte{9, 8, 7, 6, 5, 4}
	programPatchList := append(constantToken, inline...)

	var kernelPatchList []byte
	kernelPatchList = append(kernelPatchList, buildToken(TokenMediaInterfaceDescriptorLoad, 12, 0)...)
	kernelPatchList = append(kernelPatchList, buildToken(Token(201), 20, 0x11, 0x22, 0x33)...)
	kernelPatchList = append(kernelPatchList, dataParameterToken(DataParameterSimdSize, 0, 0)...)

	isa := []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	kernel := buildKernelFull("ExampleKernel", 14, isa, nil, []byte{0xBB}, []byte{0xCC}, kernelPatchList)
	deviceBinary := buildProgram(programPatchList, kernel)
	blob := wrapInElf(deviceBinary, false)

	file, err := NewBytes(blob, &Opts{Quiet: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	defer file.Close()
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed, reason: %v", err)
	}

	fs := testPatchFs()
	d := newTestDisassembler(fs, "patch")
	if err := d.Decode(file); err != nil {
		t.Fatalf("Decode failed, reason: %v", err)
	}

	e := newTestEncoder(fs, &Opts{Quiet: true, IgnoreIsaPadding: true})
	if err := e.Encode(); err != nil {
		t.Fatalf("Encode failed, reason: %v", err)
	}

	reassembled, err := fs.ReadFile("dump/device_binary.bin")
	if err != nil {
		t.Fatalf("device_binary.bin not written")
	}
	if !bytes.Equal(reassembled, deviceBinary) {
		t.Errorf("round-tripped device binary differs from the original (%d vs %d bytes)",
			len(reassembled), len(deviceBinary))
	}

	out, err := fs.ReadFile("out.bin")
	if err != nil {
		t.Fatalf("out.bin not written")
	}
	container, err := ParseElf(out)
	if err != nil {
		t.Fatalf("round-tripped container does not parse, reason: %v", err)
	}
	section := container.SectionByType(ElfSectionTypeOpenCLDevBinary)
	if section == nil || !bytes.Equal(section.Data, deviceBinary) {
		t.Errorf("round-tripped container carries a different device binary")
	}
}
