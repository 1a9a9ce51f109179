// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/oclbin/devbin/log"
)

// ISA padding constants baked into the device binary format. The compiler
// appends a fixed prefetch guard and aligns the kernel heap; re-assembly has
// to reproduce both unless explicitly disabled.
const (
	isaPaddingSizeInBytes      = 128
	kernelHeapAlignmentInBytes = 64
)

// Encoder drives the asm pipeline: PTM text plus side files back to a
// device binary and its ELF container.
type Encoder struct {
	Fs         Filesystem
	Asm        Assembler
	PathToDump string
	ElfName    string

	ignoreIsaPadding bool
	logger           *log.Helper
}

// NewEncoder wires an encoder writing the container to elfName.
func NewEncoder(pathToDump, elfName string, opts *Opts) *Encoder {
	if opts == nil {
		opts = &Opts{}
	}
	return &Encoder{
		Fs:               OsFilesystem{},
		Asm:              UnknownPlatformAssembler{},
		PathToDump:       addSlash(pathToDump),
		ElfName:          elfName,
		ignoreIsaPadding: opts.IgnoreIsaPadding,
		logger:           opts.helper(),
	}
}

// Encode runs the asm pipeline: PTM.txt to device_binary.bin, then the ELF
// container around it.
func (e *Encoder) Encode() error {
	ptmData, err := e.Fs.ReadFile(e.PathToDump + "PTM.txt")
	if err != nil {
		return fmt.Errorf("couldn't open PTM.txt: %w", err)
	}
	ptmLines := splitLines(string(ptmData))

	CalculatePatchListSizes(ptmLines, e.logger)

	deviceBinary, err := e.processBinary(ptmLines)
	if err != nil {
		return err
	}
	if err := e.Fs.WriteFile(e.PathToDump+"device_binary.bin", deviceBinary); err != nil {
		return err
	}

	return e.createElf()
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	// A trailing newline yields one empty tail line, not a PTM record.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// processBinary assembles the device binary one kernel at a time; lines
// outside kernel blocks (the program header and program-scope tokens) are
// written through directly.
func (e *Encoder) processBinary(ptmLines []string) ([]byte, error) {
	if !e.Asm.IsKnownPlatform() {
		if deviceMarker := findPos(ptmLines, "Device"); deviceMarker != len(ptmLines) {
			fields := strings.Fields(ptmLines[deviceMarker])
			if len(fields) >= 3 {
				if gfxCore, err := strconv.ParseUint(fields[2], 10, 32); err == nil {
					e.Asm.SetGfxCore(uint32(gfxCore))
				}
			}
		}
	}

	var deviceBinary bytes.Buffer
	i := 0
	for i < len(ptmLines) {
		if strings.Contains(ptmLines[i], "Kernel #") {
			i++
			if err := e.processKernel(&i, ptmLines, &deviceBinary); err != nil {
				return nil, fmt.Errorf("while processing kernel: %w", err)
			}
		} else {
			if err := writePTMLine(ptmLines[i], &deviceBinary); err != nil {
				return nil, fmt.Errorf("while writing to binary: %w", err)
			}
			i++
		}
	}
	return deviceBinary.Bytes(), nil
}

func addPadding(out *bytes.Buffer, numBytes uint32) {
	for i := uint32(0); i < numBytes; i++ {
		out.WriteByte(0)
	}
}

// processKernel consumes the PTM lines of one kernel and emits its header
// followed by the kernel blob. The checksum, the padded heap size, and the
// unpadded size in the header are recomputed, never trusted from the text.
func (e *Encoder) processKernel(line *int, ptmLines []string, deviceBinary *bytes.Buffer) error {
	kernelInfoBeginMarker := *line
	kernelInfoEndMarker := len(ptmLines)
	kernelNameMarker := len(ptmLines)
	kernelPatchtokensMarker := len(ptmLines)

	var kernelNameSizeInBinary uint32
	var kernelName string

	// Scan PTM lines for kernel info.
	for *line < len(ptmLines) {
		current := ptmLines[*line]
		if strings.Contains(current, "KernelName ") {
			kernelName = current[strings.Index(current, " ")+1:]
			kernelNameMarker = *line
			kernelPatchtokensMarker = kernelNameMarker + 1 // patchtokens come after name
		} else if strings.Contains(current, "KernelNameSize") {
			fields := strings.Fields(current)
			if len(fields) >= 3 {
				v, _ := strconv.ParseUint(fields[2], 10, 32)
				kernelNameSizeInBinary = uint32(v)
			}
		} else if strings.Contains(current, "Kernel #") {
			kernelInfoEndMarker = *line
			break
		}
		*line++
	}

	var kernelBlob bytes.Buffer

	// KernelName and padding; the declared size includes the NUL.
	kernelBlob.WriteString(kernelName)
	if uint32(len(kernelName)) > kernelNameSizeInBinary {
		return fmt.Errorf("kernel name %q longer than KernelNameSize %d", kernelName, kernelNameSizeInBinary)
	}
	addPadding(&kernelBlob, kernelNameSizeInBinary-uint32(len(kernelName)))

	// KernelHeap: assemble from .asm when present, else copy .dat.
	var kernelHeapSizeUnpadded uint32
	if e.Fs.Exists(e.PathToDump + kernelName + "_KernelHeap.asm") {
		asmText, err := e.Fs.ReadFile(e.PathToDump + kernelName + "_KernelHeap.asm")
		if err != nil {
			return err
		}
		e.logger.Infof("Trying to assemble %s.asm", kernelName)
		isa, err := e.Asm.Assemble(string(asmText))
		if err != nil {
			return fmt.Errorf("could not assemble: %s: %w", kernelName, err)
		}
		kernelHeapSizeUnpadded = uint32(len(isa))
		kernelBlob.Write(isa)
	} else {
		isa, err := e.Fs.ReadFile(e.PathToDump + kernelName + "_KernelHeap.dat")
		if err != nil {
			return fmt.Errorf("cannot open %s_KernelHeap.dat: %w", kernelName, err)
		}
		kernelHeapSizeUnpadded = uint32(len(isa))
		kernelBlob.Write(isa)
	}

	kernelHeapSize := kernelHeapSizeUnpadded
	if !e.ignoreIsaPadding {
		addPadding(&kernelBlob, isaPaddingSizeInBytes)
		kernelHeapPaddedSize := kernelHeapSizeUnpadded + isaPaddingSizeInBytes
		kernelHeapSize = alignUp(kernelHeapPaddedSize, kernelHeapAlignmentInBytes)
		addPadding(&kernelBlob, kernelHeapSize-kernelHeapPaddedSize)
	}

	// GeneralStateHeap, DynamicStateHeap, SurfaceStateHeap.
	if e.Fs.Exists(e.PathToDump + kernelName + "_GeneralStateHeap.bin") {
		heap, err := e.Fs.ReadFile(e.PathToDump + kernelName + "_GeneralStateHeap.bin")
		if err != nil {
			return err
		}
		kernelBlob.Write(heap)
	}
	for _, heapName := range []string{"_DynamicStateHeap.bin", "_SurfaceStateHeap.bin"} {
		heap, err := e.Fs.ReadFile(e.PathToDump + kernelName + heapName)
		if err != nil {
			return fmt.Errorf("cannot open %s%s: %w", kernelName, heapName, err)
		}
		kernelBlob.Write(heap)
	}

	// Kernel patchtokens.
	for i := kernelPatchtokensMarker; i < kernelInfoEndMarker; i++ {
		if err := writePTMLine(ptmLines[i], &kernelBlob); err != nil {
			return fmt.Errorf("while writing to binary: %w", err)
		}
	}

	calcCheckSum := KernelChecksum(kernelBlob.Bytes())

	// Kernel header, with the computed checksum and heap sizes substituted.
	var tmp [4]byte
	for i := kernelInfoBeginMarker; i < kernelNameMarker; i++ {
		switch {
		case strings.Contains(ptmLines[i], "CheckSum"):
			binary.LittleEndian.PutUint32(tmp[:], calcCheckSum)
			deviceBinary.Write(tmp[:])
		case strings.Contains(ptmLines[i], "KernelHeapSize"):
			binary.LittleEndian.PutUint32(tmp[:], kernelHeapSize)
			deviceBinary.Write(tmp[:])
		case strings.Contains(ptmLines[i], "KernelUnpaddedSize"):
			binary.LittleEndian.PutUint32(tmp[:], kernelHeapSizeUnpadded)
			deviceBinary.Write(tmp[:])
		default:
			if err := writePTMLine(ptmLines[i], deviceBinary); err != nil {
				return fmt.Errorf("while writing to binary: %w", err)
			}
		}
	}

	// Kernel blob after the header.
	deviceBinary.Write(kernelBlob.Bytes())
	return nil
}

// createElf packages build options, IR, and the freshly written device
// binary into an OPENCL_EXECUTABLE container. Missing options or IR only
// warn; a missing device binary is fatal.
func (e *Encoder) createElf() error {
	writer := NewElfWriter(ElfTypeOpenCLExecutable, 0, 0)

	if e.Fs.Exists(e.PathToDump + "build.bin") {
		data, err := e.Fs.ReadFile(e.PathToDump + "build.bin")
		if err != nil {
			return err
		}
		writer.AddSection(ElfSectionTypeOpenCLOptions, 0, "BuildOptions", data)
	} else {
		e.logger.Warnf("Missing build section.")
	}

	if e.Fs.Exists(e.PathToDump + "llvm.bin") {
		data, err := e.Fs.ReadFile(e.PathToDump + "llvm.bin")
		if err != nil {
			return err
		}
		writer.AddSection(ElfSectionTypeOpenCLLLVMBinary, 0, "Intel(R) OpenCL LLVM Object", data)
	} else if e.Fs.Exists(e.PathToDump + "spirv.bin") {
		data, err := e.Fs.ReadFile(e.PathToDump + "spirv.bin")
		if err != nil {
			return err
		}
		writer.AddSection(ElfSectionTypeSpirv, 0, "SPIRV Object", data)
	} else {
		e.logger.Warnf("Missing llvm/spirv section.")
	}

	if !e.Fs.Exists(e.PathToDump + "device_binary.bin") {
		return fmt.Errorf("missing device_binary.bin")
	}
	data, err := e.Fs.ReadFile(e.PathToDump + "device_binary.bin")
	if err != nil {
		return err
	}
	writer.AddSection(ElfSectionTypeOpenCLDevBinary, 0, "Intel(R) OpenCL Device Binary", data)

	return e.Fs.WriteFile(e.ElfName, writer.Resolve())
}
