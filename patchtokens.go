// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

// MagicCL is the program binary header magic ("CTNI" on disk).
const MagicCL uint32 = 0x494E5443

// ProgramBinaryHeader is the 28-byte header that opens a device binary.
type ProgramBinaryHeader struct {
	Magic                 uint32
	Version               uint32
	Device                uint32
	GPUPointerSizeInBytes uint32
	NumberOfKernels       uint32
	SteppingId            uint32
	PatchListSize         uint32
}

// KernelBinaryHeader is the 40-byte header that opens every kernel record.
// CheckSum covers everything after the header; KernelHeapSize is the padded
// ISA size while KernelUnpaddedSize keeps the original.
type KernelBinaryHeader struct {
	CheckSum             uint32
	ShaderHashCode       uint64
	KernelNameSize       uint32
	PatchListSize        uint32
	KernelHeapSize       uint32
	GeneralStateHeapSize uint32
	DynamicStateHeapSize uint32
	SurfaceStateHeapSize uint32
	KernelUnpaddedSize   uint32
}

// Sizes fixed by the binary format.
const (
	ProgramBinaryHeaderSize = 28
	KernelBinaryHeaderSize  = 40
	PatchItemHeaderSize     = 8
)

// Token identifies a patch token record.
type Token uint32

// Patch tokens, in their declaration order in the patch list headers.
const (
	TokenUnknown                                               Token = iota // 0 - (Unused)
	TokenMediaStatePointers                                                 // 1 - (Unused)
	TokenStateSIP                                                           // 2
	TokenCsUrbState                                                         // 3 - (Unused)
	TokenConstantBuffer                                                     // 4 - (Unused)
	TokenSamplerStateArray                                                  // 5
	TokenInterfaceDescriptor                                                // 6 - (Unused)
	TokenVfeState                                                           // 7 - (Unused)
	TokenBindingTableState                                                  // 8
	TokenAllocateScratchSurface                                             // 9 - (Unused)
	TokenAllocateSipSurface                                                 // 10
	TokenGlobalMemoryObjectKernelArgument                                   // 11
	TokenImageMemoryObjectKernelArgument                                    // 12
	TokenConstantMemoryObjectKernelArgument                                 // 13 - (Unused)
	TokenAllocateSurfaceWithInitialization                                  // 14 - (Unused)
	TokenAllocateLocalSurface                                               // 15
	TokenSamplerKernelArgument                                              // 16
	TokenDataParameterBuffer                                                // 17
	TokenMediaVfeState                                                      // 18
	TokenMediaInterfaceDescriptorLoad                                       // 19
	TokenMediaCurbeLoad                                                     // 20 - (Unused)
	TokenInterfaceDescriptorData                                            // 21
	TokenThreadPayload                                                      // 22
	TokenExecutionEnvironment                                               // 23
	TokenAllocatePrivateMemory                                              // 24 - (Unused)
	TokenDataParameterStream                                                // 25
	TokenKernelArgumentInfo                                                 // 26
	TokenKernelAttributesInfo                                               // 27
	TokenString                                                             // 28
	TokenAllocatePrintfSurface                                              // 29 - (Unused)
	TokenStatelessGlobalMemoryObjectKernelArgument                          // 30
	TokenStatelessConstantMemoryObjectKernelArgument                        // 31
	TokenAllocateStatelessSurfaceWithInitialization                         // 32 - (Unused)
	TokenAllocateStatelessPrintfSurface                                     // 33
	TokenCbMapping                                                          // 34 - (Unused)
	TokenCb2crGatherTable                                                   // 35 - (Unused)
	TokenAllocateStatelessEventPoolSurface                                  // 36
	TokenNullSurfaceLocation                                                // 37 - (Unused)
	TokenAllocateStatelessPrivateMemory                                     // 38
	TokenAllocateConstantMemorySurfaceWithInitialization                    // 39 - (Unused)
	TokenAllocateGlobalMemorySurfaceWithInitialization                      // 40 - (Unused)
	TokenAllocateGlobalMemorySurfaceProgramBinaryInfo                       // 41
	TokenAllocateConstantMemorySurfaceProgramBinaryInfo                     // 42
	TokenAllocateStatelessGlobalMemorySurfaceWithInitialization             // 43
	TokenAllocateStatelessConstantMemorySurfaceWithInitialization           // 44
	TokenAllocateStatelessDefaultDeviceQueueSurface                         // 45
	TokenStatelessDeviceQueueKernelArgument                                 // 46
	TokenGlobalPointerProgramBinaryInfo                                     // 47
	TokenConstantPointerProgramBinaryInfo                                   // 48
	TokenConstructorDestructorKernelProgramBinaryInfo                       // 49 - (Unused)
	TokenInlineVmeSamplerInfo                                               // 50
	TokenGtpinFreeGrfInfo                                                   // 51
	TokenGtpinInfo                                                          // 52
	TokenProgramSymbolTable                                                 // 53
	TokenProgramRelocationTable                                             // 54
	TokenMediaVfeStateSlot1                                                 // 55
	TokenAllocateSyncBuffer                                                 // 56

	NumPatchTokens
)

// DataParameterType identifies the sub-type of a data-parameter buffer token.
type DataParameterType uint32

// Data-parameter sub-types, in declaration order.
const (
	DataParameterTokenUnknown                           DataParameterType = iota // 0
	DataParameterKernelArgument                                                  // 1
	DataParameterLocalWorkSize                                                   // 2
	DataParameterGlobalWorkSize                                                  // 3
	DataParameterNumWorkGroups                                                   // 4
	DataParameterWorkDimensions                                                  // 5
	DataParameterLocalMemoryStatelessWindowSize                                  // 6
	DataParameterLocalMemoryStatelessWindowStartAddress                          // 7
	DataParameterNumHardwareThreads                                              // 8
	DataParameterPrintfSurfaceSize                                               // 9
	DataParameterImageWidth                                                      // 10
	DataParameterImageHeight                                                     // 11
	DataParameterImageDepth                                                      // 12
	DataParameterImageChannelDataType                                            // 13
	DataParameterImageChannelOrder                                               // 14
	DataParameterSamplerAddressMode                                              // 15
	DataParameterSamplerNormalizedCoords                                         // 16
	DataParameterGlobalWorkOffset                                                // 17
	DataParameterSamplerCoordinateSnapWaRequired                                 // 18
	DataParameterImageArraySize                                                  // 19
	DataParameterEnqueuedLocalWorkSize                                           // 20
	DataParameterMaxWorkgroupSize                                                // 21
	DataParameterObjectId                                                        // 22
	DataParameterVmeMbBlockType                                                  // 23
	DataParameterVmeSubpixelMode                                                 // 24
	DataParameterVmeSadAdjustMode                                                // 25
	DataParameterVmeSearchPathType                                               // 26
	DataParameterImageNumSamples                                                 // 27
	DataParameterSimdSize                                                        // 28
	DataParameterParentEvent                                                     // 29
	DataParameterVmeImageType                                                    // 30
	DataParameterVmeMbSkipBlockType                                              // 31
	DataParameterImageNumMipLevels                                               // 32
	DataParameterChildBlockSimdSize                                              // 33
	DataParameterPrivateMemoryStatelessSize                                      // 34
	DataParameterPreferredWorkgroupMultiple                                      // 35
	DataParameterLocalId                                                         // 36
	DataParameterExecutionMask                                                   // 37
	DataParameterSumOfLocalMemoryObjectArgumentSizes                             // 38
	DataParameterImageSrgbChannelOrder                                           // 39
	DataParameterStageInGridOrigin                                               // 40
	DataParameterStageInGridSize                                                 // 41
	DataParameterBufferOffset                                                    // 42
	DataParameterBufferStateful                                                  // 43
	DataParameterFlatImageBaseOffset                                             // 44
	DataParameterFlatImageWidth                                                  // 45
	DataParameterFlatImageHeight                                                 // 46
	DataParameterFlatImagePitch                                                  // 47
)

// PatchItem is a raw view of one patch token record. Data spans the whole
// record starting at the 8-byte (Token, Size) header; for inline-data tokens
// it also spans the trailing inline bytes.
type PatchItem struct {
	Token Token
	Size  uint32
	Data  []byte
}

// field reads the little-endian uint32 payload field at offset off within
// the record. Reads past the record yield zero; the compiler never declares
// fields past Size, so a short record means a truncated producer, not a
// decoder bug.
func (p *PatchItem) field(off int) uint32 {
	if off+4 > len(p.Data) {
		return 0
	}
	return readUnalignedU32(p.Data[off:])
}

// Payload returns the bytes after the 8-byte record header.
func (p *PatchItem) Payload() []byte {
	if len(p.Data) <= PatchItemHeaderSize {
		return nil
	}
	return p.Data[PatchItemHeaderSize:]
}

// ArgumentNumber resolves the argument number of a kernel-argument object
// token. Its offset within the payload depends on the token kind.
func (p *PatchItem) ArgumentNumber() uint32 {
	if p.Token == TokenDataParameterBuffer {
		return p.field(12)
	}
	// Every kernel-argument object token declares ArgumentNumber as its
	// first payload field.
	return p.field(8)
}

// InlineDataSize returns the trailing inline-data length carried by the two
// program-binary-info allocation tokens. It is not included in Size.
func (p *PatchItem) InlineDataSize() uint32 {
	return p.field(inlineDataSizeOffset(p.Token))
}

// hasInlineData reports whether the token carries trailing inline data past
// its declared size.
func hasInlineData(token Token) bool {
	return token == TokenAllocateConstantMemorySurfaceProgramBinaryInfo ||
		token == TokenAllocateGlobalMemorySurfaceProgramBinaryInfo
}

// inlineDataSizeOffset returns the record offset of InlineDataSize.
// SPatchAllocateConstantMemorySurfaceProgramBinaryInfo places it after a
// single index field; SPatchAllocateGlobalMemorySurfaceProgramBinaryInfo
// places it after its Type and GlobalBufferIndex fields.
func inlineDataSizeOffset(token Token) int {
	if token == TokenAllocateGlobalMemorySurfaceProgramBinaryInfo {
		return 16
	}
	return 12
}

// DataParameter is the decoded fixed prefix of a data-parameter buffer
// token.
type DataParameter struct {
	Type                DataParameterType
	ArgumentNumber      uint32
	Offset              uint32
	DataSize            uint32
	SourceOffset        uint32
	LocationIndex       uint32
	LocationIndex2      uint32
	IsEmulationArgument uint32
}

// DataParameter decodes the data-parameter prefix of the record. Valid only
// for TokenDataParameterBuffer records.
func (p *PatchItem) DataParameter() DataParameter {
	return DataParameter{
		Type:                DataParameterType(p.field(8)),
		ArgumentNumber:      p.field(12),
		Offset:              p.field(16),
		DataSize:            p.field(20),
		SourceOffset:        p.field(24),
		LocationIndex:       p.field(28),
		LocationIndex2:      p.field(32),
		IsEmulationArgument: p.field(36),
	}
}

// StringIndex returns the Index field of a TokenString record.
func (p *PatchItem) StringIndex() uint32 {
	return p.field(8)
}
