// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

// DecodeStatus tracks the outcome of a program or kernel decode. The status
// is monotone: once InvalidBinary is set it is never cleared.
type DecodeStatus int

// Decode outcomes.
const (
	DecodeUndefined DecodeStatus = iota
	DecodeSuccess
	DecodeInvalidBinary
)

// String implements fmt.Stringer.
func (s DecodeStatus) String() string {
	switch s {
	case DecodeSuccess:
		return "Success"
	case DecodeInvalidBinary:
		return "InvalidBinary"
	}
	return "Undefined"
}

// ArgObjectType classifies a kernel argument by the object it binds.
type ArgObjectType int

// Kernel argument object types.
const (
	ArgObjectNone ArgObjectType = iota
	ArgObjectBuffer
	ArgObjectImage
	ArgObjectSampler
	ArgObjectSlm
)

// ArgObjectTypeSpecialized refines an argument with a specialized sampler
// mode.
type ArgObjectTypeSpecialized int

// Specialized argument object types.
const (
	ArgObjectSpecializedNone ArgObjectTypeSpecialized = iota
	ArgObjectSpecializedVme
)

// BufferArgMetadata holds buffer-specific data-parameter tokens.
type BufferArgMetadata struct {
	BufferOffset *PatchItem
	PureStateful *PatchItem
}

// ImageArgMetadata holds image-specific data-parameter tokens.
type ImageArgMetadata struct {
	Width           *PatchItem
	Height          *PatchItem
	Depth           *PatchItem
	ChannelDataType *PatchItem
	ChannelOrder    *PatchItem
	ArraySize       *PatchItem
	NumSamples      *PatchItem
	NumMipLevels    *PatchItem
	FlatBaseOffset  *PatchItem
	FlatWidth       *PatchItem
	FlatHeight      *PatchItem
	FlatPitch       *PatchItem
}

// SamplerArgMetadata holds sampler-specific data-parameter tokens.
type SamplerArgMetadata struct {
	CoordinateSnapWaRequired *PatchItem
	AddressMode              *PatchItem
	NormalizedCoords         *PatchItem
}

// SlmArgMetadata holds the shared-local-memory size token.
type SlmArgMetadata struct {
	Token *PatchItem
}

// VmeArgMetadata holds VME-specialized data-parameter tokens.
type VmeArgMetadata struct {
	MbBlockType    *PatchItem
	SubpixelMode   *PatchItem
	SadAdjustMode  *PatchItem
	SearchPathType *PatchItem
}

// KernelArg aggregates everything decoded about a single kernel argument,
// addressed by its dense argument number.
type KernelArg struct {
	ObjectType            ArgObjectType
	ObjectTypeSpecialized ArgObjectTypeSpecialized

	ArgInfo   *PatchItem
	ObjectArg *PatchItem
	ObjectId  *PatchItem
	ByValMap  []*PatchItem

	Buffer  BufferArgMetadata
	Image   ImageArgMetadata
	Sampler SamplerArgMetadata
	Slm     SlmArgMetadata
	Vme     VmeArgMetadata
}

// CrossThreadPayload collects kernel-scope data parameters patched into the
// cross-thread data block at enqueue time. Work-item vectors are indexed by
// SourceOffset >> 2.
type CrossThreadPayload struct {
	LocalWorkSize         [3]*PatchItem
	LocalWorkSize2        [3]*PatchItem
	EnqueuedLocalWorkSize [3]*PatchItem
	NumWorkGroups         [3]*PatchItem
	GlobalWorkOffset      [3]*PatchItem
	GlobalWorkSize        [3]*PatchItem

	MaxWorkGroupSize                       *PatchItem
	WorkDimensions                         *PatchItem
	SimdSize                               *PatchItem
	ParentEvent                            *PatchItem
	PreferredWorkgroupMultiple             *PatchItem
	PrivateMemoryStatelessSize             *PatchItem
	LocalMemoryStatelessWindowSize         *PatchItem
	LocalMemoryStatelessWindowStartAddress *PatchItem
	ChildBlockSimdSize                     []*PatchItem
}

// KernelTokens is the bag of recognized kernel-scope tokens, one named slot
// per token kind.
type KernelTokens struct {
	SamplerStateArray            *PatchItem
	BindingTableState            *PatchItem
	AllocateLocalSurface         *PatchItem
	MediaVfeState                [2]*PatchItem
	MediaInterfaceDescriptorLoad *PatchItem
	InterfaceDescriptorData      *PatchItem
	ThreadPayload                *PatchItem
	ExecutionEnvironment         *PatchItem
	DataParameterStream          *PatchItem
	KernelAttributesInfo         *PatchItem

	AllocateStatelessPrivateSurface                          *PatchItem
	AllocateStatelessConstantMemorySurfaceWithInitialization *PatchItem
	AllocateStatelessGlobalMemorySurfaceWithInitialization   *PatchItem
	AllocateStatelessPrintfSurface                           *PatchItem
	AllocateStatelessEventPoolSurface                        *PatchItem
	AllocateStatelessDefaultDeviceQueueSurface               *PatchItem
	AllocateSyncBuffer                                       *PatchItem
	AllocateSystemThreadSurface                              *PatchItem

	InlineVmeSamplerInfo   *PatchItem
	GtpinFreeGrfInfo       *PatchItem
	GtpinInfo              *PatchItem
	StateSip               *PatchItem
	ProgramSymbolTable     *PatchItem
	ProgramRelocationTable *PatchItem

	Strings []*PatchItem

	KernelArgs             []KernelArg
	CrossThreadPayloadArgs CrossThreadPayload
}

// KernelBlobs keeps views into the input for round-tripping.
type KernelBlobs struct {
	// KernelInfo spans header + name + heaps + patch list.
	KernelInfo []byte
	PatchList  []byte
}

// KernelHeaps are views of the three state heaps. The ISA heap is kept in
// DecodedKernel.Isa.
type KernelHeaps struct {
	GeneralState []byte
	DynamicState []byte
	SurfaceState []byte
}

// DecodedKernel is the aggregated model for one kernel record.
type DecodedKernel struct {
	Header KernelBinaryHeader
	Name   []byte
	Isa    []byte
	Heaps  KernelHeaps
	Blobs  KernelBlobs

	Tokens          KernelTokens
	UnhandledTokens []*PatchItem
	DecodeStatus    DecodeStatus
}

// KernelName returns the kernel name without its NUL padding.
func (k *DecodedKernel) KernelName() string {
	return cstring(k.Name)
}

// ProgramScopeTokens groups the program-level token families.
type ProgramScopeTokens struct {
	AllocateConstantMemorySurface []*PatchItem
	AllocateGlobalMemorySurface   []*PatchItem
	ConstantPointer               []*PatchItem
	GlobalPointer                 []*PatchItem
	SymbolTable                   *PatchItem
}

// ProgramBlobs keeps views into the input for round-tripping.
type ProgramBlobs struct {
	ProgramInfo []byte
	PatchList   []byte
	KernelsInfo []byte
}

// DecodedProgram is the full in-memory model of a device binary. Token
// payloads are views into the input slice, which the caller must keep alive
// for the model's lifetime.
type DecodedProgram struct {
	Header  ProgramBinaryHeader
	Kernels []DecodedKernel
	Blobs   ProgramBlobs

	ProgramScopeTokens ProgramScopeTokens
	UnhandledTokens    []*PatchItem
	DecodeStatus       DecodeStatus
}

// decodeContext distinguishes program- from kernel-scope walks; inline-data
// tokens grow their total size only at program scope.
type decodeContext int

const (
	programScope decodeContext = iota
	kernelScope
)

func (k *DecodedKernel) getKernelArg(argNum uint32, objectType ArgObjectType,
	specialized ArgObjectTypeSpecialized) *KernelArg {
	args := &k.Tokens.KernelArgs
	for uint32(len(*args)) < argNum+1 {
		*args = append(*args, KernelArg{})
	}
	arg := &(*args)[argNum]
	if arg.ObjectType == ArgObjectNone {
		arg.ObjectType = objectType
	} else if arg.ObjectType != objectType && objectType != ArgObjectNone {
		k.DecodeStatus = DecodeInvalidBinary
	}

	if arg.ObjectTypeSpecialized == ArgObjectSpecializedNone {
		arg.ObjectTypeSpecialized = specialized
	} else if specialized != ArgObjectSpecializedNone &&
		arg.ObjectTypeSpecialized != specialized {
		// A compiler never re-specializes an argument; only a decoder defect
		// can get here.
		panic("mismatched specialized metadata for kernel argument")
	}
	return arg
}

func (k *DecodedKernel) assignArg(item *PatchItem) {
	objectType := ArgObjectBuffer
	switch item.Token {
	case TokenSamplerKernelArgument:
		objectType = ArgObjectSampler
	case TokenImageMemoryObjectKernelArgument:
		objectType = ArgObjectImage
	case TokenGlobalMemoryObjectKernelArgument,
		TokenStatelessGlobalMemoryObjectKernelArgument,
		TokenStatelessConstantMemoryObjectKernelArgument,
		TokenStatelessDeviceQueueKernelArgument:
	}
	k.getKernelArg(item.ArgumentNumber(), objectType, ArgObjectSpecializedNone).ObjectArg = item
}

// assignIndexed stores item at SourceOffset>>2 within slot, routing
// out-of-range indices to the unhandled list.
func (k *DecodedKernel) assignIndexed(slot *[3]*PatchItem, item *PatchItem, dp DataParameter) {
	sourceIndex := dp.SourceOffset >> 2
	if sourceIndex >= 3 {
		k.UnhandledTokens = append(k.UnhandledTokens, item)
		return
	}
	slot[sourceIndex] = item
}

func (k *DecodedKernel) decodeDataParameterToken(item *PatchItem) {
	dp := item.DataParameter()
	crossthread := &k.Tokens.CrossThreadPayloadArgs
	argNum := dp.ArgumentNumber

	switch dp.Type {
	default:
		k.UnhandledTokens = append(k.UnhandledTokens, item)

	case DataParameterKernelArgument:
		arg := k.getKernelArg(argNum, ArgObjectNone, ArgObjectSpecializedNone)
		arg.ByValMap = append(arg.ByValMap, item)

	case DataParameterLocalWorkSize:
		sourceIndex := dp.SourceOffset >> 2
		if sourceIndex >= 3 {
			k.UnhandledTokens = append(k.UnhandledTokens, item)
			return
		}
		// Two work-size programs are supported; the second set of tokens
		// lands in the parallel array.
		if crossthread.LocalWorkSize[sourceIndex] == nil {
			crossthread.LocalWorkSize[sourceIndex] = item
		} else {
			crossthread.LocalWorkSize2[sourceIndex] = item
		}

	case DataParameterGlobalWorkOffset:
		k.assignIndexed(&crossthread.GlobalWorkOffset, item, dp)
	case DataParameterEnqueuedLocalWorkSize:
		k.assignIndexed(&crossthread.EnqueuedLocalWorkSize, item, dp)
	case DataParameterGlobalWorkSize:
		k.assignIndexed(&crossthread.GlobalWorkSize, item, dp)
	case DataParameterNumWorkGroups:
		k.assignIndexed(&crossthread.NumWorkGroups, item, dp)

	case DataParameterMaxWorkgroupSize:
		crossthread.MaxWorkGroupSize = item
	case DataParameterWorkDimensions:
		crossthread.WorkDimensions = item
	case DataParameterSimdSize:
		crossthread.SimdSize = item

	case DataParameterPrivateMemoryStatelessSize:
		crossthread.PrivateMemoryStatelessSize = item
	case DataParameterLocalMemoryStatelessWindowSize:
		crossthread.LocalMemoryStatelessWindowSize = item
	case DataParameterLocalMemoryStatelessWindowStartAddress:
		crossthread.LocalMemoryStatelessWindowStartAddress = item

	case DataParameterObjectId:
		k.getKernelArg(argNum, ArgObjectNone, ArgObjectSpecializedNone).ObjectId = item

	case DataParameterSumOfLocalMemoryObjectArgumentSizes:
		arg := k.getKernelArg(argNum, ArgObjectSlm, ArgObjectSpecializedNone)
		arg.ByValMap = append(arg.ByValMap, item)
		arg.Slm.Token = item

	case DataParameterBufferOffset:
		k.getKernelArg(argNum, ArgObjectBuffer, ArgObjectSpecializedNone).Buffer.BufferOffset = item
	case DataParameterBufferStateful:
		k.getKernelArg(argNum, ArgObjectBuffer, ArgObjectSpecializedNone).Buffer.PureStateful = item

	case DataParameterImageWidth:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.Width = item
	case DataParameterImageHeight:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.Height = item
	case DataParameterImageDepth:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.Depth = item
	case DataParameterImageChannelDataType:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.ChannelDataType = item
	case DataParameterImageChannelOrder:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.ChannelOrder = item
	case DataParameterImageArraySize:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.ArraySize = item
	case DataParameterImageNumSamples:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.NumSamples = item
	case DataParameterImageNumMipLevels:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.NumMipLevels = item
	case DataParameterFlatImageBaseOffset:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.FlatBaseOffset = item
	case DataParameterFlatImageWidth:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.FlatWidth = item
	case DataParameterFlatImageHeight:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.FlatHeight = item
	case DataParameterFlatImagePitch:
		k.getKernelArg(argNum, ArgObjectImage, ArgObjectSpecializedNone).Image.FlatPitch = item

	case DataParameterSamplerCoordinateSnapWaRequired:
		k.getKernelArg(argNum, ArgObjectSampler, ArgObjectSpecializedNone).Sampler.CoordinateSnapWaRequired = item
	case DataParameterSamplerAddressMode:
		k.getKernelArg(argNum, ArgObjectSampler, ArgObjectSpecializedNone).Sampler.AddressMode = item
	case DataParameterSamplerNormalizedCoords:
		k.getKernelArg(argNum, ArgObjectSampler, ArgObjectSpecializedNone).Sampler.NormalizedCoords = item

	case DataParameterVmeMbBlockType:
		k.getKernelArg(argNum, ArgObjectNone, ArgObjectSpecializedVme).Vme.MbBlockType = item
	case DataParameterVmeSubpixelMode:
		k.getKernelArg(argNum, ArgObjectNone, ArgObjectSpecializedVme).Vme.SubpixelMode = item
	case DataParameterVmeSadAdjustMode:
		k.getKernelArg(argNum, ArgObjectNone, ArgObjectSpecializedVme).Vme.SadAdjustMode = item
	case DataParameterVmeSearchPathType:
		k.getKernelArg(argNum, ArgObjectNone, ArgObjectSpecializedVme).Vme.SearchPathType = item

	case DataParameterParentEvent:
		crossthread.ParentEvent = item
	case DataParameterChildBlockSimdSize:
		crossthread.ChildBlockSimdSize = append(crossthread.ChildBlockSimdSize, item)
	case DataParameterPreferredWorkgroupMultiple:
		crossthread.PreferredWorkgroupMultiple = item

	case DataParameterNumHardwareThreads,
		DataParameterPrintfSurfaceSize,
		DataParameterImageSrgbChannelOrder,
		DataParameterStageInGridOrigin,
		DataParameterStageInGridSize,
		DataParameterLocalId,
		DataParameterExecutionMask,
		DataParameterVmeImageType,
		DataParameterVmeMbSkipBlockType:
		// ignored intentionally
	}
}

func (k *DecodedKernel) decodeToken(item *PatchItem, logger debugLogger) bool {
	switch item.Token {
	default:
		logger.Debugf("unknown kernel-scope patch token: %d", item.Token)
		k.UnhandledTokens = append(k.UnhandledTokens, item)

	case TokenSamplerStateArray:
		k.Tokens.SamplerStateArray = item
	case TokenBindingTableState:
		k.Tokens.BindingTableState = item
	case TokenAllocateLocalSurface:
		k.Tokens.AllocateLocalSurface = item
	case TokenMediaVfeState:
		k.Tokens.MediaVfeState[0] = item
	case TokenMediaVfeStateSlot1:
		k.Tokens.MediaVfeState[1] = item
	case TokenMediaInterfaceDescriptorLoad:
		k.Tokens.MediaInterfaceDescriptorLoad = item
	case TokenInterfaceDescriptorData:
		k.Tokens.InterfaceDescriptorData = item
	case TokenThreadPayload:
		k.Tokens.ThreadPayload = item
	case TokenExecutionEnvironment:
		k.Tokens.ExecutionEnvironment = item

	case TokenKernelAttributesInfo:
		k.Tokens.KernelAttributesInfo = item
	case TokenAllocateStatelessPrivateMemory:
		k.Tokens.AllocateStatelessPrivateSurface = item
	case TokenAllocateStatelessConstantMemorySurfaceWithInitialization:
		k.Tokens.AllocateStatelessConstantMemorySurfaceWithInitialization = item
	case TokenAllocateStatelessGlobalMemorySurfaceWithInitialization:
		k.Tokens.AllocateStatelessGlobalMemorySurfaceWithInitialization = item
	case TokenAllocateStatelessPrintfSurface:
		k.Tokens.AllocateStatelessPrintfSurface = item
	case TokenAllocateStatelessEventPoolSurface:
		k.Tokens.AllocateStatelessEventPoolSurface = item
	case TokenAllocateStatelessDefaultDeviceQueueSurface:
		k.Tokens.AllocateStatelessDefaultDeviceQueueSurface = item
	case TokenAllocateSyncBuffer:
		k.Tokens.AllocateSyncBuffer = item
	case TokenAllocateSipSurface:
		k.Tokens.AllocateSystemThreadSurface = item

	case TokenString:
		index := item.StringIndex()
		for uint32(len(k.Tokens.Strings)) < index+1 {
			k.Tokens.Strings = append(k.Tokens.Strings, nil)
		}
		k.Tokens.Strings[index] = item

	case TokenInlineVmeSamplerInfo:
		k.Tokens.InlineVmeSamplerInfo = item
	case TokenGtpinFreeGrfInfo:
		k.Tokens.GtpinFreeGrfInfo = item
	case TokenGtpinInfo:
		k.Tokens.GtpinInfo = item
	case TokenStateSIP:
		k.Tokens.StateSip = item
	case TokenProgramSymbolTable:
		k.Tokens.ProgramSymbolTable = item
	case TokenProgramRelocationTable:
		k.Tokens.ProgramRelocationTable = item

	case TokenKernelArgumentInfo:
		k.getKernelArg(item.ArgumentNumber(), ArgObjectNone, ArgObjectSpecializedNone).ArgInfo = item

	case TokenSamplerKernelArgument,
		TokenImageMemoryObjectKernelArgument,
		TokenGlobalMemoryObjectKernelArgument,
		TokenStatelessGlobalMemoryObjectKernelArgument,
		TokenStatelessConstantMemoryObjectKernelArgument,
		TokenStatelessDeviceQueueKernelArgument:
		k.assignArg(item)

	case TokenDataParameterStream:
		k.Tokens.DataParameterStream = item
	case TokenDataParameterBuffer:
		k.decodeDataParameterToken(item)
	}

	return k.DecodeStatus != DecodeInvalidBinary
}

func (p *DecodedProgram) decodeToken(item *PatchItem, logger debugLogger) bool {
	progTok := &p.ProgramScopeTokens
	switch item.Token {
	default:
		logger.Debugf("unknown program-scope patch token: %d", item.Token)
		p.UnhandledTokens = append(p.UnhandledTokens, item)
	case TokenAllocateConstantMemorySurfaceProgramBinaryInfo:
		progTok.AllocateConstantMemorySurface = append(progTok.AllocateConstantMemorySurface, item)
	case TokenAllocateGlobalMemorySurfaceProgramBinaryInfo:
		progTok.AllocateGlobalMemorySurface = append(progTok.AllocateGlobalMemorySurface, item)
	case TokenGlobalPointerProgramBinaryInfo:
		progTok.GlobalPointer = append(progTok.GlobalPointer, item)
	case TokenConstantPointerProgramBinaryInfo:
		progTok.ConstantPointer = append(progTok.ConstantPointer, item)
	case TokenProgramSymbolTable:
		progTok.SymbolTable = item
	}
	return true
}

// patchTokenTotalSize computes the number of bytes the token occupies in the
// stream. At program scope the two program-binary-info allocation tokens
// carry InlineDataSize trailing bytes that are not part of Size. The field is
// read straight from the stream; the record view is not populated yet at this
// point.
func patchTokenTotalSize(stream *streamReader, item *PatchItem, ctx decodeContext) (int, bool) {
	total := int(item.Size)
	if ctx != programScope || !hasInlineData(item.Token) {
		return total, true
	}
	// InlineDataSize sits inside the fixed part of the record, at an offset
	// that depends on the token kind; the record must be long enough to hold
	// it before the field is trusted.
	off := inlineDataSizeOffset(item.Token)
	if !stream.has(off + 4) {
		return 0, false
	}
	return total + int(readUnalignedU32(stream.remaining()[off:])), true
}

type tokenSink interface {
	decodeToken(item *PatchItem, logger debugLogger) bool
}

// decodePatchList walks a patch list, preserving source order. Any failed
// bounds check aborts the walk.
func decodePatchList(data []byte, sink tokenSink, ctx decodeContext, logger debugLogger) bool {
	stream := &streamReader{data: data}

	decodeSuccess := true
	for stream.has(PatchItemHeaderSize) && decodeSuccess {
		head := stream.remaining()
		item := &PatchItem{
			Token: Token(readUnalignedU32(head)),
			Size:  readUnalignedU32(head[4:]),
		}

		totalSize, ok := patchTokenTotalSize(stream, item, ctx)
		decodeSuccess = ok
		decodeSuccess = decodeSuccess && stream.has(totalSize)
		decodeSuccess = decodeSuccess && totalSize > 0
		if decodeSuccess {
			item.Data = head[:totalSize]
			decodeSuccess = sink.decodeToken(item, logger)
			stream.advance(totalSize)
		}
	}

	return decodeSuccess
}

// DecodeKernel decodes one kernel record from the front of data. The model
// keeps views into data; ownership stays with the caller.
func DecodeKernel(data []byte, logger debugLogger) (*DecodedKernel, bool) {
	out := &DecodedKernel{DecodeStatus: DecodeUndefined}
	stream := &streamReader{data: data}
	if !stream.has(KernelBinaryHeaderSize) {
		out.DecodeStatus = DecodeInvalidBinary
		return out, false
	}

	if err := structUnpack(&out.Header, data, 0, KernelBinaryHeaderSize); err != nil {
		out.DecodeStatus = DecodeInvalidBinary
		return out, false
	}

	kernelInfoBlobSize := uint64(KernelBinaryHeaderSize) +
		uint64(out.Header.KernelNameSize) +
		uint64(out.Header.KernelHeapSize) +
		uint64(out.Header.GeneralStateHeapSize) +
		uint64(out.Header.DynamicStateHeapSize) +
		uint64(out.Header.SurfaceStateHeapSize) +
		uint64(out.Header.PatchListSize)

	if kernelInfoBlobSize > uint64(stream.dataLeft()) {
		out.DecodeStatus = DecodeInvalidBinary
		return out, false
	}

	out.Blobs.KernelInfo = data[:kernelInfoBlobSize]
	stream.advance(KernelBinaryHeaderSize)

	out.Name = stream.remaining()[:out.Header.KernelNameSize]
	stream.advance(int(out.Header.KernelNameSize))

	out.Isa = stream.remaining()[:out.Header.KernelHeapSize]
	stream.advance(int(out.Header.KernelHeapSize))

	out.Heaps.GeneralState = stream.remaining()[:out.Header.GeneralStateHeapSize]
	stream.advance(int(out.Header.GeneralStateHeapSize))

	out.Heaps.DynamicState = stream.remaining()[:out.Header.DynamicStateHeapSize]
	stream.advance(int(out.Header.DynamicStateHeapSize))

	out.Heaps.SurfaceState = stream.remaining()[:out.Header.SurfaceStateHeapSize]
	stream.advance(int(out.Header.SurfaceStateHeapSize))

	out.Blobs.PatchList = stream.remaining()[:out.Header.PatchListSize]

	if !decodePatchList(out.Blobs.PatchList, out, kernelScope, logger) {
		out.DecodeStatus = DecodeInvalidBinary
		return out, false
	}

	out.DecodeStatus = DecodeSuccess
	return out, true
}

func (p *DecodedProgram) decodeHeader(logger debugLogger) bool {
	data := p.Blobs.ProgramInfo
	stream := &streamReader{data: data}
	if !stream.has(ProgramBinaryHeaderSize) {
		return false
	}

	if err := structUnpack(&p.Header, data, 0, ProgramBinaryHeaderSize); err != nil {
		return false
	}
	if p.Header.Magic != MagicCL {
		return false
	}
	stream.advance(ProgramBinaryHeaderSize)

	if !stream.has(int(p.Header.PatchListSize)) {
		return false
	}
	p.Blobs.PatchList = stream.remaining()[:p.Header.PatchListSize]
	stream.advance(int(p.Header.PatchListSize))

	p.Blobs.KernelsInfo = stream.remaining()
	return true
}

func (p *DecodedProgram) decodeKernels(logger debugLogger) bool {
	numKernels := p.Header.NumberOfKernels
	data := p.Blobs.KernelsInfo
	decodeSuccess := true
	for i := uint32(0); i < numKernels && decodeSuccess; i++ {
		kernel, ok := DecodeKernel(data, logger)
		p.Kernels = append(p.Kernels, *kernel)
		decodeSuccess = ok
		data = data[len(kernel.Blobs.KernelInfo):]
	}
	return decodeSuccess
}

// DecodeProgram decodes a full device binary into its in-memory model.
// Siblings of a failed kernel are not attempted; everything decoded up to
// the failure stays inspectable.
func DecodeProgram(blob []byte, logger debugLogger) (*DecodedProgram, error) {
	out := &DecodedProgram{DecodeStatus: DecodeUndefined}
	out.Blobs.ProgramInfo = blob

	decodeSuccess := out.decodeHeader(logger)
	decodeSuccess = decodeSuccess && out.decodeKernels(logger)
	decodeSuccess = decodeSuccess && decodePatchList(out.Blobs.PatchList, out, programScope, logger)

	if !decodeSuccess {
		out.DecodeStatus = DecodeInvalidBinary
		return out, ErrInvalidBinary
	}
	out.DecodeStatus = DecodeSuccess
	return out, nil
}

// HasInvalidChecksum recomputes the kernel checksum over everything after
// the 40-byte header and compares it against the stored value.
func (k *DecodedKernel) HasInvalidChecksum() bool {
	if len(k.Blobs.KernelInfo) <= KernelBinaryHeaderSize {
		return true
	}
	calculated := KernelChecksum(k.Blobs.KernelInfo[KernelBinaryHeaderSize:])
	return k.Header.CheckSum != calculated
}

// KernelArgAttributes are the five variable-length strings carried inline by
// a kernel-argument-info token.
type KernelArgAttributes struct {
	AddressQualifier string
	AccessQualifier  string
	ArgName          string
	TypeName         string
	TypeQualifiers   string
}

// clipString cuts length to what remains of data, advancing past the slice.
// Declared lengths that overflow the record are clipped, not rejected.
func clipString(data []byte, length uint32) (string, []byte) {
	n := int(length)
	if n > len(data) {
		n = len(data)
	}
	return string(data[:n]), data[n:]
}

// ArgInfoAttributes unpacks the inline strings of a kernel-argument-info
// token.
func ArgInfoAttributes(item *PatchItem) KernelArgAttributes {
	ret := KernelArgAttributes{}
	if item == nil {
		return ret
	}
	// Fixed prefix: ArgumentNumber plus the five string lengths.
	const fixedEnd = 32
	addressLen := item.field(12)
	accessLen := item.field(16)
	nameLen := item.field(20)
	typeNameLen := item.field(24)
	typeQualLen := item.field(28)

	bound := int(item.Size)
	if bound > len(item.Data) {
		bound = len(item.Data)
	}
	if bound < fixedEnd {
		return ret
	}
	rest := item.Data[fixedEnd:bound]
	ret.AddressQualifier, rest = clipString(rest, addressLen)
	ret.AccessQualifier, rest = clipString(rest, accessLen)
	ret.ArgName, rest = clipString(rest, nameLen)
	ret.TypeName, rest = clipString(rest, typeNameLen)
	ret.TypeQualifiers, _ = clipString(rest, typeQualLen)
	return ret
}

// debugLogger is the narrow logging dependency of the decoder.
type debugLogger interface {
	Debugf(format string, a ...interface{})
}
