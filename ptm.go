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
)

// PTField describes one header or token field: its width in bytes and its
// name as printed in PTM text. Widths are restricted to 1, 2, 4 and 8.
type PTField struct {
	Size uint8
	Name string
}

// tokenSchema is the PTM description of one recognized patch token.
type tokenSchema struct {
	Name   string
	Size   uint32
	Fields []PTField
}

// headerSchema is the PTM description of a fixed header.
type headerSchema struct {
	Size   uint32
	Fields []PTField
}

// Schema drives PTM rendering. It is parsed from patch-list headers when a
// patch directory is provided, else built from defaults that cover only the
// program and kernel binary headers.
type Schema struct {
	ProgramHeader headerSchema
	KernelHeader  headerSchema
	Tokens        map[uint32]*tokenSchema
}

// defaultPatchList is used when no path to the patch headers was provided.
// Patch tokens stay undefined and render as unidentified.
var defaultPatchList = []string{
	"struct SProgramBinaryHeader",
	"{",
	"    uint32_t   Magic;",
	"    uint32_t   Version;",
	"    uint32_t   Device;",
	"    uint32_t   GPUPointerSizeInBytes;",
	"    uint32_t   NumberOfKernels;",
	"    uint32_t   SteppingId;",
	"    uint32_t   PatchListSize;",
	"};",
	"",
	"struct SKernelBinaryHeader",
	"{",
	"    uint32_t   CheckSum;",
	"    uint64_t   ShaderHashCode;",
	"    uint32_t   KernelNameSize;",
	"    uint32_t   PatchListSize;",
	"};",
	"",
	"struct SKernelBinaryHeaderCommon :",
	"       SKernelBinaryHeader",
	"{",
	"    uint32_t   KernelHeapSize;",
	"    uint32_t   GeneralStateHeapSize;",
	"    uint32_t   DynamicStateHeapSize;",
	"    uint32_t   SurfaceStateHeapSize;",
	"    uint32_t   KernelUnpaddedSize;",
	"};",
	"",
	"enum PATCH_TOKEN",
	"{",
	"};",
}

// patchHeaderNames are the headers consumed from a patch directory, base
// definitions first so enum numbering stays stable.
var patchHeaderNames = []string{
	"patch_list.h",
	"patch_shared.h",
	"patch_g7.h",
	"patch_g8.h",
	"patch_g9.h",
	"patch_g10.h",
}

// fieldWidth maps a C unsigned integer type name to its width.
func fieldWidth(typeStr string) (uint8, error) {
	switch typeStr {
	case "uint8_t":
		return 1, nil
	case "uint16_t":
		return 2, nil
	case "uint32_t":
		return 4, nil
	case "uint64_t":
		return 8, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFieldWidth, typeStr)
}

// findPos returns the index of the first line containing whatToFind, or
// len(lines).
func findPos(lines []string, whatToFind string) int {
	for i, line := range lines {
		if strings.Contains(line, whatToFind) {
			return i
		}
	}
	return len(lines)
}

// readStructFields collects the sized fields of a struct body starting at
// structPos, stopping at the closing brace.
func readStructFields(lines []string, structPos int) (uint32, []PTField, error) {
	var fields []PTField
	var fullSize uint32

	for i := structPos; i < len(lines); i++ {
		line := lines[i]
		if strings.Contains(line, "};") {
			break
		}
		if !strings.Contains(line, "int") {
			continue
		}

		trimmed := strings.TrimSpace(line)
		sp := strings.IndexByte(trimmed, ' ')
		if sp < 0 {
			continue
		}
		typeStr := trimmed[:sp]
		size, err := fieldWidth(typeStr)
		if err != nil {
			return 0, nil, err
		}

		name := strings.TrimSpace(trimmed[sp:])
		if semi := strings.IndexByte(name, ';'); semi >= 0 {
			name = name[:semi]
		}
		fields = append(fields, PTField{Size: size, Name: name})
		fullSize += uint32(size)
	}
	return fullSize, fields, nil
}

// readHeaderLines loads a header file as lines with tabs flattened to
// spaces.
func readHeaderLines(fs Filesystem, path string) []string {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\t", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// ParseSchema builds the PTM field schema. With an empty pathToPatch the
// built-in defaults apply and every patch token renders unidentified.
func ParseSchema(fs Filesystem, pathToPatch string, logger debugLogger) (*Schema, error) {
	var patchList []string
	if pathToPatch == "" {
		patchList = defaultPatchList
	} else {
		pathToPatch = addSlash(pathToPatch)
		for _, name := range patchHeaderNames {
			if !fs.Exists(pathToPatch + name) {
				logger.Debugf("patch header %s not found, skipping", pathToPatch+name)
				continue
			}
			patchList = append(patchList, readHeaderLines(fs, pathToPatch+name)...)
		}
	}

	for _, required := range []string{
		"struct SProgramBinaryHeader",
		"enum PATCH_TOKEN",
		"struct SKernelBinaryHeader",
		"struct SKernelBinaryHeaderCommon :",
	} {
		if findPos(patchList, required) == len(patchList) {
			return nil, fmt.Errorf("while parsing patchtoken definitions: couldn't find %s", required)
		}
	}

	schema := &Schema{Tokens: map[uint32]*tokenSchema{}}

	// Patch tokens are numbered by their position in the enum; entries
	// without an @StructName@ annotation consume a number but stay
	// undefined.
	patchNo := uint32(0)
	for i := findPos(patchList, "enum PATCH_TOKEN") + 1; i < len(patchList); i++ {
		line := patchList[i]
		if strings.Contains(line, "};") {
			break
		}
		nameStart := strings.Index(line, "PATCH_TOKEN")
		if nameStart < 0 {
			continue
		}
		atStart := strings.IndexByte(line, '@')
		if atStart < 0 {
			patchNo++
			continue
		}

		name := line[nameStart:]
		if comma := strings.IndexByte(name, ','); comma >= 0 {
			name = name[:comma]
		}

		atEnd := strings.IndexByte(line[atStart+1:], '@')
		if atEnd < 0 {
			patchNo++
			continue
		}
		structName := "struct " + line[atStart+1:atStart+1+atEnd] + " :"

		structPos := findPos(patchList, structName)
		if structPos == len(patchList) {
			patchNo++
			continue
		}
		size, fields, err := readStructFields(patchList, structPos+1)
		if err != nil {
			return nil, err
		}
		schema.Tokens[patchNo] = &tokenSchema{Name: name, Size: size, Fields: fields}
		patchNo++
	}

	var err error
	structPos := findPos(patchList, "struct SProgramBinaryHeader") + 1
	schema.ProgramHeader.Size, schema.ProgramHeader.Fields, err = readStructFields(patchList, structPos)
	if err != nil {
		return nil, err
	}

	structPos = findPos(patchList, "struct SKernelBinaryHeader") + 1
	schema.KernelHeader.Size, schema.KernelHeader.Fields, err = readStructFields(patchList, structPos)
	if err != nil {
		return nil, err
	}

	structPos = findPos(patchList, "struct SKernelBinaryHeaderCommon :") + 1
	commonSize, commonFields, err := readStructFields(patchList, structPos)
	if err != nil {
		return nil, err
	}
	schema.KernelHeader.Size += commonSize
	schema.KernelHeader.Fields = append(schema.KernelHeader.Fields, commonFields...)

	return schema, nil
}

// dumpField renders one field as "<tab><size> <name> <decimal-value>" and
// advances the cursor.
func dumpField(data []byte, pos int, field PTField, sb *strings.Builder) (int, error) {
	if pos+int(field.Size) > len(data) {
		return pos, ErrOutsideBoundary
	}
	var val uint64
	switch field.Size {
	case 1:
		val = uint64(data[pos])
	case 2:
		val = uint64(readUnalignedU16(data[pos:]))
	case 4:
		val = uint64(readUnalignedU32(data[pos:]))
	case 8:
		val = readUnalignedU64(data[pos:])
	default:
		return pos, ErrUnknownFieldWidth
	}
	fmt.Fprintf(sb, "\t%d %s %d\n", field.Size, field.Name, val)
	return pos + int(field.Size), nil
}

// renderPatchList walks raw patch-list bytes and emits one PTM block per
// token: its name (or "Unidentified PatchToken"), the Token and Size fields,
// the schema-declared fields, and a Hex line for any trailing bytes the
// schema does not cover. Inline-data bytes always land on the Hex line,
// which is what preserves them across re-assembly.
func (s *Schema) renderPatchList(data []byte, sb *strings.Builder) error {
	pos := 0
	for pos < len(data) {
		if pos+PatchItemHeaderSize > len(data) {
			return ErrInvalidBinary
		}
		token := readUnalignedU32(data[pos:])
		size := readUnalignedU32(data[pos+4:])

		tok := s.Tokens[token]
		if tok != nil {
			sb.WriteString(tok.Name + ":\n")
		} else {
			sb.WriteString("Unidentified PatchToken:\n")
		}
		fmt.Fprintf(sb, "\t4 Token %d\n", token)
		fmt.Fprintf(sb, "\t4 Size %d\n", size)

		end := pos + int(size)
		if end < pos || end > len(data) {
			return ErrInvalidBinary
		}

		fieldPos := pos + PatchItemHeaderSize
		if tok != nil {
			fieldsSize := uint32(0)
			for _, field := range tok.Fields {
				fieldsSize += uint32(field.Size)
				if fieldsSize > size-PatchItemHeaderSize {
					break
				}
				// InlineData bytes follow the record but are not part of
				// its declared size.
				if field.Name == "InlineDataSize" {
					if fieldPos+4 > len(data) {
						return ErrInvalidBinary
					}
					inlineDataSize := readUnalignedU32(data[fieldPos:])
					end += int(inlineDataSize)
					if end > len(data) {
						return ErrInvalidBinary
					}
				}
				var err error
				fieldPos, err = dumpField(data, fieldPos, field, sb)
				if err != nil {
					return err
				}
			}
		}

		if end > fieldPos {
			sb.WriteString("\tHex")
			for _, b := range data[fieldPos:end] {
				fmt.Fprintf(sb, " %x", b)
			}
			sb.WriteString("\n")
		}
		pos = end
	}
	return nil
}

// RenderProgram serializes a decoded program to PTM text.
func (s *Schema) RenderProgram(program *DecodedProgram, logger warnLogger) (string, error) {
	var sb strings.Builder
	sb.WriteString("ProgramBinaryHeader:\n")

	pos := 0
	for _, field := range s.ProgramHeader.Fields {
		var err error
		pos, err = dumpField(program.Blobs.ProgramInfo, pos, field, &sb)
		if err != nil {
			return "", err
		}
	}
	if program.Header.NumberOfKernels == 0 {
		logger.Warnf("Number of Kernels is 0.")
	}

	if err := s.renderPatchList(program.Blobs.PatchList, &sb); err != nil {
		return "", err
	}

	for i := range program.Kernels {
		fmt.Fprintf(&sb, "Kernel #%d\n", i)
		if err := s.renderKernel(&program.Kernels[i], &sb, logger); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func (s *Schema) renderKernel(kernel *DecodedKernel, sb *strings.Builder, logger warnLogger) error {
	sb.WriteString("KernelBinaryHeader:\n")
	pos := 0
	for _, field := range s.KernelHeader.Fields {
		var err error
		pos, err = dumpField(kernel.Blobs.KernelInfo, pos, field, sb)
		if err != nil {
			return err
		}
	}

	if kernel.Header.KernelNameSize == 0 {
		return fmt.Errorf("KernelNameSize was 0")
	}
	fmt.Fprintf(sb, "\tKernelName %s\n", kernel.KernelName())

	if kernel.Header.PatchListSize == 0 {
		logger.Warnf("Kernel's patch list size was 0.")
	}
	return s.renderPatchList(kernel.Blobs.PatchList, sb)
}

// leadingInt parses the decimal integer at the start of s.
func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	v, _ := strconv.Atoi(s[:end])
	return v
}

// lastField returns the text after the final space of line.
func lastField(line string) string {
	if i := strings.LastIndexByte(line, ' '); i >= 0 {
		return line[i+1:]
	}
	return line
}

// CalculatePatchListSizes rewrites every stale PatchListSize value in the
// PTM lines with the byte count implied by the token block that follows it,
// warning on each correction. Field lines contribute their declared width,
// Hex lines one byte per listed value.
func CalculatePatchListSizes(ptmLines []string, logger warnLogger) {
	patchListPos := 0
	for i := 0; i < len(ptmLines); i++ {
		if strings.Contains(ptmLines[i], "PatchListSize") {
			patchListPos = i
		} else if strings.Contains(ptmLines[i], "PATCH_TOKEN") ||
			strings.Contains(ptmLines[i], "Unidentified PatchToken:") {
			calcSize := uint32(0)
			i++
			for i < len(ptmLines) && !strings.Contains(ptmLines[i], "Kernel #") {
				if !strings.Contains(ptmLines[i], ":") {
					if strings.Contains(ptmLines[i], "Hex") {
						calcSize += uint32(strings.Count(ptmLines[i], " "))
					} else if len(ptmLines[i]) > 1 {
						calcSize += uint32(leadingInt(ptmLines[i][1:]))
					}
				}
				i++
			}
			stored, _ := strconv.ParseUint(lastField(ptmLines[patchListPos]), 10, 32)
			if uint32(stored) != calcSize {
				logger.Warnf("Calculated PatchListSize ( %d ) differs from file ( %d ) - changing it. Line %d",
					calcSize, stored, patchListPos+1)
				prefix := ptmLines[patchListPos]
				if cut := strings.LastIndexByte(prefix, ' '); cut >= 0 {
					prefix = prefix[:cut+1]
				}
				ptmLines[patchListPos] = prefix + strconv.FormatUint(uint64(calcSize), 10)
			}
		}
	}
}

// writePTMLine re-encodes one PTM line into binary. Section-header lines are
// skipped, Hex lines emit their bytes verbatim, field lines emit their value
// as a little-endian unsigned integer of the declared width. Values wider
// than the declared width truncate.
func writePTMLine(line string, out *bytes.Buffer) error {
	if strings.Contains(line, ":") {
		return nil
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	if fields[0] == "Hex" {
		for _, f := range fields[1:] {
			b, err := strconv.ParseUint(f, 16, 8)
			if err != nil {
				return fmt.Errorf("bad hex byte %q in line: %s", f, line)
			}
			out.WriteByte(byte(b))
		}
		return nil
	}

	if len(fields) < 3 {
		return fmt.Errorf("malformed PTM line: %s", line)
	}

	size, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("malformed PTM line: %s", line)
	}
	value, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad value %q in line: %s", fields[2], line)
	}

	switch size {
	case 1:
		out.WriteByte(byte(value))
	case 2:
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(value))
		out.Write(tmp[:])
	case 4:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(value))
		out.Write(tmp[:])
	case 8:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], value)
		out.Write(tmp[:])
	default:
		return fmt.Errorf("%w in line: %s", ErrUnknownFieldWidth, line)
	}
	return nil
}

// warnLogger is the narrow logging dependency of the PTM codec.
type warnLogger interface {
	Warnf(format string, a ...interface{})
}
