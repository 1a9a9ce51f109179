// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import "errors"

// Assembler is the external Gen ISA assembler/disassembler collaborator. The
// codec invokes it synchronously and serially; implementations translate
// kernel heap bytes to assembly text and back for a configured platform.
type Assembler interface {
	Disassemble(isa []byte) (string, error)
	Assemble(src string) ([]byte, error)
	SetGfxCore(core uint32)
	SetProductFamily(product string)
	IsKnownPlatform() bool
}

// ErrUnknownPlatform is returned by the default assembler.
var ErrUnknownPlatform = errors.New("assembler: unknown platform")

// UnknownPlatformAssembler is the default Assembler. It never recognizes a
// platform, so disassembly falls back to raw heap dumps and assembly falls
// back to .dat copies.
type UnknownPlatformAssembler struct{}

// Disassemble implements Assembler.
func (UnknownPlatformAssembler) Disassemble([]byte) (string, error) {
	return "", ErrUnknownPlatform
}

// Assemble implements Assembler.
func (UnknownPlatformAssembler) Assemble(string) ([]byte, error) {
	return nil, ErrUnknownPlatform
}

// SetGfxCore implements Assembler.
func (UnknownPlatformAssembler) SetGfxCore(uint32) {}

// SetProductFamily implements Assembler.
func (UnknownPlatformAssembler) SetProductFamily(string) {}

// IsKnownPlatform implements Assembler.
func (UnknownPlatformAssembler) IsKnownPlatform() bool { return false }
