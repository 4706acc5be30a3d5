// Copyright 2023-2024 The Elfabi Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package elfobj

import (
	"debug/elf"
	"fmt"
)

// Symbol is one fixed-size record of a symbol table section. NameOff is a
// byte offset into the linked string table, not a resolved name, so records
// survive re-encoding without the string table present.
type Symbol struct {
	NameOff uint32
	Info    byte
	Other   byte
	Shndx   elf.SectionIndex
	Value   uint64
	Size    uint64
}

// Binding returns the symbol's binding half of the info byte.
func (s Symbol) Binding() elf.SymBind { return elf.ST_BIND(s.Info) }

// SymType returns the symbol's type half of the info byte.
func (s Symbol) SymType() elf.SymType { return elf.ST_TYPE(s.Info) }

// Undefined reports whether the symbol belongs to no section.
func (s Symbol) Undefined() bool { return s.Shndx == elf.SHN_UNDEF }

// SymbolEntrySize returns the fixed record size of a symbol table entry for
// the given class.
func SymbolEntrySize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 16
	}
	return 24
}

// Symbols decodes all records of a symbol table section, including the
// reserved null record at index 0.
func (c *Container) Symbols(s *Section) ([]Symbol, error) {
	entsize := s.Entsize
	if entsize == 0 {
		entsize = SymbolEntrySize(c.Header.Class)
	}
	if entsize != SymbolEntrySize(c.Header.Class) || uint64(len(s.Data))%entsize != 0 {
		return nil, fmt.Errorf("%w: section %q: %d bytes with entry size %d",
			ErrMalformedFormat, s.Name, len(s.Data), entsize)
	}

	bo := c.Header.ByteOrder
	syms := make([]Symbol, uint64(len(s.Data))/entsize)
	for i := range syms {
		rec := s.Data[uint64(i)*entsize:]
		switch c.Header.Class {
		case elf.ELFCLASS32:
			syms[i] = Symbol{
				NameOff: bo.Uint32(rec[0:]),
				Value:   uint64(bo.Uint32(rec[4:])),
				Size:    uint64(bo.Uint32(rec[8:])),
				Info:    rec[12],
				Other:   rec[13],
				Shndx:   elf.SectionIndex(bo.Uint16(rec[14:])),
			}
		case elf.ELFCLASS64:
			syms[i] = Symbol{
				NameOff: bo.Uint32(rec[0:]),
				Info:    rec[4],
				Other:   rec[5],
				Shndx:   elf.SectionIndex(bo.Uint16(rec[6:])),
				Value:   bo.Uint64(rec[8:]),
				Size:    bo.Uint64(rec[16:]),
			}
		}
	}
	return syms, nil
}

// PutSymbols re-encodes syms as the full contents of the section, updating
// its size and entry size.
func (c *Container) PutSymbols(s *Section, syms []Symbol) error {
	entsize := SymbolEntrySize(c.Header.Class)
	bo := c.Header.ByteOrder
	data := make([]byte, uint64(len(syms))*entsize)
	for i := range syms {
		sym := &syms[i]
		rec := data[uint64(i)*entsize:]
		switch c.Header.Class {
		case elf.ELFCLASS32:
			bo.PutUint32(rec[0:], sym.NameOff)
			bo.PutUint32(rec[4:], uint32(sym.Value))
			bo.PutUint32(rec[8:], uint32(sym.Size))
			rec[12] = sym.Info
			rec[13] = sym.Other
			bo.PutUint16(rec[14:], uint16(sym.Shndx))
		case elf.ELFCLASS64:
			bo.PutUint32(rec[0:], sym.NameOff)
			rec[4] = sym.Info
			rec[5] = sym.Other
			bo.PutUint16(rec[6:], uint16(sym.Shndx))
			bo.PutUint64(rec[8:], sym.Value)
			bo.PutUint64(rec[16:], sym.Size)
		}
	}
	s.Data = data
	s.Size = uint64(len(data))
	s.Entsize = entsize
	return nil
}
