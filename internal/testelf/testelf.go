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

// Package testelf assembles synthetic 64-bit little-endian shared library
// images for tests. The encoder here is deliberately independent of
// pkg/elfobj so a serializer bug cannot hide behind a matching parser bug.
package testelf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Sym describes one symbol of a fixture library.
type Sym struct {
	Name    string
	Defined bool
	Binding elf.SymBind
	Type    elf.SymType
	Value   uint64
	Size    uint64
}

// Config describes a fixture shared library.
type Config struct {
	Soname string
	Needed []string
	// Dynamic symbols, null record excluded.
	Syms []Sym
	// Contents of .text; ABI-irrelevant by construction.
	Text []byte
	// Contents of .data.
	Data []byte
	// Omit the static .symtab/.strtab pair, as a stripped library would.
	NoSymtab bool
	// Omit .gnu.version.
	NoVersym bool
}

// Func returns a defined global function symbol.
func Func(name string, value, size uint64) Sym {
	return Sym{Name: name, Defined: true, Binding: elf.STB_GLOBAL, Type: elf.STT_FUNC, Value: value, Size: size}
}

// Undef returns an undefined global symbol reference.
func Undef(name string) Sym {
	return Sym{Name: name, Binding: elf.STB_GLOBAL, Type: elf.STT_NOTYPE}
}

const (
	ehsize  = 64
	phsize  = 56
	shsize  = 64
	numPhdr = 2
)

type strtab struct {
	buf bytes.Buffer
	off map[string]uint32
}

func newStrtab() *strtab {
	t := &strtab{off: map[string]uint32{}}
	t.buf.WriteByte(0)
	return t
}

func (t *strtab) add(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.off[s] = off
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	return off
}

type section struct {
	hdr  elf.Section64
	name string
	data []byte
}

// SharedLib assembles the fixture image. It panics on internal layout
// errors; fixture bugs should fail loudly, not produce subtly bad inputs.
func SharedLib(cfg Config) []byte {
	if cfg.Text == nil {
		cfg.Text = []byte{0xc3}
	}
	if cfg.Data == nil {
		cfg.Data = []byte{0, 0, 0, 0}
	}

	dynstr := newStrtab()
	for _, n := range cfg.Needed {
		dynstr.add(n)
	}
	if cfg.Soname != "" {
		dynstr.add(cfg.Soname)
	}
	for _, s := range cfg.Syms {
		dynstr.add(s.Name)
	}

	const textShndx = 1
	encodeSyms := func(tab *strtab) []byte {
		var b bytes.Buffer
		mustWrite(&b, elf.Sym64{}) // reserved null record
		for _, s := range cfg.Syms {
			shndx := uint16(elf.SHN_UNDEF)
			if s.Defined {
				shndx = textShndx
			}
			mustWrite(&b, elf.Sym64{
				Name:  tab.add(s.Name),
				Info:  uint8(s.Binding)<<4 | uint8(s.Type),
				Shndx: shndx,
				Value: s.Value,
				Size:  s.Size,
			})
		}
		return b.Bytes()
	}
	dynsymData := encodeSyms(dynstr)

	var versymData []byte
	if !cfg.NoVersym {
		var b bytes.Buffer
		for i := 0; i < len(cfg.Syms)+1; i++ {
			mustWrite(&b, uint16(1)) // VER_NDX_GLOBAL
		}
		versymData = b.Bytes()
	}

	sections := []*section{
		{name: "", hdr: elf.Section64{}},
		{name: ".text", data: cfg.Text, hdr: elf.Section64{
			Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), Addralign: 16,
		}},
		{name: ".data", data: cfg.Data, hdr: elf.Section64{
			Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE), Addralign: 8,
		}},
		{name: ".dynstr", data: dynstr.buf.Bytes(), hdr: elf.Section64{
			Type: uint32(elf.SHT_STRTAB), Flags: uint64(elf.SHF_ALLOC), Addralign: 1,
		}},
	}

	dynstrIdx := uint32(3)
	dynsymIdx := uint32(len(sections))
	sections = append(sections, &section{name: ".dynsym", data: dynsymData, hdr: elf.Section64{
		Type: uint32(elf.SHT_DYNSYM), Flags: uint64(elf.SHF_ALLOC),
		Link: dynstrIdx, Info: 1, Addralign: 8, Entsize: 24,
	}})
	if versymData != nil {
		sections = append(sections, &section{name: ".gnu.version", data: versymData, hdr: elf.Section64{
			Type: uint32(elf.SHT_GNU_VERSYM), Flags: uint64(elf.SHF_ALLOC),
			Link: dynsymIdx, Addralign: 2, Entsize: 2,
		}})
	}

	// The dynamic section is encoded after layout because several tags carry
	// the virtual addresses of other sections.
	dynIdx := len(sections)
	sections = append(sections, &section{name: ".dynamic", hdr: elf.Section64{
		Type: uint32(elf.SHT_DYNAMIC), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
		Link: dynstrIdx, Addralign: 8, Entsize: 16,
	}})
	dynEntries := len(cfg.Needed) + 7 // SONAME?, STRTAB, SYMTAB, STRSZ, SYMENT, DEBUG, NULL, spare
	if cfg.Soname != "" {
		dynEntries++
	}
	sections[dynIdx].data = make([]byte, dynEntries*16)

	if !cfg.NoSymtab {
		strtabIdx := uint32(len(sections) + 1)
		symstr := newStrtab()
		symtabData := encodeSyms(symstr)
		sections = append(sections, &section{name: ".symtab", data: symtabData, hdr: elf.Section64{
			Type: uint32(elf.SHT_SYMTAB), Link: strtabIdx, Info: 1, Addralign: 8, Entsize: 24,
		}})
		sections = append(sections, &section{name: ".strtab", data: symstr.buf.Bytes(), hdr: elf.Section64{
			Type: uint32(elf.SHT_STRTAB), Addralign: 1,
		}})
	}

	shstr := newStrtab()
	shstrIdx := len(sections)
	sections = append(sections, &section{name: ".shstrtab", hdr: elf.Section64{
		Type: uint32(elf.SHT_STRTAB), Addralign: 1,
	}})
	for _, s := range sections {
		s.hdr.Name = shstr.add(s.name)
	}
	sections[shstrIdx].data = shstr.buf.Bytes()

	// Layout: headers, program header table, section contents, section
	// header table. Allocatable sections get vaddr == file offset.
	off := uint64(ehsize + numPhdr*phsize)
	for i, s := range sections {
		if i == 0 {
			continue
		}
		off = align(off, s.hdr.Addralign)
		s.hdr.Off = off
		s.hdr.Size = uint64(len(s.data))
		if s.hdr.Flags&uint64(elf.SHF_ALLOC) != 0 {
			s.hdr.Addr = off
		}
		off += s.hdr.Size
	}
	shoff := align(off, 8)
	total := shoff + uint64(len(sections))*shsize

	// Now that addresses exist, encode .dynamic.
	var dyn bytes.Buffer
	for _, n := range cfg.Needed {
		mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_NEEDED), Val: uint64(dynstr.off[n])})
	}
	if cfg.Soname != "" {
		mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_SONAME), Val: uint64(dynstr.off[cfg.Soname])})
	}
	mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_STRTAB), Val: sections[dynstrIdx].hdr.Addr})
	mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_SYMTAB), Val: sections[dynsymIdx].hdr.Addr})
	mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_STRSZ), Val: uint64(len(dynstr.buf.Bytes()))})
	mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_SYMENT), Val: 24})
	mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_DEBUG), Val: 0})
	for dyn.Len() < dynEntries*16 {
		mustWrite(&dyn, elf.Dyn64{Tag: int64(elf.DT_NULL), Val: 0})
	}
	if dyn.Len() != dynEntries*16 {
		panic(fmt.Sprintf("testelf: dynamic section is %d bytes, want %d", dyn.Len(), dynEntries*16))
	}
	copy(sections[dynIdx].data, dyn.Bytes())

	out := make([]byte, total)
	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     0x1040,
		Phoff:     ehsize,
		Shoff:     shoff,
		Flags:     0,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     numPhdr,
		Shentsize: shsize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(shstrIdx),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var b bytes.Buffer
	mustWrite(&b, hdr)
	mustWrite(&b, elf.Prog64{
		Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X),
		Off: 0, Vaddr: 0, Paddr: 0, Filesz: off, Memsz: off, Align: 0x1000,
	})
	dynHdr := sections[dynIdx].hdr
	mustWrite(&b, elf.Prog64{
		Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R | elf.PF_W),
		Off: dynHdr.Off, Vaddr: dynHdr.Addr, Paddr: dynHdr.Addr,
		Filesz: dynHdr.Size, Memsz: dynHdr.Size, Align: 8,
	})
	copy(out, b.Bytes())

	for i, s := range sections {
		if i == 0 {
			continue
		}
		copy(out[s.hdr.Off:], s.data)
	}

	var sh bytes.Buffer
	for _, s := range sections {
		mustWrite(&sh, s.hdr)
	}
	copy(out[shoff:], sh.Bytes())

	return out
}

// Plain assembles a minimal relocatable-style object with no dynamic
// linking information at all: null section, .text and .shstrtab only.
func Plain() []byte {
	shstr := newStrtab()
	text := []byte{0x90, 0xc3}

	sections := []*section{
		{name: "", hdr: elf.Section64{}},
		{name: ".text", data: text, hdr: elf.Section64{
			Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), Addralign: 16,
		}},
		{name: ".shstrtab", hdr: elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1}},
	}
	for _, s := range sections {
		s.hdr.Name = shstr.add(s.name)
	}
	sections[2].data = shstr.buf.Bytes()

	off := uint64(ehsize)
	for i, s := range sections {
		if i == 0 {
			continue
		}
		off = align(off, s.hdr.Addralign)
		s.hdr.Off = off
		s.hdr.Size = uint64(len(s.data))
		off += s.hdr.Size
	}
	shoff := align(off, 8)
	total := shoff + uint64(len(sections))*shsize

	out := make([]byte, total)
	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehsize,
		Shentsize: shsize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  2,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var b bytes.Buffer
	mustWrite(&b, hdr)
	copy(out, b.Bytes())
	for i, s := range sections {
		if i == 0 {
			continue
		}
		copy(out[s.hdr.Off:], s.data)
	}
	var sh bytes.Buffer
	for _, s := range sections {
		mustWrite(&sh, s.hdr)
	}
	copy(out[shoff:], sh.Bytes())
	return out
}

func align(off, alignment uint64) uint64 {
	if alignment <= 1 {
		return off
	}
	return (off + alignment - 1) &^ (alignment - 1)
}

func mustWrite(b *bytes.Buffer, v any) {
	if err := binary.Write(b, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("testelf: encode %T: %v", v, err))
	}
}
