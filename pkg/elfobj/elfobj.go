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

// Package elfobj holds an in-memory model of an ELF container: the file
// header, the ordered section and program header tables, and the raw bytes
// of every section. Unlike debug/elf it can serialize the container back to
// bytes, which is what the scrubbing pipeline needs.
//
// Serialization is a left inverse of parsing for containers this package's
// own mutators produced: parse, serialize, parse again and you get the same
// container. No guarantees are made about byte-level round-trips of files
// written by foreign producers, which may carry padding outside any header
// table or section.
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rzajac/flexbuf"
)

// FileHeader mirrors the ELF file header, with the class-dependent fields
// widened to their 64-bit representation.
type FileHeader struct {
	Class      elf.Class
	Data       elf.Data
	Version    elf.Version
	OSABI      elf.OSABI
	ABIVersion uint8
	ByteOrder  binary.ByteOrder
	Type       elf.Type
	Machine    elf.Machine
	Entry      uint64
	Phoff      uint64
	Shoff      uint64
	Flags      uint32
	Phnum      uint16
	Shnum      uint16
	Shstrndx   uint16
}

// Section is one entry of the section header table plus the raw bytes it
// describes. Data is nil for SHT_NULL and SHT_NOBITS sections.
type Section struct {
	Name      string
	NameOff   uint32
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
	Data      []byte
}

// HasData reports whether the section occupies bytes in the file.
func (s *Section) HasData() bool {
	return s.Type != elf.SHT_NULL && s.Type != elf.SHT_NOBITS
}

// Segment is one entry of the program header table. The scrubbing pipeline
// only ever shrinks or deletes segments, so no segment payload is modeled.
type Segment struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Container is a fully decoded ELF object.
type Container struct {
	Header   FileHeader
	Sections []*Section
	Segments []Segment
}

func headerSize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 52
	}
	return 64
}

func progEntrySize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 32
	}
	return 56
}

func sectionEntrySize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 40
	}
	return 64
}

// Parse decodes an ELF object from data. The returned container owns copies
// of all section contents and is independent of data.
func Parse(data []byte) (*Container, error) {
	if len(data) < elf.EI_NIDENT {
		return nil, fmt.Errorf("%w: truncated ident, %d bytes", ErrMalformedFormat, len(data))
	}
	if string(data[:4]) != elf.ELFMAG {
		return nil, fmt.Errorf("%w: bad magic number", ErrMalformedFormat)
	}

	var fh FileHeader
	fh.Class = elf.Class(data[elf.EI_CLASS])
	switch fh.Class {
	case elf.ELFCLASS32, elf.ELFCLASS64:
	default:
		return nil, fmt.Errorf("%w: unknown class %v", ErrMalformedFormat, fh.Class)
	}

	fh.Data = elf.Data(data[elf.EI_DATA])
	switch fh.Data {
	case elf.ELFDATA2LSB:
		fh.ByteOrder = binary.LittleEndian
	case elf.ELFDATA2MSB:
		fh.ByteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: unknown byte order %v", ErrMalformedFormat, fh.Data)
	}

	fh.Version = elf.Version(data[elf.EI_VERSION])
	if fh.Version != elf.EV_CURRENT {
		return nil, fmt.Errorf("%w: unknown version %v", ErrMalformedFormat, fh.Version)
	}
	fh.OSABI = elf.OSABI(data[elf.EI_OSABI])
	fh.ABIVersion = data[elf.EI_ABIVERSION]

	slice := func(off, size uint64) ([]byte, error) {
		if off > uint64(len(data)) || uint64(len(data))-off < size {
			return nil, fmt.Errorf("%w: range [%#x, %#x+%#x) outside %d-byte buffer",
				ErrMalformedFormat, off, off, size, len(data))
		}
		return data[off : off+size], nil
	}

	var phentsize, shentsize uint16
	r := bytes.NewReader(data)
	switch fh.Class {
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := binary.Read(r, fh.ByteOrder, &hdr); err != nil {
			return nil, fmt.Errorf("%w: decoding header: %v", ErrMalformedFormat, err)
		}
		fh.Type = elf.Type(hdr.Type)
		fh.Machine = elf.Machine(hdr.Machine)
		fh.Entry = uint64(hdr.Entry)
		fh.Phoff = uint64(hdr.Phoff)
		fh.Shoff = uint64(hdr.Shoff)
		fh.Flags = hdr.Flags
		fh.Phnum = hdr.Phnum
		fh.Shnum = hdr.Shnum
		fh.Shstrndx = hdr.Shstrndx
		phentsize, shentsize = hdr.Phentsize, hdr.Shentsize
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := binary.Read(r, fh.ByteOrder, &hdr); err != nil {
			return nil, fmt.Errorf("%w: decoding header: %v", ErrMalformedFormat, err)
		}
		fh.Type = elf.Type(hdr.Type)
		fh.Machine = elf.Machine(hdr.Machine)
		fh.Entry = hdr.Entry
		fh.Phoff = hdr.Phoff
		fh.Shoff = hdr.Shoff
		fh.Flags = hdr.Flags
		fh.Phnum = hdr.Phnum
		fh.Shnum = hdr.Shnum
		fh.Shstrndx = hdr.Shstrndx
		phentsize, shentsize = hdr.Phentsize, hdr.Shentsize
	}

	if fh.Phnum > 0 && uint64(phentsize) != progEntrySize(fh.Class) {
		return nil, fmt.Errorf("%w: program header entry size %d", ErrMalformedFormat, phentsize)
	}
	if fh.Shnum > 0 && uint64(shentsize) != sectionEntrySize(fh.Class) {
		return nil, fmt.Errorf("%w: section header entry size %d", ErrMalformedFormat, shentsize)
	}
	if fh.Shnum == 0 {
		return nil, fmt.Errorf("%w: no section header table", ErrMalformedFormat)
	}
	if fh.Shstrndx >= fh.Shnum {
		return nil, fmt.Errorf("%w: section header string table index %d out of %d",
			ErrMalformedFormat, fh.Shstrndx, fh.Shnum)
	}

	c := &Container{Header: fh}

	if fh.Phnum > 0 {
		raw, err := slice(fh.Phoff, uint64(fh.Phnum)*progEntrySize(fh.Class))
		if err != nil {
			return nil, err
		}
		c.Segments = make([]Segment, fh.Phnum)
		if err := decodeSegments(raw, fh, c.Segments); err != nil {
			return nil, err
		}
		for i := range c.Segments {
			if _, err := slice(c.Segments[i].Off, c.Segments[i].Filesz); err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
		}
	}

	raw, err := slice(fh.Shoff, uint64(fh.Shnum)*sectionEntrySize(fh.Class))
	if err != nil {
		return nil, err
	}
	c.Sections = make([]*Section, fh.Shnum)
	if err := decodeSections(raw, fh, c.Sections); err != nil {
		return nil, err
	}

	for i, s := range c.Sections {
		if !s.HasData() {
			continue
		}
		contents, err := slice(s.Offset, s.Size)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		s.Data = bytes.Clone(contents)
		if s.Entsize > 0 && s.Size%s.Entsize != 0 {
			return nil, fmt.Errorf("%w: section %d size %d not a multiple of entry size %d",
				ErrMalformedFormat, i, s.Size, s.Entsize)
		}
	}

	shstrtab := c.Sections[fh.Shstrndx]
	if shstrtab.Type != elf.SHT_STRTAB {
		return nil, fmt.Errorf("%w: section header string table has type %v",
			ErrMalformedFormat, shstrtab.Type)
	}
	for i, s := range c.Sections {
		name, err := stringAt(shstrtab.Data, s.NameOff)
		if err != nil {
			return nil, fmt.Errorf("%w: section %d name: %v", ErrMalformedFormat, i, err)
		}
		s.Name = name
	}

	return c, nil
}

func decodeSegments(raw []byte, fh FileHeader, out []Segment) error {
	r := bytes.NewReader(raw)
	for i := range out {
		switch fh.Class {
		case elf.ELFCLASS32:
			var ph elf.Prog32
			if err := binary.Read(r, fh.ByteOrder, &ph); err != nil {
				return fmt.Errorf("%w: decoding program header %d: %v", ErrMalformedFormat, i, err)
			}
			out[i] = Segment{
				Type:   elf.ProgType(ph.Type),
				Flags:  elf.ProgFlag(ph.Flags),
				Off:    uint64(ph.Off),
				Vaddr:  uint64(ph.Vaddr),
				Paddr:  uint64(ph.Paddr),
				Filesz: uint64(ph.Filesz),
				Memsz:  uint64(ph.Memsz),
				Align:  uint64(ph.Align),
			}
		case elf.ELFCLASS64:
			var ph elf.Prog64
			if err := binary.Read(r, fh.ByteOrder, &ph); err != nil {
				return fmt.Errorf("%w: decoding program header %d: %v", ErrMalformedFormat, i, err)
			}
			out[i] = Segment{
				Type:   elf.ProgType(ph.Type),
				Flags:  elf.ProgFlag(ph.Flags),
				Off:    ph.Off,
				Vaddr:  ph.Vaddr,
				Paddr:  ph.Paddr,
				Filesz: ph.Filesz,
				Memsz:  ph.Memsz,
				Align:  ph.Align,
			}
		}
	}
	return nil
}

func decodeSections(raw []byte, fh FileHeader, out []*Section) error {
	r := bytes.NewReader(raw)
	for i := range out {
		switch fh.Class {
		case elf.ELFCLASS32:
			var sh elf.Section32
			if err := binary.Read(r, fh.ByteOrder, &sh); err != nil {
				return fmt.Errorf("%w: decoding section header %d: %v", ErrMalformedFormat, i, err)
			}
			out[i] = &Section{
				NameOff:   sh.Name,
				Type:      elf.SectionType(sh.Type),
				Flags:     elf.SectionFlag(sh.Flags),
				Addr:      uint64(sh.Addr),
				Offset:    uint64(sh.Off),
				Size:      uint64(sh.Size),
				Link:      sh.Link,
				Info:      sh.Info,
				Addralign: uint64(sh.Addralign),
				Entsize:   uint64(sh.Entsize),
			}
		case elf.ELFCLASS64:
			var sh elf.Section64
			if err := binary.Read(r, fh.ByteOrder, &sh); err != nil {
				return fmt.Errorf("%w: decoding section header %d: %v", ErrMalformedFormat, i, err)
			}
			out[i] = &Section{
				NameOff:   sh.Name,
				Type:      elf.SectionType(sh.Type),
				Flags:     elf.SectionFlag(sh.Flags),
				Addr:      sh.Addr,
				Offset:    sh.Off,
				Size:      sh.Size,
				Link:      sh.Link,
				Info:      sh.Info,
				Addralign: sh.Addralign,
				Entsize:   sh.Entsize,
			}
		}
	}
	return nil
}

func stringAt(strtab []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(strtab)) {
		return "", fmt.Errorf("offset %d outside %d-byte table", off, len(strtab))
	}
	s := strtab[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}

// Section returns the first section with the given name.
func (c *Container) Section(name string) (*Section, error) {
	for _, s := range c.Sections {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrMissingSection, name)
}

// SectionIndex returns the table index of the first section with the
// given name.
func (c *Container) SectionIndex(name string) (int, error) {
	for i, s := range c.Sections {
		if s.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrMissingSection, name)
}

// HasSection reports whether a section with the given name exists.
func (c *Container) HasSection(name string) bool {
	_, err := c.SectionIndex(name)
	return err == nil
}

// Linked resolves a section's link field to the section it names.
func (c *Container) Linked(s *Section) (*Section, error) {
	if s.Link == 0 || uint64(s.Link) >= uint64(len(c.Sections)) {
		return nil, fmt.Errorf("%w: section %q links to %d of %d",
			ErrInvalidSectionLink, s.Name, s.Link, len(c.Sections))
	}
	return c.Sections[s.Link], nil
}

// StringAt reads the NUL-terminated string at off in the given string
// table section.
func (c *Container) StringAt(strtab *Section, off uint32) (string, error) {
	s, err := stringAt(strtab.Data, off)
	if err != nil {
		return "", fmt.Errorf("%w: table %q: %v", ErrInvalidStringOffset, strtab.Name, err)
	}
	return s, nil
}

// Clone returns a deep copy of the container. Pipeline stages clone their
// input so that no stage observes a later stage's mutations.
func (c *Container) Clone() *Container {
	clone := &Container{Header: c.Header}
	clone.Sections = make([]*Section, len(c.Sections))
	for i, s := range c.Sections {
		dup := *s
		dup.Data = bytes.Clone(s.Data)
		clone.Sections[i] = &dup
	}
	clone.Segments = make([]Segment, len(c.Segments))
	copy(clone.Segments, c.Segments)
	return clone
}

// Bytes serializes the container. The output's header tables exactly
// describe the container's current sections and segments; bytes not covered
// by any header table or section are zero.
func (c *Container) Bytes() ([]byte, error) {
	fh := c.Header
	switch fh.Class {
	case elf.ELFCLASS32, elf.ELFCLASS64:
	default:
		return nil, fmt.Errorf("%w: unknown class %v", ErrMalformedFormat, fh.Class)
	}
	if fh.ByteOrder == nil {
		return nil, fmt.Errorf("%w: byte order not set", ErrMalformedFormat)
	}
	if int(fh.Shnum) != len(c.Sections) || int(fh.Phnum) != len(c.Segments) {
		return nil, fmt.Errorf("%w: header counts (%d sections, %d segments) disagree with tables (%d, %d)",
			ErrMalformedFormat, fh.Shnum, fh.Phnum, len(c.Sections), len(c.Segments))
	}
	if err := c.checkOverlaps(); err != nil {
		return nil, err
	}

	e := &coder{buf: flexbuf.New(), bo: fh.ByteOrder}

	// e_ident
	e.write([]byte{
		0x7f, 'E', 'L', 'F',
		byte(fh.Class),
		byte(fh.Data),
		byte(fh.Version),
		byte(fh.OSABI),
		fh.ABIVersion,
		0, 0, 0, 0, 0, 0, 0,
	})

	var phentsize, shentsize uint16
	if fh.Phnum > 0 {
		phentsize = uint16(progEntrySize(fh.Class))
	}
	shentsize = uint16(sectionEntrySize(fh.Class))

	switch fh.Class {
	case elf.ELFCLASS32:
		e.u16(uint16(fh.Type))
		e.u16(uint16(fh.Machine))
		e.u32(uint32(fh.Version))
		e.u32(uint32(fh.Entry))
		e.u32(uint32(fh.Phoff))
		e.u32(uint32(fh.Shoff))
		e.u32(fh.Flags)
		e.u16(uint16(headerSize(fh.Class)))
		e.u16(phentsize)
		e.u16(fh.Phnum)
		e.u16(shentsize)
		e.u16(fh.Shnum)
		e.u16(fh.Shstrndx)
	case elf.ELFCLASS64:
		e.u16(uint16(fh.Type))
		e.u16(uint16(fh.Machine))
		e.u32(uint32(fh.Version))
		e.u64(fh.Entry)
		e.u64(fh.Phoff)
		e.u64(fh.Shoff)
		e.u32(fh.Flags)
		e.u16(uint16(headerSize(fh.Class)))
		e.u16(phentsize)
		e.u16(fh.Phnum)
		e.u16(shentsize)
		e.u16(fh.Shnum)
		e.u16(fh.Shstrndx)
	}

	if fh.Phnum > 0 {
		e.seek(int64(fh.Phoff))
		for i := range c.Segments {
			p := &c.Segments[i]
			switch fh.Class {
			case elf.ELFCLASS32:
				e.u32(uint32(p.Type))
				e.u32(uint32(p.Off))
				e.u32(uint32(p.Vaddr))
				e.u32(uint32(p.Paddr))
				e.u32(uint32(p.Filesz))
				e.u32(uint32(p.Memsz))
				e.u32(uint32(p.Flags))
				e.u32(uint32(p.Align))
			case elf.ELFCLASS64:
				e.u32(uint32(p.Type))
				e.u32(uint32(p.Flags))
				e.u64(p.Off)
				e.u64(p.Vaddr)
				e.u64(p.Paddr)
				e.u64(p.Filesz)
				e.u64(p.Memsz)
				e.u64(p.Align)
			}
		}
	}

	for _, s := range c.Sections {
		if !s.HasData() {
			continue
		}
		if uint64(len(s.Data)) != s.Size {
			return nil, fmt.Errorf("%w: section %q declares %d bytes but holds %d",
				ErrMalformedFormat, s.Name, s.Size, len(s.Data))
		}
		e.seek(int64(s.Offset))
		e.write(s.Data)
	}

	e.seek(int64(fh.Shoff))
	for _, s := range c.Sections {
		switch fh.Class {
		case elf.ELFCLASS32:
			e.u32(s.NameOff)
			e.u32(uint32(s.Type))
			e.u32(uint32(s.Flags))
			e.u32(uint32(s.Addr))
			e.u32(uint32(s.Offset))
			e.u32(uint32(s.Size))
			e.u32(s.Link)
			e.u32(s.Info)
			e.u32(uint32(s.Addralign))
			e.u32(uint32(s.Entsize))
		case elf.ELFCLASS64:
			e.u32(s.NameOff)
			e.u32(uint32(s.Type))
			e.u64(uint64(s.Flags))
			e.u64(s.Addr)
			e.u64(s.Offset)
			e.u64(s.Size)
			e.u32(s.Link)
			e.u32(s.Info)
			e.u64(s.Addralign)
			e.u64(s.Entsize)
		}
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Release(), nil
}

// checkOverlaps rejects containers where two file-occupying sections claim
// the same byte range.
func (c *Container) checkOverlaps() error {
	type span struct {
		name       string
		start, end uint64
	}
	spans := make([]span, 0, len(c.Sections))
	for _, s := range c.Sections {
		if !s.HasData() || s.Size == 0 {
			continue
		}
		spans = append(spans, span{s.Name, s.Offset, s.Offset + s.Size})
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.start < b.end && b.start < a.end {
				return fmt.Errorf("%w: sections %q and %q overlap", ErrMalformedFormat, a.name, b.name)
			}
		}
	}
	return nil
}

// coder accumulates encode errors the way the write helpers in a streaming
// ELF writer do, so call sites stay linear.
type coder struct {
	buf *flexbuf.Buffer
	bo  binary.ByteOrder
	err error
}

func (e *coder) seek(off int64) {
	if e.err != nil {
		return
	}
	_, err := e.buf.Seek(off, io.SeekStart)
	if err != nil {
		e.err = err
	}
}

func (e *coder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, err := e.buf.Write(p)
	if err != nil {
		e.err = err
	}
}

func (e *coder) u16(v uint16) {
	var b [2]byte
	e.bo.PutUint16(b[:], v)
	e.write(b[:])
}

func (e *coder) u32(v uint32) {
	var b [4]byte
	e.bo.PutUint32(b[:], v)
	e.write(b[:])
}

func (e *coder) u64(v uint64) {
	var b [8]byte
	e.bo.PutUint64(b[:], v)
	e.write(b[:])
}
