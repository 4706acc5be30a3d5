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

// DynamicEntry is one tag/value pair of the dynamic section. The value's
// interpretation (string table offset, address, size, flag bits) depends on
// the tag.
type DynamicEntry struct {
	Tag   elf.DynTag
	Value uint64
}

// DynamicEntrySize returns the fixed record size of a dynamic section entry
// for the given class.
func DynamicEntrySize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 8
	}
	return 16
}

// DynamicEntries decodes all records of a dynamic section, terminator and
// any trailing padding entries included.
func (c *Container) DynamicEntries(s *Section) ([]DynamicEntry, error) {
	entsize := s.Entsize
	if entsize == 0 {
		entsize = DynamicEntrySize(c.Header.Class)
	}
	if entsize != DynamicEntrySize(c.Header.Class) || uint64(len(s.Data))%entsize != 0 {
		return nil, fmt.Errorf("%w: section %q: %d bytes with entry size %d",
			ErrMalformedFormat, s.Name, len(s.Data), entsize)
	}

	bo := c.Header.ByteOrder
	entries := make([]DynamicEntry, uint64(len(s.Data))/entsize)
	for i := range entries {
		rec := s.Data[uint64(i)*entsize:]
		switch c.Header.Class {
		case elf.ELFCLASS32:
			entries[i] = DynamicEntry{
				Tag:   elf.DynTag(int32(bo.Uint32(rec[0:]))),
				Value: uint64(bo.Uint32(rec[4:])),
			}
		case elf.ELFCLASS64:
			entries[i] = DynamicEntry{
				Tag:   elf.DynTag(int64(bo.Uint64(rec[0:]))),
				Value: bo.Uint64(rec[8:]),
			}
		}
	}
	return entries, nil
}

// PutDynamicEntries re-encodes entries as the full contents of the section,
// updating its size and entry size.
func (c *Container) PutDynamicEntries(s *Section, entries []DynamicEntry) error {
	entsize := DynamicEntrySize(c.Header.Class)
	bo := c.Header.ByteOrder
	data := make([]byte, uint64(len(entries))*entsize)
	for i, ent := range entries {
		rec := data[uint64(i)*entsize:]
		switch c.Header.Class {
		case elf.ELFCLASS32:
			bo.PutUint32(rec[0:], uint32(ent.Tag))
			bo.PutUint32(rec[4:], uint32(ent.Value))
		case elf.ELFCLASS64:
			bo.PutUint64(rec[0:], uint64(ent.Tag))
			bo.PutUint64(rec[8:], ent.Value)
		}
	}
	s.Data = data
	s.Size = uint64(len(data))
	s.Entsize = entsize
	return nil
}
