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

package scrub

import (
	"bytes"
	"debug/elf"

	"golang.org/x/sys/unix"

	"github.com/elfabi/elfabi/pkg/elfobj"
)

// ExtractSections keeps only the named sections, every section transitively
// reachable from them through sh_link, and the section header string table.
// A name with no matching section is not an error; later stages decide
// whether its absence is fatal. The section header string table is rebuilt
// so the artifact does not carry the names of dropped sections.
func ExtractSections(names ...string) Stage {
	return Stage{
		Name: "extract-sections",
		Run: func(in *elfobj.Container) (*elfobj.Container, error) {
			c := in.Clone()

			allowed := make(map[string]struct{}, len(names))
			for _, n := range names {
				allowed[n] = struct{}{}
			}

			keep := make([]bool, len(c.Sections))
			keep[0] = true // reserved null section
			keep[c.Header.Shstrndx] = true
			for i, s := range c.Sections {
				if _, ok := allowed[s.Name]; ok {
					keep[i] = true
				}
			}
			// Close over sh_link so e.g. a kept symbol table brings its
			// string table along even when not separately allowlisted.
			for changed := true; changed; {
				changed = false
				for i, s := range c.Sections {
					if !keep[i] || s.Link == 0 || uint64(s.Link) >= uint64(len(c.Sections)) {
						continue
					}
					if !keep[s.Link] {
						keep[s.Link] = true
						changed = true
					}
				}
			}

			remap := make([]uint32, len(c.Sections))
			kept := make([]*elfobj.Section, 0, len(c.Sections))
			for i, s := range c.Sections {
				if !keep[i] {
					continue
				}
				remap[i] = uint32(len(kept))
				kept = append(kept, s)
			}
			for i, s := range c.Sections {
				if !keep[i] {
					continue
				}
				if s.Link != 0 && uint64(s.Link) < uint64(len(c.Sections)) {
					s.Link = remap[s.Link]
				}
			}

			out := &elfobj.Container{
				Header:   c.Header,
				Sections: kept,
				Segments: c.Segments,
			}
			out.Header.Shnum = uint16(len(kept))
			out.Header.Shstrndx = uint16(remap[c.Header.Shstrndx])

			if err := rebuildSectionNames(out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

// rebuildSectionNames writes a fresh section header string table holding
// only the retained names. The rebuilt table can be larger than the old one
// when the producer suffix-merged names, so it is moved past every other
// section until the compactor assigns final offsets.
func rebuildSectionNames(c *elfobj.Container) error {
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	for _, s := range c.Sections {
		if s.Name == "" {
			s.NameOff = 0
			continue
		}
		data, err := unix.ByteSliceFromString(s.Name)
		if err != nil {
			return err
		}
		s.NameOff = uint32(strtab.Len())
		strtab.Write(data)
	}

	shstrtab := c.Sections[c.Header.Shstrndx]
	shstrtab.Data = strtab.Bytes()
	shstrtab.Size = uint64(strtab.Len())
	shstrtab.Type = elf.SHT_STRTAB
	shstrtab.Entsize = 0

	var end uint64
	for i, s := range c.Sections {
		if i == int(c.Header.Shstrndx) || !s.HasData() {
			continue
		}
		if e := s.Offset + s.Size; e > end {
			end = e
		}
	}
	shentsize := uint64(64)
	if c.Header.Class == elf.ELFCLASS32 {
		shentsize = 40
	}
	if e := c.Header.Shoff + uint64(c.Header.Shnum)*shentsize; e > end {
		end = e
	}
	shstrtab.Offset = end
	return nil
}
