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
	"debug/elf"

	"github.com/elfabi/elfabi/pkg/elfobj"
)

// CompactSections re-lays-out the retained sections contiguously after the
// file header (and program header table, if one remains), eliminating the
// gaps left by dropped sections. Relative order is preserved, so sh_link
// indices stay valid untouched. Segment file windows are recomputed as the
// hull of the sections they used to contain; the window of a segment whose
// sections are all gone collapses to zero.
func CompactSections() Stage {
	return Stage{
		Name: "compact-sections",
		Run: func(in *elfobj.Container) (*elfobj.Container, error) {
			c := in.Clone()
			fh := &c.Header

			ehsize := uint64(64)
			phentsize := uint64(56)
			shentsize := uint64(64)
			shalign := uint64(8)
			if fh.Class == elf.ELFCLASS32 {
				ehsize, phentsize, shentsize, shalign = 52, 32, 40, 4
			}
			_ = shentsize

			off := ehsize
			if len(c.Segments) > 0 {
				fh.Phoff = ehsize
				off += uint64(len(c.Segments)) * phentsize
			} else {
				fh.Phoff = 0
			}

			oldOffsets := make([]uint64, len(c.Sections))
			for i, s := range c.Sections {
				oldOffsets[i] = s.Offset
			}

			for i, s := range c.Sections {
				if i == 0 {
					s.Offset = 0
					continue
				}
				off = align(off, s.Addralign)
				s.Offset = off
				// Old virtual addresses are layout of the full library and
				// would leak build-specific detail. Allocatable sections get
				// offset-equals-address, the usual ET_DYN arrangement.
				if s.Flags&elf.SHF_ALLOC != 0 {
					s.Addr = off
				} else {
					s.Addr = 0
				}
				if s.HasData() {
					off += s.Size
				}
			}
			fh.Shoff = align(off, shalign)

			for i := range c.Segments {
				seg := &c.Segments[i]
				var lo, hi uint64
				found := false
				for j, s := range c.Sections {
					if j == 0 || !s.HasData() || s.Size == 0 {
						continue
					}
					oldEnd := oldOffsets[j] + s.Size
					if oldOffsets[j] < seg.Off || oldEnd > seg.Off+seg.Filesz {
						continue
					}
					if !found || s.Offset < lo {
						lo = s.Offset
					}
					if end := s.Offset + s.Size; end > hi {
						hi = end
					}
					found = true
				}
				if found {
					seg.Off = lo
					seg.Filesz = hi - lo
				} else {
					seg.Off = 0
					seg.Filesz = 0
				}
			}

			return c, nil
		},
	}
}

func align(off, alignment uint64) uint64 {
	if alignment <= 1 {
		return off
	}
	return (off + alignment - 1) &^ (alignment - 1)
}
