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

package scrub

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elfabi/elfabi/internal/testelf"
)

func TestCompactSections(t *testing.T) {
	t.Parallel()

	in := parseFixture(t, testelf.Config{
		Soname: "libfoo.so.1",
		Syms:   []testelf.Sym{testelf.Func("foo", 0x10, 1)},
	})

	extracted, err := ExtractSections(DefaultSectionAllowlist...).Run(in)
	require.NoError(t, err)

	out, err := CompactSections().Run(extracted)
	require.NoError(t, err)

	// Section order and links are untouched.
	for i, s := range out.Sections {
		require.Equal(t, extracted.Sections[i].Name, s.Name)
		require.Equal(t, extracted.Sections[i].Link, s.Link)
	}

	// Sections sit back to back after the headers, with only alignment
	// padding between them.
	next := uint64(64) + uint64(len(out.Segments))*56
	for i, s := range out.Sections {
		if i == 0 || !s.HasData() {
			continue
		}
		require.GreaterOrEqual(t, s.Offset, next)
		if s.Addralign > 1 {
			require.Less(t, s.Offset-next, s.Addralign)
			require.Zero(t, s.Offset%s.Addralign)
		} else {
			require.Equal(t, next, s.Offset)
		}
		next = s.Offset + s.Size
	}
	require.GreaterOrEqual(t, out.Header.Shoff, next)

	// Allocatable sections get offset-equals-address, others lose theirs.
	for i, s := range out.Sections {
		if i == 0 {
			continue
		}
		if s.Flags&elf.SHF_ALLOC != 0 {
			require.Equal(t, s.Offset, s.Addr)
		} else {
			require.Zero(t, s.Addr)
		}
	}

	// Segment windows shrink to the hull of the sections they contained.
	// The fixture's dynamic segment held exactly the dynamic section.
	dynamic, err := out.Section(".dynamic")
	require.NoError(t, err)
	require.Equal(t, elf.PT_DYNAMIC, out.Segments[1].Type)
	require.Equal(t, dynamic.Offset, out.Segments[1].Off)
	require.Equal(t, dynamic.Size, out.Segments[1].Filesz)

	// The output serializes without overlaps or gaps worth keeping.
	raw, err := out.Bytes()
	require.NoError(t, err)
	require.Less(t, len(raw), len(testelf.SharedLib(testelf.Config{
		Soname: "libfoo.so.1",
		Syms:   []testelf.Sym{testelf.Func("foo", 0x10, 1)},
	})))
}

func TestCompactSectionsCollapsesEmptySegmentWindows(t *testing.T) {
	t.Parallel()

	in := parseFixture(t, testelf.Config{Soname: "libfoo.so.1"})

	// Drop every section that any segment contained; the segment windows
	// have nothing left to describe and must collapse instead of pointing
	// at bytes that no longer exist.
	extracted, err := ExtractSections().Run(in)
	require.NoError(t, err)

	out, err := CompactSections().Run(extracted)
	require.NoError(t, err)

	require.Len(t, out.Sections, 2) // null section and the name table
	for _, seg := range out.Segments {
		require.Zero(t, seg.Off)
		require.Zero(t, seg.Filesz)
	}
}
