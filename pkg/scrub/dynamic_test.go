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
	"github.com/elfabi/elfabi/pkg/elfobj"
)

func TestScrubDynamicSection(t *testing.T) {
	t.Parallel()

	cfg := testelf.Config{
		Soname: "libfoo.so.1",
		Needed: []string{"libc.so.6", "libpthread.so.0"},
	}

	t.Run("neutralize keeps table length", func(t *testing.T) {
		t.Parallel()
		in := parseFixture(t, cfg)
		inDyn, err := in.DynamicEntries(mustSection(t, in, ".dynamic"))
		require.NoError(t, err)

		out, err := ScrubDynamicSection(DynamicConfig{
			AllowedTags: DefaultDynamicTagAllowlist,
		}).Run(in)
		require.NoError(t, err)

		entries, err := out.DynamicEntries(mustSection(t, out, ".dynamic"))
		require.NoError(t, err)
		require.Len(t, entries, len(inDyn))

		for i, ent := range entries {
			switch inDyn[i].Tag {
			case elf.DT_NEEDED, elf.DT_SONAME:
				// Allowed entries keep position and value.
				require.Equal(t, inDyn[i], ent)
			default:
				// Everything else is neutralized, address values included.
				require.Equal(t, elfobj.DynamicEntry{}, ent)
			}
		}
	})

	t.Run("remove compacts the table", func(t *testing.T) {
		t.Parallel()
		in := parseFixture(t, cfg)

		out, err := ScrubDynamicSection(DynamicConfig{
			AllowedTags:        DefaultDynamicTagAllowlist,
			RemoveScrubbedTags: true,
		}).Run(in)
		require.NoError(t, err)

		entries, err := out.DynamicEntries(mustSection(t, out, ".dynamic"))
		require.NoError(t, err)
		require.Len(t, entries, 4) // two NEEDED, SONAME, terminator

		require.Equal(t, elf.DT_NEEDED, entries[0].Tag)
		require.Equal(t, elf.DT_NEEDED, entries[1].Tag)
		require.Equal(t, elf.DT_SONAME, entries[2].Tag)
		require.Equal(t, elf.DT_NULL, entries[3].Tag)

		// The section size followed the shrunken table.
		sec := mustSection(t, out, ".dynamic")
		require.Equal(t, uint64(len(entries))*16, sec.Size)
	})

	t.Run("missing dynamic section fails", func(t *testing.T) {
		t.Parallel()
		in, err := elfobj.Parse(testelf.Plain())
		require.NoError(t, err)

		_, err = ScrubDynamicSection(DynamicConfig{
			AllowedTags: DefaultDynamicTagAllowlist,
		}).Run(in)
		require.ErrorIs(t, err, elfobj.ErrMissingSection)
	})
}
