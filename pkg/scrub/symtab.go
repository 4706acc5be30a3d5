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
	"errors"
	"fmt"

	"github.com/elfabi/elfabi/pkg/elfobj"
)

// SymbolTableConfig parameterizes one symbol table scrub.
type SymbolTableConfig struct {
	// Section is the symbol table to scrub, e.g. ".dynsym" or ".symtab".
	Section string
	// VersionSection, when set, names the symbol version table that must be
	// renumbered in lock-step if undefined symbols are removed. Its absence
	// is never an error; unversioned libraries have none.
	VersionSection string
	// AllowMissing turns a missing target section into a no-op instead of a
	// failure. The static .symtab of an already-stripped library is the
	// usual case.
	AllowMissing bool
	// ScrubUndefined removes undefined symbols entirely.
	ScrubUndefined bool
}

// ScrubSymbolTable zeroes the build-dependent fields of every record in the
// target symbol table: value and size always, and the concrete section
// index is collapsed to the defined/undefined category (0 stays 0, anything
// else becomes 1). Name, binding, type and visibility are what a consumer
// resolves against, so they pass through untouched. The reserved null
// record at index 0 is left alone.
func ScrubSymbolTable(cfg SymbolTableConfig) Stage {
	return Stage{
		Name: fmt.Sprintf("scrub-symbol-table(%s)", cfg.Section),
		Run: func(in *elfobj.Container) (*elfobj.Container, error) {
			c := in.Clone()

			sec, err := c.Section(cfg.Section)
			if err != nil {
				if cfg.AllowMissing && errors.Is(err, elfobj.ErrMissingSection) {
					return c, nil
				}
				return nil, err
			}

			syms, err := c.Symbols(sec)
			if err != nil {
				return nil, err
			}

			kept := make([]elfobj.Symbol, 0, len(syms))
			var keptIdx []int
			for i := range syms {
				sym := &syms[i]
				if i == 0 {
					kept = append(kept, *sym)
					keptIdx = append(keptIdx, i)
					continue
				}
				if cfg.ScrubUndefined && sym.Undefined() {
					continue
				}
				sym.Value = 0
				sym.Size = 0
				if !sym.Undefined() {
					sym.Shndx = 1
				}
				kept = append(kept, *sym)
				keptIdx = append(keptIdx, i)
			}

			removed := len(syms) != len(kept)
			if removed {
				// sh_info of a symbol table is the index of its first
				// non-local record; recompute it for the shrunken table.
				info := uint32(len(kept))
				for i, sym := range kept {
					if i == 0 {
						continue
					}
					if sym.Binding() != elf.STB_LOCAL {
						info = uint32(i)
						break
					}
				}
				sec.Info = info
			}

			if err := c.PutSymbols(sec, kept); err != nil {
				return nil, err
			}

			if removed && cfg.VersionSection != "" {
				if err := renumberVersionTable(c, cfg.VersionSection, len(syms), keptIdx); err != nil {
					return nil, err
				}
			}
			return c, nil
		},
	}
}

// renumberVersionTable drops the version records of removed symbols so the
// version table stays index-aligned with the scrubbed symbol table.
func renumberVersionTable(c *elfobj.Container, name string, oldCount int, keptIdx []int) error {
	sec, err := c.Section(name)
	if err != nil {
		if errors.Is(err, elfobj.ErrMissingSection) {
			return nil
		}
		return err
	}
	if len(sec.Data) != oldCount*2 {
		return fmt.Errorf("%w: version table %q holds %d bytes for %d symbols",
			elfobj.ErrMalformedFormat, name, len(sec.Data), oldCount)
	}

	data := make([]byte, 0, len(keptIdx)*2)
	for _, i := range keptIdx {
		data = append(data, sec.Data[i*2], sec.Data[i*2+1])
	}
	sec.Data = data
	sec.Size = uint64(len(data))
	return nil
}
