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

const dynamicSectionName = ".dynamic"

// DynamicConfig parameterizes the dynamic section scrub.
type DynamicConfig struct {
	// AllowedTags lists the tag kinds that survive. Unrecognized tags are
	// never allowed.
	AllowedTags []elf.DynTag
	// RemoveScrubbedTags drops disallowed entries and compacts the table.
	// When false, disallowed entries are neutralized in place to DT_NULL
	// with a zero value, so no address-bearing value survives either way.
	RemoveScrubbedTags bool
}

// ScrubDynamicSection filters the dynamic section down to the allowed tag
// kinds. The terminating null entry always remains the final entry, and
// retained entries keep their original relative order.
func ScrubDynamicSection(cfg DynamicConfig) Stage {
	allowed := make(map[elf.DynTag]struct{}, len(cfg.AllowedTags))
	for _, t := range cfg.AllowedTags {
		allowed[t] = struct{}{}
	}

	return Stage{
		Name: "scrub-dynamic-section",
		Run: func(in *elfobj.Container) (*elfobj.Container, error) {
			c := in.Clone()

			sec, err := c.Section(dynamicSectionName)
			if err != nil {
				return nil, err
			}
			entries, err := c.DynamicEntries(sec)
			if err != nil {
				return nil, err
			}

			// Entries at and beyond the first DT_NULL are terminator and
			// padding; they are forced to zero rather than trusted.
			body := entries
			for i, ent := range entries {
				if ent.Tag == elf.DT_NULL {
					body = entries[:i]
					break
				}
			}

			var out []elfobj.DynamicEntry
			if cfg.RemoveScrubbedTags {
				out = make([]elfobj.DynamicEntry, 0, len(body)+1)
				for _, ent := range body {
					if _, ok := allowed[ent.Tag]; ok {
						out = append(out, ent)
					}
				}
				out = append(out, elfobj.DynamicEntry{Tag: elf.DT_NULL})
			} else {
				out = make([]elfobj.DynamicEntry, len(entries))
				for i, ent := range body {
					if _, ok := allowed[ent.Tag]; ok {
						out[i] = ent
					}
				}
			}

			if err := c.PutDynamicEntries(sec, out); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}
