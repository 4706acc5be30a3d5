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

// Package scrub turns a full ELF shared library into a minimal ABI
// interface object: only the sections a linker needs to resolve symbols
// survive, and every build-specific value in them (addresses, sizes, entry
// point, segment layout) is normalized away. Two libraries with the same
// exported ABI scrub to byte-identical artifacts no matter how their code,
// data, or debug info differ.
//
// Every stage is a pure function from one container to a new one; stages
// never mutate their input, which keeps each independently testable and
// makes the whole pipeline deterministic.
package scrub

import (
	"debug/elf"
	"fmt"

	"github.com/elfabi/elfabi/pkg/elfobj"
)

// DefaultSectionAllowlist names the sections relevant to dynamic linking.
// Everything else in a shared library is implementation detail.
var DefaultSectionAllowlist = []string{
	".dynamic",
	".dynsym",
	".dynstr",
	".gnu.version",
	".gnu.version_d",
	".gnu.version_r",
}

// DefaultDynamicTagAllowlist keeps only the tags that are part of the ABI:
// the library's own name and its direct dependencies.
var DefaultDynamicTagAllowlist = []elf.DynTag{
	elf.DT_NEEDED,
	elf.DT_SONAME,
}

// Stage is one named transformation of the pipeline.
type Stage struct {
	Name string
	Run  func(*elfobj.Container) (*elfobj.Container, error)
}

// Pipeline is a fixed sequence of stages. Any stage failure aborts the run.
type Pipeline struct {
	stages []Stage
}

// Stages returns the pipeline's stage sequence.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Run feeds the container through every stage in order and returns the last
// stage's output.
func (p *Pipeline) Run(c *elfobj.Container) (*elfobj.Container, error) {
	for _, st := range p.stages {
		next, err := st.Run(c)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.Name, err)
		}
		c = next
	}
	return c, nil
}

// Options adjusts the interface pipeline. The zero value reproduces the
// standard shared library interface transformation.
type Options struct {
	// SectionAllowlist overrides DefaultSectionAllowlist.
	SectionAllowlist []string
	// DynamicTagAllowlist overrides DefaultDynamicTagAllowlist.
	DynamicTagAllowlist []elf.DynTag
	// RemoveScrubbedTags drops non-allowlisted dynamic entries instead of
	// neutralizing them in place.
	RemoveScrubbedTags bool
	// ScrubUndefined removes undefined symbols from the scrubbed symbol
	// tables, renumbering any version table in lock-step.
	ScrubUndefined bool
}

// Interface builds the shared library interface pipeline:
// extract the dynamic-linking sections, compact the file, drop the program
// headers, scrub both symbol tables (the static one may already be
// stripped), scrub the dynamic section down to NEEDED/SONAME, and zero the
// build-specific file header fields.
func Interface(opts Options) *Pipeline {
	sections := opts.SectionAllowlist
	if sections == nil {
		sections = DefaultSectionAllowlist
	}
	tags := opts.DynamicTagAllowlist
	if tags == nil {
		tags = DefaultDynamicTagAllowlist
	}
	return &Pipeline{stages: []Stage{
		ExtractSections(sections...),
		CompactSections(),
		ClearProgramHeaders(),
		ScrubSymbolTable(SymbolTableConfig{
			Section:        ".dynsym",
			VersionSection: ".gnu.version",
			ScrubUndefined: opts.ScrubUndefined,
		}),
		ScrubSymbolTable(SymbolTableConfig{
			Section:        ".symtab",
			AllowMissing:   true,
			ScrubUndefined: opts.ScrubUndefined,
		}),
		ScrubDynamicSection(DynamicConfig{
			AllowedTags:        tags,
			RemoveScrubbedTags: opts.RemoveScrubbedTags,
		}),
		ScrubFileHeader(),
	}}
}
