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

// Package soabi builds shared library interface artifacts: it reads a full
// shared library, runs the scrubbing pipeline over it and writes the
// ABI-only result next to wherever the surrounding build system wants it.
// This is the layer a build action calls; everything underneath is pure.
package soabi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elfabi/elfabi/pkg/abihash"
	"github.com/elfabi/elfabi/pkg/elfobj"
	"github.com/elfabi/elfabi/pkg/objcopy"
	"github.com/elfabi/elfabi/pkg/scrub"
)

// Builder produces interface artifacts from shared libraries.
type Builder struct {
	logger   log.Logger
	metrics  *metrics
	pipeline *scrub.Pipeline
	sections []string
	tool     *objcopy.Tool
}

// Option configures a Builder.
type Option func(*Builder)

// WithObjcopy makes the builder run the external tool as a raw
// pre-extraction step before the in-process pipeline.
func WithObjcopy(tool *objcopy.Tool) Option {
	return func(b *Builder) {
		b.tool = tool
	}
}

// WithPipelineOptions overrides the scrubbing pipeline configuration.
func WithPipelineOptions(opts scrub.Options) Option {
	return func(b *Builder) {
		b.pipeline = scrub.Interface(opts)
		if opts.SectionAllowlist != nil {
			b.sections = opts.SectionAllowlist
		}
	}
}

// NewBuilder creates a Builder with the standard interface pipeline.
func NewBuilder(logger log.Logger, reg prometheus.Registerer, opts ...Option) *Builder {
	b := &Builder{
		logger:   log.With(logger, "component", "soabi"),
		metrics:  newMetrics(reg),
		pipeline: scrub.Interface(scrub.Options{}),
		sections: scrub.DefaultSectionAllowlist,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build transforms the library at src into an interface artifact at dst and
// returns the artifact's content digest. The output file appears atomically:
// either the previous contents of dst survive or the fully written artifact
// does, never a torn file.
func (b *Builder) Build(ctx context.Context, src, dst string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	begin := time.Now()
	digest, err := b.build(ctx, src, dst)
	if err != nil {
		b.metrics.buildFailure.Inc()
		return "", err
	}
	b.metrics.buildSuccess.Inc()
	b.metrics.buildDuration.Observe(time.Since(begin).Seconds())

	level.Debug(b.logger).Log("msg", "interface artifact built", "file", dst, "digest", digest)
	return digest, nil
}

func (b *Builder) build(ctx context.Context, src, dst string) (string, error) {
	input := src
	if b.tool != nil {
		interim, cleanup, err := b.preExtract(ctx, src, dst)
		if err != nil {
			return "", err
		}
		defer cleanup()
		input = interim
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("read input library: %w", err)
	}

	container, err := elfobj.Parse(data)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", src, err)
	}

	scrubbed, err := b.pipeline.Run(container)
	if err != nil {
		return "", fmt.Errorf("scrub %s: %w", src, err)
	}

	out, err := scrubbed.Bytes()
	if err != nil {
		return "", fmt.Errorf("serialize interface for %s: %w", src, err)
	}

	if err := writeFileAtomic(dst, out, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return abihash.Bytes(out), nil
}

// preExtract runs the external tool to copy out the allowlisted sections
// into an interim file in dst's directory.
func (b *Builder) preExtract(ctx context.Context, src, dst string) (string, func(), error) {
	f, err := os.CreateTemp(filepath.Dir(dst), ".objcopy-*")
	if err != nil {
		return "", nil, fmt.Errorf("create interim file: %w", err)
	}
	interim := f.Name()
	f.Close()

	cleanup := func() { os.Remove(interim) }
	if err := b.tool.ExtractSections(ctx, b.sections, src, interim); err != nil {
		cleanup()
		return "", nil, err
	}
	return interim, cleanup, nil
}

// BuildAll builds an interface for every src in srcDsts, in deterministic
// order. Failures do not stop remaining builds; they are aggregated.
func (b *Builder) BuildAll(ctx context.Context, srcDsts map[string]string) error {
	srcs := make([]string, 0, len(srcDsts))
	for src := range srcDsts {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	var result *multierror.Error
	for _, src := range srcs {
		if _, err := b.Build(ctx, src, srcDsts[src]); err != nil {
			level.Warn(b.logger).Log(
				"msg", "failed to build shared library interface", "file", src, "err", err,
			)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".elfabi-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
