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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elfabi/elfabi/pkg/abihash"
	"github.com/elfabi/elfabi/pkg/logger"
	"github.com/elfabi/elfabi/pkg/objcopy"
	"github.com/elfabi/elfabi/pkg/scrub"
	"github.com/elfabi/elfabi/pkg/soabi"
)

type flags struct {
	LogLevel  string `kong:"enum='error,warn,info,debug',help='Log level.',default='info'"`
	LogFormat string `kong:"enum='logfmt,json',help='Log format.',default='logfmt'"`

	Extract struct {
		OutputDir          string   `kong:"help='Output directory path to use for interface artifacts.',default='out'"`
		Objcopy            []string `kong:"help='External objcopy command prefix for raw section pre-extraction. Empty disables the external step.'"`
		KeepSections       []string `kong:"help='Section names to retain instead of the default dynamic-linking set.'"`
		ScrubUndefined     bool     `kong:"help='Drop undefined symbols from the dynamic symbol table.'"`
		RemoveScrubbedTags bool     `kong:"help='Remove disallowed dynamic entries instead of zeroing them.'"`

		Paths []string `kong:"required,arg,name='path',help='Shared libraries to build interfaces for.',type:'path'"`
	} `cmd:"" help:"Build ABI interface artifacts from shared libraries."`

	Digest struct {
		Paths []string `kong:"required,arg,name='path',help='Files to digest.',type:'path'"`
	} `cmd:"" help:"Print content digests of files."`
}

func main() {
	flags := flags{}
	kongCtx := kong.Parse(&flags)

	logger := logger.NewLogger(flags.LogLevel, flags.LogFormat, "elfabi")

	var g run.Group

	ctx, cancel := context.WithCancel(context.Background())
	switch kongCtx.Command() {
	case "extract <path>":
		var sections []string
		if len(flags.Extract.KeepSections) > 0 {
			sections = flags.Extract.KeepSections
		}
		opts := []soabi.Option{
			soabi.WithPipelineOptions(scrub.Options{
				SectionAllowlist:   sections,
				ScrubUndefined:     flags.Extract.ScrubUndefined,
				RemoveScrubbedTags: flags.Extract.RemoveScrubbedTags,
			}),
		}
		if len(flags.Extract.Objcopy) > 0 {
			opts = append(opts, soabi.WithObjcopy(objcopy.New(logger, flags.Extract.Objcopy)))
		}
		builder := soabi.NewBuilder(logger, prometheus.NewRegistry(), opts...)

		g.Add(func() error {
			if err := os.MkdirAll(flags.Extract.OutputDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output dir, %s: %w", flags.Extract.OutputDir, err)
			}

			srcDsts := map[string]string{}
			for _, path := range flags.Extract.Paths {
				srcDsts[path] = filepath.Join(flags.Extract.OutputDir, filepath.Base(path))
			}
			if len(srcDsts) == 0 {
				return errors.New("failed to find actionable files")
			}

			if err := builder.BuildAll(ctx, srcDsts); err != nil {
				return err
			}
			for _, dst := range srcDsts {
				level.Info(logger).Log("msg", "interface artifact written", "file", dst)
			}
			return nil
		}, func(error) {
			cancel()
		})
	case "digest <path>":
		g.Add(func() error {
			for _, path := range flags.Digest.Paths {
				digest, err := abihash.File(path)
				if err != nil {
					return err
				}
				fmt.Printf("%s  %s\n", digest, path)
			}
			return nil
		}, func(error) {
			cancel()
		})
	default:
		level.Error(logger).Log("err", "Unknown command", "cmd", kongCtx.Command())
		os.Exit(1)
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, os.Kill))
	if err := g.Run(); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			level.Info(logger).Log("msg", "terminated", "signal", sigErr.Signal)
			return
		}
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "done!")
}
