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

// Package objcopy shells out to an external object-manipulation tool for
// the raw section copy-out step. The tool is addressed by a caller-supplied
// command prefix and treated as opaque; the in-process extractor makes it
// optional, but build systems that already ship a pinned binutils can keep
// using it.
package objcopy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ToolError reports a failed tool invocation together with the tool's
// combined stdout/stderr, which is usually the only useful diagnostic.
type ToolError struct {
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("external objcopy failed: %v", e.Err)
	}
	return fmt.Sprintf("external objcopy failed: %v: %s", e.Err, e.Output)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Tool invokes an external objcopy-compatible executable.
type Tool struct {
	logger        log.Logger
	commandPrefix []string
}

// New returns a Tool running the given command prefix. An empty prefix
// defaults to plain "objcopy" from PATH.
func New(logger log.Logger, commandPrefix []string) *Tool {
	if len(commandPrefix) == 0 {
		commandPrefix = []string{"objcopy"}
	}
	return &Tool{
		logger:        log.With(logger, "component", "objcopy"),
		commandPrefix: commandPrefix,
	}
}

// ExtractSections copies only the named sections from src into dst using
// the tool's --only-section mechanism.
func (t *Tool) ExtractSections(ctx context.Context, sections []string, src, dst string) error {
	args := make([]string, 0, len(t.commandPrefix)-1+len(sections)+2)
	args = append(args, t.commandPrefix[1:]...)
	for _, s := range sections {
		args = append(args, "--only-section="+s)
	}
	args = append(args, src, dst)

	cmd := exec.CommandContext(ctx, t.commandPrefix[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		level.Debug(t.logger).Log(
			"msg", "external objcopy command call failed",
			"output", strings.ReplaceAll(string(out), "\n", " "),
			"file", src,
		)
		return &ToolError{Output: strings.TrimSpace(string(out)), Err: err}
	}

	if _, err := os.Stat(dst); err != nil {
		return &ToolError{Err: fmt.Errorf("tool produced no output: %w", err)}
	}
	return nil
}
