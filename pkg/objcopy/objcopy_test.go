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

package objcopy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToObjcopy(t *testing.T) {
	t.Parallel()

	tool := New(log.NewNopLogger(), nil)
	require.Equal(t, []string{"objcopy"}, tool.commandPrefix)

	tool = New(log.NewNopLogger(), []string{"llvm-objcopy", "--some-flag"})
	require.Equal(t, []string{"llvm-objcopy", "--some-flag"}, tool.commandPrefix)
}

func TestExtractSectionsMissingTool(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tool := New(log.NewNopLogger(), []string{filepath.Join(dir, "no-such-tool")})

	err := tool.ExtractSections(context.Background(), []string{".dynamic"},
		filepath.Join(dir, "in.so"), filepath.Join(dir, "out.so"))
	require.Error(t, err)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
}

func TestExtractSectionsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	tool := New(log.NewNopLogger(), []string{"true"})
	err := tool.ExtractSections(ctx, []string{".dynamic"},
		filepath.Join(dir, "in.so"), filepath.Join(dir, "out.so"))
	require.Error(t, err)
}

func TestToolError(t *testing.T) {
	t.Parallel()

	inner := errors.New("exit status 1")
	err := &ToolError{Output: "unrecognized option", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "unrecognized option")

	bare := &ToolError{Err: inner}
	require.Contains(t, bare.Error(), "exit status 1")
}
