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

package soabi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/elfabi/elfabi/internal/testelf"
	"github.com/elfabi/elfabi/pkg/abihash"
	"github.com/elfabi/elfabi/pkg/elfobj"
)

func writeFixture(t *testing.T, dir, name string, cfg testelf.Config) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, testelf.SharedLib(cfg), 0o644))
	return path
}

func TestBuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFixture(t, dir, "libfoo.so", testelf.Config{
		Soname: "libfoo.so.1",
		Needed: []string{"libc.so.6"},
		Syms:   []testelf.Sym{testelf.Func("foo", 0x1000, 16)},
	})
	dst := filepath.Join(dir, "libfoo.so.interface")

	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())
	digest, err := b.Build(context.Background(), src, dst)
	require.NoError(t, err)
	require.NotEmpty(t, digest)

	// The artifact is a valid, scrubbed container.
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	c, err := elfobj.Parse(raw)
	require.NoError(t, err)
	require.False(t, c.HasSection(".text"))
	require.True(t, c.HasSection(".dynsym"))
	require.Empty(t, c.Segments)

	// The returned digest is the artifact's content digest.
	fromFile, err := abihash.File(dst)
	require.NoError(t, err)
	require.Equal(t, fromFile, digest)

	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.buildSuccess))
	require.Equal(t, 0.0, testutil.ToFloat64(b.metrics.buildFailure))
}

func TestBuildStableAcrossImplementations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())

	build := func(name string, cfg testelf.Config) string {
		src := writeFixture(t, dir, name, cfg)
		digest, err := b.Build(context.Background(), src, src+".interface")
		require.NoError(t, err)
		return digest
	}

	d1 := build("v1.so", testelf.Config{
		Soname: "libstable.so",
		Syms:   []testelf.Sym{testelf.Func("f", 0x1000, 8)},
		Text:   []byte{0xc3},
	})
	d2 := build("v2.so", testelf.Config{
		Soname: "libstable.so",
		Syms:   []testelf.Sym{testelf.Func("f", 0x4480, 240)},
		Text:   []byte{0x90, 0x90, 0xc3},
	})
	require.Equal(t, d1, d2)
}

func TestBuildMalformedInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "not-an-elf")
	require.NoError(t, os.WriteFile(src, []byte("plain text"), 0o644))
	dst := filepath.Join(dir, "out")

	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())
	_, err := b.Build(context.Background(), src, dst)
	require.ErrorIs(t, err, elfobj.ErrMalformedFormat)

	// No partial artifact is left behind.
	_, err = os.Stat(dst)
	require.True(t, os.IsNotExist(err))

	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.buildFailure))
}

func TestBuildReplacesExistingArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeFixture(t, dir, "libfoo.so", testelf.Config{Soname: "libfoo.so.1"})
	dst := filepath.Join(dir, "libfoo.so.interface")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o644))

	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())
	digest, err := b.Build(context.Background(), src, dst)
	require.NoError(t, err)

	fromFile, err := abihash.File(dst)
	require.NoError(t, err)
	require.Equal(t, fromFile, digest)
}

func TestBuildCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())
	_, err := b.Build(ctx, "in", "out")
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good1 := writeFixture(t, dir, "liba.so", testelf.Config{Soname: "liba.so.1"})
	good2 := writeFixture(t, dir, "libb.so", testelf.Config{Soname: "libb.so.1"})
	bad := filepath.Join(dir, "libbad.so")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())
	err := b.BuildAll(context.Background(), map[string]string{
		good1: good1 + ".interface",
		bad:   bad + ".interface",
		good2: good2 + ".interface",
	})
	// One failure is reported, the remaining builds still ran.
	require.Error(t, err)
	require.FileExists(t, good1+".interface")
	require.FileExists(t, good2+".interface")

	require.Equal(t, 2.0, testutil.ToFloat64(b.metrics.buildSuccess))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.buildFailure))
}

func TestBuildAllEmpty(t *testing.T) {
	t.Parallel()

	b := NewBuilder(log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, b.BuildAll(context.Background(), nil))
}
