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

package abihash

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	t.Parallel()

	content := []byte("interface artifact contents")

	d1 := Bytes(content)
	require.Len(t, d1, 16) // 64-bit digest, hex encoded

	d2 := Bytes(append([]byte(nil), content...))
	require.Equal(t, d1, d2)

	require.NotEqual(t, d1, Bytes([]byte("different contents")))

	fromReader, err := Reader(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, d1, fromReader)

	path := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	fromFile, err := File(path)
	require.NoError(t, err)
	require.Equal(t, d1, fromFile)
}

func TestFileMissing(t *testing.T) {
	t.Parallel()

	_, err := File(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
