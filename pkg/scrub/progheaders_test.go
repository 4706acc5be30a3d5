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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elfabi/elfabi/internal/testelf"
)

func TestClearProgramHeaders(t *testing.T) {
	t.Parallel()

	in := parseFixture(t, testelf.Config{Soname: "libfoo.so.1"})
	require.NotEmpty(t, in.Segments)

	out, err := ClearProgramHeaders().Run(in)
	require.NoError(t, err)
	require.Empty(t, out.Segments)
	require.Zero(t, out.Header.Phoff)
	require.Zero(t, out.Header.Phnum)

	// Idempotent.
	again, err := ClearProgramHeaders().Run(out)
	require.NoError(t, err)
	require.Equal(t, out, again)
}
