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

// Package abihash computes the content identity of an interface artifact.
// Because the scrubbing pipeline is deterministic, equal digests mean equal
// ABI and downstream link outputs can be reused.
package abihash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Bytes returns the digest of a serialized artifact.
func Bytes(b []byte) string {
	h := xxhash.New()
	h.Write(b) //nolint:errcheck // never fails
	return hex.EncodeToString(h.Sum(nil))
}

// Reader digests everything readable from r.
func Reader(r io.Reader) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash contents: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File digests the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}
