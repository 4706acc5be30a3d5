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

import "github.com/elfabi/elfabi/pkg/elfobj"

// ScrubFileHeader zeroes the file header fields that encode build-specific
// detail: the entry point address and the processor-specific flag bits.
// Class, endianness and machine type stay; changing those changes the real
// ABI and must remain observable.
func ScrubFileHeader() Stage {
	return Stage{
		Name: "scrub-file-header",
		Run: func(in *elfobj.Container) (*elfobj.Container, error) {
			c := in.Clone()
			c.Header.Entry = 0
			c.Header.Flags = 0
			return c, nil
		},
	}
}
