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

// ClearProgramHeaders removes the program header table and zeroes its file
// header pointer and count. The artifact is only ever inspected by a
// linker's symbol resolver, never handed to a program loader, so segment
// information is noise that would churn with unrelated layout changes.
// Idempotent: clearing an already-cleared container changes nothing.
func ClearProgramHeaders() Stage {
	return Stage{
		Name: "clear-program-headers",
		Run: func(in *elfobj.Container) (*elfobj.Container, error) {
			c := in.Clone()
			c.Segments = nil
			c.Header.Phoff = 0
			c.Header.Phnum = 0
			return c, nil
		},
	}
}
