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

package elfobj

import "errors"

var (
	// ErrMalformedFormat is returned when the input is not a well-formed ELF
	// object: bad magic, unsupported class or byte order, or header tables
	// that fall outside the buffer.
	ErrMalformedFormat = errors.New("malformed ELF object")

	// ErrMissingSection is returned when a section looked up by name does
	// not exist in the container.
	ErrMissingSection = errors.New("missing section")

	// ErrInvalidStringOffset is returned when a string table offset points
	// outside the table's contents.
	ErrInvalidStringOffset = errors.New("invalid string table offset")

	// ErrInvalidSectionLink is returned when a section's link field does not
	// name a valid section index. Containers produced by this package never
	// trip this; hitting it indicates a foreign or corrupted producer.
	ErrInvalidSectionLink = errors.New("invalid section link")
)
