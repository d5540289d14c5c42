// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package usermem implements the UserPointer wrappers of spec.md §4.2:
// typed translation of raw user virtual addresses into bounded kernel-side
// slices or null-terminated strings, failing cleanly on invalid memory.
package usermem

import (
	"bytes"

	"kern.dev/posixcore/pkg/errno"
	"kern.dev/posixcore/pkg/sentry/kernel"
)

// MaxStringLen is the hard, page-bounded cap on a null-terminated scan,
// chosen to avoid unbounded reads from malicious user memory (§4.2).
const MaxStringLen = 4096

// Translator is the subset of kernel.AddrSpace a UserPointer needs.
// kernel.AddrSpace satisfies it directly; this exists only so usermem
// doesn't need the rest of AddrSpace's method set in its signatures.
type Translator interface {
	Translate(addr uintptr, length int, write bool) ([]byte, error)
}

// UserReadPtr is a read-only typed pointer into a task's user address
// space.
type UserReadPtr struct {
	Addr  uintptr
	space Translator
}

// NewUserReadPtr wraps addr for reads against space.
func NewUserReadPtr(space Translator, addr uintptr) UserReadPtr {
	return UserReadPtr{Addr: addr, space: space}
}

// UserWritePtr is a writable typed pointer into a task's user address
// space.
type UserWritePtr struct {
	Addr  uintptr
	space Translator
}

// NewUserWritePtr wraps addr for writes against space.
func NewUserWritePtr(space Translator, addr uintptr) UserWritePtr {
	return UserWritePtr{Addr: addr, space: space}
}

// translate performs the validation of §4.2: non-null, and the entire range
// mapped with the requested permission (a len==0 read still requires addr to
// lie in a mapped region). No alignment check is made. Validation happens at
// the moment of materialization, never eagerly at dispatch.
func translate(space Translator, addr uintptr, length int, write bool) ([]byte, error) {
	if addr == 0 {
		return nil, errno.Of(errno.EFault)
	}
	b, err := space.Translate(addr, length, write)
	if err != nil {
		return nil, errno.New(errno.EFault, "%v", err)
	}
	return b, nil
}

// Bytes materializes length bytes at the pointer as an immutable view.
func (p UserReadPtr) Bytes(length int) ([]byte, error) {
	return translate(p.space, p.Addr, length, false)
}

// Bytes materializes length bytes at the pointer as a mutable view.
func (p UserWritePtr) Bytes(length int) ([]byte, error) {
	return translate(p.space, p.Addr, length, true)
}

// String scans a NUL-terminated byte string at the pointer, up to
// MaxStringLen bytes. It fails ENAMETOOLONG if no NUL is found within the
// cap, EFAULT if any scanned byte lies outside mapped memory.
func (p UserReadPtr) String() (string, error) {
	// Read in 256-byte chunks to keep each Translate call bounded,
	// matching the "scan lazily up to a hard cap" requirement.
	const chunk = 256
	var buf []byte
	for off := 0; off < MaxStringLen; off += chunk {
		n := chunk
		if off+n > MaxStringLen {
			n = MaxStringLen - off
		}
		view, err := translate(p.space, p.Addr+uintptr(off), n, false)
		if err != nil {
			return "", err
		}
		if idx := bytes.IndexByte(view, 0); idx >= 0 {
			buf = append(buf, view[:idx]...)
			return string(buf), nil
		}
		buf = append(buf, view...)
	}
	return "", errno.Of(errno.ENameTooLong)
}

// kernel.AddrSpace satisfies Translator, so callers that already hold one
// (the dispatcher's handlers, typically) can pass it directly.
var _ Translator = kernel.AddrSpace(nil)
