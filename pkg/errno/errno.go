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

// Package errno defines the syscall error taxonomy consumed at the
// dispatcher boundary. Every Kind maps to a negated Linux errno value, the
// form the dispatcher returns to the trapping task.
package errno

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is a syscall error classification. The zero Kind is not a valid
// error; use OK via a nil *Error instead.
type Kind int

const (
	// EInval is a syntactically invalid argument (bad flag combination,
	// buffer too small).
	EInval Kind = iota + 1
	// EFault is a user pointer outside the user-mapped region, or of the
	// wrong permission.
	EFault
	// ENameTooLong is a null-terminated user string scan that overran its
	// cap.
	ENameTooLong
	// ENoEnt is a path not found (exec load failure).
	ENoEnt
	// ENotDir is a type mismatch: expected a directory.
	ENotDir
	// EIsDir is a type mismatch: expected a non-directory.
	EIsDir
	// ENoSys is an unknown or explicitly-unimplemented syscall number.
	ENoSys
	// ENotSup is an operation that is valid but refused in the current
	// state (exec on a shared address space).
	ENotSup
	// EChild is "no child matches", returned by wait when the calling
	// task has no children left to reap.
	EChild
	// EIntr is a syscall interrupted mid-flight by a racing operation on
	// the same task or thread group.
	EIntr
	// EAgain is a transient failure the caller should retry.
	EAgain
)

var names = map[Kind]string{
	EInval:       "EINVAL",
	EFault:       "EFAULT",
	ENameTooLong: "ENAMETOOLONG",
	ENoEnt:       "ENOENT",
	ENotDir:      "ENOTDIR",
	EIsDir:       "EISDIR",
	ENoSys:       "ENOSYS",
	ENotSup:      "ENOTSUP",
	EChild:       "ECHILD",
	EIntr:        "EINTR",
	EAgain:       "EAGAIN",
}

var codes = map[Kind]int{
	EInval:       int(unix.EINVAL),
	EFault:       int(unix.EFAULT),
	ENameTooLong: int(unix.ENAMETOOLONG),
	ENoEnt:       int(unix.ENOENT),
	ENotDir:      int(unix.ENOTDIR),
	EIsDir:       int(unix.EISDIR),
	ENoSys:       int(unix.ENOSYS),
	ENotSup:      int(unix.ENOTSUP),
	EChild:       int(unix.ECHILD),
	EIntr:        int(unix.EINTR),
	EAgain:       int(unix.EAGAIN),
}

// Code returns the positive Linux errno value for k. The dispatcher negates
// it when building a syscall return value.
func (k Kind) Code() int {
	if c, ok := codes[k]; ok {
		return c
	}
	return int(unix.EINVAL)
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("errno.Kind(%d)", int(k))
}

// Error wraps a Kind with contextual detail. It implements the standard
// error interface so handlers can use %w and errors.As against it, while
// the dispatcher only ever needs the Kind to compute a return value.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New builds an *Error for the given Kind with an associated message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Of returns k's plain Error with no message.
func Of(k Kind) *Error {
	return &Error{Kind: k}
}
