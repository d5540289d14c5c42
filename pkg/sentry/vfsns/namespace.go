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

// Package vfsns provides a reference implementation of the namespace
// interface consumed by the dispatch core (spec.md §6 "Toward the
// VFS/namespace", §4.5). A real VFS-backed FD table and directory tree are
// explicitly out of scope (spec.md §1); this stands in for them with an
// in-memory FD table and directory listing, enough to exercise
// snapshot-at-fork seeding and the getdents64 demo handler.
package vfsns

import (
	"sync"

	"kern.dev/posixcore/pkg/sentry/kernel"
)

// DirEntry is one entry of an in-memory directory listing.
type DirEntry struct {
	Name string
	Dir  bool
}

// FDTable is the reference FD table: a map from descriptor number to open
// file name. It has no real I/O behind it; only the snapshot-at-
// fork (CopyInner/InitNew) semantics and size matter to the core.
type FDTable struct {
	mu   sync.Mutex
	open map[int32]string
	next int32
}

// NewFDTable returns an empty FD table.
func NewFDTable() *FDTable {
	return &FDTable{open: make(map[int32]string)}
}

// CopyInner snapshots the table's current contents (§4.5).
func (f *FDTable) CopyInner() kernel.FDTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := NewFDTable()
	for fd, name := range f.open {
		cp.open[fd] = name
	}
	cp.next = f.next
	return cp
}

// InitNew seeds this table from a snapshot produced by CopyInner.
func (f *FDTable) InitNew(seed kernel.FDTable) {
	src, ok := seed.(*FDTable)
	if !ok || src == nil {
		return
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = make(map[int32]string, len(src.open))
	for fd, name := range src.open {
		f.open[fd] = name
	}
	f.next = src.next
}

// Open registers name under a fresh descriptor.
func (f *FDTable) Open(name string) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.next
	f.next++
	f.open[fd] = name
	return fd
}

// Name returns the open file's name for fd, or "" if not open.
func (f *FDTable) Name(fd int32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.open[fd]
	return n, ok
}

// CWD is the reference current-directory object: a path string plus the
// directory listing visible at that path, used by the getdents64 demo.
type CWD struct {
	mu      sync.Mutex
	path    string
	entries []DirEntry
	cursor  int
}

// NewCWD builds a CWD rooted at path with the given listing.
func NewCWD(path string, entries []DirEntry) *CWD {
	return &CWD{path: path, entries: entries}
}

// SetEntries replaces the directory listing and resets the read cursor,
// used by boot code (and tests) to populate what getdents64 will iterate.
func (c *CWD) SetEntries(entries []DirEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.cursor = 0
}

// CopyInner snapshots the CWD's path and listing, resetting the read
// cursor — a freshly-forked child starts its directory reads from the top
// (§4.5).
func (c *CWD) CopyInner() kernel.CWD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &CWD{path: c.path, entries: append([]DirEntry(nil), c.entries...)}
}

// InitNew seeds this CWD from a snapshot produced by CopyInner.
func (c *CWD) InitNew(seed kernel.CWD) {
	src, ok := seed.(*CWD)
	if !ok || src == nil {
		return
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = src.path
	c.entries = append([]DirEntry(nil), src.entries...)
	c.cursor = 0
}

// Path returns the current-directory path string.
func (c *CWD) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// SetPath updates the current-directory path (chdir).
func (c *CWD) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Next returns the next unread directory entry and advances the cursor, or
// ok=false once the listing is exhausted — the iterator getdents64 drives.
func (c *CWD) Next() (DirEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor >= len(c.entries) {
		return DirEntry{}, false
	}
	e := c.entries[c.cursor]
	c.cursor++
	return e, true
}

// Remove deletes the named entry from the listing, reporting whether it was
// present. It backs the unlink/unlinkat demo handlers; there is no real
// backing store to unlink from (§1 non-goal).
func (c *CWD) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.Name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			if c.cursor > i {
				c.cursor--
			}
			return true
		}
	}
	return false
}

// Namespace is the reference per-process namespace: an FD table and a CWD.
type Namespace struct {
	fds *FDTable
	cwd *CWD
}

// New builds an empty Namespace; InitNew must be called (directly or via
// seedNamespace) before first use, per §4.5.
func New() *Namespace {
	return &Namespace{fds: NewFDTable(), cwd: NewCWD("/", nil)}
}

// FDTable returns the namespace's FD table.
func (n *Namespace) FDTable() kernel.FDTable { return n.fds }

// CWD returns the namespace's current-directory object.
func (n *Namespace) CWD() kernel.CWD { return n.cwd }

// CopyInner snapshots both slots (§4.5).
func (n *Namespace) CopyInner() kernel.Namespace {
	return &Namespace{
		fds: n.fds.CopyInner().(*FDTable),
		cwd: n.cwd.CopyInner().(*CWD),
	}
}

// InitNew seeds both slots from a snapshot produced by CopyInner.
func (n *Namespace) InitNew(seed kernel.Namespace) {
	src, ok := seed.(*Namespace)
	if !ok || src == nil {
		return
	}
	n.fds.InitNew(src.fds)
	n.cwd.InitNew(src.cwd)
}

var (
	_ kernel.FDTable   = (*FDTable)(nil)
	_ kernel.CWD       = (*CWD)(nil)
	_ kernel.Namespace = (*Namespace)(nil)
)
