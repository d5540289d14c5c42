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

// Package vm provides a reference implementation of the VM-layer interface
// consumed by the dispatch core (spec.md §6 "Toward the VM"). Page tables,
// real COW address-space cloning, and demand paging are explicitly out of
// scope (spec.md §1); this stands in for them with an in-memory byte-range
// map, enough to exercise TaskLifecycle.Clone/Exec and UserPointer
// validation end-to-end.
package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"kern.dev/posixcore/pkg/errno"
	"kern.dev/posixcore/pkg/sentry/kernel"
)

// Perm is a mapping's access permission.
type Perm int

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

type region struct {
	start, end uintptr
	perm       Perm
	data       []byte // len == end-start
}

func (r *region) contains(addr uintptr, length int) bool {
	end := addr + uintptr(length)
	return addr >= r.start && end <= r.end && end >= addr
}

// AddrSpace is the reference in-memory address space. The zero value is
// not usable; use New.
type AddrSpace struct {
	mu       sync.Mutex
	root     uintptr
	regions  []*region
	refcount atomic.Int32
}

var rootCounter atomic.Uintptr

// New constructs a fresh, empty AddrSpace with refcount 1 (the caller's
// reference), as new_user_aspace() does (§6).
func New() *AddrSpace {
	a := &AddrSpace{root: rootCounter.Add(1)}
	a.refcount.Store(1)
	return a
}

// Map registers a user-mapped region [addr, addr+len) with the given
// permission, backed by data (or a zero-filled buffer if data is nil).
// Tests and LoadUserApp use this to simulate the VM mapping in pages.
func (a *AddrSpace) Map(addr uintptr, length int, perm Perm, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, length)
	copy(buf, data)
	a.regions = append(a.regions, &region{start: addr, end: addr + uintptr(length), perm: perm, data: buf})
}

// Root returns the page-table root register value (§6 `page_table_root`).
func (a *AddrSpace) Root() uintptr { return a.root }

// RefCount returns the current shared-ownership count (§3 invariant 5).
func (a *AddrSpace) RefCount() int32 { return a.refcount.Load() }

// IncRef increments the shared-ownership count.
func (a *AddrSpace) IncRef() { a.refcount.Add(1) }

// DecRef decrements the shared-ownership count.
func (a *AddrSpace) DecRef() { a.refcount.Add(-1) }

// CloneOrErr produces a fully independent AddrSpace with its own backing
// buffers (the reference implementation always fully copies rather than
// modeling true copy-on-write sharing; the sharing *policy* named in flags
// is the VM layer's business, not this core's — see spec.md §4.4 step 2).
func (a *AddrSpace) CloneOrErr() (kernel.AddrSpace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	clone := New()
	clone.regions = make([]*region, len(a.regions))
	for i, r := range a.regions {
		cp := &region{start: r.start, end: r.end, perm: r.perm, data: append([]byte(nil), r.data...)}
		clone.regions[i] = cp
	}
	return clone, nil
}

// CopyFromKernel merges the kernel's always-shared high half into this
// address space (§4.4 step 3). The reference VM has no real kernel mapping
// to merge; this is a documented no-op.
func (a *AddrSpace) CopyFromKernel() error { return nil }

// UnmapUserAreas drops every registered mapping (exec step 1 / §6
// `unmap_user_areas`).
func (a *AddrSpace) UnmapUserAreas() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regions = nil
	return nil
}

// LoadUserApp simulates loading a program image: it adds a fixed-shape
// text+stack layout to the existing mappings (it does not remove any
// mapping already present), returning a
// deterministic entry point and stack base. path is only used to decide
// success/failure: an empty path simulates "file not found" (ENOENT), as
// original_source's `load_user_app` failure path does.
func (a *AddrSpace) LoadUserApp(path string, argv, envp []string) (entry, stackBase uintptr, err error) {
	if path == "" {
		return 0, 0, errno.New(errno.ENoEnt, "empty program path")
	}
	const (
		textBase  = 0x400000
		textSize  = 0x1000
		stackBaseAddr = 0x7ffff000
		stackSize = 0x10000
	)
	a.mu.Lock()
	a.regions = append(a.regions,
		&region{start: textBase, end: textBase + textSize, perm: PermRead | PermExec, data: make([]byte, textSize)},
		&region{start: stackBaseAddr - stackSize, end: stackBaseAddr, perm: PermRead | PermWrite, data: make([]byte, stackSize)},
	)
	a.mu.Unlock()
	return textBase, stackBaseAddr, nil
}

// Translate returns a bounded view of [addr, addr+length) if it lies
// entirely within one mapped region with the requested permission (§4.2).
func (a *AddrSpace) Translate(addr uintptr, length int, write bool) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		if !r.contains(addr, length) {
			continue
		}
		if write && r.perm&PermWrite == 0 {
			return nil, fmt.Errorf("region %#x-%#x not writable", r.start, r.end)
		}
		if !write && r.perm&PermRead == 0 {
			return nil, fmt.Errorf("region %#x-%#x not readable", r.start, r.end)
		}
		off := addr - r.start
		return r.data[off : off+uintptr(length)], nil
	}
	return nil, fmt.Errorf("address %#x length %d unmapped", addr, length)
}

var _ kernel.AddrSpace = (*AddrSpace)(nil)
