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

// Package hal provides a reference implementation of the HAL interface
// consumed by the dispatch core (spec.md §6 "Toward the HAL"). The real HAL
// — trap entry/exit stubs, a thread-pointer register, an actual user mode
// to enter — is explicitly out of scope (spec.md §1); this stands in for it
// in tests and the CLI demo with a software clock and a no-op uspace entry.
package hal

import (
	"sync/atomic"
	"time"

	"kern.dev/posixcore/pkg/sentry/kernel"
)

// SoftwareHAL is a HAL implementation with no real trap mechanism: entering
// user space is simulated as a no-op, and the monotonic clock is the host's
// monotonic clock, measured from construction. It is enough to drive TaskLifecycle and the Dispatcher
// end-to-end in-process.
type SoftwareHAL struct {
	start time.Time
	tlbs  atomic.Int64
	tp    uintptr
}

// NewSoftwareHAL constructs a SoftwareHAL with its monotonic clock zeroed
// at the moment of construction.
func NewSoftwareHAL() *SoftwareHAL {
	return &SoftwareHAL{start: time.Now()}
}

// EnterUspace is a no-op in the reference HAL: there is no real user mode
// to resume, so it simply returns rather than diverging control flow as a
// real HAL's enter_uspace would.
func (h *SoftwareHAL) EnterUspace(kstackTop uintptr, uctx kernel.TrapFrame) {}

// FlushTLB counts flush requests; tests can assert on TLBFlushes to confirm
// exec/clone called through the HAL.
func (h *SoftwareHAL) FlushTLB(rng *kernel.AddrRange) {
	h.tlbs.Add(1)
}

// TLBFlushes returns the number of FlushTLB calls observed so far.
func (h *SoftwareHAL) TLBFlushes() int64 { return h.tlbs.Load() }

// ReadThreadPointer returns the configured TLS pointer (settable via
// SetThreadPointer for tests that need arch_prctl-style behavior).
func (h *SoftwareHAL) ReadThreadPointer() uintptr { return h.tp }

// SetThreadPointer sets the value ReadThreadPointer returns.
func (h *SoftwareHAL) SetThreadPointer(tp uintptr) { h.tp = tp }

// MonotonicNow returns nanoseconds elapsed since the HAL was constructed.
func (h *SoftwareHAL) MonotonicNow() int64 {
	return time.Since(h.start).Nanoseconds()
}

var _ kernel.HAL = (*SoftwareHAL)(nil)
