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

package kernel

// timeSide is which side of the user/kernel boundary a task is currently
// charging time to.
type timeSide int32

const (
	sideUser timeSide = iota
	sideKernel
)

// TimeAccounting is the two-state monotonic time accumulator of spec.md
// §3/§4 "TimeAccounting": a pair of nanosecond counters switched at every
// user/kernel boundary crossing, grounded on original_source's
// `TimeStat`/`switch_into_user_mode`/`switch_into_kernel_mode`.
//
// Only the owning task's own trap context mutates a TimeAccounting; see the
// single-writer discipline of spec.md §5.
type TimeAccounting struct {
	userNS   int64
	kernelNS int64
	lastNS   int64
	side     timeSide
}

// NewTimeAccounting starts accounting at `now` (nanoseconds), in kernel
// mode: a task is created and begins life running kernel code before its
// first switch to user mode.
func NewTimeAccounting(now int64) *TimeAccounting {
	return &TimeAccounting{lastNS: now, side: sideKernel}
}

// SwitchToKernel charges the elapsed time since the last switch to user
// time, then flips to kernel mode. Called by the dispatcher on syscall
// entry (spec.md §4.1 step 1).
func (t *TimeAccounting) SwitchToKernel(now int64) {
	if t.side == sideKernel {
		// Already in kernel mode (re-entrant HAL path); nothing to
		// charge, avoid double-counting.
		return
	}
	t.userNS += now - t.lastNS
	t.lastNS = now
	t.side = sideKernel
}

// SwitchToUser is the symmetric transition, called by the dispatcher on
// syscall return (spec.md §4.1 step 5).
func (t *TimeAccounting) SwitchToUser(now int64) {
	if t.side == sideUser {
		return
	}
	t.kernelNS += now - t.lastNS
	t.lastNS = now
	t.side = sideUser
}

// UserNS returns the accumulated user-mode nanoseconds. Like the rest of
// TimeAccounting, this must only be called from the owning task's own trap
// context (spec.md §5).
func (t *TimeAccounting) UserNS() int64 { return t.userNS }

// KernelNS returns the accumulated kernel-mode nanoseconds.
func (t *TimeAccounting) KernelNS() int64 { return t.kernelNS }

// Times returns the times(2)-shaped (seconds, microseconds) pairs for user
// and kernel time, per SPEC_FULL.md's "Time accounting output surface".
// usec is the sub-second remainder (0..999999), as in struct timeval.
func (t *TimeAccounting) Times() (utimeSec, utimeUsec, stimeSec, stimeUsec int64) {
	const nsPerSec = 1_000_000_000
	const nsPerUsec = 1_000
	u, k := t.UserNS(), t.KernelNS()
	return u / nsPerSec, (u % nsPerSec) / nsPerUsec, k / nsPerSec, (k % nsPerSec) / nsPerUsec
}
