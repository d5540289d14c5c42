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

import "math/bits"

// SigSet is a 128-bit signal bitmask, stored as two 64-bit words. Only bits
// for signals 1..31 are addressable by the per-signal API (Add/Remove/Has);
// signals 32..63, stored in the second word, are realtime signals reserved
// for future use and are only reachable through the bulk operations.
//
// +stateify savable
type SigSet struct {
	Bits [2]uint64
}

func sigBit(sig int) (word int, mask uint64, ok bool) {
	if sig < 1 || sig > 31 {
		return 0, 0, false
	}
	return 0, uint64(1) << uint(sig-1), true
}

// Add sets sig's bit, returning whether it transitioned 0->1. Signals
// outside 1..31 are rejected with false.
func (s *SigSet) Add(sig int) bool {
	word, mask, ok := sigBit(sig)
	if !ok {
		return false
	}
	if s.Bits[word]&mask != 0 {
		return false
	}
	s.Bits[word] |= mask
	return true
}

// Remove clears sig's bit, returning whether it transitioned 1->0.
func (s *SigSet) Remove(sig int) bool {
	word, mask, ok := sigBit(sig)
	if !ok {
		return false
	}
	if s.Bits[word]&mask == 0 {
		return false
	}
	s.Bits[word] &^= mask
	return true
}

// Has reports whether sig's bit is set.
func (s *SigSet) Has(sig int) bool {
	word, mask, ok := sigBit(sig)
	return ok && s.Bits[word]&mask != 0
}

// AddFrom ORs both words of other into s.
func (s *SigSet) AddFrom(other *SigSet) {
	s.Bits[0] |= other.Bits[0]
	s.Bits[1] |= other.Bits[1]
}

// RemoveFrom AND-NOTs both words of other out of s.
func (s *SigSet) RemoveFrom(other *SigSet) {
	s.Bits[0] &^= other.Bits[0]
	s.Bits[1] &^= other.Bits[1]
}

// Dequeue returns the lowest-numbered signal in s∩mask (restricted to the
// first word; bit i is reported as signal i+1), clearing it from s. The second return
// value is false iff s∩mask is empty.
func (s *SigSet) Dequeue(mask *SigSet) (int, bool) {
	pending := s.Bits[0] & mask.Bits[0]
	if pending == 0 {
		return 0, false
	}
	sig := bits.TrailingZeros64(pending)
	s.Bits[0] &^= uint64(1) << uint(sig)
	return sig + 1, true
}

// SignalMask is the per-task mutable signal mask (§3 `signal_mask`, §4.3).
// It embeds a SigSet and is only ever touched from the owning task's own
// trap context; see the "single-writer, no-reader-from-other-task"
// discipline of spec.md §5/§9.
type SignalMask struct {
	set SigSet
}

// Get returns a copy of the current mask.
func (m *SignalMask) Get() SigSet { return m.set }

// Set replaces the current mask.
func (m *SignalMask) Set(s SigSet) { m.set = s }

// Add adds sig to the mask.
func (m *SignalMask) Add(sig int) bool { return m.set.Add(sig) }

// Remove removes sig from the mask.
func (m *SignalMask) Remove(sig int) bool { return m.set.Remove(sig) }

// Has reports whether sig is in the mask.
func (m *SignalMask) Has(sig int) bool { return m.set.Has(sig) }

// AddFrom ORs other into the mask (used by rt_sigprocmask SIG_BLOCK).
func (m *SignalMask) AddFrom(other *SigSet) { m.set.AddFrom(other) }

// RemoveFrom AND-NOTs other out of the mask (SIG_UNBLOCK).
func (m *SignalMask) RemoveFrom(other *SigSet) { m.set.RemoveFrom(other) }

// Dequeue removes and returns the lowest-numbered pending signal in mask,
// per spec.md §4.3.
func (m *SignalMask) Dequeue(mask *SigSet) (int, bool) { return m.set.Dequeue(mask) }
