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

import "testing"

func TestSigSetAddRemoveRoundTrip(t *testing.T) {
	for sig := 1; sig <= 31; sig++ {
		var s SigSet
		if s.Has(sig) {
			t.Fatalf("sig %d: fresh SigSet already has bit set", sig)
		}
		if !s.Add(sig) {
			t.Fatalf("sig %d: Add reported no transition", sig)
		}
		if !s.Has(sig) {
			t.Fatalf("sig %d: Has false after Add", sig)
		}
		if !s.Remove(sig) {
			t.Fatalf("sig %d: Remove reported no transition", sig)
		}
		if s.Has(sig) {
			t.Fatalf("sig %d: Has true after Remove", sig)
		}
		if s != (SigSet{}) {
			t.Fatalf("sig %d: add-then-remove left %+v, want zero value", sig, s)
		}
	}
}

func TestSigSetOutOfRange(t *testing.T) {
	var s SigSet
	for _, sig := range []int{0, -1, 32, 63, 1000} {
		if s.Add(sig) {
			t.Errorf("Add(%d) on out-of-range signal reported a transition", sig)
		}
		if s.Has(sig) {
			t.Errorf("Has(%d) true for out-of-range signal", sig)
		}
	}
}

func TestSigSetDequeueEmpty(t *testing.T) {
	var s, mask SigSet
	mask.Bits[0] = 0xFF
	if _, ok := s.Dequeue(&mask); ok {
		t.Fatalf("Dequeue on empty intersection returned ok=true")
	}
}

// TestSigSetDequeueLowestBit exercises spec scenario S5: starting from a
// zero mask, AddFrom({bits:[0b1010,0]}) then Dequeue({bits:[0xFF,0]})
// returns 2 and leaves {bits:[0b1000,0]}.
func TestSigSetDequeueLowestBit(t *testing.T) {
	var s SigSet
	s.AddFrom(&SigSet{Bits: [2]uint64{0b1010, 0}})
	if s.Bits != [2]uint64{0b1010, 0} {
		t.Fatalf("after AddFrom: got %v", s.Bits)
	}

	mask := SigSet{Bits: [2]uint64{0xFF, 0}}
	sig, ok := s.Dequeue(&mask)
	if !ok || sig != 2 {
		t.Fatalf("Dequeue = (%d, %v), want (2, true)", sig, ok)
	}
	if s.Bits != [2]uint64{0b1000, 0} {
		t.Fatalf("after Dequeue: got %v, want {0b1000, 0}", s.Bits)
	}
}

func TestSignalMaskAddRemoveFrom(t *testing.T) {
	var m SignalMask
	block := SigSet{Bits: [2]uint64{0b11, 0}}
	m.AddFrom(&block)
	if !m.Has(1) || !m.Has(2) {
		t.Fatalf("mask after AddFrom: %+v", m.Get())
	}
	unblock := SigSet{Bits: [2]uint64{0b01, 0}}
	m.RemoveFrom(&unblock)
	if m.Has(1) {
		t.Fatalf("signal 1 still set after RemoveFrom")
	}
	if !m.Has(2) {
		t.Fatalf("signal 2 cleared unexpectedly by RemoveFrom")
	}
}
