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

func TestRlimitSetDefaultsBeforeSet(t *testing.T) {
	r := newRlimitSet()
	got := r.Get(LimitNOFILE)
	if got != defaultRlimit {
		t.Fatalf("Get(LimitNOFILE) = %+v, want default %+v", got, defaultRlimit)
	}
}

func TestRlimitSetGetAfterSet(t *testing.T) {
	r := newRlimitSet()
	want := Rlimit{Cur: 1024, Max: 4096}
	r.Set(LimitNOFILE, want)
	if got := r.Get(LimitNOFILE); got != want {
		t.Fatalf("Get(LimitNOFILE) = %+v, want %+v", got, want)
	}
	// An unrelated kind is unaffected and still defaults.
	if got := r.Get(LimitSTACK); got != defaultRlimit {
		t.Fatalf("Get(LimitSTACK) = %+v, want default %+v", got, defaultRlimit)
	}
}

func TestRlimitSetOverwrite(t *testing.T) {
	r := newRlimitSet()
	r.Set(LimitCPU, Rlimit{Cur: 1, Max: 2})
	r.Set(LimitCPU, Rlimit{Cur: 3, Max: 4})
	if got := r.Get(LimitCPU); got != (Rlimit{Cur: 3, Max: 4}) {
		t.Fatalf("Get(LimitCPU) after overwrite = %+v, want {3 4}", got)
	}
}
