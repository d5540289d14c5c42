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

package dispatch

import (
	"encoding/binary"
	"testing"

	"kern.dev/posixcore/pkg/errno"
	"kern.dev/posixcore/pkg/sentry/hal"
	"kern.dev/posixcore/pkg/sentry/kernel"
	"kern.dev/posixcore/pkg/sentry/vfsns"
	"kern.dev/posixcore/pkg/sentry/vm"
)

// fakeTask/fakeScheduler give these tests a deterministic "current task"
// without depending on the real scheduler's goroutine-identity binding
// (pkg/sentry/sched), mirroring the kernel package's own lifecycle tests.
type fakeTask struct {
	id       int64
	state    kernel.TaskState
	exitCode int
}

func (t *fakeTask) ID() int64               { return t.id }
func (t *fakeTask) State() kernel.TaskState { return t.state }
func (t *fakeTask) ExitCode() int           { return t.exitCode }
func (t *fakeTask) Join() int               { return t.exitCode }

type fakeInner struct{ entry func() }

func (i *fakeInner) SetPageTableRoot(uintptr) {}

type fakeScheduler struct {
	nextID  int64
	current *fakeTask
}

func (s *fakeScheduler) NewTaskInner(entry func(), name string, kstackSize int) kernel.TaskInner {
	return &fakeInner{entry: entry}
}

func (s *fakeScheduler) SpawnTask(ti kernel.TaskInner) kernel.SchedTask {
	s.nextID++
	t := &fakeTask{id: s.nextID, state: kernel.TaskRunning}
	prev := s.current
	s.current = t
	ti.(*fakeInner).entry()
	s.current = prev
	return t
}

func (s *fakeScheduler) Current() kernel.SchedTask {
	if s.current == nil {
		return nil
	}
	return s.current
}

func (s *fakeScheduler) YieldNow() {}

func (s *fakeScheduler) Exit(code int) {
	if s.current == nil {
		return
	}
	s.current.state = kernel.TaskExited
	s.current.exitCode = code
}

func newTestTask(t *testing.T) (*kernel.TaskExtension, *fakeScheduler, *kernel.Kernel) {
	kernel.SetGlobalNamespaceFactory(func() kernel.Namespace { return vfsns.New() })
	fs := &fakeScheduler{}
	k := kernel.NewKernel(fs, hal.NewSoftwareHAL(), kernel.ISAAMD64, func() kernel.Namespace { return vfsns.New() })

	aspace := vm.New()
	entry, stackBase, err := aspace.LoadUserApp("/init", nil, nil)
	if err != nil {
		t.Fatalf("LoadUserApp: %v", err)
	}
	ext, err := kernel.SpawnUser(k, aspace, kernel.NewUserContext(entry, stackBase, 0), 0)
	if err != nil {
		t.Fatalf("SpawnUser: %v", err)
	}
	// Bind the fake scheduler's "current" so StubKill's Sched.Exit call
	// (and any handler reading Sched.Current) lands on this task.
	fs.current = &fakeTask{id: ext.ProcID(), state: kernel.TaskRunning}
	return ext, fs, k
}

func TestDispatchSuccessReturnsPositiveResult(t *testing.T) {
	ext, _, _ := newTestTask(t)
	d := New(BuildTable())
	tf := &kernel.UserContext{}
	ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysGetpid)
	if ret != ext.ProcID() {
		t.Fatalf("Dispatch(getpid) = %d, want %d", ret, ext.ProcID())
	}
}

func TestDispatchErrorReturnsNegatedErrno(t *testing.T) {
	ext, _, _ := newTestTask(t)
	d := New(BuildTable())
	tf := &kernel.UserContext{Args: [6]uint64{0, 0, 0}} // pid==0: the <=0 "any child" path, and there are none
	ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysWait4)
	if ret != -int64(errno.EChild.Code()) {
		t.Fatalf("Dispatch(wait4, no children) = %d, want %d", ret, -int64(errno.EChild.Code()))
	}
}

// TestDispatchStubPolicies exercises spec scenario S4: a kill-stub syscall
// kills the task with ENOSYS, an unimplemented-stub syscall returns
// -ENOSYS, and a bypass-stub syscall returns 0.
func TestDispatchStubPolicies(t *testing.T) {
	ext, fs, _ := newTestTask(t)
	d := New(BuildTable())
	tf := &kernel.UserContext{}

	if ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysNanosleep); ret != 0 {
		t.Fatalf("bypass stub returned %d, want 0", ret)
	}
	if ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysSysinfo); ret != -int64(errno.ENoSys.Code()) {
		t.Fatalf("unimplemented stub returned %d, want %d", ret, -int64(errno.ENoSys.Code()))
	}

	if fs.current.State() == kernel.TaskExited {
		t.Fatalf("task exited before the kill-stub syscall")
	}
	ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysSysMax) // genuinely unknown: defaults to StubKill
	if ret != -int64(errno.ENoSys.Code()) {
		t.Fatalf("kill stub returned %d, want %d", ret, -int64(errno.ENoSys.Code()))
	}
	if fs.current.State() != kernel.TaskExited || fs.current.ExitCode() != errno.ENoSys.Code() {
		t.Fatalf("kill stub did not terminate the task with ENOSYS: state=%v code=%d", fs.current.State(), fs.current.ExitCode())
	}
}

// TestGetdents64BufferTooSmall exercises spec scenario S2.
func TestGetdents64BufferTooSmall(t *testing.T) {
	ext, _, _ := newTestTask(t)
	aspace := ext.AddrSpace().(*vm.AddrSpace)
	const bufAddr = 0x600000
	aspace.Map(bufAddr, 64, vm.PermRead|vm.PermWrite, nil)

	d := New(BuildTable())
	tf := &kernel.UserContext{Args: [6]uint64{0, bufAddr, 10}}
	ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysGetdents64)
	if ret != -int64(errno.EInval.Code()) {
		t.Fatalf("Dispatch(getdents64, len=10) = %d, want %d", ret, -int64(errno.EInval.Code()))
	}
}

// TestGetdents64PartialFill exercises spec scenario S3: a directory with
// entries "a", "bb" packed into a 64-byte buffer.
func TestGetdents64PartialFill(t *testing.T) {
	ext, _, _ := newTestTask(t)
	cwd := ext.Namespace().CWD().(*vfsns.CWD)
	cwd.SetEntries([]vfsns.DirEntry{{Name: "a"}, {Name: "bb"}})

	aspace := ext.AddrSpace().(*vm.AddrSpace)
	const bufAddr = 0x600000
	const bufLen = 64
	aspace.Map(bufAddr, bufLen, vm.PermRead|vm.PermWrite, nil)

	d := New(BuildTable())
	tf := &kernel.UserContext{Args: [6]uint64{0, bufAddr, bufLen}}
	ret := d.Dispatch(ext, kernel.ISAAMD64, tf, SysGetdents64)

	const hdr = dirEntFixedSize
	wantReclen1 := hdr + len("a") + 1
	wantReclen2 := hdr + len("bb") + 1
	wantTotal := int64(wantReclen1 + wantReclen2)
	if ret != wantTotal {
		t.Fatalf("Dispatch(getdents64) = %d, want %d", ret, wantTotal)
	}

	view, err := aspace.Translate(bufAddr, bufLen, false)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got := binary.LittleEndian.Uint16(view[16:18]); int(got) != wantReclen1 {
		t.Fatalf("first d_reclen = %d, want %d", got, wantReclen1)
	}
	if name := string(view[hdr : hdr+1]); name != "a" {
		t.Fatalf("first entry name = %q, want \"a\"", name)
	}
	if view[hdr+1] != 0 {
		t.Fatalf("first entry name not NUL-terminated")
	}
	second := view[wantReclen1:]
	if got := binary.LittleEndian.Uint16(second[16:18]); int(got) != wantReclen2 {
		t.Fatalf("second d_reclen = %d, want %d", got, wantReclen2)
	}
	if name := string(second[hdr : hdr+2]); name != "bb" {
		t.Fatalf("second entry name = %q, want \"bb\"", name)
	}

	if _, ok := cwd.Next(); ok {
		t.Fatalf("iterator not advanced past both emitted entries")
	}
}
