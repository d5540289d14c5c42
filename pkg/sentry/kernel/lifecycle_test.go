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

import (
	"testing"

	"kern.dev/posixcore/pkg/errno"
	"kern.dev/posixcore/pkg/sentry/hal"
	"kern.dev/posixcore/pkg/sentry/vfsns"
	"kern.dev/posixcore/pkg/sentry/vm"
)

// fakeTask and fakeScheduler give lifecycle tests full manual control over
// "which task is current" without needing real goroutines: the reference
// sched.Scheduler binds Exit/Current to the calling goroutine, which this
// package's tests don't want to depend on to simulate "the child now calls
// exit(7)" deterministically.
type fakeTask struct {
	id       int64
	state    TaskState
	exitCode int
	done     chan struct{}
}

func (t *fakeTask) ID() int64        { return t.id }
func (t *fakeTask) State() TaskState { return t.state }
func (t *fakeTask) ExitCode() int    { return t.exitCode }
func (t *fakeTask) Join() int        { <-t.done; return t.exitCode }

type fakeInner struct{ entry func() }

func (i *fakeInner) SetPageTableRoot(uintptr) {}

type fakeScheduler struct {
	nextID  int64
	current *fakeTask
}

func (s *fakeScheduler) NewTaskInner(entry func(), name string, kstackSize int) TaskInner {
	return &fakeInner{entry: entry}
}

func (s *fakeScheduler) SpawnTask(ti TaskInner) SchedTask {
	s.nextID++
	t := &fakeTask{id: s.nextID, state: TaskRunning, done: make(chan struct{})}
	prev := s.current
	s.current = t
	ti.(*fakeInner).entry()
	s.current = prev
	return t
}

func (s *fakeScheduler) Current() SchedTask {
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
	s.current.exitCode = code
	s.current.state = TaskExited
	close(s.current.done)
}

// runAs simulates a syscall dispatched on behalf of t: it binds t as
// "current" for the duration of fn, as the real scheduler binds a task to
// the goroutine executing its syscalls.
func (s *fakeScheduler) runAs(t *fakeTask, fn func()) {
	prev := s.current
	s.current = t
	fn()
	s.current = prev
}

func newTestKernel(t *testing.T) (*Kernel, *fakeScheduler) {
	SetGlobalNamespaceFactory(func() Namespace { return vfsns.New() })
	fs := &fakeScheduler{}
	k := NewKernel(fs, hal.NewSoftwareHAL(), ISAAMD64, func() Namespace { return vfsns.New() })
	return k, fs
}

func spawnTestInit(t *testing.T, k *Kernel) *TaskExtension {
	aspace := vm.New()
	entry, stackBase, err := aspace.LoadUserApp("/init", nil, nil)
	if err != nil {
		t.Fatalf("LoadUserApp: %v", err)
	}
	uctx := NewUserContext(entry, stackBase, 0)
	ext, err := SpawnUser(k, aspace, uctx, 0)
	if err != nil {
		t.Fatalf("SpawnUser: %v", err)
	}
	return ext
}

// TestCloneExitWait exercises spec scenario S1: parent clones; child
// immediately "calls" exit(7); parent calls wait4(-1, &st, 0). Also checks
// §8 property 3 (children-list-before-observable) and property 7 (a
// second wait on an exhausted child set returns NotExist/ECHILD).
func TestCloneExitWait(t *testing.T) {
	k, fs := newTestKernel(t)
	parent := spawnTestInit(t, k)
	parent.SetCurrentTrap(parent.UserContext())

	childID, err := Clone(parent, ISAAMD64, 0, 0, 0)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	children := parent.Children()
	if len(children) != 1 || children[0].ProcID() != childID {
		t.Fatalf("parent.Children() = %+v, want exactly the new child %d", children, childID)
	}
	child := children[0]
	if child.ParentID() != parent.ProcID() {
		t.Fatalf("child.ParentID() = %d, want %d", child.ParentID(), parent.ProcID())
	}

	fs.runAs(child.sched.(*fakeTask), func() {
		k.Sched.Exit(7)
	})

	var status int32
	gotID, outcome, err := Wait(parent, -1, &status)
	if err != nil || outcome != WaitExited {
		t.Fatalf("Wait = (%d, %v, %v), want (%d, WaitExited, nil)", gotID, outcome, err, childID)
	}
	if gotID != childID {
		t.Fatalf("Wait reaped id %d, want %d", gotID, childID)
	}
	if status != 7<<8 {
		t.Fatalf("status = %d, want %d", status, 7<<8)
	}
	if len(parent.Children()) != 0 {
		t.Fatalf("parent still has children after reaping the only one: %+v", parent.Children())
	}

	_, outcome, err = Wait(parent, -1, nil)
	if outcome != WaitNotExist {
		t.Fatalf("second Wait outcome = %v, want WaitNotExist", outcome)
	}
	if e, ok := err.(*errno.Error); !ok || e.Kind != errno.EChild {
		t.Fatalf("second Wait err = %v, want ECHILD", err)
	}
}

// TestWaitPidSpecific exercises the pid>0 path of TaskLifecycle.Wait, which
// blocks via SchedTask.Join rather than polling.
func TestWaitPidSpecific(t *testing.T) {
	k, fs := newTestKernel(t)
	parent := spawnTestInit(t, k)
	parent.SetCurrentTrap(parent.UserContext())

	childID, err := Clone(parent, ISAAMD64, 0, 0, 0)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	child := parent.Children()[0]
	fs.runAs(child.sched.(*fakeTask), func() { k.Sched.Exit(3) })

	var status int32
	gotID, outcome, err := Wait(parent, childID, &status)
	if err != nil || outcome != WaitExited || gotID != childID {
		t.Fatalf("Wait(pid=%d) = (%d, %v, %v)", childID, gotID, outcome, err)
	}
	if status != 3<<8 {
		t.Fatalf("status = %d, want %d", status, 3<<8)
	}
}

// TestWaitNoChildren exercises §8 property 7's NotExist branch when the
// parent never had any children at all.
func TestWaitNoChildren(t *testing.T) {
	k, _ := newTestKernel(t)
	parent := spawnTestInit(t, k)

	_, outcome, err := Wait(parent, -1, nil)
	if outcome != WaitNotExist {
		t.Fatalf("outcome = %v, want WaitNotExist", outcome)
	}
	if e, ok := err.(*errno.Error); !ok || e.Kind != errno.EChild {
		t.Fatalf("err = %v, want ECHILD", err)
	}
}

// TestExecRefusesSharedAddrSpace exercises §8 property 6: exec on an
// address space with refcount > 1 fails ENOTSUP and leaves the task
// unchanged.
func TestExecRefusesSharedAddrSpace(t *testing.T) {
	k, _ := newTestKernel(t)
	ext := spawnTestInit(t, k)
	ext.AddrSpace().IncRef() // simulate a second sharer (e.g. CLONE_VM)

	before := ext.UserContext()
	err := Exec(ext, "/bin/new", nil, nil)
	e, ok := err.(*errno.Error)
	if !ok || e.Kind != errno.ENotSup {
		t.Fatalf("Exec err = %v, want ENOTSUP", err)
	}
	if ext.UserContext() != before {
		t.Fatalf("Exec mutated UserContext despite refusing")
	}
}

// TestExecLoadsNewImage exercises the success path of exec(2): a fresh
// entry point and stack base, and a TLB flush through the HAL.
func TestExecLoadsNewImage(t *testing.T) {
	k, _ := newTestKernel(t)
	ext := spawnTestInit(t, k)
	oldUctx := ext.UserContext()

	if err := Exec(ext, "/bin/new", []string{"new"}, nil); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if ext.UserContext() == oldUctx {
		t.Fatalf("Exec did not install a new UserContext")
	}
	swhal := k.Hal.(*hal.SoftwareHAL)
	if swhal.TLBFlushes() == 0 {
		t.Fatalf("Exec did not flush the TLB")
	}
}

// TestExecEmptyPathFails covers the ENOENT path of the reference VM's
// LoadUserApp.
func TestExecEmptyPathFails(t *testing.T) {
	k, _ := newTestKernel(t)
	ext := spawnTestInit(t, k)
	err := Exec(ext, "", nil, nil)
	if e, ok := err.(*errno.Error); !ok || e.Kind != errno.ENoEnt {
		t.Fatalf("Exec(\"\") err = %v, want ENOENT", err)
	}
}

// TestCloneRequiresCurrentTrap checks that Clone refuses to run without a
// trap frame bound to the calling task (the dispatcher's job in
// production; tests must set it explicitly).
func TestCloneRequiresCurrentTrap(t *testing.T) {
	k, _ := newTestKernel(t)
	parent := spawnTestInit(t, k)
	// No SetCurrentTrap call.
	if _, err := Clone(parent, ISAAMD64, 0, 0, 0); err == nil {
		t.Fatalf("Clone succeeded without a current trap frame")
	}
}

// TestCloneAdvancesIPPerISA exercises §9 Open Question (ii): RISC-V/
// LoongArch advance the child's saved IP by one instruction; x86_64/
// aarch64 do not.
func TestCloneAdvancesIPPerISA(t *testing.T) {
	for _, tc := range []struct {
		isa     ISA
		advance bool
	}{
		{ISAAMD64, false},
		{ISAARM64, false},
		{ISARISCV64, true},
		{ISALoongArch64, true},
	} {
		k, _ := newTestKernel(t)
		parent := spawnTestInit(t, k)
		parentIP := parent.UserContext().IP()
		parent.SetCurrentTrap(parent.UserContext())

		childID, err := Clone(parent, tc.isa, 0, 0, 0)
		if err != nil {
			t.Fatalf("isa=%v: Clone: %v", tc.isa, err)
		}
		var child *TaskExtension
		for _, c := range parent.Children() {
			if c.ProcID() == childID {
				child = c
			}
		}
		want := parentIP
		if tc.advance {
			want += defaultCloneIPAdvance
		}
		if got := child.UserContext().IP(); got != want {
			t.Fatalf("isa=%v: child IP = %#x, want %#x", tc.isa, got, want)
		}
	}
}

// TestCloneNewStackOverride checks that a nonzero newStack argument
// overrides the cloned SP, per clone(2)'s contract.
func TestCloneNewStackOverride(t *testing.T) {
	k, _ := newTestKernel(t)
	parent := spawnTestInit(t, k)
	parent.SetCurrentTrap(parent.UserContext())

	const newStack = 0x7f0000000000
	childID, err := Clone(parent, ISAAMD64, 0, newStack, 0)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	var child *TaskExtension
	for _, c := range parent.Children() {
		if c.ProcID() == childID {
			child = c
		}
	}
	if child.UserContext().SP() != newStack {
		t.Fatalf("child SP = %#x, want %#x", child.UserContext().SP(), uint64(newStack))
	}
}
