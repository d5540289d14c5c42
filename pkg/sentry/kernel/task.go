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

// Package kernel implements the POSIX personality layer's syscall dispatch
// core and task-lifecycle engine: the per-task extension record
// (TaskExtension), its cloning/execution/termination semantics
// (TaskLifecycle), and the signal-mask/time-accounting/rlimit state every
// syscall handler may read or mutate.
package kernel

import (
	"sync"
	"sync/atomic"

	"kern.dev/posixcore/pkg/log"
)

// TaskExtension is the per-task kernel record of spec.md §3, created at
// spawn and destroyed when the scheduler releases the task. It is grounded
// on original_source's `TaskExt` and on gvisor's per-task fields in
// `pkg/sentry/kernel/task_start.go`'s `Task` literal.
type TaskExtension struct {
	// procID and parentID are identities (§3). parentID is atomic
	// because a reparenting operation may race with reads (only init,
	// id 1, is a reparent target here; see spec.md §9).
	procID   int64
	parentID atomic.Int64

	// childrenMu guards children, mutated only by the owning task under
	// a short critical section (§3, §5).
	childrenMu sync.Mutex
	children   []*TaskExtension
	sched      SchedTask

	// uctx is written on spawn/clone/exec and read on entry to user
	// mode; only the owning task's trap context touches it live, but we
	// keep a pointer so Clone can snapshot it cheaply.
	uctx *UserContext

	// aspace is shared ownership of an address space (§3 invariant 5).
	aspace AddrSpace

	// ns resolves process-wide resources (FD table, CWD); seeded
	// snapshot-at-fork on spawn/clone (§4.5).
	ns Namespace

	time *TimeAccounting

	heapBottom atomic.Uint64
	heapTop    atomic.Uint64

	clearChildTID atomic.Uint64

	rlimits *RlimitSet

	signalMask SignalMask

	// currentTrap is the trap frame of the syscall currently in flight on
	// this task, set by the dispatcher immediately before invoking the
	// handler (§4.1 step 3) and read by TaskLifecycle.Clone, which reads
	// "the current task's trap frame from its kernel stack" (§4.4 step
	// 1). Only valid while a syscall is being dispatched for this task.
	currentTrap TrapFrame

	k *Kernel
}

// SetCurrentTrap is called by the dispatcher before invoking a handler, and
// cleared after the handler returns.
func (t *TaskExtension) SetCurrentTrap(tf TrapFrame) { t.currentTrap = tf }

// CurrentTrap returns the in-flight syscall's trap frame, or nil if none.
func (t *TaskExtension) CurrentTrap() TrapFrame { return t.currentTrap }

// Kernel returns the owning Kernel.
func (t *TaskExtension) Kernel() *Kernel { return t.k }

// SchedTask returns the scheduler-owned handle backing this task, for
// callers (process listings, wait-by-pid tooling) that need to read
// scheduler state without going through a parent/child relationship.
func (t *TaskExtension) SchedTask() SchedTask { return t.sched }

// Kernel is the root owning the process-wide collaborators (scheduler,
// HAL) that TaskLifecycle needs but that don't belong to any one task.
// It plays the role of gvisor's `*kernel.Kernel` passed through
// `TaskConfig.Kernel`.
type Kernel struct {
	Sched Scheduler
	Hal   HAL

	// ISA is the target instruction set this kernel instance is built
	// for, fixed at boot; it governs clone's per-ISA IP-advance behavior
	// (§9 Open Question (ii)) and selects the Dispatcher's table slice.
	ISA ISA

	// NewNamespace constructs a blank Namespace to be seeded by
	// seedNamespace (§4.5). Set once at boot to the chosen VFS
	// namespace implementation (e.g. pkg/sentry/vfsns).
	NewNamespace func() Namespace

	nextProcID atomic.Int64
}

// NewKernel constructs a Kernel bound to the given scheduler, HAL, ISA, and
// namespace constructor. ProcIDs are allocated starting from 2 (id 1 is
// reserved for init, the first task spawned via SpawnUser).
func NewKernel(sched Scheduler, hal HAL, isa ISA, newNamespace func() Namespace) *Kernel {
	k := &Kernel{Sched: sched, Hal: hal, ISA: isa, NewNamespace: newNamespace}
	k.nextProcID.Store(1)
	return k
}

func (k *Kernel) allocProcID() int64 {
	return k.nextProcID.Add(1)
}

// ProcID returns the task's process id.
func (t *TaskExtension) ProcID() int64 { return t.procID }

// ParentID returns the task's current parent id (§3, acquire-load).
func (t *TaskExtension) ParentID() int64 { return t.parentID.Load() }

// setParentID release-stores a new parent id; a child's first syscall must
// observe the store (§5 ordering guarantee).
func (t *TaskExtension) setParentID(id int64) { t.parentID.Store(id) }

// Time returns the task's time-accounting record.
func (t *TaskExtension) Time() *TimeAccounting { return t.time }

// SignalMask returns a pointer to the task's signal mask.
func (t *TaskExtension) SignalMask() *SignalMask { return &t.signalMask }

// Rlimits returns the task's resource-limit set.
func (t *TaskExtension) Rlimits() *RlimitSet { return t.rlimits }

// Namespace returns the task's namespace handle.
func (t *TaskExtension) Namespace() Namespace { return t.ns }

// AddrSpace returns the task's address space handle.
func (t *TaskExtension) AddrSpace() AddrSpace { return t.aspace }

// UserContext returns the task's current user-register snapshot.
func (t *TaskExtension) UserContext() *UserContext { return t.uctx }

// HeapBounds returns (heap_bottom, heap_top); §3 invariant 3 guarantees
// bottom <= top at every observable point.
func (t *TaskExtension) HeapBounds() (bottom, top uint64) {
	return t.heapBottom.Load(), t.heapTop.Load()
}

// SetHeapBottom stores a new heap_bottom (release semantics per §5).
func (t *TaskExtension) SetHeapBottom(v uint64) { t.heapBottom.Store(v) }

// SetHeapTop stores a new heap_top.
func (t *TaskExtension) SetHeapTop(v uint64) { t.heapTop.Store(v) }

// ClearChildTID returns the address to zero on task exit.
func (t *TaskExtension) ClearChildTID() uint64 { return t.clearChildTID.Load() }

// SetClearChildTID sets the clear_child_tid address (set_tid_address).
func (t *TaskExtension) SetClearChildTID(addr uint64) { t.clearChildTID.Store(addr) }

// Children returns a snapshot of the current children list, in the
// deterministic (append) order required by §3 invariant 2 / §8 property 3.
func (t *TaskExtension) Children() []*TaskExtension {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	out := make([]*TaskExtension, len(t.children))
	copy(out, t.children)
	return out
}

func (t *TaskExtension) addChild(c *TaskExtension) {
	t.childrenMu.Lock()
	t.children = append(t.children, c)
	t.childrenMu.Unlock()
}

// removeChild deletes c from t's children, preserving the relative order
// of the rest (§3 invariant 2: a reaped child leaves no trace).
func (t *TaskExtension) removeChild(c *TaskExtension) bool {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	for i, ch := range t.children {
		if ch == c {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return true
		}
	}
	return false
}

func (t *TaskExtension) logf(format string, args ...any) {
	log.WithField("proc_id", t.procID).Debugf(format, args...)
}
