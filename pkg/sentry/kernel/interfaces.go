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

// This file declares the external collaborator interfaces of §6: the HAL,
// the VM layer, the per-process namespace, and the task scheduler. Their
// real implementations (page tables, a VFS-backed FD table, a per-CPU
// scheduler) are out of scope; the core only ever calls through these
// interfaces, and a single reference implementation of each lives in a
// sibling package (pkg/sentry/hal, pkg/sentry/vm, pkg/sentry/vfsns,
// pkg/sentry/sched) for tests and the CLI demo.

// TrapFrame is the CPU state captured by the HAL at trap entry, stored at
// the top of the task's kernel stack. Arg0..Arg5 are the positional syscall
// argument registers.
type TrapFrame interface {
	Arg(i int) uint64
	IP() uint64
	SetIP(uint64)
	SP() uint64
	SetSP(uint64)
	Retval() uint64
	SetRetval(uint64)
	// Clone returns an independent copy, used when TaskLifecycle.Clone
	// derives a child's UserContext from the parent's current trap frame.
	Clone() TrapFrame
}

// HAL is the hardware abstraction layer consumed by the dispatcher and
// TaskLifecycle (§6 "Toward the HAL").
type HAL interface {
	// EnterUspace resumes user-mode execution on the given kernel stack;
	// in the reference implementation this is simulated and returns
	// rather than diverging, since there's no real user mode to enter.
	EnterUspace(kstackTop uintptr, uctx TrapFrame)
	FlushTLB(rng *AddrRange)
	ReadThreadPointer() uintptr
	MonotonicNow() int64 // nanoseconds
}

// AddrRange is a virtual address range, or nil for "everything".
type AddrRange struct {
	Start, End uintptr
}

// AddrSpace is the VM layer's address space handle (§6 "Toward the VM").
// Multiple tasks may share one instance (CLONE_VM-style sharing); RefCount
// tracks that sharing so Exec can refuse when it isn't the sole owner.
type AddrSpace interface {
	// Root is the page-table root register value.
	Root() uintptr
	// CloneOrErr produces a fully independent mapping set aliasing
	// physical frames per the sharing policy baked into the AddrSpace
	// implementation (share vs COW); the core does not reimplement that
	// policy, it only calls this and checks the result.
	CloneOrErr() (AddrSpace, error)
	// CopyFromKernel merges the kernel's always-shared high half into
	// this address space.
	CopyFromKernel() error
	// UnmapUserAreas drops all user-area mappings (exec step 1).
	UnmapUserAreas() error
	// LoadUserApp loads a new program image, returning its entry point
	// and initial user stack base (exec step 2).
	LoadUserApp(path string, argv, envp []string) (entry, stackBase uintptr, err error)
	// Translate returns a bounded kernel-side view of the `length` bytes
	// of user memory starting at addr, or an error if any part of the
	// range is unmapped or lacks the requested permission.
	Translate(addr uintptr, length int, write bool) ([]byte, error)
	// IncRef/DecRef/RefCount implement the shared-ownership accounting
	// of §3 invariant 5.
	IncRef()
	DecRef()
	RefCount() int32
}

// FDTable is the per-namespace file-descriptor table (§6 "Toward the
// VFS/namespace"). Its contents are opaque to the core; only the
// snapshot-at-fork semantics matter here.
type FDTable interface {
	CopyInner() FDTable
	InitNew(seed FDTable)
}

// CWD is the per-namespace current-directory object plus its path string.
type CWD interface {
	CopyInner() CWD
	InitNew(seed CWD)
	Path() string
}

// Namespace resolves a task's process-wide resources: FD table and current
// directory (§3 `ns`, §4.5).
type Namespace interface {
	FDTable() FDTable
	CWD() CWD
	// CopyInner snapshots the namespace's current state for seeding a
	// child's fresh namespace (§4.5 "snapshot-at-fork").
	CopyInner() Namespace
	// InitNew seeds this (freshly allocated) namespace from seed.
	InitNew(seed Namespace)
}

// SchedTask is a scheduler-owned task handle (§6 "Toward the scheduler").
type SchedTask interface {
	ID() int64
	State() TaskState
	ExitCode() int
	// Join blocks until the task has exited, returning its exit code.
	Join() int
}

// TaskInner is a not-yet-scheduled task, analogous to gvisor's
// TaskInner/axtask::TaskInner: a kernel stack and entry point waiting to be
// handed to Scheduler.SpawnTask.
type TaskInner interface {
	SetPageTableRoot(root uintptr)
}

// Scheduler is the per-CPU task scheduler consumed by TaskLifecycle.
type Scheduler interface {
	NewTaskInner(entry func(), name string, kstackSize int) TaskInner
	SpawnTask(TaskInner) SchedTask
	Current() SchedTask
	YieldNow()
	Exit(code int)
}

// TaskState mirrors the scheduler-owned state machine of spec.md §3: the
// core only ever reads it.
type TaskState int

const (
	TaskRunnable TaskState = iota
	TaskRunning
	TaskBlocked
	TaskExited
)

func (s TaskState) String() string {
	switch s {
	case TaskRunnable:
		return "Runnable"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskExited:
		return "Exited"
	default:
		return "Unknown"
	}
}
