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

// Package sched provides a reference implementation of the scheduler
// interface consumed by TaskLifecycle (spec.md §6 "Toward the scheduler").
// A real per-CPU run queue, priority classes, and preemption are explicitly
// out of scope (spec.md §1); this stands in for them with one goroutine per
// scheduled task, mirroring how gvisor's Task.Start dedicates a goroutine to
// each task's run loop.
package sched

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"kern.dev/posixcore/pkg/log"
	"kern.dev/posixcore/pkg/sentry/kernel"
)

// Task is the reference SchedTask: one goroutine, a state word, and an exit
// code published once via a closed channel.
type Task struct {
	id       int64
	name     string
	state    atomic.Int32
	exitCode atomic.Int32
	done     chan struct{}
	finish   sync.Once
}

// ID returns the task's scheduler-assigned id, which TaskExtension adopts
// as its proc_id (§3, §4.4 "spawn_user"/"clone").
func (t *Task) ID() int64 { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() kernel.TaskState { return kernel.TaskState(t.state.Load()) }

// ExitCode returns the task's exit code; meaningful only once State() is
// TaskExited.
func (t *Task) ExitCode() int { return int(t.exitCode.Load()) }

// Join blocks until the task exits and returns its exit code, used by
// TaskLifecycle.Wait's pid>0 path.
func (t *Task) Join() int {
	<-t.done
	return int(t.exitCode.Load())
}

func (t *Task) markExited(code int) {
	t.finish.Do(func() {
		t.exitCode.Store(int32(code))
		t.state.Store(int32(kernel.TaskExited))
		close(t.done)
	})
}

// Inner is the reference TaskInner: a closure and a kernel-stack size
// request, not yet bound to any goroutine until Scheduler.SpawnTask.
type Inner struct {
	entry      func()
	name       string
	kstackSize int
	root       uintptr
}

// SetPageTableRoot records the page-table root the scheduler should switch
// to before running this task. The reference scheduler has no real MMU to
// program; it only keeps the value for introspection.
func (i *Inner) SetPageTableRoot(root uintptr) { i.root = root }

// Scheduler is the reference goroutine-per-task scheduler.
type Scheduler struct {
	nextID atomic.Int64

	mu    sync.Mutex
	tasks map[int64]*Task

	// current maps a goroutine id to the Task running on it, so Exit and
	// Current can identify "the calling task" without a task parameter —
	// the same implicit-current-task convention spec.md §4.1 relies on
	// when a handler calls through Scheduler.Exit.
	current sync.Map // uint64 -> *Task
}

// New constructs an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[int64]*Task)}
}

// NewTaskInner builds a not-yet-scheduled Inner wrapping entry.
func (s *Scheduler) NewTaskInner(entry func(), name string, kstackSize int) kernel.TaskInner {
	return &Inner{entry: entry, name: name, kstackSize: kstackSize}
}

// SpawnTask starts ti on a dedicated goroutine and returns its handle. The
// goroutine is considered exited either when entry returns normally (exit
// code 0) or when the entry calls Scheduler.Exit, whichever happens first.
func (s *Scheduler) SpawnTask(ti kernel.TaskInner) kernel.SchedTask {
	inner, ok := ti.(*Inner)
	if !ok {
		panic("sched: SpawnTask given a TaskInner not built by this Scheduler")
	}

	id := s.nextID.Add(1)
	t := &Task{id: id, name: inner.name, done: make(chan struct{})}
	t.state.Store(int32(kernel.TaskRunnable))

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()

	go func() {
		gid := goroutineID()
		s.current.Store(gid, t)
		defer s.current.Delete(gid)
		defer t.markExited(0)

		t.state.Store(int32(kernel.TaskRunning))
		log.Debugf("sched: task %d (%s) running on root %#x", t.id, t.name, inner.root)
		inner.entry()
	}()

	return t
}

// Current returns the Task bound to the calling goroutine, or nil if the
// calling goroutine is not a scheduled task (e.g. a test's own goroutine).
func (s *Scheduler) Current() kernel.SchedTask {
	v, ok := s.current.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*Task)
}

// YieldNow yields the calling goroutine, standing in for axtask::yield_now
// (used by TaskLifecycle.Wait's pid<=0 retry path).
func (s *Scheduler) YieldNow() { runtime.Gosched() }

// Exit marks the calling task exited with code and unwinds its goroutine
// via runtime.Goexit, so control never returns to the syscall handler that
// called it — matching a real exit(2)'s "does not return" contract.
func (s *Scheduler) Exit(code int) {
	v, ok := s.current.Load(goroutineID())
	if !ok {
		log.Warningf("sched: Exit(%d) called from an unscheduled goroutine", code)
		return
	}
	v.(*Task).markExited(code)
	runtime.Goexit()
}

// goroutineID recovers the calling goroutine's runtime id by parsing its own
// stack trace header. This reference scheduler is the only place that needs
// an implicit "current task"; production schedulers carry that state in a
// per-CPU struct instead, which this demo has no equivalent of.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

var (
	_ kernel.TaskInner = (*Inner)(nil)
	_ kernel.SchedTask = (*Task)(nil)
	_ kernel.Scheduler = (*Scheduler)(nil)
)
