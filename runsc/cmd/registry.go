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

package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/semaphore"

	"kern.dev/posixcore/pkg/sentry/kernel"
)

// registryDegree is the btree degree used for the process table; the table
// is small and read far more than it's written, so this isn't tuned beyond
// a reasonable default.
const registryDegree = 32

// taskItem orders registered tasks by proc id for the btree.
type taskItem struct {
	pid int64
	ext *kernel.TaskExtension
}

func (i taskItem) Less(than btree.Item) bool {
	return i.pid < than.(taskItem).pid
}

// Registry is the process table posixcored keeps alongside the kernel
// itself, playing the role runsc's container.Load/container list plays for
// a sandboxed container: a way for the wait and ps subcommands to look up a
// previously booted task by proc id without the core needing to expose one
// (§3 deliberately scopes TaskExtension's bookkeeping to parent/children
// only). It's backed by a btree rather than a plain map so List can return
// tasks in pid order without a separate sort pass.
type Registry struct {
	mu   sync.Mutex
	tree *btree.BTree

	// admission bounds the number of concurrently registered (live) tasks;
	// a weighted semaphore models this as a single unit of capacity per
	// task, released on Wait reaping it, rather than the core tracking a
	// task count itself.
	admission *semaphore.Weighted
}

// NewRegistry returns an empty Registry that admits at most maxTasks
// concurrently registered tasks. maxTasks<=0 means unbounded.
func NewRegistry(maxTasks int64) *Registry {
	r := &Registry{tree: btree.New(registryDegree)}
	if maxTasks > 0 {
		r.admission = semaphore.NewWeighted(maxTasks)
	}
	return r
}

// Register records a newly spawned task under its proc id, blocking until
// admission capacity is available.
func (r *Registry) Register(ext *kernel.TaskExtension) error {
	if r.admission != nil {
		if err := r.admission.Acquire(context.Background(), 1); err != nil {
			return fmt.Errorf("registry: acquiring admission slot: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree.ReplaceOrInsert(taskItem{pid: ext.ProcID(), ext: ext})
	return nil
}

// Lookup returns the task registered under pid, if any.
func (r *Registry) Lookup(pid int64) (*kernel.TaskExtension, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.tree.Get(taskItem{pid: pid})
	if item == nil {
		return nil, false
	}
	return item.(taskItem).ext, true
}

// List returns a snapshot of every registered task, ordered by proc id.
func (r *Registry) List() []*kernel.TaskExtension {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*kernel.TaskExtension, 0, r.tree.Len())
	r.tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(taskItem).ext)
		return true
	})
	return out
}

// Wait blocks until pid exits, returning its exit code and releasing its
// admission slot.
func (r *Registry) Wait(pid int64) (int, error) {
	ext, ok := r.Lookup(pid)
	if !ok {
		return 0, fmt.Errorf("no such pid: %d", pid)
	}
	code := ext.SchedTask().Join()
	if r.admission != nil {
		r.admission.Release(1)
	}
	return code, nil
}
