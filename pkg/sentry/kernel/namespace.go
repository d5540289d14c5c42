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

import "sync"

// globalNamespace is the process-wide static copy of the global namespace
// used to seed the very first kernel task, which has no parent
// TaskExtension to copy from (§4.5). It's allocated lazily on first query
// and never freed, mirroring original_source's `KERNEL_NS_BASE` `Once`.
var (
	globalNamespaceOnce sync.Once
	globalNamespace     Namespace
	globalNamespaceNew  func() Namespace
)

// SetGlobalNamespaceFactory registers the constructor used to build the
// base namespace for the first kernel task. The CLI/test setup calls this
// once at boot with its chosen Namespace implementation (e.g. pkg/vfsns).
func SetGlobalNamespaceFactory(f func() Namespace) {
	globalNamespaceNew = f
}

func globalNamespaceBase() Namespace {
	globalNamespaceOnce.Do(func() {
		if globalNamespaceNew == nil {
			panic("kernel: SetGlobalNamespaceFactory must be called before the first task is spawned")
		}
		globalNamespace = globalNamespaceNew()
	})
	return globalNamespace
}

// seedNamespace implements the "snapshot-at-fork" semantics of §4.5: for
// each namespaced resource slot (FD table, CWD), seed the new namespace by
// copying the parent's current inner value. If parent is nil (spawning the
// very first task), the global namespace base is used instead.
func seedNamespace(fresh Namespace, parent Namespace) {
	if parent == nil {
		parent = globalNamespaceBase()
	}
	fresh.InitNew(parent.CopyInner())
}
