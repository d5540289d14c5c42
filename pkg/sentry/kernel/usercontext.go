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

// UserContext is a snapshot of user-mode registers sufficient to resume
// execution (§3 `uctx`, glossary "User context"). The HAL's trap frames and
// TaskExtension's persisted context share this representation, mirroring
// how `axhal::arch::UspaceContext` in original_source is built directly
// `From<&TrapFrame>`.
//
// +stateify savable
type UserContext struct {
	Args [6]uint64
	Ip   uint64
	Sp   uint64
	Ret  uint64
	Tls  uint64
}

// NewUserContext builds a fresh context for a brand-new task image, as
// TaskLifecycle.Exec and TaskLifecycle.SpawnUser do.
func NewUserContext(entry, stackBase uintptr, retval uint64) *UserContext {
	return &UserContext{Ip: uint64(entry), Sp: uint64(stackBase), Ret: retval}
}

func (c *UserContext) Arg(i int) uint64 {
	if i < 0 || i >= len(c.Args) {
		return 0
	}
	return c.Args[i]
}

func (c *UserContext) IP() uint64          { return c.Ip }
func (c *UserContext) SetIP(v uint64)      { c.Ip = v }
func (c *UserContext) SP() uint64          { return c.Sp }
func (c *UserContext) SetSP(v uint64)      { c.Sp = v }
func (c *UserContext) Retval() uint64      { return c.Ret }
func (c *UserContext) SetRetval(v uint64)  { c.Ret = v }
func (c *UserContext) Clone() TrapFrame {
	cp := *c
	return &cp
}
