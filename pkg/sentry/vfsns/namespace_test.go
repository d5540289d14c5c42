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

package vfsns

import "testing"

func TestFDTableOpenAssignsDistinctDescriptors(t *testing.T) {
	f := NewFDTable()
	a := f.Open("a")
	b := f.Open("b")
	if a == b {
		t.Fatalf("Open assigned the same descriptor twice: %d", a)
	}
	if name, ok := f.Name(a); !ok || name != "a" {
		t.Fatalf("Name(%d) = %q, %v, want \"a\", true", a, name, ok)
	}
}

func TestFDTableNameUnknownDescriptor(t *testing.T) {
	f := NewFDTable()
	if _, ok := f.Name(99); ok {
		t.Fatalf("Name on an unopened descriptor reported ok")
	}
}

func TestFDTableCopyInnerIsIndependent(t *testing.T) {
	f := NewFDTable()
	fd := f.Open("parent")

	snap := f.CopyInner()
	child := NewFDTable()
	child.InitNew(snap)

	f.Open("parent-only")
	if _, ok := child.Name(fd); !ok {
		t.Fatalf("child lost the snapshotted descriptor")
	}
	if childNext := child.Open("child-only"); childNext == f.Open("parent-only-2") {
		t.Fatalf("child and parent FD numbering collided unexpectedly")
	}
}

func TestCWDNextIteratesThenExhausts(t *testing.T) {
	c := NewCWD("/", []DirEntry{{Name: "a"}, {Name: "b", Dir: true}})
	e1, ok := c.Next()
	if !ok || e1.Name != "a" {
		t.Fatalf("first Next() = %v, %v, want \"a\", true", e1, ok)
	}
	e2, ok := c.Next()
	if !ok || e2.Name != "b" || !e2.Dir {
		t.Fatalf("second Next() = %v, %v, want \"b\"(dir), true", e2, ok)
	}
	if _, ok := c.Next(); ok {
		t.Fatalf("Next() reported an entry past the end of the listing")
	}
}

func TestCWDSetEntriesResetsCursor(t *testing.T) {
	c := NewCWD("/", []DirEntry{{Name: "a"}})
	c.Next()
	c.SetEntries([]DirEntry{{Name: "x"}, {Name: "y"}})
	e, ok := c.Next()
	if !ok || e.Name != "x" {
		t.Fatalf("Next() after SetEntries = %v, %v, want \"x\", true", e, ok)
	}
}

func TestCWDRemove(t *testing.T) {
	c := NewCWD("/", []DirEntry{{Name: "a"}, {Name: "b"}})
	if !c.Remove("a") {
		t.Fatalf("Remove(\"a\") = false, want true")
	}
	if c.Remove("a") {
		t.Fatalf("Remove(\"a\") twice = true, want false")
	}
	e, ok := c.Next()
	if !ok || e.Name != "b" {
		t.Fatalf("Next() after Remove = %v, %v, want \"b\", true", e, ok)
	}
}

func TestCWDCopyInnerIsIndependent(t *testing.T) {
	c := NewCWD("/home", []DirEntry{{Name: "a"}})
	snap := c.CopyInner()
	child := NewCWD("", nil)
	child.InitNew(snap)

	if child.Path() != "/home" {
		t.Fatalf("child Path() = %q, want \"/home\"", child.Path())
	}
	c.Remove("a")
	if _, ok := child.Next(); !ok {
		t.Fatalf("child's listing was affected by a mutation on the parent")
	}
}

func TestNamespaceCopyInnerSnapshotsBothSlots(t *testing.T) {
	n := New()
	n.FDTable().(*FDTable).Open("f")
	n.CWD().(*CWD).SetPath("/var")

	snap := n.CopyInner()
	child := New()
	child.InitNew(snap)

	if child.CWD().(*CWD).Path() != "/var" {
		t.Fatalf("child CWD path = %q, want \"/var\"", child.CWD().(*CWD).Path())
	}
	if _, ok := child.FDTable().(*FDTable).Name(0); !ok {
		t.Fatalf("child FD table missing the parent's open descriptor")
	}
}
