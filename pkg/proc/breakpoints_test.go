package proc_test

import (
	"errors"
	"testing"

	"github.com/fgc/hmdd/pkg/proc"
	protest "github.com/fgc/hmdd/pkg/proc/test"
)

// fakeLines returns a line table for a 4 line file where lines 0 and 1
// (zero based) are at 0x1000, line 2 at 0x1001 and line 3 has no code.
func fakeLines(t *testing.T) *proc.LineTable {
	t.Helper()
	return testLineTable("a\nb\nc\nd", map[int]uint64{0: 0x1000, 1: 0x1000, 2: 0x1001})
}

func testLineTable(src string, addrs map[int]uint64) *proc.LineTable {
	lt := proc.NewLineTable("test.c", []byte(src))
	for line := 0; line < lt.Len(); line++ {
		if addr, ok := addrs[line]; ok {
			lt.AddRow(addr, line)
		}
	}
	lt.Sort()
	return lt
}

func fill(p *protest.FakeProcess, addr uint64, data ...byte) {
	for i, b := range data {
		p.Mem[addr+uint64(i)] = b
	}
}

func TestToggleTwiceRestores(t *testing.T) {
	for _, arch := range []*proc.Arch{proc.AMD64Arch, proc.ARM64Arch} {
		p := protest.NewFakeProcess(arch, 0x1000, 0x1001)
		orig := []byte{0x55, 0x48, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xc3}
		fill(p, 0x1000, orig...)
		before, _ := p.ReadWord(0x1000)

		bm := proc.NewBreakpointManager(p, arch, fakeLines(t), 0)
		res, err := bm.Toggle(1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Action != proc.BreakpointAdded || res.Breakpoint.Addr != 0x1000 || res.Breakpoint.State != proc.Armed {
			t.Fatalf("%v: unexpected toggle result %#v", arch, res.Breakpoint)
		}
		trap := arch.BreakpointInstruction()
		if got := p.Bytes(0x1000, len(trap)); string(got) != string(trap) {
			t.Fatalf("%v: trap not written: % x", arch, got)
		}
		if got := p.Bytes(0x1000+uint64(len(trap)), 1)[0]; got != orig[len(trap)] {
			t.Fatalf("%v: bytes after the trap changed", arch)
		}
		if string(res.Breakpoint.OriginalData) != string(orig[:len(trap)]) {
			t.Fatalf("%v: wrong original data % x", arch, res.Breakpoint.OriginalData)
		}

		res, err = bm.Toggle(1)
		if err != nil {
			t.Fatal(err)
		}
		if res.Action != proc.BreakpointRemoved || bm.Len() != 0 {
			t.Fatalf("%v: breakpoint not removed", arch)
		}
		after, _ := p.ReadWord(0x1000)
		if before != after {
			t.Fatalf("%v: word not restored: %#x != %#x", arch, after, before)
		}
	}
}

func TestToggleErrors(t *testing.T) {
	p := protest.NewFakeProcess(proc.AMD64Arch, 0x1000)
	bm := proc.NewBreakpointManager(p, proc.AMD64Arch, fakeLines(t), 0)

	_, err := bm.Toggle(3)
	var unresolved *proc.UnresolvedLineError
	if !errors.As(err, &unresolved) || unresolved.Line != 3 {
		t.Fatalf("expected UnresolvedLineError, got %v", err)
	}
	_, err = bm.Toggle(17)
	var invalid *proc.InvalidLineError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidLineError, got %v", err)
	}
	if bm.Len() != 0 || p.Writes != 0 {
		t.Fatalf("failed toggles changed state: %d breakpoints, %d writes", bm.Len(), p.Writes)
	}

	if _, err := bm.Toggle(0); err != nil {
		t.Fatal(err)
	}
	_, err = bm.Toggle(1)
	var exists proc.BreakpointExistsError
	if !errors.As(err, &exists) || exists.Addr != 0x1000 || exists.ExistingLine != 0 {
		t.Fatalf("expected BreakpointExistsError, got %v", err)
	}
	if bm.Len() != 1 {
		t.Fatalf("duplicate breakpoint added")
	}
}

func TestInvalidAddress(t *testing.T) {
	p := protest.NewFakeProcess(proc.AMD64Arch, 0x1000)
	p.Valid = func(addr uint64) bool { return addr != 0x1001 }
	bm := proc.NewBreakpointManager(p, proc.AMD64Arch, fakeLines(t), 0)
	_, err := bm.Toggle(2)
	if !errors.Is(err, proc.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if bm.Len() != 0 {
		t.Fatal("breakpoint added after a failed write")
	}
}

func TestAdjacentBreakpoints(t *testing.T) {
	// two traps in the same word must not clobber each other
	p := protest.NewFakeProcess(proc.AMD64Arch, 0x1000, 0x1001)
	fill(p, 0x1000, 0x90, 0x91, 0x92, 0x93)
	lines := testLineTable("a\nb", map[int]uint64{0: 0x1000, 1: 0x1001})
	bm := proc.NewBreakpointManager(p, proc.AMD64Arch, lines, 0)
	for _, l := range []int{0, 1} {
		if _, err := bm.Toggle(l); err != nil {
			t.Fatal(err)
		}
	}
	if got := p.Bytes(0x1000, 3); got[0] != 0xcc || got[1] != 0xcc || got[2] != 0x92 {
		t.Fatalf("bad memory % x", got)
	}

	if err := bm.RestoreAll(); err != nil {
		t.Fatal(err)
	}
	if got := p.Bytes(0x1000, 2); got[0] != 0x90 || got[1] != 0x91 {
		t.Fatalf("not restored % x", got)
	}
	for _, bp := range bm.List() {
		if bp.State != proc.Disarmed {
			t.Fatalf("breakpoint %d still armed", bp.ID)
		}
	}
	if bm.Len() != 2 {
		t.Fatal("RestoreAll removed breakpoints")
	}

	if err := bm.ArmAll(); err != nil {
		t.Fatal(err)
	}
	if got := p.Bytes(0x1000, 2); got[0] != 0xcc || got[1] != 0xcc {
		t.Fatalf("not re-armed % x", got)
	}

	// removing the first one keeps the second
	if _, err := bm.Toggle(0); err != nil {
		t.Fatal(err)
	}
	if got := p.Bytes(0x1000, 2); got[0] != 0x90 || got[1] != 0xcc {
		t.Fatalf("bad memory after removal % x", got)
	}

	if err := bm.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if got := p.Bytes(0x1000, 4); string(got) != "\x90\x91\x92\x93" {
		t.Fatalf("bad memory after ClearAll % x", got)
	}
}

func TestBias(t *testing.T) {
	const bias = 0x555555554000
	p := protest.NewFakeProcess(proc.AMD64Arch, bias+0x1000)
	bm := proc.NewBreakpointManager(p, proc.AMD64Arch, fakeLines(t), bias)
	res, err := bm.Toggle(0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Breakpoint.Addr != bias+0x1000 {
		t.Fatalf("bias not applied: %#x", res.Breakpoint.Addr)
	}
	if _, ok := bm.Find(bias + 0x1000); !ok {
		t.Fatal("Find failed")
	}
	if bp, ok := bm.FindLine(0); !ok || bp != res.Breakpoint {
		t.Fatal("FindLine failed")
	}
}
