package proc

import (
	"bytes"
	"testing"
)

func TestSplitLines(t *testing.T) {
	for _, tc := range []struct {
		src   string
		lines []string
	}{
		{"", []string{""}},
		{"a", []string{"a"}},
		{"a\n", []string{"a", ""}},
		{"int x;\nint y;\n\nreturn 0;", []string{"int x;", "int y;", "", "return 0;"}},
		{"a\r\nb\r\n", []string{"a", "b", ""}},
		{"a\rb\nc", []string{"a\rb", "c"}},
		{"\r\n\n", []string{"", "", ""}},
	} {
		lt := NewLineTable("x.c", []byte(tc.src))
		if lt.Len() != len(tc.lines) {
			t.Errorf("%q: got %d lines, want %d", tc.src, lt.Len(), len(tc.lines))
			continue
		}
		var rebuilt bytes.Buffer
		prevEnd := 0
		for i := range lt.Lines {
			if got := string(lt.Text(i)); got != tc.lines[i] {
				t.Errorf("%q: line %d is %q, want %q", tc.src, i, got, tc.lines[i])
			}
			if lt.Lines[i].Offset != prevEnd {
				t.Errorf("%q: gap before line %d", tc.src, i)
			}
			rebuilt.Write(lt.Text(i))
			rebuilt.Write(lt.Terminator(i))
			prevEnd = lt.Lines[i].Offset + lt.Lines[i].Length + len(lt.Terminator(i))
		}
		if rebuilt.String() != tc.src {
			t.Errorf("%q: reconstructed %q", tc.src, rebuilt.String())
		}
	}
}

func TestFirstAddressWins(t *testing.T) {
	lt := NewLineTable("x.c", []byte("a\nb\nc"))
	if !lt.resolve(1, 0x20) {
		t.Fatal("first resolve failed")
	}
	if lt.resolve(1, 0x10) {
		t.Fatal("second resolve overwrote the address")
	}
	if addr, ok := lt.Addr(1); !ok || addr != 0x20 {
		t.Fatalf("got %#x %v", addr, ok)
	}
	if _, ok := lt.Addr(0); ok {
		t.Fatal("line 0 should be unresolved")
	}
	if _, ok := lt.Addr(7); ok {
		t.Fatal("out of range line resolved")
	}
	if r := lt.ResolvedLines(); len(r) != 1 || r[0] != 1 {
		t.Fatalf("resolved lines %v", r)
	}
}

func TestLineForPC(t *testing.T) {
	lt := NewLineTable("x.c", []byte("a\nb\nc\nd"))
	lt.AddRow(0x1010, 2)
	lt.AddRow(0x1000, 0)
	lt.AddRow(0x1004, 1)
	lt.AddRow(0x1004, 3)
	lt.AddRow(0x1020, -1)
	lt.Sort()

	for _, tc := range []struct {
		pc   uint64
		line int
		ok   bool
	}{
		{0xfff, 0, false},
		{0x1000, 0, true},
		{0x1003, 0, true},
		{0x1004, 3, true},
		{0x1011, 2, true},
		{0x1020, 0, false},
		{0x2000, 0, false},
	} {
		line, ok := lt.LineForPC(tc.pc)
		if ok != tc.ok || line != tc.line {
			t.Errorf("%#x: got %d %v, want %d %v", tc.pc, line, ok, tc.line, tc.ok)
		}
	}
}
