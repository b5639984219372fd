package proc

import (
	"sort"
)

// SourceLine is a line of the source file. Offset and Length locate its
// text in LineTable.Source, the terminator is not included.
type SourceLine struct {
	Offset int
	Length int
	// Addr is the first address the line-number program attributes to
	// this line, valid if HasAddr is set.
	Addr    uint64
	HasAddr bool
}

// LineTable maps the lines of one source file to instruction addresses.
// Addresses are link time addresses.
type LineTable struct {
	File   string
	Source []byte
	Lines  []SourceLine

	// index is sorted by address, a line of -1 marks the end of a
	// sequence.
	index []lineAddr
}

type lineAddr struct {
	addr uint64
	line int
}

// NewLineTable splits src into lines. A line ends at "\n" or "\r\n", the
// last line is whatever follows the last terminator, possibly nothing.
// Addresses are added with AddRow.
func NewLineTable(file string, src []byte) *LineTable {
	lt := &LineTable{File: file, Source: src}
	start := 0
	for i := 0; i < len(src); i++ {
		if src[i] != '\n' {
			continue
		}
		end := i
		if end > start && src[end-1] == '\r' {
			end--
		}
		lt.Lines = append(lt.Lines, SourceLine{Offset: start, Length: end - start})
		start = i + 1
	}
	lt.Lines = append(lt.Lines, SourceLine{Offset: start, Length: len(src) - start})
	return lt
}

// Len returns the number of lines.
func (lt *LineTable) Len() int {
	return len(lt.Lines)
}

// Text returns the text of line i (zero based).
func (lt *LineTable) Text(i int) []byte {
	l := lt.Lines[i]
	return lt.Source[l.Offset : l.Offset+l.Length]
}

// Terminator returns the bytes ending line i, empty for the last line.
func (lt *LineTable) Terminator(i int) []byte {
	l := lt.Lines[i]
	end := len(lt.Source)
	if i+1 < len(lt.Lines) {
		end = lt.Lines[i+1].Offset
	}
	return lt.Source[l.Offset+l.Length : end]
}

// Addr returns the address of line i.
func (lt *LineTable) Addr(i int) (uint64, bool) {
	if i < 0 || i >= len(lt.Lines) {
		return 0, false
	}
	return lt.Lines[i].Addr, lt.Lines[i].HasAddr
}

// resolve records addr for line i unless the line already has one.
func (lt *LineTable) resolve(i int, addr uint64) bool {
	l := &lt.Lines[i]
	if l.HasAddr {
		return false
	}
	l.Addr, l.HasAddr = addr, true
	return true
}

// AddRow records that the instruction at addr belongs to line, or to no
// line of this file if line is negative. The first address added for a
// line becomes its address. Rows must be added in program order, call
// Sort when done.
func (lt *LineTable) AddRow(addr uint64, line int) {
	lt.index = append(lt.index, lineAddr{addr, line})
	if line >= 0 {
		lt.resolve(line, addr)
	}
}

// Sort prepares the table for LineForPC.
func (lt *LineTable) Sort() {
	sort.SliceStable(lt.index, func(i, j int) bool { return lt.index[i].addr < lt.index[j].addr })
}

// LineForPC returns the line containing the instruction at pc, that is the
// line of the closest row at or before pc.
func (lt *LineTable) LineForPC(pc uint64) (int, bool) {
	i := sort.Search(len(lt.index), func(i int) bool { return lt.index[i].addr > pc })
	if i == 0 {
		return 0, false
	}
	// several rows can share an address, the last one wins
	row := lt.index[i-1]
	if row.line < 0 {
		return 0, false
	}
	return row.line, true
}

// ResolvedLines returns the lines that have an address.
func (lt *LineTable) ResolvedLines() []int {
	var r []int
	for i := range lt.Lines {
		if lt.Lines[i].HasAddr {
			r = append(r, i)
		}
	}
	return r
}
