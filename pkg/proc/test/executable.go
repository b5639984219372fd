package test

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgc/hmdd/pkg/dwarf/dwarfbuilder"
)

// LineRow is a row of a synthetic line table, Line is one based.
type LineRow struct {
	Addr uint64
	Line int
}

// WriteExecutable writes src as main.c to a temporary directory together
// with an amd64 ELF executable whose line table has the given rows, in
// order. The entry point is the address of the first row. Returns the path
// of the executable.
func WriteExecutable(t testing.TB, src string, typ elf.Type, rows ...LineRow) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.c"), []byte(src), 0600); err != nil {
		t.Fatal(err)
	}

	lp := dwarfbuilder.NewLineProgram(4, dir, "main.c")
	lp.SetAddress(rows[0].Addr)
	for _, row := range rows {
		lp.Row(row.Addr, row.Line)
	}
	lp.EndSequence(8)
	secs, err := dwarfbuilder.New("main.c", dir, lp).Build()
	if err != nil {
		t.Fatal(err)
	}

	exe := filepath.Join(dir, "a.out")
	fh, err := os.Create(exe)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	size := int(rows[len(rows)-1].Addr-rows[0].Addr) + 8
	if err := secs.WriteELF(fh, elf.EM_X86_64, typ, rows[0].Addr, size); err != nil {
		t.Fatal(err)
	}
	return exe
}
