package proc_test

import (
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fgc/hmdd/pkg/dwarf/dwarfbuilder"
	"github.com/fgc/hmdd/pkg/dwarf/line"
	"github.com/fgc/hmdd/pkg/proc"
	protest "github.com/fgc/hmdd/pkg/proc/test"
)

const threeLines = "int main(void) {\n\treturn 0;\n}\n"

// writeExecutable writes an ELF file whose line table maps the lines of a
// source file in dir.
func writeExecutable(t *testing.T, dir string, version uint16, typ elf.Type, build func(lp *dwarfbuilder.LineProgram)) string {
	t.Helper()
	lp := dwarfbuilder.NewLineProgram(version, dir, "main.c", "/usr/include/stdio.h")
	lp.UseLineStr = version >= 5
	build(lp)
	secs, err := dwarfbuilder.New("main.c", dir, lp).Build()
	require.NoError(t, err)

	exe := filepath.Join(dir, "a.out")
	fh, err := os.Create(exe)
	require.NoError(t, err)
	defer fh.Close()
	require.NoError(t, secs.WriteELF(fh, elf.EM_X86_64, typ, 0x401000, 0x40))
	return exe
}

func standardProgram(lp *dwarfbuilder.LineProgram) {
	lp.SetAddress(0x401000)
	lp.Row(0x401000, 1)
	lp.Row(0x401008, 2)
	lp.Row(0x40100c, 1) // a second address for line 1 is ignored
	lp.Row(0x401010, 2)
	lp.SetFile(2)
	lp.Row(0x401014, 700)
	lp.SetFile(1)
	lp.Row(0x401018, 3)
	lp.Row(0x40101c, 90) // past the end of the file
	lp.EndSequence(4)
}

func TestLoadBinaryInfo(t *testing.T) {
	for _, version := range []uint16{4, 5} {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte(threeLines), 0600))
		exe := writeExecutable(t, dir, version, elf.ET_EXEC, standardProgram)

		bi, err := proc.LoadBinaryInfo(exe, nil)
		require.NoError(t, err, "version %d", version)
		require.Equal(t, proc.AMD64Arch, bi.Arch)
		require.Equal(t, uint64(0x401000), bi.Entry)
		require.False(t, bi.PIE)
		require.Equal(t, "main.c", bi.CompileUnit)

		lt := bi.Lines
		require.Equal(t, filepath.Join(dir, "main.c"), lt.File)
		require.Equal(t, threeLines, string(lt.Source))
		require.Equal(t, 4, lt.Len())
		require.Equal(t, "\treturn 0;", string(lt.Text(1)))

		for i, want := range []uint64{0x401000, 0x401008, 0x401018} {
			addr, ok := lt.Addr(i)
			require.True(t, ok, "line %d", i+1)
			require.Equal(t, want, addr, "line %d", i+1)
		}
		_, ok := lt.Addr(3)
		require.False(t, ok)

		line, ok := lt.LineForPC(0x401012)
		require.True(t, ok)
		require.Equal(t, 1, line)
		_, ok = lt.LineForPC(0x401016)
		require.False(t, ok, "address belongs to another file")
	}
}

func TestLoadBinaryInfoPIE(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte(threeLines), 0600))
	exe := writeExecutable(t, dir, 4, elf.ET_DYN, standardProgram)
	bi, err := proc.LoadBinaryInfo(exe, nil)
	require.NoError(t, err)
	require.True(t, bi.PIE)
}

func TestSubstitutePath(t *testing.T) {
	dir := t.TempDir()
	moved := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(moved, "main.c"), []byte(threeLines), 0600))
	exe := writeExecutable(t, dir, 4, elf.ET_EXEC, standardProgram)

	_, err := proc.LoadBinaryInfo(exe, nil)
	require.True(t, errors.Is(err, proc.ErrCannotOpen), "%v", err)
	require.Contains(t, err.Error(), filepath.Join(dir, "main.c"))

	bi, err := proc.LoadBinaryInfo(exe, func(p string) string {
		return strings.Replace(p, dir, moved, 1)
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "main.c"), bi.Lines.File)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := proc.LoadBinaryInfo(filepath.Join(dir, "does-not-exist"), nil)
	require.True(t, errors.Is(err, proc.ErrCannotOpen), "%v", err)

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("definitely not an executable\n"), 0600))
	_, err = proc.LoadBinaryInfo(text, nil)
	require.True(t, errors.Is(err, proc.ErrMalformedFormat), "%v", err)
	var dierr *proc.DebugInfoError
	require.True(t, errors.As(err, &dierr))
	require.Equal(t, text, dierr.Path)

	// no .debug_line
	secs, err := dwarfbuilder.New("main.c", dir, nil).Build()
	require.NoError(t, err)
	nolines := filepath.Join(dir, "nolines")
	fh, err := os.Create(nolines)
	require.NoError(t, err)
	require.NoError(t, secs.WriteELF(fh, elf.EM_X86_64, elf.ET_EXEC, 0x1000, 1))
	fh.Close()
	_, err = proc.LoadBinaryInfo(nolines, nil)
	require.True(t, errors.Is(err, proc.ErrMalformedFormat), "%v", err)

	// a compile unit without DW_AT_stmt_list
	d, err := secs.Data()
	require.NoError(t, err)
	bi := proc.NewBinaryInfo(proc.AMD64Arch)
	err = bi.LoadFromData(d, []byte{0}, line.Sections{})
	require.True(t, errors.Is(err, proc.ErrNoCompilationUnit), "%v", err)
}

func TestLoadFixture(t *testing.T) {
	fixture := protest.BuildFixture(t, "testprog")
	bi, err := proc.LoadBinaryInfo(fixture.Path, nil)
	require.NoError(t, err)
	require.Equal(t, fixture.Source, filepath.ToSlash(bi.Lines.File))

	var mainLine = -1
	for i := 0; i < bi.Lines.Len(); i++ {
		if strings.HasPrefix(string(bi.Lines.Text(i)), "int main(") {
			mainLine = i
		}
	}
	require.NotEqual(t, -1, mainLine)
	_, ok := bi.Lines.Addr(mainLine)
	require.True(t, ok, "main has no address")
	_, ok = bi.Lines.Addr(0)
	require.False(t, ok, "the first comment line should have no code")
}
