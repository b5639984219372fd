package proc

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fgc/hmdd/pkg/dwarf/line"
	"github.com/fgc/hmdd/pkg/logflags"
)

// BinaryInfo holds information on the executable being debugged.
type BinaryInfo struct {
	// Path is the path of the executable.
	Path string
	Arch *Arch
	// Entry is the link time entry point.
	Entry uint64
	// PIE is true for position independent executables, whose runtime
	// addresses are offset by a load bias.
	PIE bool

	// CompileUnit is the name of the compile unit the line table was
	// built from.
	CompileUnit string
	Lines       *LineTable

	// SubstitutePath rewrites the source path recorded in the debug info
	// before it is opened.
	SubstitutePath func(string) string

	logger logflags.Logger
}

// NewBinaryInfo returns an initialized but unloaded BinaryInfo struct.
func NewBinaryInfo(arch *Arch) *BinaryInfo {
	return &BinaryInfo{Arch: arch, logger: logflags.DebugLineLogger()}
}

// LoadBinaryInfo opens the ELF executable at path and builds the line
// table of its first compile unit.
func LoadBinaryInfo(path string, substitutePath func(string) string) (*BinaryInfo, error) {
	bi := NewBinaryInfo(nil)
	bi.Path = path
	bi.SubstitutePath = substitutePath

	f, err := os.Open(path)
	if err != nil {
		return nil, &DebugInfoError{Kind: CannotOpen, Path: path, Err: err}
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: err}
	}
	defer ef.Close()

	bi.Arch, err = ArchForMachine(ef.Machine)
	if err != nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: err}
	}
	bi.Entry = ef.Entry
	bi.PIE = ef.Type == elf.ET_DYN

	dwdata, err := ef.DWARF()
	if err != nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: err}
	}
	debugLine, err := sectionData(ef, ".debug_line")
	if err != nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: err}
	}
	if debugLine == nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: errors.New("could not find .debug_line section in binary")}
	}
	lineStr, err := sectionData(ef, ".debug_line_str")
	if err != nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: err}
	}
	str, err := sectionData(ef, ".debug_str")
	if err != nil {
		return nil, &DebugInfoError{Kind: MalformedFormat, Path: path, Err: err}
	}

	if err := bi.LoadFromData(dwdata, debugLine, line.Sections{LineStr: lineStr, Str: str}); err != nil {
		var dierr *DebugInfoError
		if errors.As(err, &dierr) && dierr.Path == "" {
			dierr.Path = path
		}
		return nil, err
	}
	return bi, nil
}

// sectionData returns the decompressed contents of a section, nil if it
// does not exist.
func sectionData(ef *elf.File, name string) ([]byte, error) {
	sec := ef.Section(name)
	if sec == nil || sec.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %v", name, err)
	}
	return data, nil
}

// LoadFromData builds the line table from DWARF data, debugLine is the
// contents of the .debug_line section.
func (bi *BinaryInfo) LoadFromData(dwdata *dwarf.Data, debugLine []byte, sections line.Sections) error {
	if bi.logger == nil {
		bi.logger = logflags.DebugLineLogger()
	}
	ptrSize := 8
	if bi.Arch != nil {
		ptrSize = bi.Arch.PtrSize()
	}

	cu, err := firstCompileUnit(dwdata)
	if err != nil {
		return err
	}
	bi.CompileUnit, _ = cu.Val(dwarf.AttrName).(string)
	compDir, _ := cu.Val(dwarf.AttrCompDir).(string)
	off, _ := cu.Val(dwarf.AttrStmtList).(int64)
	if off < 0 || off >= int64(len(debugLine)) {
		return &DebugInfoError{Kind: MalformedFormat, Err: fmt.Errorf("line table offset %#x out of bounds", off)}
	}

	dbl, err := line.Parse(debugLine[off:], sections, line.Options{
		CompDir: compDir,
		PtrSize: ptrSize,
		Logf:    bi.logger.Debugf,
	})
	if err != nil {
		return &DebugInfoError{Kind: MalformedFormat, Err: fmt.Errorf("compile unit %s: %w", bi.CompileUnit, err)}
	}

	var (
		lt      *LineTable
		loadErr error
		skipped int
	)
	walkErr := dbl.Walk(func(row line.Location) bool {
		if lt == nil {
			if row.EndSequence {
				return true
			}
			lt, loadErr = bi.loadSource(row.File)
			if loadErr != nil {
				return false
			}
		}
		switch {
		case row.EndSequence, row.File != lt.File:
			lt.AddRow(row.Address, -1)
		case row.Line < 1 || row.Line > len(lt.Lines):
			skipped++
			bi.logger.Debugf("discarding row %#x: line %d outside of %s (%d lines)", row.Address, row.Line, lt.File, len(lt.Lines))
		default:
			lt.AddRow(row.Address, row.Line-1)
		}
		return true
	})
	if loadErr != nil {
		return loadErr
	}
	if walkErr != nil {
		// rows decoded before the error are kept
		bi.logger.Debugf("line table of %s: %v", bi.CompileUnit, walkErr)
		if lt == nil {
			return &DebugInfoError{Kind: MalformedFormat, Err: walkErr}
		}
	}
	if lt == nil {
		return &DebugInfoError{Kind: NoCompilationUnit, Err: fmt.Errorf("compile unit %s has an empty line table", bi.CompileUnit)}
	}
	if skipped > 0 {
		bi.logger.Debugf("%d rows discarded", skipped)
	}
	lt.Sort()
	bi.Lines = lt
	return nil
}

// firstCompileUnit returns the first compile unit that has a line-number
// program.
func firstCompileUnit(dwdata *dwarf.Data) (*dwarf.Entry, error) {
	rdr := dwdata.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, &DebugInfoError{Kind: MalformedFormat, Err: err}
		}
		if e == nil {
			return nil, &DebugInfoError{Kind: NoCompilationUnit}
		}
		if e.Tag == dwarf.TagCompileUnit {
			if _, ok := e.Val(dwarf.AttrStmtList).(int64); ok {
				return e, nil
			}
		}
		rdr.SkipChildren()
	}
}

// loadSource reads the whole source file in a buffer sized to it and
// splits it into lines.
func (bi *BinaryInfo) loadSource(file string) (*LineTable, error) {
	path := file
	if bi.SubstitutePath != nil {
		path = bi.SubstitutePath(file)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &DebugInfoError{Kind: CannotOpen, Path: path, Err: err}
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, &DebugInfoError{Kind: CannotOpen, Path: path, Err: err}
	}
	src := make([]byte, fi.Size())
	if _, err := io.ReadFull(f, src); err != nil {
		return nil, &DebugInfoError{Kind: CannotOpen, Path: path, Err: err}
	}
	lt := NewLineTable(file, src)
	bi.logger.Debugf("loaded %s, %d bytes, %d lines", path, len(src), len(lt.Lines))
	return lt, nil
}
