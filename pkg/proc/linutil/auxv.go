package linutil

import (
	"encoding/binary"

	"github.com/fgc/hmdd/pkg/dwarf/util"
)

const (
	_AT_NULL  = 0
	_AT_ENTRY = 9
)

// EntryPointFromAuxv searches the elf auxiliary vector for the entry point
// address, returning 0 if it is not there.
// For a description of the auxiliary vector (auxv) format see:
// System V Application Binary Interface, AMD64 Architecture Processor
// Supplement, section 3.4.3.
func EntryPointFromAuxv(auxv []byte, ptrSize int) uint64 {
	rd := util.NewReader("auxv", binary.LittleEndian, auxv)
	for rd.Len() >= 2*ptrSize {
		tag := rd.Uint(ptrSize)
		val := rd.Uint(ptrSize)
		if rd.Err() != nil {
			return 0
		}
		switch tag {
		case _AT_NULL:
			return 0
		case _AT_ENTRY:
			return val
		}
	}
	return 0
}
