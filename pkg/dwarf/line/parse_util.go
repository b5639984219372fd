package line

import (
	"fmt"

	"github.com/fgc/hmdd/pkg/dwarf/util"
)

const (
	_DW_FORM_block      = 0x09
	_DW_FORM_block1     = 0x0a
	_DW_FORM_block2     = 0x03
	_DW_FORM_block4     = 0x04
	_DW_FORM_data1      = 0x0b
	_DW_FORM_data2      = 0x05
	_DW_FORM_data4      = 0x06
	_DW_FORM_data8      = 0x07
	_DW_FORM_data16     = 0x1e
	_DW_FORM_flag       = 0x0c
	_DW_FORM_line_strp  = 0x1f
	_DW_FORM_sdata      = 0x0d
	_DW_FORM_sec_offset = 0x17
	_DW_FORM_string     = 0x08
	_DW_FORM_strp       = 0x0e
	_DW_FORM_strx       = 0x1a
	_DW_FORM_strx1      = 0x25
	_DW_FORM_strx2      = 0x26
	_DW_FORM_strx3      = 0x27
	_DW_FORM_strx4      = 0x28
	_DW_FORM_udata      = 0x0f
)

const (
	_DW_LNCT_path = 0x1 + iota
	_DW_LNCT_directory_index
	_DW_LNCT_timestamp
	_DW_LNCT_size
	_DW_LNCT_MD5
)

// formReader decodes the entries of a DWARF 5 directory or file table,
// whose layout is described by a list of (content type, form) pairs.
type formReader struct {
	logf         func(string, ...interface{})
	offsetSize   int
	contentTypes []uint64
	formCodes    []uint64

	contentType uint64
	formCode    uint64

	block []byte
	u64   uint64
	i64   int64
	str   string
	err   error

	nexti int
}

func readEntryFormat(info *DebugLineInfo, rdr *util.Reader) *formReader {
	count := rdr.Uint8()
	fr := &formReader{
		logf:         info.Logf,
		offsetSize:   4,
		contentTypes: make([]uint64, count),
		formCodes:    make([]uint64, count),
	}
	if info.Prologue.Dwarf64 {
		fr.offsetSize = 8
	}
	for i := range fr.contentTypes {
		fr.contentTypes[i] = rdr.ULEB128()
		fr.formCodes[i] = rdr.ULEB128()
	}
	return fr
}

func (fr *formReader) reset() {
	fr.err = nil
	fr.nexti = 0
}

func (fr *formReader) next(rdr *util.Reader) bool {
	if fr.err != nil || fr.nexti >= len(fr.contentTypes) {
		return false
	}

	fr.contentType = fr.contentTypes[fr.nexti]
	fr.formCode = fr.formCodes[fr.nexti]

	switch fr.formCode {
	case _DW_FORM_block:
		fr.block = rdr.Bytes(int(rdr.ULEB128()))
	case _DW_FORM_block1:
		fr.block = rdr.Bytes(int(rdr.Uint8()))
	case _DW_FORM_block2:
		fr.block = rdr.Bytes(int(rdr.Uint16()))
	case _DW_FORM_block4:
		fr.block = rdr.Bytes(int(rdr.Uint32()))
	case _DW_FORM_data16:
		fr.block = rdr.Bytes(16)
	case _DW_FORM_data1, _DW_FORM_flag, _DW_FORM_strx1:
		fr.u64 = uint64(rdr.Uint8())
	case _DW_FORM_data2, _DW_FORM_strx2:
		fr.u64 = uint64(rdr.Uint16())
	case _DW_FORM_strx3:
		fr.u64 = rdr.Uint(3)
	case _DW_FORM_data4, _DW_FORM_strx4:
		fr.u64 = uint64(rdr.Uint32())
	case _DW_FORM_line_strp, _DW_FORM_sec_offset, _DW_FORM_strp:
		fr.u64 = rdr.Uint(fr.offsetSize)
	case _DW_FORM_data8:
		fr.u64 = rdr.Uint64()
	case _DW_FORM_sdata:
		fr.i64 = rdr.SLEB128()
	case _DW_FORM_udata, _DW_FORM_strx:
		fr.u64 = rdr.ULEB128()
	case _DW_FORM_string:
		fr.str = rdr.CString()
	default:
		// The size of an unknown form can not be known, nothing after it
		// can be decoded.
		if fr.logf != nil {
			fr.logf("unknown form code %#x", fr.formCode)
		}
		fr.err = errUnknownForm(fr.formCode)
		return false
	}
	if err := rdr.Err(); err != nil {
		fr.err = err
		return false
	}

	fr.nexti++
	return true
}

type errUnknownForm uint64

func (e errUnknownForm) Error() string {
	return fmt.Sprintf("unknown form code %#x", uint64(e))
}
