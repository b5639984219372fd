package linutil

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fgc/hmdd/pkg/proc"
)

func auxv(pairs ...uint64) []byte {
	b := make([]byte, 8*len(pairs))
	for i, v := range pairs {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return b
}

func TestEntryPointFromAuxv(t *testing.T) {
	const AT_PAGESZ = 6
	require.Equal(t, uint64(0x555555555040), EntryPointFromAuxv(auxv(AT_PAGESZ, 4096, _AT_ENTRY, 0x555555555040, _AT_NULL, 0), 8))
	require.Equal(t, uint64(0), EntryPointFromAuxv(auxv(AT_PAGESZ, 4096, _AT_NULL, 0, _AT_ENTRY, 0x1000), 8))
	require.Equal(t, uint64(0), EntryPointFromAuxv(auxv(AT_PAGESZ, 4096)[:12], 8))
	require.Equal(t, uint64(0), EntryPointFromAuxv(nil, 8))
}

func TestAMD64Lookup(t *testing.T) {
	regs := NewAMD64Registers(&AMD64PtraceRegs{Rax: 0x1122334455667788, R9: 0xabcd, Rip: 0x401000, Rsp: 0x7ffc0010, Eflags: 0x246})
	for _, tc := range []struct {
		name string
		want uint64
	}{
		{"rax", 0x1122334455667788},
		{"EAX", 0x55667788},
		{"ax", 0x7788},
		{"al", 0x88},
		{"ah", 0x77},
		{"r9b", 0xcd},
		{"r9w", 0xabcd},
		{"rip", 0x401000},
		{"rsp", 0x7ffc0010},
		{"rflags", 0x246},
	} {
		v, err := regs.Lookup(tc.name)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, v, tc.name)
	}
	_, err := regs.Lookup("xmm0")
	require.True(t, errors.Is(err, proc.ErrUnknownRegister))
	require.Equal(t, uint64(0x401000), regs.PC())
	require.Equal(t, "Rip", regs.Slice()[0].Name)
}

func TestARM64Lookup(t *testing.T) {
	pt := &ARM64PtraceRegs{Sp: 0xfff0, Pc: 0x400580}
	pt.Regs[0] = 0x100000002
	pt.Regs[30] = 0x400600
	regs := NewARM64Registers(pt)
	pt.Pc = 0

	for _, tc := range []struct {
		name string
		want uint64
	}{
		{"x0", 0x100000002},
		{"w0", 2},
		{"X30", 0x400600},
		{"lr", 0x400600},
		{"sp", 0xfff0},
		{"pc", 0x400580},
	} {
		v, err := regs.Lookup(tc.name)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, v, tc.name)
	}
	_, err := regs.Lookup("v0")
	require.True(t, errors.Is(err, proc.ErrUnknownRegister))
	require.Len(t, regs.Slice(), 34)
}
