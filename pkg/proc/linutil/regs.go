package linutil

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/fgc/hmdd/pkg/proc"
)

// AMD64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for AMD64 CPUs.
type AMD64PtraceRegs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// AMD64Registers implements the proc.Registers interface for the native
// linux backend on AMD64.
type AMD64Registers struct {
	Regs *AMD64PtraceRegs
}

// NewAMD64Registers returns a snapshot of regs.
func NewAMD64Registers(regs *AMD64PtraceRegs) *AMD64Registers {
	cp := *regs
	return &AMD64Registers{Regs: &cp}
}

// PC returns the value of RIP register.
func (r *AMD64Registers) PC() uint64 { return r.Regs.Rip }

// SP returns the value of RSP register.
func (r *AMD64Registers) SP() uint64 { return r.Regs.Rsp }

// Slice returns the registers as a list of (name, value) pairs.
func (r *AMD64Registers) Slice() []proc.Register {
	var regs = []struct {
		k string
		v uint64
	}{
		{"Rip", r.Regs.Rip},
		{"Rsp", r.Regs.Rsp},
		{"Rax", r.Regs.Rax},
		{"Rbx", r.Regs.Rbx},
		{"Rcx", r.Regs.Rcx},
		{"Rdx", r.Regs.Rdx},
		{"Rdi", r.Regs.Rdi},
		{"Rsi", r.Regs.Rsi},
		{"Rbp", r.Regs.Rbp},
		{"R8", r.Regs.R8},
		{"R9", r.Regs.R9},
		{"R10", r.Regs.R10},
		{"R11", r.Regs.R11},
		{"R12", r.Regs.R12},
		{"R13", r.Regs.R13},
		{"R14", r.Regs.R14},
		{"R15", r.Regs.R15},
		{"Orig_rax", r.Regs.Orig_rax},
		{"Cs", r.Regs.Cs},
		{"Rflags", r.Regs.Eflags},
		{"Ss", r.Regs.Ss},
		{"Fs_base", r.Regs.Fs_base},
		{"Gs_base", r.Regs.Gs_base},
	}
	out := make([]proc.Register, 0, len(regs))
	for _, reg := range regs {
		out = append(out, proc.Register{Name: reg.k, Value: reg.v})
	}
	return out
}

// Get returns the value of the n-th register (in x86asm order).
func (r *AMD64Registers) Get(n int) (uint64, error) {
	reg := x86asm.Reg(n)
	const (
		mask8  = 0x000000ff
		mask16 = 0x0000ffff
		mask32 = 0xffffffff
	)

	switch {
	case reg >= x86asm.AH && reg <= x86asm.BH:
		v, _ := r.Get(int(reg - x86asm.AH + x86asm.RAX))
		return (v >> 8) & mask8, nil
	case reg >= x86asm.SPB && reg <= x86asm.DIB:
		v, _ := r.Get(int(reg - x86asm.SPB + x86asm.RSP))
		return v & mask8, nil
	case reg >= x86asm.AL && reg <= x86asm.BL:
		v, _ := r.Get(int(reg - x86asm.AL + x86asm.RAX))
		return v & mask8, nil
	case reg >= x86asm.R8B && reg <= x86asm.R15B:
		v, _ := r.Get(int(reg - x86asm.R8B + x86asm.R8))
		return v & mask8, nil
	case reg >= x86asm.AX && reg <= x86asm.R15W:
		v, _ := r.Get(int(reg - x86asm.AX + x86asm.RAX))
		return v & mask16, nil
	case reg >= x86asm.EAX && reg <= x86asm.R15L:
		v, _ := r.Get(int(reg - x86asm.EAX + x86asm.RAX))
		return v & mask32, nil
	}

	switch reg {
	case x86asm.RAX:
		return r.Regs.Rax, nil
	case x86asm.RCX:
		return r.Regs.Rcx, nil
	case x86asm.RDX:
		return r.Regs.Rdx, nil
	case x86asm.RBX:
		return r.Regs.Rbx, nil
	case x86asm.RSP:
		return r.Regs.Rsp, nil
	case x86asm.RBP:
		return r.Regs.Rbp, nil
	case x86asm.RSI:
		return r.Regs.Rsi, nil
	case x86asm.RDI:
		return r.Regs.Rdi, nil
	case x86asm.R8:
		return r.Regs.R8, nil
	case x86asm.R9:
		return r.Regs.R9, nil
	case x86asm.R10:
		return r.Regs.R10, nil
	case x86asm.R11:
		return r.Regs.R11, nil
	case x86asm.R12:
		return r.Regs.R12, nil
	case x86asm.R13:
		return r.Regs.R13, nil
	case x86asm.R14:
		return r.Regs.R14, nil
	case x86asm.R15:
		return r.Regs.R15, nil
	case x86asm.RIP:
		return r.Regs.Rip, nil
	}

	return 0, proc.ErrUnknownRegister
}

// Lookup returns the value of the register called name, using the x86asm
// register names (rax, eax, ax, al...).
func (r *AMD64Registers) Lookup(name string) (uint64, error) {
	if strings.EqualFold(name, "rflags") || strings.EqualFold(name, "eflags") {
		return r.Regs.Eflags, nil
	}
	for reg := x86asm.AL; reg <= x86asm.RIP; reg++ {
		if strings.EqualFold(reg.String(), name) {
			return r.Get(int(reg))
		}
	}
	return 0, fmt.Errorf("%w %q", proc.ErrUnknownRegister, name)
}

// ARM64PtraceRegs is the user_pt_regs struct used by the linux kernel to
// return the general purpose registers for ARM64 CPUs.
type ARM64PtraceRegs struct {
	Regs   [31]uint64
	Sp     uint64
	Pc     uint64
	Pstate uint64
}

// ARM64Registers implements the proc.Registers interface for the native
// linux backend on ARM64.
type ARM64Registers struct {
	Regs *ARM64PtraceRegs
}

// NewARM64Registers returns a snapshot of regs.
func NewARM64Registers(regs *ARM64PtraceRegs) *ARM64Registers {
	cp := *regs
	return &ARM64Registers{Regs: &cp}
}

// PC returns the value of the PC register.
func (r *ARM64Registers) PC() uint64 { return r.Regs.Pc }

// SP returns the value of the SP register.
func (r *ARM64Registers) SP() uint64 { return r.Regs.Sp }

// Slice returns the registers as a list of (name, value) pairs.
func (r *ARM64Registers) Slice() []proc.Register {
	out := make([]proc.Register, 0, len(r.Regs.Regs)+3)
	for i, v := range r.Regs.Regs {
		out = append(out, proc.Register{Name: fmt.Sprintf("X%d", i), Value: v})
	}
	out = append(out,
		proc.Register{Name: "Sp", Value: r.Regs.Sp},
		proc.Register{Name: "Pc", Value: r.Regs.Pc},
		proc.Register{Name: "Pstate", Value: r.Regs.Pstate})
	return out
}

// Get returns the value of the n-th register (in arm64asm order). Register
// 31 is SP.
func (r *ARM64Registers) Get(n int) (uint64, error) {
	reg := arm64asm.Reg(n)
	const mask32 = 0xffffffff

	switch {
	case reg >= arm64asm.W0 && reg <= arm64asm.W30:
		return r.Regs.Regs[reg-arm64asm.W0] & mask32, nil
	case reg >= arm64asm.X0 && reg <= arm64asm.X30:
		return r.Regs.Regs[reg-arm64asm.X0], nil
	case reg == arm64asm.WZR:
		return r.Regs.Sp & mask32, nil
	case reg == arm64asm.XZR:
		return r.Regs.Sp, nil
	}
	return 0, proc.ErrUnknownRegister
}

// Lookup returns the value of the register called name (x0, w0, sp, pc).
func (r *ARM64Registers) Lookup(name string) (uint64, error) {
	switch strings.ToLower(name) {
	case "pc":
		return r.Regs.Pc, nil
	case "sp":
		return r.Regs.Sp, nil
	case "pstate":
		return r.Regs.Pstate, nil
	case "lr":
		return r.Regs.Regs[30], nil
	case "fp":
		return r.Regs.Regs[29], nil
	}
	for reg := arm64asm.W0; reg <= arm64asm.X30; reg++ {
		if strings.EqualFold(reg.String(), name) {
			return r.Get(int(reg))
		}
	}
	return 0, fmt.Errorf("%w %q", proc.ErrUnknownRegister, name)
}
