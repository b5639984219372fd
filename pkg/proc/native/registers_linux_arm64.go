package native

import (
	"debug/elf"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/fgc/hmdd/pkg/proc/linutil"
)

const _AARCH64_GREGS_SIZE = 34 * 8

func ptraceGetGRegs(pid int, regs *linutil.ARM64PtraceRegs) (err error) {
	iov := sys.Iovec{Base: (*byte)(unsafe.Pointer(regs)), Len: _AARCH64_GREGS_SIZE}
	_, _, err = syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(pid), uintptr(elf.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if err == syscall.Errno(0) {
		err = nil
	}
	return
}

func ptraceSetGRegs(pid int, regs *linutil.ARM64PtraceRegs) (err error) {
	iov := sys.Iovec{Base: (*byte)(unsafe.Pointer(regs)), Len: _AARCH64_GREGS_SIZE}
	_, _, err = syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_SETREGSET, uintptr(pid), uintptr(elf.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if err == syscall.Errno(0) {
		err = nil
	}
	return
}

func (dbp *Process) registers() (*linutil.ARM64Registers, error) {
	var (
		regs linutil.ARM64PtraceRegs
		err  error
	)
	dbp.execPtraceFunc(func() { err = ptraceGetGRegs(dbp.pid, &regs) })
	if err != nil {
		return nil, err
	}
	return linutil.NewARM64Registers(&regs), nil
}

// setPC sets PC to the value specified by 'pc'.
func (dbp *Process) setPC(pc uint64) error {
	var (
		regs linutil.ARM64PtraceRegs
		err  error
	)
	dbp.execPtraceFunc(func() { err = ptraceGetGRegs(dbp.pid, &regs) })
	if err != nil {
		return err
	}
	regs.Pc = pc
	dbp.execPtraceFunc(func() { err = ptraceSetGRegs(dbp.pid, &regs) })
	return err
}
