package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/fgc/hmdd/pkg/proc/linutil"
)

func (dbp *Process) ptraceGetRegs() (*linutil.AMD64PtraceRegs, error) {
	var (
		regs linutil.AMD64PtraceRegs
		err  error
	)
	dbp.execPtraceFunc(func() { err = sys.PtraceGetRegs(dbp.pid, (*sys.PtraceRegs)(&regs)) })
	if err != nil {
		return nil, err
	}
	return &regs, nil
}

func (dbp *Process) registers() (*linutil.AMD64Registers, error) {
	regs, err := dbp.ptraceGetRegs()
	if err != nil {
		return nil, err
	}
	return linutil.NewAMD64Registers(regs), nil
}

// setPC sets RIP to the value specified by 'pc'.
func (dbp *Process) setPC(pc uint64) error {
	regs, err := dbp.ptraceGetRegs()
	if err != nil {
		return err
	}
	regs.Rip = pc
	dbp.execPtraceFunc(func() { err = sys.PtraceSetRegs(dbp.pid, (*sys.PtraceRegs)(regs)) })
	return err
}
