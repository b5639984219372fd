//go:build !linux || !(amd64 || arm64)

package native

import (
	"errors"
	"io"

	"github.com/fgc/hmdd/pkg/proc"
)

// ErrNativeBackendDisabled is returned when the native backend is not
// available on this platform.
var ErrNativeBackendDisabled = errors.New("native backend disabled, only linux/amd64 and linux/arm64 are supported")

// LaunchOptions configures the standard streams of a launched process.
type LaunchOptions struct {
	TTY    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Launch returns ErrNativeBackendDisabled.
func Launch(_ string, _ LaunchOptions) (*Process, error) {
	return nil, &proc.ProcessError{Kind: proc.ForkFailed, Op: "launch", Err: ErrNativeBackendDisabled}
}

func (dbp *Process) SingleStep() (proc.StopResult, error) {
	return proc.StopResult{}, ErrNativeBackendDisabled
}

func (dbp *Process) Continue() (proc.StopResult, error) {
	return proc.StopResult{}, ErrNativeBackendDisabled
}

func (dbp *Process) ReadWord(addr uint64) (uint64, error) {
	return 0, ErrNativeBackendDisabled
}

func (dbp *Process) WriteWord(addr, word uint64) error {
	return ErrNativeBackendDisabled
}

func (dbp *Process) Registers() (proc.Registers, error) {
	return nil, ErrNativeBackendDisabled
}

func (dbp *Process) SetPC(pc uint64) error {
	return ErrNativeBackendDisabled
}

func (dbp *Process) EntryPoint() (uint64, error) {
	return 0, ErrNativeBackendDisabled
}

func (dbp *Process) Detach(kill bool) error {
	dbp.stopPtraceThread()
	return nil
}
