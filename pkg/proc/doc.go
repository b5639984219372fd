// Package proc is the core of hmdd: it maps the source lines of the first
// compile unit of an executable to instruction addresses and manages the
// software breakpoints patched into a traced process.
//
// The process itself is driven by an implementation of the Process
// interface, see pkg/proc/native for the ptrace based one.
package proc
