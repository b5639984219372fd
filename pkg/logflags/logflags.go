package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var debugger = false
var native = false
var debugLineErrors = false
var gui = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = DefaultFormatter()
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return &logrusLogger{logger}
}

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() Logger {
	return makeLogger(debugger, Fields{"layer": "debugger"})
}

// Native returns true if every ptrace request should be logged.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the process controller.
func NativeLogger() Logger {
	return makeLogger(native, Fields{"layer": "proc", "kind": "native"})
}

// DebugLineErrors returns true if the debug info loader should log the
// line table rows it discards.
func DebugLineErrors() bool {
	return debugLineErrors
}

// DebugLineLogger returns a logger for the debug info loader.
func DebugLineLogger() Logger {
	return makeLogger(debugLineErrors, Fields{"layer": "dwarf-line"})
}

// GUI returns true if the window front-end should log its events.
func GUI() bool {
	return gui
}

// GUILogger returns a logger for the window front-end.
func GUILogger() Logger {
	return makeLogger(gui, Fields{"layer": "gui"})
}

// Terminal returns true if the line mode front-end should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the line mode front-end.
func TerminalLogger() Logger {
	return makeLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "hmdd-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "debugger":
			debugger = true
		case "native":
			native = true
		case "debuglineerr":
			debugLineErrors = true
		case "gui":
			gui = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'hmdd help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// LoggingToFile returns true if logs go somewhere other than stderr.
func LoggingToFile() bool {
	return logOut != nil
}

// DefaultFormatter provides a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
func DefaultFormatter() logrus.Formatter {
	return textFormatterInstance
}

type textFormatter struct{}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s layer=%s", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level, entry.Data["layer"])
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte(' ')
	b.WriteString(strings.TrimRight(entry.Message, "\n"))
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
