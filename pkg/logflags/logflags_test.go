package logflags

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw bufferWriter) Close() error {
	return nil
}

func reset() {
	debugger, native, debugLineErrors, gui, terminal = false, false, false, false, false
	logOut = nil
	loggerFactory = nil
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	defer reset()
	logOut = &bufferWriter{}

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(flag bool, fields Fields, out io.Writer) Logger {
		if !flag {
			t.Fatalf("expected flag to be true")
		}
		if len(fields) != 1 || fields["foo"] != "bar" {
			t.Fatalf("expected fields to be {'foo':'bar'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(true, Fields{"foo": "bar"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeLogger_disabled(t *testing.T) {
	defer reset()
	actual := makeLogger(false, Fields{"foo": "bar"}).(*logrusLogger)
	if actual.Entry.Logger.Level != logrus.PanicLevel {
		t.Fatalf("expected level <%v>; got <%v>", logrus.PanicLevel, actual.Entry.Logger.Level)
	}
	if actual.Entry.Data["foo"] != "bar" {
		t.Fatalf("fields not set: %v", actual.Entry.Data)
	}
}

func TestSetup(t *testing.T) {
	defer reset()
	if err := Setup(false, "debugger", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected errLogstrWithoutLog, got %v", err)
	}
	if err := Setup(true, "native,debuglineerr", ""); err != nil {
		t.Fatal(err)
	}
	if !Native() || !DebugLineErrors() || Debugger() || GUI() || Terminal() {
		t.Fatalf("wrong flags: native=%v debuglineerr=%v debugger=%v", Native(), DebugLineErrors(), Debugger())
	}
	reset()
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Debugger() {
		t.Fatal("debugger should be the default log output")
	}
}

func TestLogDest(t *testing.T) {
	defer reset()
	dest := filepath.Join(t.TempDir(), "log.txt")
	if err := Setup(true, "gui", dest); err != nil {
		t.Fatal(err)
	}
	if !LoggingToFile() {
		t.Fatal("expected logs to go to a file")
	}
	buf := &bufferWriter{}
	logOut.Close()
	logOut = buf
	GUILogger().Debugf("frame %d", 3)
	out := buf.String()
	if !strings.Contains(out, "layer=gui") || !strings.Contains(out, "frame 3") {
		t.Fatalf("unexpected log output %q", out)
	}
	Close()
	if LoggingToFile() {
		t.Fatal("Close did not reset the destination")
	}
}
