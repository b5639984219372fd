package test

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

var (
	fixtures   = make(map[string]Fixture)
	fixturesMu sync.Mutex
)

// FindFixturesDir returns the _fixtures directory at the root of the
// module.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// CCompiler returns the C compiler used to build fixtures, empty if none
// is installed.
func CCompiler() string {
	for _, cc := range []string{os.Getenv("CC"), "cc", "gcc", "clang"} {
		if cc == "" {
			continue
		}
		if p, err := exec.LookPath(cc); err == nil {
			return p
		}
	}
	return ""
}

// MustHaveCC skips the test if no C compiler is available.
func MustHaveCC(t testing.TB) {
	t.Helper()
	if CCompiler() == "" {
		t.Skip("no C compiler available")
	}
}

// BuildFixture compiles _fixtures/<name>.c without optimizations and with
// debug info. The test is skipped if there is no C compiler.
func BuildFixture(t testing.TB, name string, flags ...string) Fixture {
	t.Helper()
	MustHaveCC(t)

	fixturesMu.Lock()
	defer fixturesMu.Unlock()

	key := fmt.Sprint(name, flags)
	if f, ok := fixtures[key]; ok {
		return f
	}

	source, err := filepath.Abs(filepath.Join(FindFixturesDir(), name+".c"))
	if err != nil {
		t.Fatal(err)
	}

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	args := append([]string{"-g", "-O0"}, flags...)
	args = append(args, "-o", tmpfile, source)
	cmd := exec.Command(CCompiler(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %v\n%s", source, err, out)
	}

	f := Fixture{Name: name, Path: tmpfile, Source: filepath.ToSlash(source)}
	fixtures[key] = f
	return f
}

// RunTestsWithFixtures runs the tests and deletes the fixtures they
// built.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	fixturesMu.Lock()
	for _, f := range fixtures {
		os.Remove(f.Path)
	}
	fixturesMu.Unlock()
	return status
}
