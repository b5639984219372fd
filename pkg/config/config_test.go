package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
aliases:
  continue: ["go"]
substitute-path:
  - {from: /build/src, to: /home/me/src}
tab-width: 4
frontend: term
`))
	require.NoError(t, err)
	require.Equal(t, []string{"go"}, c.Aliases["continue"])
	require.Equal(t, 4, c.TabWidth)
	require.Equal(t, "term", c.Frontend)
	require.Equal(t, defaultSourceListLineColor, c.SourceListLineColor)
	require.Equal(t, defaultMaxStepLines, c.MaxStepLines)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("frontend: x11\n"))
	require.Error(t, err)
	_, err = Parse([]byte("no-such-option: 1\n"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	var errOut bytes.Buffer

	c := LoadConfig(filepath.Join(dir, "missing.yml"), &errOut)
	require.Equal(t, Default(), c)
	require.Empty(t, errOut.String())

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("aliases: [\n"), 0600))
	c = LoadConfig(bad, &errOut)
	require.Equal(t, Default(), c)
	require.True(t, strings.Contains(errOut.String(), "Unable to decode config file"), errOut.String())

	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, configDir), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, configDir, configFile), []byte("log-lines: 12\n"), 0600))
	c = LoadConfig("", &errOut)
	require.Equal(t, 12, c.LogLines)
}

func TestSubstitute(t *testing.T) {
	rules := SubstitutePathRules{
		{From: "/build/src/", To: "/home/me/src"},
		{From: "/opt", To: "/usr/local"},
	}
	for _, tc := range []struct{ in, out string }{
		{"/build/src/main.c", "/home/me/src/main.c"},
		{"/build/srcfoo/main.c", "/build/srcfoo/main.c"},
		{"/opt", "/usr/local"},
		{"/opt/x/y.c", "/usr/local/x/y.c"},
		{"relative.c", "relative.c"},
	} {
		require.Equal(t, tc.out, rules.Substitute(tc.in), tc.in)
	}
}

func TestExpandTabs(t *testing.T) {
	require.Equal(t, "        int x;", ExpandTabs("\tint x;", 8))
	require.Equal(t, "ab  c", ExpandTabs("ab\tc", 4))
	require.Equal(t, "plain", ExpandTabs("plain", 4))
	require.Equal(t, "世  x", ExpandTabs("世\tx", 4))
	require.Equal(t, "        x", ExpandTabs("\tx", 0))
}
