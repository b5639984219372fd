package cmds

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fgc/hmdd/pkg/config"
)

func resetFlags() {
	log, logOutput, logDest, frontend, initFile, configPath = false, "", "", "", "", ""
}

func TestMissingExecutable(t *testing.T) {
	resetFlags()
	cmd := New(false)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, out.String(), "Usage:")

	cmd = New(false)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"a", "b"})
	require.Error(t, cmd.Execute())
}

func TestVersion(t *testing.T) {
	resetFlags()
	cmd := New(true)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "Version: ")
}

func TestCheckFlags(t *testing.T) {
	defer resetFlags()
	conf := config.Default()

	resetFlags()
	fe, err := checkFlags(conf)
	require.NoError(t, err)
	require.Equal(t, frontendGUI, fe)

	conf.Frontend = frontendTerm
	fe, err = checkFlags(conf)
	require.NoError(t, err)
	require.Equal(t, frontendTerm, fe)

	frontend = frontendGUI
	log = true
	_, err = checkFlags(conf)
	require.EqualError(t, err, "--log-dest is required when logging with the gui front-end")
	logDest = filepath.Join(t.TempDir(), "log")
	_, err = checkFlags(conf)
	require.NoError(t, err)

	initFile = "init.star"
	_, err = checkFlags(conf)
	require.Error(t, err)

	resetFlags()
	frontend = "web"
	_, err = checkFlags(conf)
	require.EqualError(t, err, `unknown front-end "web"`)
}

func TestExecuteBadPath(t *testing.T) {
	defer resetFlags()
	resetFlags()
	frontend = frontendTerm
	configPath = filepath.Join(t.TempDir(), "missing.yml")
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, execute(filepath.Join(t.TempDir(), "nonexistent"), stderr))
	require.Contains(t, stderr.String(), "nonexistent")
}

func TestExecuteNotELF(t *testing.T) {
	defer resetFlags()
	resetFlags()
	frontend = frontendTerm
	configPath = filepath.Join(t.TempDir(), "missing.yml")
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, execute(path, stderr))
	require.NotEmpty(t, stderr.String())
}

func TestFrontendFlag(t *testing.T) {
	defer resetFlags()
	resetFlags()
	cmd := New(false)
	require.NoError(t, cmd.PersistentFlags().Set("frontend", "term"))
	require.Equal(t, frontendFlag(frontendTerm), frontend)
	require.Error(t, cmd.PersistentFlags().Set("frontend", "web"))
	require.Equal(t, frontendFlag(frontendTerm), frontend)
}
