// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package master

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, WritePIDFile(path, 12345))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	RemovePIDFile(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFileEmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, WritePIDFile("", 1))
	RemovePIDFile("")
}

func TestPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))
	_, err := ReadPIDFile(path)
	assert.Error(t, err)
}

func TestIsWorker(t *testing.T) {
	t.Setenv(workerEnv, "")
	os.Unsetenv(workerEnv)
	assert.False(t, IsWorker())

	t.Setenv(workerEnv, "1")
	assert.True(t, IsWorker())
}
