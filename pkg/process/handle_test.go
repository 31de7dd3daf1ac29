//go:build !windows

package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func spawnScript(t *testing.T, body string) *Handle {
	t.Helper()
	path := writeScript(t, t.TempDir(), "child.sh", body)
	h, err := Spawn(LaunchSpec{ID: "test", ExecutablePath: path}, StdioDiscard)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Kill()
		h.Wait(context.Background(), 5*time.Second)
	})
	return h
}

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(LaunchSpec{ID: "proxy", ExecutablePath: filepath.Join(t.TempDir(), "missing")}, StdioDiscard)
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSpawn_NotInPath(t *testing.T) {
	_, err := Spawn(LaunchSpec{ID: "world", ExecutablePath: "definitely-not-a-real-binary-name"}, StdioDiscard)
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
}

func TestSpawn_NotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0644))

	_, err := Spawn(LaunchSpec{ID: "proxy", ExecutablePath: path}, StdioDiscard)
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
	assert.True(t, errors.IsPermissionError(err))
}

func TestSpawn_EmptyPath(t *testing.T) {
	_, err := Spawn(LaunchSpec{ID: "proxy"}, StdioDiscard)
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
	assert.True(t, errors.IsValidationError(err))
}

func TestHandle_PollReportsExitCode(t *testing.T) {
	for _, code := range []int{0, 1, 3} {
		code := code
		t.Run(fmt.Sprintf("exit_%d", code), func(t *testing.T) {
			h := spawnScript(t, fmt.Sprintf("sleep 0.1\nexit %d", code))

			assert.True(t, h.Poll().Running())
			require.True(t, h.Wait(context.Background(), 5*time.Second))

			result := h.Poll()
			assert.Equal(t, StateExited, result.State)
			assert.Equal(t, code, result.ExitCode)
			assert.False(t, h.ExitedAt().IsZero())
		})
	}
}

func TestHandle_TerminateIsGraceful(t *testing.T) {
	h := spawnScript(t, "exec sleep 30")
	assert.Greater(t, h.PID(), 0)

	require.NoError(t, h.Terminate())
	assert.True(t, h.Wait(context.Background(), 5*time.Second))
	assert.Equal(t, 1, h.TerminateRequests())
	assert.Equal(t, -1, h.Poll().ExitCode, "signalled processes report -1")
}

func TestHandle_TerminateReachesProcessGroup(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "grandchild.pid")
	path := writeScript(t, dir, "parent.sh", "sleep 30 &\necho $! > "+marker+"\nwait")

	h, err := Spawn(LaunchSpec{ID: "parent", ExecutablePath: path}, StdioDiscard)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, h.Terminate())
	assert.True(t, h.Wait(context.Background(), 5*time.Second))
}

func TestHandle_KillAfterIgnoredTerminate(t *testing.T) {
	h := spawnScript(t, "trap '' TERM\nwhile true; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.Terminate())
	assert.False(t, h.Wait(context.Background(), 300*time.Millisecond))

	require.NoError(t, h.Kill())
	assert.True(t, h.Wait(context.Background(), 5*time.Second))
}

func TestHandle_TerminateAfterExit(t *testing.T) {
	h := spawnScript(t, "exit 0")
	require.True(t, h.Wait(context.Background(), 5*time.Second))

	assert.NoError(t, h.Terminate())
	assert.NoError(t, h.Kill())
	assert.Equal(t, 0, h.TerminateRequests(), "nothing is signalled after exit")
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	h := spawnScript(t, "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.False(t, h.Wait(ctx, time.Minute))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSpawn_WorkingDirectoryAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "env.sh", `echo "$WORLD_NAME" > name.txt`)

	h, err := Spawn(LaunchSpec{
		ID:               "alpha",
		ExecutablePath:   path,
		WorkingDirectory: dir,
		Environment:      []string{"WORLD_NAME=alpha"},
	}, StdioDiscard)
	require.NoError(t, err)
	require.True(t, h.Wait(context.Background(), 5*time.Second))

	data, err := os.ReadFile(filepath.Join(dir, "name.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", string(data))
}

func TestValidateLaunchSpec(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidateLaunchSpec(LaunchSpec{ExecutablePath: "minetest", WorkingDirectory: dir}))
	assert.Error(t, ValidateLaunchSpec(LaunchSpec{}))
	assert.Error(t, ValidateLaunchSpec(LaunchSpec{ExecutablePath: "minetest", WorkingDirectory: filepath.Join(dir, "nope")}))
	assert.Error(t, ValidateLaunchSpec(LaunchSpec{ExecutablePath: "minetest", Environment: []string{"BROKEN"}}))
}

func TestParseStdioMode(t *testing.T) {
	mode, err := ParseStdioMode("inherit")
	require.NoError(t, err)
	assert.Equal(t, StdioInherit, mode)

	mode, err = ParseStdioMode("")
	require.NoError(t, err)
	assert.Equal(t, StdioDiscard, mode)

	_, err = ParseStdioMode("capture")
	assert.True(t, errors.IsValidationError(err))
}
