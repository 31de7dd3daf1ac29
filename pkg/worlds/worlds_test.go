package worlds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/process"
)

func makeWorlds(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0755))
	}
	return root
}

func TestDiscover_DirectoriesOnly(t *testing.T) {
	root := makeWorlds(t, "beta", "alpha")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.txt"), []byte("stray"), 0644))

	names, err := Discover(root, false, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestDiscover_RequireManifest(t *testing.T) {
	root := makeWorlds(t, "alpha", "beta", "gamma")
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha", ManifestFile), []byte("backend = sqlite3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "gamma", ManifestFile), []byte("backend = sqlite3\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "beta", ManifestFile), 0755))

	names, err := Discover(root, true, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "gamma"}, names)

	names, err = Discover(root, false, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)
}

func TestDiscover_Symlink(t *testing.T) {
	root := makeWorlds(t, "alpha")
	target := t.TempDir()
	if err := os.Symlink(target, filepath.Join(root, "linked")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	names, err := Discover(root, false, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "linked"}, names)
}

func TestDiscover_Empty(t *testing.T) {
	names, err := Discover(t.TempDir(), false, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"), false, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsDiscoveryError(err))
}

func TestLauncher_Spec(t *testing.T) {
	root := makeWorlds(t, "alpha")
	launcher, err := NewLauncher(LauncherConfig{
		Root:       root,
		Binary:     "minetest",
		ConfigFile: "minetest.conf",
		LogFile:    "debug.txt",
	})
	require.NoError(t, err)

	spec := launcher.Spec("alpha")
	dir := filepath.Join(root, "alpha")

	assert.Equal(t, "minetest", spec.ExecutablePath)
	assert.Equal(t, []string{
		"--server",
		"--world", dir,
		"--config", filepath.Join(dir, "minetest.conf"),
		"--logfile", filepath.Join(dir, "debug.txt"),
	}, spec.Args)
	assert.Equal(t, dir, spec.WorkingDirectory)
	assert.Equal(t, "world-alpha", spec.ID)
}

func TestLauncher_RelativeRoot(t *testing.T) {
	launcher, err := NewLauncher(LauncherConfig{Root: "./worlds", Binary: "minetest", ConfigFile: "c", LogFile: "l"})
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(launcher.Root()))
	assert.Equal(t, "worlds", filepath.Base(launcher.Root()))
}

func TestLauncher_Validation(t *testing.T) {
	_, err := NewLauncher(LauncherConfig{Root: "w", ConfigFile: "c", LogFile: "l"})
	assert.True(t, errors.IsValidationError(err))

	_, err = NewLauncher(LauncherConfig{Root: "w", Binary: "minetest"})
	assert.True(t, errors.IsValidationError(err))
}

func TestRegistry_SpawnFailure(t *testing.T) {
	launcher, err := NewLauncher(LauncherConfig{Root: t.TempDir(), Binary: "no-such-world-binary", ConfigFile: "c", LogFile: "l"})
	require.NoError(t, err)

	registry := NewRegistryWithSpawner(launcher, process.StdioDiscard, process.Spawn)
	_, err = registry.Start("alpha")
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
	assert.Empty(t, registry.Names())
}

func TestRegistry_Bookkeeping(t *testing.T) {
	launcher, err := NewLauncher(LauncherConfig{Root: t.TempDir(), Binary: "minetest", ConfigFile: "c", LogFile: "l"})
	require.NoError(t, err)
	registry := NewRegistryWithSpawner(launcher, process.StdioDiscard, process.Spawn)

	first := &process.Handle{}
	second := &process.Handle{}

	assert.Nil(t, registry.Replace("beta", first))
	assert.Nil(t, registry.Replace("alpha", first))
	assert.Same(t, first, registry.Replace("alpha", second))

	entry, ok := registry.Get("alpha")
	require.True(t, ok)
	assert.Same(t, second, entry.Handle)

	assert.Equal(t, 1, registry.RecordRestart("alpha", entry.Handle.StartedAt()))
	assert.Equal(t, 2, registry.RecordRestart("alpha", entry.Handle.StartedAt()))
	assert.Equal(t, 0, registry.RecordRestart("missing", entry.Handle.StartedAt()))

	registry.MarkFailed("beta")

	all := registry.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, 2, all[0].Restarts)
	assert.Equal(t, "beta", all[1].Name)
	assert.True(t, all[1].Failed)

	assert.Equal(t, []string{"alpha", "beta"}, registry.Names())
	assert.Len(t, registry.Names(), 2)

	_, ok = registry.Get("gamma")
	assert.False(t, ok)
}
