package processfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
)

func newTestManager(t *testing.T) *ProcessFileManager {
	return NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, logging.NewNopLogger())
}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, logging.NewNopLogger())

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, UserService, manager.config.ServiceContext)
	assert.NotEmpty(t, manager.Directory())
}

func TestGeneratePIDFilePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name     string
		config   ProcessFileConfig
		id       string
		expected string
	}{
		{"plain", ProcessFileConfig{BaseDirectory: base}, "proxy", filepath.Join(base, "proxy.pid")},
		{"subdirectory", ProcessFileConfig{BaseDirectory: base, UseSubdirectory: true}, "world-alpha",
			filepath.Join(base, DefaultAppName, "world-alpha.pid")},
		{"sanitized", ProcessFileConfig{BaseDirectory: base}, "world-../etc", filepath.Join(base, "world-.._etc.pid")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewProcessFileManager(tt.config, logging.NewNopLogger())
			assert.Equal(t, tt.expected, manager.GeneratePIDFilePath(tt.id))
		})
	}
}

func TestGeneratePIDFilePath_DefaultDirectories(t *testing.T) {
	for _, ctx := range []ServiceContext{SystemService, UserService, SessionService} {
		manager := NewProcessFileManager(ProcessFileConfig{ServiceContext: ctx, UseSubdirectory: true}, logging.NewNopLogger())
		path := manager.GeneratePIDFilePath("proxy")
		assert.Contains(t, path, DefaultAppName)
		assert.Equal(t, "proxy.pid", filepath.Base(path))
	}
}

func TestWriteReadRemovePIDFile(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.WritePIDFile("world-alpha", 4242))

	pid, err := readPID(manager.GeneratePIDFilePath("world-alpha"))
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, manager.RemovePIDFile("world-alpha"))
	_, err = readPID(manager.GeneratePIDFilePath("world-alpha"))
	assert.True(t, errors.IsIOError(err))

	assert.NoError(t, manager.RemovePIDFile("world-alpha"), "removing twice is fine")
}

func TestWritePIDFile_CreatesDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "run")
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, logging.NewNopLogger())

	require.NoError(t, manager.WritePIDFile("proxy", 1))
	assert.FileExists(t, filepath.Join(base, "proxy.pid"))
}

func TestWritePIDFile_InvalidDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("path semantics differ on windows")
	}
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: file}, logging.NewNopLogger())
	err := manager.WritePIDFile("proxy", 1)
	assert.True(t, errors.IsIOError(err))
}

func TestReadPID_InvalidContent(t *testing.T) {
	manager := newTestManager(t)
	require.NoError(t, os.WriteFile(manager.GeneratePIDFilePath("proxy"), []byte("not-a-pid\n"), 0644))

	_, err := readPID(manager.GeneratePIDFilePath("proxy"))
	assert.True(t, errors.IsValidationError(err))
}

func TestDirectory_Scope(t *testing.T) {
	base := t.TempDir()
	first := NewProcessFileManager(ProcessFileConfig{
		BaseDirectory:   base,
		UseSubdirectory: true,
		Scope:           ScopeFor("/srv/a/worlds"),
	}, logging.NewNopLogger())
	second := NewProcessFileManager(ProcessFileConfig{
		BaseDirectory:   base,
		UseSubdirectory: true,
		Scope:           ScopeFor("/srv/b/worlds"),
	}, logging.NewNopLogger())

	assert.Equal(t, filepath.Join(base, DefaultAppName), filepath.Dir(first.Directory()))
	assert.NotEqual(t, first.Directory(), second.Directory())
	assert.Equal(t, ScopeFor("/srv/a/worlds"), ScopeFor("/srv/a/worlds"))

	require.NoError(t, first.WritePIDFile("proxy", 10))
	records, err := second.List()
	require.NoError(t, err)
	assert.Empty(t, records, "deployments do not see each other's PID files")
}

func TestParseServiceContext(t *testing.T) {
	tests := []struct {
		input    string
		expected ServiceContext
		wantErr  bool
	}{
		{"", UserService, false},
		{"user", UserService, false},
		{"system", SystemService, false},
		{"session", SessionService, false},
		{"global", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ctx, err := ParseServiceContext(tt.input)
			if tt.wantErr {
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ctx)
		})
	}
}

func TestList(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.WritePIDFile("world-beta", 20))
	require.NoError(t, manager.WritePIDFile("proxy", 10))
	require.NoError(t, manager.WritePIDFile("world-alpha", 30))
	require.NoError(t, os.WriteFile(filepath.Join(manager.Directory(), "garbage.pid"), []byte("zzz"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(manager.Directory(), "notes.txt"), []byte("1"), 0644))

	records, err := manager.List()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "proxy", records[0].ID)
	assert.Equal(t, 10, records[0].PID)
	assert.Equal(t, "world-alpha", records[1].ID)
	assert.Equal(t, "world-beta", records[2].ID)
}

func TestList_MissingDirectory(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: filepath.Join(t.TempDir(), "absent")}, logging.NewNopLogger())
	records, err := manager.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestValidatePIDFileDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ValidatePIDFileDirectory(filepath.Join(dir, "proxy.pid")))
	assert.NoError(t, ValidatePIDFileDirectory(filepath.Join(dir, "a", "b", "proxy.pid")))
	assert.DirExists(t, filepath.Join(dir, "a", "b"))
}
