package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
)

const DefaultAppName = "hsu-multiserver"

const pidFileExt = ".pid"

// ServiceContext selects the OS default directory for process files
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// ParseServiceContext accepts system, user or session; empty means user
func ParseServiceContext(s string) (ServiceContext, error) {
	switch ServiceContext(s) {
	case "":
		return UserService, nil
	case SystemService, UserService, SessionService:
		return ServiceContext(s), nil
	default:
		return "", errors.NewValidationError("unknown service context: "+s, nil).
			WithContext("valid_contexts", "system, user, session")
	}
}

type ProcessFileConfig struct {
	// Empty means an OS-appropriate default for ServiceContext
	BaseDirectory   string
	ServiceContext  ServiceContext
	AppName         string
	UseSubdirectory bool
	// Scope separates deployments sharing a base directory, see ScopeFor
	Scope string
}

// ScopeFor derives a stable directory name from a deployment key such as the worlds root
func ScopeFor(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+key)).String()
}

// Record is one PID file found on disk
type Record struct {
	ID   string
	PID  int
	Path string
}

// ProcessFileManager keeps one PID file per tracked child, so a later run can find
// children orphaned by a crashed supervisor
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Directory holds every PID file of this manager
func (m *ProcessFileManager) Directory() string {
	baseDir := m.getBaseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	if m.config.Scope != "" {
		baseDir = filepath.Join(baseDir, sanitizeID(m.config.Scope))
	}
	return baseDir
}

func (m *ProcessFileManager) GeneratePIDFilePath(id string) string {
	return filepath.Join(m.Directory(), sanitizeID(id)+pidFileExt)
}

func (m *ProcessFileManager) WritePIDFile(id string, pid int) error {
	path := m.GeneratePIDFilePath(id)
	m.logger.Debugf("Writing PID file, id: %s, pid: %d, path: %s", id, pid, path)

	if err := ValidatePIDFileDirectory(path); err != nil {
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}

	return nil
}

// RemovePIDFile is a no-op when the file is already gone
func (m *ProcessFileManager) RemovePIDFile(id string) error {
	path := m.GeneratePIDFilePath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}
	return nil
}

// List returns the readable PID files sorted by id; unreadable ones are logged and skipped
func (m *ProcessFileManager) List() ([]Record, error) {
	dir := m.Directory()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to list PID files", err).WithContext("directory", dir)
	}

	pidFiles := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), pidFileExt)
	})

	records := make([]Record, 0, len(pidFiles))
	for _, e := range pidFiles {
		path := filepath.Join(dir, e.Name())
		pid, err := readPID(path)
		if err != nil {
			m.logger.Warnf("Skipping unreadable PID file, path: %s, error: %v", path, err)
			continue
		}
		records = append(records, Record{
			ID:   strings.TrimSuffix(e.Name(), pidFileExt),
			PID:  pid,
			Path: path,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func readPID(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).
			WithContext("pid_file", path).
			WithContext("content", pidStr)
	}
	return pid, nil
}

// World names come from directory entries; keep them inside the PID directory
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, id)
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemServiceDirectory()
	case SessionService:
		return sessionServiceDirectory()
	default:
		return userServiceDirectory()
	}
}

func systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return "C:\\ProgramData"
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		return os.TempDir()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func sessionServiceDirectory() string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return os.TempDir()
	}
	sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
	if _, err := os.Stat(sessionDir); err == nil {
		return sessionDir
	}
	return os.TempDir()
}

// ValidatePIDFileDirectory creates the directory if needed and checks it is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	case err != nil:
		return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
	case !info.IsDir():
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
