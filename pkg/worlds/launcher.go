package worlds

import (
	"path/filepath"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/process"
)

// Launcher derives a world's command line from its name
type Launcher struct {
	root       string
	binary     string
	configFile string
	logFile    string
}

type LauncherConfig struct {
	Root       string
	Binary     string
	ConfigFile string
	LogFile    string
}

// NewLauncher anchors Root to an absolute path, since each world runs inside its own directory
func NewLauncher(config LauncherConfig) (*Launcher, error) {
	if config.Binary == "" {
		return nil, errors.NewValidationError("world binary is required", nil)
	}
	if config.ConfigFile == "" || config.LogFile == "" {
		return nil, errors.NewValidationError("world config and log file names are required", nil)
	}

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, errors.NewIOError("failed to resolve worlds root", err).WithContext("root", config.Root)
	}

	return &Launcher{
		root:       root,
		binary:     config.Binary,
		configFile: config.ConfigFile,
		logFile:    config.LogFile,
	}, nil
}

func (l *Launcher) Root() string   { return l.root }
func (l *Launcher) Binary() string { return l.binary }

func (l *Launcher) WorldDir(name string) string {
	return filepath.Join(l.root, name)
}

// Spec builds: <binary> --server --world <root>/<name> --config <root>/<name>/<config> --logfile <root>/<name>/<log>
func (l *Launcher) Spec(name string) process.LaunchSpec {
	dir := l.WorldDir(name)
	return process.LaunchSpec{
		ID:             "world-" + name,
		ExecutablePath: l.binary,
		Args: []string{
			"--server",
			"--world", dir,
			"--config", filepath.Join(dir, l.configFile),
			"--logfile", filepath.Join(dir, l.logFile),
		},
		WorkingDirectory: dir,
	}
}
