package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
)

// ValidateLaunchSpec checks the parts of a LaunchSpec that do not depend on PATH lookup
func ValidateLaunchSpec(spec LaunchSpec) error {
	if spec.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}

	if spec.WorkingDirectory != "" {
		info, err := os.Stat(spec.WorkingDirectory)
		if err != nil {
			return errors.NewValidationError("working directory not accessible: "+spec.WorkingDirectory, err)
		}
		if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+spec.WorkingDirectory, nil)
		}
	}

	for _, env := range spec.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	return nil
}

// resolveExecutable looks bare names up in PATH and checks paths for an execute bit
func resolveExecutable(path string) (string, error) {
	if !strings.ContainsRune(path, os.PathSeparator) && !strings.ContainsRune(path, '/') {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", errors.NewNotFoundError("executable not found in PATH: "+path, err)
		}
		return resolved, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewIOError("failed to get absolute path", err).WithContext("path", path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.NewNotFoundError("executable not found: "+path, err)
	}
	if info.IsDir() {
		return "", errors.NewValidationError("executable path is a directory: "+path, nil)
	}

	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return "", errors.NewPermissionError("file is not executable: "+path, nil)
	}

	return abs, nil
}
