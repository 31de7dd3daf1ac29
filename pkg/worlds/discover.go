package worlds

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
)

// ManifestFile marks a directory as a world
const ManifestFile = "world.mt"

// Discover lists the worlds under root. Only directories count; with requireManifest
// they must also contain ManifestFile. Names are sorted.
func Discover(root string, requireManifest bool, logger logging.Logger) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.NewDiscoveryError("failed to read worlds directory", err).WithContext("root", root)
	}

	worlds := lo.Filter(entries, func(entry os.DirEntry, _ int) bool {
		if !isDirectory(root, entry) {
			logger.Warnf("Skipping non-directory entry in worlds root, name: %s", entry.Name())
			return false
		}
		if requireManifest && !hasManifest(filepath.Join(root, entry.Name())) {
			logger.Warnf("Skipping directory without %s, name: %s", ManifestFile, entry.Name())
			return false
		}
		return true
	})

	names := lo.Map(worlds, func(entry os.DirEntry, _ int) string {
		return entry.Name()
	})
	sort.Strings(names)

	logger.Debugf("Discovered worlds, root: %s, worlds: %v", root, names)
	return names, nil
}

// Symlinked world directories are accepted
func isDirectory(root string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil && info.Mode().IsRegular()
}
