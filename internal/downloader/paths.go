package downloader

import (
	"path/filepath"

	"addonsync/internal/config"
	"addonsync/pkg/models"
)

// joinPath joins a relative path onto base; an absolute path stands alone.
func joinPath(base, path string) string {
	if path == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// Destination resolves the directory a task's file lands in. Precedence:
// the dependency's configured subfolder under its parent's install path,
// then the resource's own special path, then the environment base plus the
// category subfolder.
func (d *Downloader) Destination(task models.DownloadTask) string {
	if task.IsDependency() {
		if dir, ok := d.dependencyDir(task.ResourceID, task.ParentResourceID); ok {
			return dir
		}
	}

	if dir, ok := d.specialDir(task.ResourceID); ok {
		return dir
	}

	return joinPath(d.baseDir(), config.CategoryMap[task.CategoryID])
}

// dependencyDir applies when the parent special resource declares this
// dependency: the parent's install path (custom wins over default) plus the
// dependency's subfolder.
func (d *Downloader) dependencyDir(resourceID, parentID int64) (string, bool) {
	parent, ok := d.env.SpecialResources[parentID]
	if !ok {
		return "", false
	}
	dep, ok := parent.Dependencies[resourceID]
	if !ok {
		return "", false
	}

	parentPath := parent.CustomPath
	if parentPath == "" {
		parentPath = parent.DefaultPath
	}
	base := joinPath(d.env.DownloadFolder, parentPath)
	return joinPath(base, dep.Subfolder), true
}

// specialDir returns the resource's own configured install path. A special
// resource without any path configured installs into the download folder.
func (d *Downloader) specialDir(resourceID int64) (string, bool) {
	special, ok := d.env.SpecialResources[resourceID]
	if !ok {
		return "", false
	}

	switch {
	case special.CustomPath != "":
		return filepath.Clean(special.CustomPath), true
	case special.DefaultPath != "":
		return joinPath(d.env.DownloadFolder, special.DefaultPath), true
	default:
		return filepath.Clean(d.env.DownloadFolder), true
	}
}

// baseDir is the environment's category-download base: the base client's
// special path when one is configured, otherwise the download folder.
func (d *Downloader) baseDir() string {
	for resourceID, envName := range config.VanillaMap {
		if envName != d.env.Name {
			continue
		}
		if _, ok := d.env.SpecialResources[resourceID]; ok {
			if dir, ok := d.specialDir(resourceID); ok {
				return dir
			}
		}
		break
	}
	return d.env.DownloadFolder
}
