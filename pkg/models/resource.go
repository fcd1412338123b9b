// Package models defines the data structures used throughout the application
package models

// FileInfo describes the current downloadable file attached to a resource.
type FileInfo struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Hash     string `json:"hash"` // lowercase hex MD5, empty when the server supplied none
}

// Resource represents a catalog entry as returned by the remote API.
type Resource struct {
	ResourceID int64    `json:"resource_id"`
	Title      string   `json:"title"`
	CategoryID int64    `json:"category_id"`
	Version    int64    `json:"version"` // remote file id, monotonically increasing
	File       FileInfo `json:"file"`
	IsWatching bool     `json:"is_watching"`
	IsSpecial  bool     `json:"is_special"`
	IsLicensed bool     `json:"is_licensed"`
}

// RoleKey identifies a tracked row by its natural key. ParentID 0 is the
// standalone role; a non-zero ParentID records a dependency relationship to
// that parent. A resource may legitimately hold both roles at once.
type RoleKey struct {
	ParentID   int64
	ResourceID int64
}

// DownloadRecord is a persisted row in the downloads table.
type DownloadRecord struct {
	ResourceID    int64  `json:"resource_id" db:"resource_id"`
	ParentID      int64  `json:"parent_id" db:"parent_id"`
	CategoryID    int64  `json:"category_id" db:"category_id"`
	Title         string `json:"title" db:"title"`
	VersionRemote int64  `json:"version_remote" db:"version_remote"`
	VersionLocal  int64  `json:"version_local" db:"version_local"`
	Filename      string `json:"filename" db:"filename"`
	URL           string `json:"url" db:"url"`
	Hash          string `json:"hash" db:"hash"`
	IsSpecial     bool   `json:"is_special" db:"is_special"`
	IsWatching    bool   `json:"is_watching" db:"is_watching"`
	IsLicensed    bool   `json:"is_licensed" db:"is_licensed"`
}

// DownloadTask carries everything needed to download one resource. Tasks are
// assembled fresh from the store for each sync run and discarded afterwards.
type DownloadTask struct {
	ResourceID       int64
	Title            string
	CategoryID       int64
	RemoteVersion    int64
	LocalVersion     int64 // 0 means never downloaded
	ParentResourceID int64 // 0 for standalone resources
	DownloadURL      string
	Filename         string
	FileHash         string
}

// NeedsDownload reports whether the locally recorded version is behind the
// remote one. A zero local version means the file was never downloaded.
func (t DownloadTask) NeedsDownload() bool {
	return t.LocalVersion == 0 || t.LocalVersion < t.RemoteVersion
}

// IsDependency reports whether this task tracks a dependency row.
func (t DownloadTask) IsDependency() bool {
	return t.ParentResourceID != 0
}

// VersionUpdate records a confirmed-successful download to be applied to the
// store after all downloads in a run have settled.
type VersionUpdate struct {
	ResourceID       int64
	RemoteVersion    int64
	ParentResourceID int64 // 0 for standalone resources
}
