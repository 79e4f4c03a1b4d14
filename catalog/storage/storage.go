package storage

import (
	"fmt"
	"io"
	"path/filepath"
)

// Storage abstracts the shared workspace holding job output directories and
// per-study file trees. All paths are relative to the workspace root.
type Storage interface {
	Read(path string) (io.ReadCloser, error)

	Write(path string, data io.Reader) error

	Append(path string, data io.Reader) error

	// Delete removes the file or directory tree at path. Missing paths are
	// not an error.
	Delete(path string) error

	List(path string) ([]string, error)

	Exists(path string) (bool, error)

	Size(path string) (int64, error)

	// Zip streams a zip archive of the directory tree at path into out.
	Zip(path string, out io.Writer) error

	CreateDir(path string) error

	Usage() (UsageStats, error)

	Location() string
}

type UsageStats struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// JobOutDir is where a job's scheduler logs and tool output land.
func JobOutDir(token string) string {
	return filepath.Join("jobs", "J_"+token)
}

// StudyFilePath maps a catalog file path to its location in the workspace.
// Catalog paths use forward slashes and never start with one.
func StudyFilePath(studyId int64, path string) string {
	return filepath.Join(fmt.Sprintf("studies/%d", studyId), "files", path)
}
