package ports

import "io/fs"

// FileSystem is the subset of os-level file access the client needs for
// config files, key files, and recordings. An in-memory fake implements it
// for tests.
type FileSystem interface {
	// ReadFile returns the contents of the named file.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if needed.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// Stat returns file info for the named path.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory along with any missing parents.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes a file or empty directory.
	Remove(name string) error

	// UserHomeDir returns the current user's home directory.
	UserHomeDir() (string, error)

	// Getenv returns the value of an environment variable.
	Getenv(key string) string
}
