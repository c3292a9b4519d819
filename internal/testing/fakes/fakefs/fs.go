// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fieldterm/fieldterm/internal/ports"
)

// entry is a single node: a regular file with contents, or a directory.
type entry struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
	dir     bool
}

// FS is an in-memory filesystem. All methods are safe for concurrent use.
type FS struct {
	mu      sync.RWMutex
	nodes   map[string]*entry
	homeDir string
	env     map[string]string
}

// New returns an empty filesystem with "/" present and the home directory
// set to /home/test.
func New() *FS {
	return &FS{
		nodes:   map[string]*entry{"/": {dir: true}},
		homeDir: "/home/test",
		env:     make(map[string]string),
	}
}

// ReadFile returns a copy of the named file's contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	n, ok := f.nodes[name]
	if !ok || n.dir {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), n.data...), nil
}

// WriteFile stores a copy of data under name, creating parent directories
// as os.WriteFile callers in this codebase expect.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	f.ensureDirsLocked(filepath.Dir(name))
	f.nodes[name] = &entry{
		data:    append([]byte(nil), data...),
		mode:    perm,
		modTime: time.Now(),
	}
	return nil
}

// ensureDirsLocked records path and every ancestor as directories.
func (f *FS) ensureDirsLocked(path string) {
	path = filepath.Clean(path)
	for path != "/" && path != "." {
		f.nodes[path] = &entry{dir: true}
		path = filepath.Dir(path)
	}
}

// Stat returns file info for the named file or directory.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	n, ok := f.nodes[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}

	info := &fakeFileInfo{name: filepath.Base(name), modTime: n.modTime}
	if n.dir {
		info.mode = fs.ModeDir | 0755
		info.isDir = true
		info.modTime = time.Now()
	} else {
		info.size = int64(len(n.data))
		info.mode = n.mode
	}
	return info, nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureDirsLocked(path)
	return nil
}

// Remove removes the named file or empty directory.
func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	n, ok := f.nodes[name]
	if !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	if n.dir {
		prefix := name + "/"
		for path, child := range f.nodes {
			if !child.dir && strings.HasPrefix(path, prefix) {
				return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
			}
		}
	}
	delete(f.nodes, name)
	return nil
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.homeDir, nil
}

// Getenv retrieves the value of the environment variable.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// --- Test helpers ---

// AddFile seeds a file, creating parent directories.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	_ = f.WriteFile(name, data, mode)
}

// SetHomeDir changes what UserHomeDir returns.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
}

// SetEnv seeds an environment variable for Getenv.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Files returns the sorted paths of all regular files.
func (f *FS) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var paths []string
	for path, n := range f.nodes {
		if !n.dir {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

type fakeFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *fakeFileInfo) Name() string       { return fi.name }
func (fi *fakeFileInfo) Size() int64        { return fi.size }
func (fi *fakeFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fakeFileInfo) Sys() any           { return nil }

var _ ports.FileSystem = (*FS)(nil)
var _ fs.FileInfo = (*fakeFileInfo)(nil)
