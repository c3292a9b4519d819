// Package realfs backs the FileSystem port with the os package.
package realfs

import (
	"io/fs"
	"os"

	"github.com/fieldterm/fieldterm/internal/ports"
)

// FS forwards every FileSystem call straight to os. It carries no state.
type FS struct{}

var _ ports.FileSystem = FS{}

// New returns the production FileSystem.
func New() FS { return FS{} }

func (FS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (FS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (FS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (FS) Remove(name string) error { return os.Remove(name) }

func (FS) UserHomeDir() (string, error) { return os.UserHomeDir() }

func (FS) Getenv(key string) string { return os.Getenv(key) }
