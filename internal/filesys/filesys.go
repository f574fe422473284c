// Package filesys abstracts the handful of filesystem operations
// driftwatch performs, so the config loader and the export writer stay
// testable against a mocked disk.
package filesys

import (
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// LoadFS is the narrow surface the config loader needs: probe for the
// file, make sure its directory exists, and read it.
type LoadFS interface {
	Stat(string) (fs.FileInfo, error)
	MkdirAll(string, os.FileMode) error
	Open(string) (*os.File, error)
}

// WriteOps is what AtomicWrite needs to stage, promote, and clean up
// its temporary file.
type WriteOps interface {
	Open(string) (*os.File, error)
	CreateTemp(string, string) (*os.File, error)
	Rename(string, string) error
	Remove(string) error
	Chmod(string, os.FileMode) error
}

var (
	_ LoadFS   = Disk{}
	_ WriteOps = Disk{}
)

// Disk satisfies both interfaces against the local filesystem.
type Disk struct{}

// OS returns the local-disk implementation production callers share.
func OS() Disk {
	return Disk{}
}

func (Disk) Stat(p string) (fs.FileInfo, error)     { return os.Stat(p) }
func (Disk) MkdirAll(p string, m os.FileMode) error { return os.MkdirAll(p, m) }
func (Disk) Open(p string) (*os.File, error)        { return os.Open(p) }

func (Disk) CreateTemp(dir, pat string) (*os.File, error) { return os.CreateTemp(dir, pat) }
func (Disk) Rename(from, to string) error                 { return os.Rename(from, to) }
func (Disk) Remove(p string) error                        { return os.Remove(p) }
func (Disk) Chmod(p string, m os.FileMode) error          { return os.Chmod(p, m) }

// AtomicWrite persists data to dst so that readers observe either the
// old content or the new, never a torn write. It stages a temp file in
// the destination directory, fsyncs and chmods it (CreateTemp defaults
// to 0600), renames it over dst, and finally syncs the directory so the
// rename itself survives a crash. The WriteOps parameter keeps the
// helper testable without touching the real disk.
func AtomicWrite(fsys WriteOps, dst string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(dst)
	tmp, err := fsys.CreateTemp(dir, ".driftwatch-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = fsys.Chmod(tmp.Name(), perm)
	}
	if err == nil {
		err = fsys.Rename(tmp.Name(), dst)
	}
	if err != nil {
		// Best effort: don't leave the temp file behind, but the write
		// failure stays the primary error.
		if removeErr := fsys.Remove(tmp.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
			err = multierr.Append(err, removeErr)
		}
		return err
	}
	if d, err2 := fsys.Open(dir); err2 == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
