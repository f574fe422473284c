// Package mocks holds the hand-rolled testify mocks shared across test
// packages.
package mocks

import (
	"io/fs"
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/driftwatch/driftwatch/internal/filesys"
)

var (
	_ filesys.LoadFS   = (*FS)(nil)
	_ filesys.WriteOps = (*FS)(nil)
)

// FS is a testify mock covering both filesys interfaces, so one mock
// serves the config loader and the atomic-write helper alike.
type FS struct {
	mock.Mock
}

// file unwraps an *os.File return value, tolerating untyped nil.
func file(args mock.Arguments, i int) *os.File {
	f, _ := args.Get(i).(*os.File)
	return f
}

func (m *FS) Stat(p string) (fs.FileInfo, error) {
	args := m.Called(p)
	fi, _ := args.Get(0).(fs.FileInfo)
	return fi, args.Error(1)
}

func (m *FS) MkdirAll(p string, mode os.FileMode) error {
	return m.Called(p, mode).Error(0)
}

func (m *FS) Open(p string) (*os.File, error) {
	args := m.Called(p)
	return file(args, 0), args.Error(1)
}

func (m *FS) CreateTemp(dir, pat string) (*os.File, error) {
	args := m.Called(dir, pat)
	return file(args, 0), args.Error(1)
}

func (m *FS) Rename(from, to string) error {
	return m.Called(from, to).Error(0)
}

func (m *FS) Remove(p string) error {
	return m.Called(p).Error(0)
}

func (m *FS) Chmod(p string, mode os.FileMode) error {
	return m.Called(p, mode).Error(0)
}
