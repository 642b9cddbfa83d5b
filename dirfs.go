package biosecure

import (
	"os"
	"path/filepath"
	"time"

	"github.com/absfs/absfs"
)

// DirFS is an absfs.FileSystem confined to a directory of the host
// filesystem. Paths are interpreted relative to the root.
type DirFS struct {
	root string
	cwd  string
}

var _ absfs.FileSystem = (*DirFS)(nil)

// NewDirFS returns a DirFS rooted at dir, creating it if needed
func NewDirFS(dir string) (*DirFS, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &DirFS{root: abs}, nil
}

func (d *DirFS) join(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(filepath.Clean("/"+name)))
}

func (d *DirFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(d.join(name), flag, perm)
}

func (d *DirFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(d.join(name), perm)
}

func (d *DirFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(d.join(name), perm)
}

func (d *DirFS) Remove(name string) error {
	return os.Remove(d.join(name))
}

func (d *DirFS) RemoveAll(name string) error {
	return os.RemoveAll(d.join(name))
}

func (d *DirFS) Rename(oldpath, newpath string) error {
	return os.Rename(d.join(oldpath), d.join(newpath))
}

func (d *DirFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(d.join(name))
}

func (d *DirFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(d.join(name), mode)
}

func (d *DirFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(d.join(name), atime, mtime)
}

func (d *DirFS) Chown(name string, uid, gid int) error {
	return os.Chown(d.join(name), uid, gid)
}

func (d *DirFS) Separator() uint8 {
	return '/'
}

func (d *DirFS) ListSeparator() uint8 {
	return os.PathListSeparator
}

func (d *DirFS) Chdir(dir string) error {
	d.cwd = dir
	return nil
}

func (d *DirFS) Getwd() (string, error) {
	if d.cwd == "" {
		return "/", nil
	}
	return d.cwd, nil
}

func (d *DirFS) TempDir() string {
	return "/"
}

func (d *DirFS) Open(name string) (absfs.File, error) {
	return d.OpenFile(name, os.O_RDONLY, 0)
}

func (d *DirFS) Create(name string) (absfs.File, error) {
	return d.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
}

func (d *DirFS) Truncate(name string, size int64) error {
	return os.Truncate(d.join(name), size)
}
