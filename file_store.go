package biosecure

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// FileStore is a BytesStore that keeps one file per id on an absfs.FileSystem.
// Writes go to a temporary file that then replaces the target.
type FileStore struct {
	base absfs.FileSystem
	root string
	perm os.FileMode

	// absfs implementations are not required to be safe for concurrent use
	mu sync.Mutex
}

// NewFileStore creates a file store rooted at root on base
func NewFileStore(base absfs.FileSystem, root string) (*FileStore, error) {
	if base == nil {
		return nil, errors.New("base filesystem cannot be nil")
	}
	if root == "" {
		root = "/"
	}

	root = path.Clean("/" + root)
	if root != "/" {
		if err := base.MkdirAll(root, 0700); err != nil {
			return nil, NewIOError("init", root, err)
		}
	}

	return &FileStore{base: base, root: root, perm: 0600}, nil
}

// resolve maps an id to a path under the store root
func (s *FileStore) resolve(id string) (string, error) {
	if err := ValidateFilePath(id); err != nil {
		return "", err
	}
	return path.Join(s.root, path.Clean("/"+id)), nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, fs.ErrNotExist)
}

// Get reads the file for id
func (s *FileStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.base.Open(p)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, NewIOError("get", id, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, NewIOError("get", id, err)
	}
	return data, nil
}

// Put writes data for id, replacing any previous file
func (s *FileStore) Put(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := path.Dir(p); dir != "/" {
		if err := s.base.MkdirAll(dir, 0700); err != nil {
			return NewIOError("put", id, err)
		}
	}

	tmp := p + ".tmp-" + uuid.NewString()
	if err := s.writeFile(tmp, data); err != nil {
		_ = s.base.Remove(tmp)
		return NewIOError("put", id, err)
	}

	if err := s.base.Rename(tmp, p); err != nil {
		// Some filesystems refuse to rename onto an existing file
		if _, statErr := s.base.Stat(p); statErr == nil {
			if rmErr := s.base.Remove(p); rmErr == nil {
				err = s.base.Rename(tmp, p)
			}
		}
		if err != nil {
			_ = s.base.Remove(tmp)
			return NewIOError("put", id, err)
		}
	}

	return nil
}

func (s *FileStore) writeFile(name string, data []byte) error {
	f, err := s.base.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, s.perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Delete removes the file for id
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.base.Stat(p); err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return NewIOError("delete", id, err)
	}
	if err := s.base.Remove(p); err != nil {
		return NewIOError("delete", id, err)
	}
	return nil
}
