package strawdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"google.golang.org/api/iterator"
)

var _ Filesystem = &OsFilesystem{}

// OsFilesystem serves a local directory.
type OsFilesystem struct {
	root string
}

func NewOsFilesystem(root string) (*OsFilesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &OsFilesystem{root: abs}, nil
}

func (osfs *OsFilesystem) Root() string {
	return osfs.root
}

func (osfs *OsFilesystem) Close() error {
	return nil
}

func (osfs *OsFilesystem) local(p Path) string {
	return filepath.Join(osfs.root, filepath.FromSlash(p.Clean()))
}

func (osfs *OsFilesystem) Stat(_ context.Context, p Path, _ Credential) (os.FileInfo, error) {
	fi, err := os.Stat(osfs.local(p))
	return fi, osfs.restoreError(err, p)
}

func (osfs *OsFilesystem) Lstat(_ context.Context, p Path, _ Credential) (os.FileInfo, error) {
	fi, err := os.Lstat(osfs.local(p))
	return fi, osfs.restoreError(err, p)
}

func (osfs *OsFilesystem) Mkdir(_ context.Context, p Path, _ Credential) error {
	return osfs.restoreError(os.Mkdir(osfs.local(p), 0755), p)
}

func (osfs *OsFilesystem) Open(_ context.Context, p Path, opts OpenOptions, _ Credential) (File, error) {
	f, err := os.OpenFile(osfs.local(p), opts.Flag(), 0666)
	if err != nil {
		return nil, osfs.restoreError(err, p)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, osfs.restoreError(err, p)
	}
	if fi.IsDir() {
		f.Close()
		return nil, pathError("open", p, syscall.EISDIR)
	}
	return f, nil
}

func (osfs *OsFilesystem) ReadDir(_ context.Context, p Path, _ Credential) (DirIterator, error) {
	f, err := os.Open(osfs.local(p))
	if err != nil {
		return nil, osfs.restoreError(err, p)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, osfs.restoreError(err, p)
	}
	if !fi.IsDir() {
		f.Close()
		return nil, pathError("readdir", p, syscall.ENOTDIR)
	}
	return &osDirIterator{f: f}, nil
}

func (osfs *OsFilesystem) RemoveDir(_ context.Context, p Path, _ Credential) error {
	name := osfs.local(p)
	fi, err := os.Lstat(name)
	if err != nil {
		return osfs.restoreError(err, p)
	}
	if !fi.IsDir() {
		return pathError("remove", p, syscall.ENOTDIR)
	}
	return osfs.restoreError(os.Remove(name), p)
}

func (osfs *OsFilesystem) RemoveFile(_ context.Context, p Path, _ Credential) error {
	name := osfs.local(p)
	fi, err := os.Lstat(name)
	if err != nil {
		return osfs.restoreError(err, p)
	}
	if fi.IsDir() {
		return pathError("remove", p, syscall.EISDIR)
	}
	return osfs.restoreError(os.Remove(name), p)
}

func (osfs *OsFilesystem) Rename(_ context.Context, from, to Path, _ Credential) error {
	err := os.Rename(osfs.local(from), osfs.local(to))
	var le *os.LinkError
	if errors.As(err, &le) {
		return linkError(le.Op, from, to, le.Err)
	}
	return err
}

func (osfs *OsFilesystem) Copy(ctx context.Context, from, to Path, cred Credential) error {
	return CopyTree(ctx, osfs, from, to, cred)
}

// restoreError replaces local paths in errors with the path the caller asked for.
func (osfs *OsFilesystem) restoreError(err error, p Path) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return &fs.PathError{Op: pe.Op, Path: p.String(), Err: pe.Err}
	}
	return err
}

// osDirIterator reads a directory in batches as the caller advances.
type osDirIterator struct {
	f    *os.File
	buf  []os.FileInfo
	done bool
}

const osDirBatch = 128

func (it *osDirIterator) Next() (os.FileInfo, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, iterator.Done
		}
		fis, err := it.f.Readdir(osDirBatch)
		if err == io.EOF {
			it.done = true
		} else if err != nil {
			return nil, err
		}
		it.buf = fis
	}
	fi := it.buf[0]
	it.buf = it.buf[1:]
	return fi, nil
}

func (it *osDirIterator) Close() error {
	it.done = true
	it.buf = nil
	return it.f.Close()
}
