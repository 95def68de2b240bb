// Package davfs adapts a strawdav.Filesystem to golang.org/x/net/webdav.
package davfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/uw-labs/strawdav"
	"golang.org/x/net/webdav"
	"google.golang.org/api/iterator"
)

var log = logging.Logger("strawdav/davfs")

var _ webdav.FileSystem = &FS{}

// FS serves a strawdav.Filesystem to webdav.Handler. Names arrive with the
// handler prefix already stripped; the prefix is kept on every Path so links
// built from it stay valid. The request credential is read from the context.
type FS struct {
	fs     strawdav.Filesystem
	prefix string
}

func New(fs strawdav.Filesystem, prefix string) *FS {
	return &FS{fs: fs, prefix: prefix}
}

type mountPointer interface {
	IsMountPoint(p strawdav.Path) bool
}

func (d *FS) path(op, name string) (strawdav.Path, error) {
	p, err := strawdav.NewPath(d.prefix, name)
	if err != nil {
		log.Warnw("rejected path", "op", op, "name", name, "err", err)
		return strawdav.Path{}, &fs.PathError{Op: op, Path: name, Err: strawdav.ErrGeneralFailure}
	}
	return p, nil
}

func (d *FS) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	p, err := d.path("mkdir", name)
	if err != nil {
		return err
	}
	return d.fs.Mkdir(ctx, p, strawdav.CredentialFromContext(ctx))
}

func (d *FS) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	p, err := d.path("open", name)
	if err != nil {
		return nil, err
	}
	cred := strawdav.CredentialFromContext(ctx)
	opts := strawdav.OpenOptionsFromFlag(flag)

	if !opts.Writable() {
		fi, err := d.fs.Stat(ctx, p, cred)
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			return &dir{ctx: ctx, fs: d.fs, p: p, cred: cred, info: fi}, nil
		}
	}

	f, err := d.fs.Open(ctx, p, opts, cred)
	if err != nil {
		return nil, err
	}
	return &file{File: f, p: p}, nil
}

func (d *FS) RemoveAll(ctx context.Context, name string) error {
	p, err := d.path("remove", name)
	if err != nil {
		return err
	}
	if mp, ok := d.fs.(mountPointer); (ok && mp.IsMountPoint(p)) || p.IsRoot() {
		log.Warnw("refusing to remove mount point", "path", p.String())
		return &fs.PathError{Op: "remove", Path: p.String(), Err: strawdav.ErrForbidden}
	}
	return strawdav.RemoveAll(ctx, d.fs, p, strawdav.CredentialFromContext(ctx))
}

func (d *FS) Rename(ctx context.Context, oldName, newName string) error {
	from, err := d.path("rename", oldName)
	if err != nil {
		return err
	}
	to, err := d.path("rename", newName)
	if err != nil {
		return err
	}
	return d.fs.Rename(ctx, from, to, strawdav.CredentialFromContext(ctx))
}

func (d *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := d.path("stat", name)
	if err != nil {
		return nil, err
	}
	return d.fs.Stat(ctx, p, strawdav.CredentialFromContext(ctx))
}

// file is an open regular file. Readdir is not supported on it.
type file struct {
	strawdav.File
	p strawdav.Path
}

func (f *file) Readdir(int) ([]os.FileInfo, error) {
	return nil, &fs.PathError{Op: "readdir", Path: f.p.String(), Err: syscall.ENOTDIR}
}

// dir is an open directory. The listing is only requested from the backend
// on the first Readdir call.
type dir struct {
	ctx  context.Context
	fs   strawdav.Filesystem
	p    strawdav.Path
	cred strawdav.Credential
	info os.FileInfo
	it   strawdav.DirIterator
}

func (d *dir) Readdir(count int) ([]os.FileInfo, error) {
	if d.it == nil {
		it, err := d.fs.ReadDir(d.ctx, d.p, d.cred)
		if err != nil {
			return nil, err
		}
		d.it = it
	}

	var infos []os.FileInfo
	for count <= 0 || len(infos) < count {
		fi, err := d.it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return infos, err
		}
		infos = append(infos, fi)
	}
	if count > 0 && len(infos) == 0 {
		return nil, io.EOF
	}
	return infos, nil
}

func (d *dir) Stat() (os.FileInfo, error) {
	return d.info, nil
}

func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.p.String(), Err: syscall.EISDIR}
}

func (d *dir) Write([]byte) (int, error) {
	return 0, &fs.PathError{Op: "write", Path: d.p.String(), Err: syscall.EISDIR}
}

func (d *dir) Seek(offset int64, whence int) (int64, error) {
	return 0, nil
}

func (d *dir) Close() error {
	if d.it == nil {
		return nil
	}
	return d.it.Close()
}
