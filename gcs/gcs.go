package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	logging "github.com/ipfs/go-log/v2"
	"github.com/uw-labs/strawdav"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = logging.Logger("strawdav/gcs")

var _ strawdav.Filesystem = &gcsFilesystem{}

// Sources look like gs://bucket/optional/prefix?credentialsfile=/path/key.json.
func init() {
	strawdav.Register("gs", func(u *url.URL) (strawdav.Filesystem, error) {
		creds := u.Query().Get("credentialsfile")
		if creds == "" {
			return nil, fmt.Errorf("gs URLs must provide a `credentialsfile` parameter")
		}
		return newGCSFilesystem(creds, u.Host, u.Path)
	})
}

func newGCSFilesystem(credentialsFile, bucket, prefix string) (*gcsFilesystem, error) {
	ctx := context.Background()
	gcsClient, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}
	return New(gcsClient, bucket, prefix), nil
}

// New serves bucket, or the part of it below prefix, through client. Close
// closes the client.
func New(client *storage.Client, bucket, prefix string) *gcsFilesystem {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &gcsFilesystem{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

type gcsFilesystem struct {
	client *storage.Client
	bucket string
	prefix string
}

func (fs *gcsFilesystem) Close() error {
	return fs.client.Close()
}

func (fs *gcsFilesystem) key(p strawdav.Path) string {
	return strings.TrimSuffix(fs.prefix+strings.TrimPrefix(p.Clean(), "/"), "/")
}

func (fs *gcsFilesystem) dirKey(p strawdav.Path) string {
	if p.IsRoot() {
		return fs.prefix
	}
	return fs.key(p) + "/"
}

func (fs *gcsFilesystem) object(key string) *storage.ObjectHandle {
	return fs.client.Bucket(fs.bucket).Object(key)
}

func (fs *gcsFilesystem) Lstat(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (os.FileInfo, error) {
	// GCS does not support symlinks
	return fs.Stat(ctx, p, cred)
}

func (fs *gcsFilesystem) Stat(ctx context.Context, p strawdav.Path, _ strawdav.Credential) (os.FileInfo, error) {
	if p.IsRoot() {
		return strawdav.NewFileInfo("/", 4096, true, time.Time{}), nil
	}

	attrs, err := fs.object(fs.key(p)).Attrs(ctx)
	if err == nil {
		return strawdav.NewFileInfo(p.Base(), attrs.Size, false, attrs.Updated), nil
	}
	if err != storage.ErrObjectNotExist {
		return nil, &os.PathError{Op: "stat", Path: p.String(), Err: err}
	}

	iter := fs.client.Bucket(fs.bucket).Objects(ctx, &storage.Query{Prefix: fs.dirKey(p)})
	switch _, err := iter.Next(); err {
	case nil:
		return strawdav.NewFileInfo(p.Base(), 4096, true, time.Time{}), nil
	case iterator.Done:
		return nil, &os.PathError{Op: "stat", Path: p.String(), Err: os.ErrNotExist}
	default:
		return nil, &os.PathError{Op: "stat", Path: p.String(), Err: err}
	}
}

func (fs *gcsFilesystem) Mkdir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) error {
	if err := fs.checkParentDir(ctx, p, cred); err != nil {
		return err
	}

	if _, err := fs.Stat(ctx, p, cred); err == nil {
		return &os.PathError{Op: "mkdir", Path: p.String(), Err: syscall.EEXIST}
	}

	w := fs.object(fs.dirKey(p)).NewWriter(ctx)

	if _, err := w.Write([]byte{}); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (fs *gcsFilesystem) checkParentDir(ctx context.Context, child strawdav.Path, cred strawdav.Credential) error {
	parent := child.Parent()
	if parent.IsRoot() {
		return nil
	}
	fi, err := fs.Stat(ctx, parent, cred)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &os.PathError{Op: "stat", Path: parent.String(), Err: syscall.ENOTDIR}
	}
	return nil
}

func (fs *gcsFilesystem) RemoveDir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) error {
	fi, err := fs.Stat(ctx, p, cred)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &os.PathError{Op: "remove", Path: p.String(), Err: syscall.ENOTDIR}
	}
	if p.IsRoot() {
		return &os.PathError{Op: "remove", Path: p.String(), Err: syscall.EBUSY}
	}

	it, err := fs.ReadDir(ctx, p, cred)
	if err != nil {
		return err
	}
	defer it.Close()
	if _, err := it.Next(); err != iterator.Done {
		if err != nil {
			return err
		}
		return &os.PathError{Op: "remove", Path: p.String(), Err: syscall.ENOTEMPTY}
	}

	err = fs.object(fs.dirKey(p)).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		// the directory only existed through its former children
		return nil
	}
	return err
}

func (fs *gcsFilesystem) RemoveFile(ctx context.Context, p strawdav.Path, cred strawdav.Credential) error {
	fi, err := fs.Stat(ctx, p, cred)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return &os.PathError{Op: "remove", Path: p.String(), Err: syscall.EISDIR}
	}
	return fs.object(fs.key(p)).Delete(ctx)
}

func (fs *gcsFilesystem) Open(ctx context.Context, p strawdav.Path, opts strawdav.OpenOptions, cred strawdav.Credential) (strawdav.File, error) {
	fi, err := fs.Stat(ctx, p, cred)
	switch {
	case err == nil && fi.IsDir():
		return nil, &os.PathError{Op: "open", Path: p.String(), Err: syscall.EISDIR}
	case err == nil && opts.CreateNew:
		return nil, &os.PathError{Op: "open", Path: p.String(), Err: syscall.EEXIST}
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	case err != nil && !(opts.Create || opts.CreateNew):
		return nil, err
	}

	if !opts.Writable() {
		return &gcsReader{ctx: ctx, fs: fs, p: p, info: fi}, nil
	}

	if opts.Append {
		// objects can only be replaced whole
		return nil, &os.PathError{Op: "open", Path: p.String(), Err: strawdav.ErrNotImplemented}
	}
	if err := fs.checkParentDir(ctx, p, cred); err != nil {
		return nil, err
	}
	return &gcsWriter{w: fs.object(fs.key(p)).NewWriter(ctx), p: p}, nil
}

func (fs *gcsFilesystem) ReadDir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (strawdav.DirIterator, error) {
	fi, err := fs.Stat(ctx, p, cred)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &os.PathError{Op: "readdir", Path: p.String(), Err: syscall.ENOTDIR}
	}

	name := fs.dirKey(p)
	input := storage.Query{
		Prefix:    name,
		Delimiter: "/",
	}
	return &gcsDirIterator{
		dir:  name,
		iter: fs.client.Bucket(fs.bucket).Objects(ctx, &input),
	}, nil
}

func (fs *gcsFilesystem) Rename(ctx context.Context, from, to strawdav.Path, cred strawdav.Credential) error {
	return fs.copyObjects(ctx, "rename", from, to, cred, true)
}

func (fs *gcsFilesystem) Copy(ctx context.Context, from, to strawdav.Path, cred strawdav.Credential) error {
	return fs.copyObjects(ctx, "copy", from, to, cred, false)
}

// copyObjects copies the object at from, or every object below it when from
// is a directory. With move set the sources are deleted after each copy.
func (fs *gcsFilesystem) copyObjects(ctx context.Context, op string, from, to strawdav.Path, cred strawdav.Credential, move bool) error {
	if from.IsRoot() || to.IsRoot() || strings.HasPrefix(to.Clean()+"/", from.Clean()+"/") {
		return &os.LinkError{Op: op, Old: from.String(), New: to.String(), Err: syscall.EINVAL}
	}
	fi, err := fs.Stat(ctx, from, cred)
	if err != nil {
		return err
	}
	if err := fs.checkParentDir(ctx, to, cred); err != nil {
		return err
	}

	if !fi.IsDir() {
		return fs.copyKey(ctx, fs.key(from), fs.key(to), move)
	}

	srcDir, dstDir := fs.dirKey(from), fs.dirKey(to)
	iter := fs.client.Bucket(fs.bucket).Objects(ctx, &storage.Query{Prefix: srcDir})
	for {
		attrs, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fs.copyKey(ctx, attrs.Name, dstDir+strings.TrimPrefix(attrs.Name, srcDir), move); err != nil {
			return err
		}
	}
}

func (fs *gcsFilesystem) copyKey(ctx context.Context, src, dst string, move bool) error {
	log.Debugw("copy object", "bucket", fs.bucket, "from", src, "to", dst, "move", move)

	if _, err := fs.object(dst).CopierFrom(fs.object(src)).Run(ctx); err != nil {
		return err
	}
	if !move {
		return nil
	}
	return fs.object(src).Delete(ctx)
}

type gcsDirIterator struct {
	dir  string
	iter *storage.ObjectIterator
}

func (it *gcsDirIterator) Next() (os.FileInfo, error) {
	for {
		attrs, err := it.iter.Next()
		if err != nil {
			return nil, err
		}
		switch {
		case attrs.Name == it.dir:
			// the directory marker itself
		case attrs.Name != "":
			return strawdav.NewFileInfo(strings.TrimPrefix(attrs.Name, it.dir), attrs.Size, false, attrs.Updated), nil
		case attrs.Prefix != "":
			// a bit confusing because prefix is used in different contexts here.
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, it.dir), "/")
			return strawdav.NewFileInfo(name, 4096, true, time.Time{}), nil
		default:
			log.Warnw("listing returned an empty entry", "dir", it.dir)
		}
	}
}

func (it *gcsDirIterator) Close() error {
	return nil
}

// gcsReader reads an object through range readers, reopening after a seek.
type gcsReader struct {
	ctx  context.Context
	fs   *gcsFilesystem
	p    strawdav.Path
	info os.FileInfo
	off  int64
	r    *storage.Reader
}

func (r *gcsReader) Read(buf []byte) (int, error) {
	if r.off >= r.info.Size() {
		return 0, io.EOF
	}
	if r.r == nil {
		rdr, err := r.fs.object(r.fs.key(r.p)).NewRangeReader(r.ctx, r.off, -1)
		if err != nil {
			if err == storage.ErrObjectNotExist {
				return 0, &os.PathError{Op: "read", Path: r.p.String(), Err: os.ErrNotExist}
			}
			return 0, err
		}
		r.r = rdr
	}
	n, err := r.r.Read(buf)
	r.off += int64(n)
	return n, err
}

func (r *gcsReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.info.Size() + offset
	default:
		return 0, &os.PathError{Op: "seek", Path: r.p.String(), Err: syscall.EINVAL}
	}
	if abs < 0 {
		return 0, &os.PathError{Op: "seek", Path: r.p.String(), Err: syscall.EINVAL}
	}
	if abs != r.off {
		r.closeReader()
	}
	r.off = abs
	return abs, nil
}

func (r *gcsReader) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: r.p.String(), Err: syscall.EBADF}
}

func (r *gcsReader) Stat() (os.FileInfo, error) {
	return r.info, nil
}

func (r *gcsReader) Close() error {
	return r.closeReader()
}

func (r *gcsReader) closeReader() error {
	if r.r == nil {
		return nil
	}
	err := r.r.Close()
	r.r = nil
	return err
}

type gcsWriter struct {
	w *storage.Writer
	p strawdav.Path
	n int64
}

func (w *gcsWriter) Write(data []byte) (int, error) {
	n, err := w.w.Write(data)
	w.n += int64(n)
	return n, err
}

func (w *gcsWriter) Close() error {
	return w.w.Close()
}

func (w *gcsWriter) Read([]byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: w.p.String(), Err: syscall.EBADF}
}

func (w *gcsWriter) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekCurrent {
		return w.n, nil
	}
	return 0, &os.PathError{Op: "seek", Path: w.p.String(), Err: syscall.ESPIPE}
}

func (w *gcsWriter) Stat() (os.FileInfo, error) {
	return strawdav.NewFileInfo(w.p.Base(), w.n, false, time.Now()), nil
}
