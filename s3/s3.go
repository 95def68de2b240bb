package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	logging "github.com/ipfs/go-log/v2"
	"github.com/uw-labs/strawdav"
	"google.golang.org/api/iterator"
)

var log = logging.Logger("strawdav/s3")

var _ strawdav.Filesystem = &s3Filesystem{}

// Sources look like s3://bucket/optional/prefix?sse=AES256&region=eu-west-1.
// endpoint= points the client at an S3-compatible server and switches to
// path-style addressing; profile= picks a shared config profile.
func init() {
	strawdav.Register("s3", func(u *url.URL) (strawdav.Filesystem, error) {
		return newS3Filesystem(u)
	})
}

func newS3Filesystem(u *url.URL) (*s3Filesystem, error) {
	q := u.Query()

	var cfg aws.Config
	if region := q.Get("region"); region != "" {
		cfg.Region = aws.String(region)
	}
	if endpoint := q.Get("endpoint"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSessionWithOptions(
		session.Options{
			Config:            cfg,
			Profile:           q.Get("profile"),
			SharedConfigState: session.SharedConfigEnable,
		},
	)
	if err != nil {
		return nil, err
	}

	return New(s3.New(sess), u.Host, u.Path, q.Get("sse")), nil
}

// New serves bucket, or the part of it below prefix, through client.
// sseType is passed as ServerSideEncryption on every write when not empty.
func New(client s3iface.S3API, bucket, prefix, sseType string) *s3Filesystem {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &s3Filesystem{
		s3:      client,
		bucket:  bucket,
		prefix:  prefix,
		sseType: sseType,
	}
}

type s3Filesystem struct {
	s3      s3iface.S3API
	bucket  string
	prefix  string
	sseType string
}

func (fs *s3Filesystem) Close() error {
	// nothing to close for s3 it seems
	return nil
}

// key maps p to an object key, without a trailing slash. The mount root maps
// to the prefix itself.
func (fs *s3Filesystem) key(p strawdav.Path) string {
	return strings.TrimSuffix(fs.prefix+strings.TrimPrefix(p.Clean(), "/"), "/")
}

func (fs *s3Filesystem) dirKey(p strawdav.Path) string {
	if p.IsRoot() {
		return fs.prefix
	}
	return fs.key(p) + "/"
}

func (fs *s3Filesystem) Lstat(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (os.FileInfo, error) {
	// S3 does not support symlinks
	return fs.Stat(ctx, p, cred)
}

func (fs *s3Filesystem) Stat(ctx context.Context, p strawdav.Path, _ strawdav.Credential) (os.FileInfo, error) {
	if p.IsRoot() {
		return strawdav.NewFileInfo("/", 4096, true, time.Time{}), nil
	}

	key := fs.key(p)
	head, err := fs.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return strawdav.NewFileInfo(p.Base(), aws.Int64Value(head.ContentLength), false, aws.TimeValue(head.LastModified)), nil
	}
	if !isNotFound(err) {
		return nil, &os.PathError{Op: "stat", Path: p.String(), Err: err}
	}

	out, err := fs.s3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(fs.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: p.String(), Err: err}
	}
	if aws.Int64Value(out.KeyCount) == 0 {
		return nil, &os.PathError{Op: "stat", Path: p.String(), Err: os.ErrNotExist}
	}
	return strawdav.NewFileInfo(p.Base(), 4096, true, time.Time{}), nil
}

func (fs *s3Filesystem) Mkdir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) error {
	if err := fs.checkParentDir(ctx, p, cred); err != nil {
		return err
	}

	if _, err := fs.Stat(ctx, p, cred); err == nil {
		return &os.PathError{Op: "mkdir", Path: p.String(), Err: syscall.EEXIST}
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(fs.bucket),
		Key:         aws.String(fs.dirKey(p)),
		ContentType: aws.String("application/x-directory"),
	}

	if fs.sseType != "" {
		input.ServerSideEncryption = aws.String(fs.sseType)
	}

	_, err := fs.s3.PutObjectWithContext(ctx, input)
	return err
}

func (fs *s3Filesystem) checkParentDir(ctx context.Context, child strawdav.Path, cred strawdav.Credential) error {
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

func (fs *s3Filesystem) RemoveDir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) error {
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

	_, err = fs.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.dirKey(p)),
	})
	return err
}

func (fs *s3Filesystem) RemoveFile(ctx context.Context, p strawdav.Path, cred strawdav.Credential) error {
	fi, err := fs.Stat(ctx, p, cred)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return &os.PathError{Op: "remove", Path: p.String(), Err: syscall.EISDIR}
	}
	_, err = fs.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.key(p)),
	})
	return err
}

func (fs *s3Filesystem) Open(ctx context.Context, p strawdav.Path, opts strawdav.OpenOptions, cred strawdav.Credential) (strawdav.File, error) {
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
		return &s3Reader{ctx: ctx, fs: fs, p: p, info: fi}, nil
	}

	if opts.Append {
		// objects can only be replaced whole
		return nil, &os.PathError{Op: "open", Path: p.String(), Err: strawdav.ErrNotImplemented}
	}
	if err := fs.checkParentDir(ctx, p, cred); err != nil {
		return nil, err
	}
	return fs.upload(ctx, p), nil
}

func (fs *s3Filesystem) upload(ctx context.Context, p strawdav.Path) *s3uploader {
	uploader := s3manager.NewUploaderWithClient(fs.s3)

	pr, pw := io.Pipe()

	input := &s3manager.UploadInput{
		Body:   pr,
		Key:    aws.String(fs.key(p)),
		Bucket: aws.String(fs.bucket),
	}

	if fs.sseType != "" {
		input.ServerSideEncryption = aws.String(fs.sseType)
	}

	errCh := make(chan error, 1)

	go func() {
		_, err := uploader.UploadWithContext(ctx, input)
		pr.CloseWithError(err)
		errCh <- err
	}()

	return &s3uploader{
		errCh: errCh,
		wc:    pw,
		p:     p,
	}
}

func (fs *s3Filesystem) ReadDir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (strawdav.DirIterator, error) {
	fi, err := fs.Stat(ctx, p, cred)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &os.PathError{Op: "readdir", Path: p.String(), Err: syscall.ENOTDIR}
	}

	name := fs.dirKey(p)
	return &s3DirIterator{
		ctx: ctx,
		fs:  fs,
		dir: name,
		input: &s3.ListObjectsV2Input{
			Bucket:    aws.String(fs.bucket),
			Prefix:    aws.String(name),
			Delimiter: aws.String("/"),
		},
	}, nil
}

func (fs *s3Filesystem) Rename(ctx context.Context, from, to strawdav.Path, cred strawdav.Credential) error {
	return fs.copyObjects(ctx, "rename", from, to, cred, true)
}

func (fs *s3Filesystem) Copy(ctx context.Context, from, to strawdav.Path, cred strawdav.Credential) error {
	return fs.copyObjects(ctx, "copy", from, to, cred, false)
}

// copyObjects copies the object at from, or every object below it when from
// is a directory, server side. With move set the sources are deleted after
// each copy succeeds.
func (fs *s3Filesystem) copyObjects(ctx context.Context, op string, from, to strawdav.Path, cred strawdav.Credential, move bool) error {
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
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
		Prefix: aws.String(srcDir),
	}
	for {
		out, err := fs.s3.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return err
		}
		for _, content := range out.Contents {
			src := aws.StringValue(content.Key)
			dst := dstDir + strings.TrimPrefix(src, srcDir)
			if err := fs.copyKey(ctx, src, dst, move); err != nil {
				return err
			}
		}
		if !aws.BoolValue(out.IsTruncated) {
			return nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

func (fs *s3Filesystem) copyKey(ctx context.Context, src, dst string, move bool) error {
	log.Debugw("copy object", "bucket", fs.bucket, "from", src, "to", dst, "move", move)

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(fs.bucket),
		CopySource: aws.String((&url.URL{Path: fs.bucket + "/" + src}).EscapedPath()),
		Key:        aws.String(dst),
	}
	if fs.sseType != "" {
		input.ServerSideEncryption = aws.String(fs.sseType)
	}
	if _, err := fs.s3.CopyObjectWithContext(ctx, input); err != nil {
		return err
	}
	if !move {
		return nil
	}
	_, err := fs.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(src),
	})
	return err
}

func isNotFound(err error) bool {
	if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
		return true
	}
	if e, ok := err.(awserr.Error); ok {
		return e.Code() == s3.ErrCodeNoSuchKey || e.Code() == "NotFound"
	}
	return false
}

// s3DirIterator fetches one listing page at a time.
type s3DirIterator struct {
	ctx   context.Context
	fs    *s3Filesystem
	dir   string
	input *s3.ListObjectsV2Input
	buf   []os.FileInfo
	done  bool
}

func (it *s3DirIterator) Next() (os.FileInfo, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, iterator.Done
		}
		if err := it.fetch(); err != nil {
			return nil, err
		}
	}
	fi := it.buf[0]
	it.buf = it.buf[1:]
	return fi, nil
}

func (it *s3DirIterator) fetch() error {
	out, err := it.fs.s3.ListObjectsV2WithContext(it.ctx, it.input)
	if err != nil {
		return err
	}
	for _, content := range out.Contents {
		key := aws.StringValue(content.Key)
		if key == it.dir {
			continue
		}
		it.buf = append(it.buf, strawdav.NewFileInfo(
			strings.TrimPrefix(key, it.dir),
			aws.Int64Value(content.Size),
			false,
			aws.TimeValue(content.LastModified),
		))
	}
	for _, prefix := range out.CommonPrefixes {
		// a bit confusing because prefix is used in different contexts here.
		name := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(prefix.Prefix), it.dir), "/")
		it.buf = append(it.buf, strawdav.NewFileInfo(name, 4096, true, time.Time{}))
	}
	if !aws.BoolValue(out.IsTruncated) {
		it.done = true
	}
	it.input.ContinuationToken = out.NextContinuationToken
	return nil
}

func (it *s3DirIterator) Close() error {
	it.done = true
	it.buf = nil
	return nil
}

// s3Reader reads an object through ranged GETs, reopening the body after a seek.
type s3Reader struct {
	ctx  context.Context
	fs   *s3Filesystem
	p    strawdav.Path
	info os.FileInfo
	off  int64
	body io.ReadCloser
}

func (r *s3Reader) Read(buf []byte) (int, error) {
	if r.off >= r.info.Size() {
		return 0, io.EOF
	}
	if r.body == nil {
		out, err := r.fs.s3.GetObjectWithContext(r.ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.fs.bucket),
			Key:    aws.String(r.fs.key(r.p)),
			Range:  aws.String(fmt.Sprintf("bytes=%d-", r.off)),
		})
		if err != nil {
			if isNotFound(err) {
				return 0, &os.PathError{Op: "read", Path: r.p.String(), Err: os.ErrNotExist}
			}
			log.Warnw("unhandled error type", "type", fmt.Sprintf("%T", err), "err", err)
			return 0, err
		}
		r.body = out.Body
	}
	n, err := r.body.Read(buf)
	r.off += int64(n)
	return n, err
}

func (r *s3Reader) Seek(offset int64, whence int) (int64, error) {
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
		r.closeBody()
	}
	r.off = abs
	return abs, nil
}

func (r *s3Reader) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: r.p.String(), Err: syscall.EBADF}
}

func (r *s3Reader) Stat() (os.FileInfo, error) {
	return r.info, nil
}

func (r *s3Reader) Close() error {
	return r.closeBody()
}

func (r *s3Reader) closeBody() error {
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	return err
}

type s3uploader struct {
	errCh chan error
	wc    io.WriteCloser
	p     strawdav.Path
	n     int64
}

func (wc *s3uploader) Write(data []byte) (int, error) {
	n, err := wc.wc.Write(data)
	wc.n += int64(n)
	return n, err
}

func (wc *s3uploader) Close() error {
	err := wc.wc.Close()
	if err != nil {
		return err
	}
	return <-wc.errCh
}

func (wc *s3uploader) Read([]byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: wc.p.String(), Err: syscall.EBADF}
}

func (wc *s3uploader) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekCurrent {
		return wc.n, nil
	}
	return 0, &os.PathError{Op: "seek", Path: wc.p.String(), Err: syscall.ESPIPE}
}

// Stat describes what has been written so far; the object itself only
// appears once Close returns.
func (wc *s3uploader) Stat() (os.FileInfo, error) {
	return strawdav.NewFileInfo(wc.p.Base(), wc.n, false, time.Now()), nil
}
