package strawtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/uw-labs/strawdav"
)

var _ strawdav.Filesystem = &LogFilesystem{}

// LogFilesystem logs every call made to the wrapped Filesystem, and its
// outcome, through t.
type LogFilesystem struct {
	t       *testing.T
	wrapped strawdav.Filesystem
}

func NewLogFilesystem(t *testing.T, fs strawdav.Filesystem) *LogFilesystem {
	return &LogFilesystem{t: t, wrapped: fs}
}

func (fs *LogFilesystem) Open(ctx context.Context, p strawdav.Path, opts strawdav.OpenOptions, cred strawdav.Credential) (f strawdav.File, err error) {
	fs.before("Open", p, opts)
	defer func() { fs.after("Open", err, p) }()
	return fs.wrapped.Open(ctx, p, opts, cred)
}

func (fs *LogFilesystem) ReadDir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (it strawdav.DirIterator, err error) {
	fs.before("ReadDir", p)
	defer func() { fs.after("ReadDir", err, p) }()
	return fs.wrapped.ReadDir(ctx, p, cred)
}

func (fs *LogFilesystem) Stat(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (fi os.FileInfo, err error) {
	fs.before("Stat", p)
	defer func() { fs.after("Stat", err, p) }()
	return fs.wrapped.Stat(ctx, p, cred)
}

func (fs *LogFilesystem) Lstat(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (fi os.FileInfo, err error) {
	fs.before("Lstat", p)
	defer func() { fs.after("Lstat", err, p) }()
	return fs.wrapped.Lstat(ctx, p, cred)
}

func (fs *LogFilesystem) Mkdir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (err error) {
	fs.before("Mkdir", p)
	defer func() { fs.after("Mkdir", err, p) }()
	return fs.wrapped.Mkdir(ctx, p, cred)
}

func (fs *LogFilesystem) RemoveDir(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (err error) {
	fs.before("RemoveDir", p)
	defer func() { fs.after("RemoveDir", err, p) }()
	return fs.wrapped.RemoveDir(ctx, p, cred)
}

func (fs *LogFilesystem) RemoveFile(ctx context.Context, p strawdav.Path, cred strawdav.Credential) (err error) {
	fs.before("RemoveFile", p)
	defer func() { fs.after("RemoveFile", err, p) }()
	return fs.wrapped.RemoveFile(ctx, p, cred)
}

func (fs *LogFilesystem) Rename(ctx context.Context, from, to strawdav.Path, cred strawdav.Credential) (err error) {
	fs.before("Rename", from, to)
	defer func() { fs.after("Rename", err, from, to) }()
	return fs.wrapped.Rename(ctx, from, to, cred)
}

func (fs *LogFilesystem) Copy(ctx context.Context, from, to strawdav.Path, cred strawdav.Credential) (err error) {
	fs.before("Copy", from, to)
	defer func() { fs.after("Copy", err, from, to) }()
	return fs.wrapped.Copy(ctx, from, to, cred)
}

func (fs *LogFilesystem) Close() error {
	return fs.wrapped.Close()
}

func (fs *LogFilesystem) before(funcName string, vals ...interface{}) {
	fs.t.Logf("before %s : %s", funcName, fs.j(vals))
}

func (fs *LogFilesystem) after(funcName string, err error, vals ...interface{}) {
	fs.t.Logf("after %s : %s : %v", funcName, fs.j(vals), err)
}

func (fs *LogFilesystem) j(vals []interface{}) string {
	s := make([]string, 0, len(vals))
	for _, v := range vals {
		s = append(s, fmt.Sprintf("%+v", v))
	}
	return strings.Join(s, ", ")
}
