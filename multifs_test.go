package strawdav

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Filesystem = &recordingFs{}

// recordingFs remembers every call made to it and otherwise succeeds.
type recordingFs struct {
	lk       sync.Mutex
	calls    []string
	closeErr error
	closed   bool
}

func (fs *recordingFs) record(op string, paths ...Path) {
	fs.lk.Lock()
	defer fs.lk.Unlock()
	s := make([]string, 0, len(paths)+1)
	s = append(s, op)
	for _, p := range paths {
		s = append(s, p.String())
	}
	fs.calls = append(fs.calls, strings.Join(s, " "))
}

func (fs *recordingFs) Calls() []string {
	fs.lk.Lock()
	defer fs.lk.Unlock()
	return append([]string(nil), fs.calls...)
}

func (fs *recordingFs) Open(_ context.Context, p Path, _ OpenOptions, _ Credential) (File, error) {
	fs.record("open", p)
	return nil, nil
}

func (fs *recordingFs) ReadDir(_ context.Context, p Path, _ Credential) (DirIterator, error) {
	fs.record("read_dir", p)
	return NewSliceIterator(nil), nil
}

func (fs *recordingFs) Stat(_ context.Context, p Path, _ Credential) (os.FileInfo, error) {
	fs.record("metadata", p)
	return NewFileInfo(p.Base(), 0, false, time.Time{}), nil
}

func (fs *recordingFs) Lstat(_ context.Context, p Path, _ Credential) (os.FileInfo, error) {
	fs.record("symlink_metadata", p)
	return NewFileInfo(p.Base(), 0, false, time.Time{}), nil
}

func (fs *recordingFs) Mkdir(_ context.Context, p Path, _ Credential) error {
	fs.record("create_dir", p)
	return nil
}

func (fs *recordingFs) RemoveDir(_ context.Context, p Path, _ Credential) error {
	fs.record("remove_dir", p)
	return nil
}

func (fs *recordingFs) RemoveFile(_ context.Context, p Path, _ Credential) error {
	fs.record("remove_file", p)
	return nil
}

func (fs *recordingFs) Rename(_ context.Context, from, to Path, _ Credential) error {
	fs.record("rename", from, to)
	return nil
}

func (fs *recordingFs) Copy(_ context.Context, from, to Path, _ Credential) error {
	fs.record("copy", from, to)
	return nil
}

func (fs *recordingFs) Close() error {
	fs.closed = true
	return fs.closeErr
}

var (
	testCtx  = context.Background()
	testCred = Credential{User: "tester"}
)

func newTwoMountFs(t *testing.T, options ...MultiFsOption) (*MultiFs, *recordingFs, *recordingFs) {
	alpha, beta := &recordingFs{}, &recordingFs{}
	table, err := NewMountTable(Mount{Name: "alpha", FS: alpha}, Mount{Name: "beta", FS: beta})
	require.NoError(t, err)
	mfs, err := NewMultiFs(table, options...)
	require.NoError(t, err)
	return mfs, alpha, beta
}

func TestMultiFsSingleMountPassthrough(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	only := &recordingFs{}
	table, err := NewMountTable(Mount{Name: "only", FS: only})
	require.NoError(err)
	mfs, err := NewMultiFs(table)
	require.NoError(err)

	p := MustPath("/x/y")
	_, err = mfs.Stat(testCtx, p, testCred)
	assert.NoError(err)
	_, err = mfs.ReadDir(testCtx, MustPath("/"), testCred)
	assert.NoError(err)
	assert.NoError(mfs.Mkdir(testCtx, MustPath("/"), testCred))
	assert.NoError(mfs.Rename(testCtx, MustPath("/only/a"), MustPath("/b"), testCred))

	assert.Equal([]string{
		"metadata /x/y",
		"read_dir /",
		"create_dir /",
		"rename /only/a /b",
	}, only.Calls())
}

func TestMultiFsRouting(t *testing.T) {
	assert := assert.New(t)

	mfs, alpha, beta := newTwoMountFs(t)

	_, err := mfs.Open(testCtx, MustPath("/alpha/docs/a.txt"), OpenOptions{Read: true}, testCred)
	assert.NoError(err)
	_, err = mfs.Lstat(testCtx, MustPath("/beta/x"), testCred)
	assert.NoError(err)
	assert.NoError(mfs.RemoveFile(testCtx, MustPath("/beta/x"), testCred))
	assert.NoError(mfs.RemoveDir(testCtx, MustPath("/alpha/d"), testCred))
	_, err = mfs.ReadDir(testCtx, MustPath("/alpha"), testCred)
	assert.NoError(err)

	assert.Equal([]string{"open /docs/a.txt", "remove_dir /d", "read_dir /"}, alpha.Calls())
	assert.Equal([]string{"symlink_metadata /x", "remove_file /x"}, beta.Calls())
}

func TestMultiFsUnknownMount(t *testing.T) {
	assert := assert.New(t)

	mfs, alpha, beta := newTwoMountFs(t)

	_, err := mfs.Stat(testCtx, MustPath("/gamma/x"), testCred)
	assert.True(errors.Is(err, ErrNotFound))
	assert.True(os.IsNotExist(err))

	var pe *os.PathError
	assert.True(errors.As(err, &pe))
	assert.Equal("/gamma/x", pe.Path)

	assert.Empty(alpha.Calls())
	assert.Empty(beta.Calls())
}

func TestMultiFsRootListing(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	mfs, alpha, beta := newTwoMountFs(t)

	for _, name := range []string{"/", ""} {
		it, err := mfs.ReadDir(testCtx, MustPath(name), testCred)
		require.NoError(err)
		infos, err := ReadDirAll(it)
		require.NoError(err)
		require.Len(infos, 2)

		assert.Equal("alpha", infos[0].Name())
		assert.Equal("beta", infos[1].Name())
		for _, fi := range infos {
			assert.True(fi.IsDir())
			assert.Equal(int64(1), fi.Size())
			assert.WithinDuration(time.Now(), fi.ModTime(), time.Minute)
		}
	}

	fi, err := mfs.Stat(testCtx, MustPath("/"), testCred)
	require.NoError(err)
	assert.True(fi.IsDir())
	assert.Equal(int64(1), fi.Size())

	fi, err = mfs.Lstat(testCtx, MustPath("/"), testCred)
	require.NoError(err)
	assert.True(fi.IsDir())

	assert.Empty(alpha.Calls())
	assert.Empty(beta.Calls())
}

func TestMultiFsRootMutationsForbidden(t *testing.T) {
	assert := assert.New(t)

	mfs, alpha, beta := newTwoMountFs(t)
	root := MustPath("/")

	err := mfs.Mkdir(testCtx, root, testCred)
	assert.True(errors.Is(err, ErrForbidden))
	assert.True(os.IsPermission(err))

	assert.True(errors.Is(mfs.RemoveDir(testCtx, root, testCred), ErrForbidden))
	assert.True(errors.Is(mfs.RemoveFile(testCtx, root, testCred), ErrForbidden))

	_, err = mfs.Open(testCtx, root, OpenOptions{Read: true}, testCred)
	assert.True(errors.Is(err, ErrNotFound))

	assert.Empty(alpha.Calls())
	assert.Empty(beta.Calls())
}

func TestMultiFsRenameCopy(t *testing.T) {
	assert := assert.New(t)

	mfs, alpha, beta := newTwoMountFs(t)

	assert.NoError(mfs.Rename(testCtx, MustPath("/alpha/a"), MustPath("/alpha/b"), testCred))
	assert.NoError(mfs.Copy(testCtx, MustPath("/beta/a"), MustPath("/beta/dir/a"), testCred))

	for _, pair := range [][2]string{
		{"/alpha/a", "/beta/a"},
		{"/beta/a", "/alpha/a"},
		{"/", "/alpha/a"},
		{"/alpha/a", "/"},
	} {
		from, to := MustPath(pair[0]), MustPath(pair[1])

		err := mfs.Rename(testCtx, from, to, testCred)
		assert.True(errors.Is(err, ErrNotImplemented), "rename %v", pair)
		var le *os.LinkError
		assert.True(errors.As(err, &le))

		err = mfs.Copy(testCtx, from, to, testCred)
		assert.True(errors.Is(err, ErrNotImplemented), "copy %v", pair)

		assert.True(errors.Is(mfs.CheckPair("rename", from, to), ErrNotImplemented))
	}

	err := mfs.Rename(testCtx, MustPath("/gamma/a"), MustPath("/gamma/b"), testCred)
	assert.True(errors.Is(err, ErrNotFound))

	assert.NoError(mfs.CheckPair("copy", MustPath("/alpha/x"), MustPath("/alpha/y")))

	assert.Equal([]string{"rename /a /b"}, alpha.Calls())
	assert.Equal([]string{"copy /a /dir/a"}, beta.Calls())
}

func TestMultiFsIsMountPoint(t *testing.T) {
	assert := assert.New(t)

	mfs, _, _ := newTwoMountFs(t)

	assert.True(mfs.IsMountPoint(MustPath("/")))
	assert.True(mfs.IsMountPoint(MustPath("/alpha")))
	assert.True(mfs.IsMountPoint(MustPath("/beta/")))
	assert.False(mfs.IsMountPoint(MustPath("/alpha/x")))
}

func TestMultiFsClose(t *testing.T) {
	assert := assert.New(t)

	mfs, alpha, beta := newTwoMountFs(t)
	assert.NoError(mfs.Close())
	assert.True(alpha.closed)
	assert.True(beta.closed)
}

func TestMultiFsMetrics(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	mfs, _, _ := newTwoMountFs(t, WithRegisterer(reg))

	_, err := mfs.Stat(testCtx, MustPath("/alpha/x"), testCred)
	assert.NoError(err)
	_, err = mfs.Stat(testCtx, MustPath("/gamma/x"), testCred)
	assert.Error(err)
	assert.Error(mfs.Mkdir(testCtx, MustPath("/"), testCred))

	assert.Equal(float64(1), testutil.ToFloat64(mfs.metrics.total.WithLabelValues("metadata", "ok")))
	assert.Equal(float64(1), testutil.ToFloat64(mfs.metrics.total.WithLabelValues("metadata", "not_found")))
	assert.Equal(float64(1), testutil.ToFloat64(mfs.metrics.total.WithLabelValues("create_dir", "forbidden")))

	// a second MultiFs on the same registry shares the collectors
	other, _, _ := newTwoMountFs(t, WithRegisterer(reg))
	assert.NoError(other.Mkdir(testCtx, MustPath("/beta/d"), testCred))
	assert.Equal(float64(1), testutil.ToFloat64(mfs.metrics.total.WithLabelValues("create_dir", "ok")))

	n, err := testutil.GatherAndCount(reg, "strawdav_operations_total")
	assert.NoError(err)
	assert.Equal(4, n)
}

func TestMultiFsBadOption(t *testing.T) {
	assert := assert.New(t)

	table, err := NewMountTable(Mount{Name: "a", FS: &recordingFs{}})
	assert.NoError(err)
	_, err = NewMultiFs(table, badOption{})
	assert.EqualError(err, "unhandled option type strawdav.badOption. This is a bug.")
}

type badOption struct{}

func (badOption) isMultiFsOpt() {}
