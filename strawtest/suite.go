// Package strawtest holds the conformance tests every strawdav backend is
// expected to pass.
package strawtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uw-labs/strawdav"
)

type fsTester struct {
	name     string
	fs       strawdav.Filesystem
	ff       func(t *testing.T) strawdav.Filesystem
	testRoot strawdav.Path
}

var (
	ctx  = context.Background()
	cred = strawdav.Credential{User: "strawtest"}
)

func (fst *fsTester) path(elem ...string) strawdav.Path {
	p := fst.testRoot
	for _, e := range elem {
		p = p.Join(e)
	}
	return p
}

func (fst *fsTester) TestOpenNotExisting(t *testing.T) {
	assert := assert.New(t)

	f, err := fst.fs.Open(ctx, fst.path("does", "not", "exist"), strawdav.OpenOptions{Read: true}, cred)
	assert.True(os.IsNotExist(err))
	assert.Nil(f)
}

func (fst *fsTester) TestOpenOnDirectory(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestOpenOnDirectory")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Read: true}, cred)
	assert.True(errors.Is(err, syscall.EISDIR), "error does not match : %v", err)
	assert.Nil(f)
}

func (fst *fsTester) TestCreateNewWriteOnly(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestCreateNewWriteOnly")

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Write: true, Create: true, Truncate: true}, cred)
	require.NoError(err)
	assert.NotNil(f)
	require.NoError(writeAll(f, []byte{0, 1, 2, 3, 4}))
	require.NoError(f.Close())

	fi, err := fst.fs.Stat(ctx, name, cred)
	require.NoError(err)
	assert.Equal(fi.Size(), int64(5))
	assert.Equal(fi.IsDir(), false)

	files, err := fst.readDir(fst.testRoot)
	require.NoError(err)
	require.Equal(1, len(files))

	assert.False(files[0].IsDir())
	assert.Equal("TestCreateNewWriteOnly", files[0].Name())
	assert.Equal(int64(5), files[0].Size())
	assert.Equal(os.FileMode(0644), files[0].Mode())
}

func (fst *fsTester) TestCreateExclusiveOnExistingFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestCreateExclusiveOnExistingFile")
	require.NoError(fst.writeFile(name, []byte{1}))

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Write: true, CreateNew: true}, cred)
	assert.True(errors.Is(err, fs.ErrExist), "error does not match : %v", err)
	assert.Nil(f)
}

func (fst *fsTester) TestCreateWriteOnlyOnExistingDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestCreateWriteOnlyOnExistingDir")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Write: true, Create: true, Truncate: true}, cred)
	require.NotNil(err)
	assert.True(errors.Is(err, syscall.EISDIR), "error does not match : %v", err)
	assert.Nil(f)

	fi, err := fst.fs.Stat(ctx, name, cred)
	require.NoError(err)
	assert.Equal(fi.IsDir(), true)
}

func (fst *fsTester) TestCreateWriteOnlyInExistingFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	filename := fst.path("TestCreateWriteOnlyInExistingFile")
	require.NoError(fst.writeFile(filename, []byte{0, 1, 2, 3, 4}))

	name := filename.Join("another_filename")

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Write: true, Create: true, Truncate: true}, cred)
	require.NotNil(err)
	assert.Condition(func() bool { return strings.HasSuffix(err.Error(), "not a directory") }, "error does not match : %s", err.Error())
	assert.Nil(f)
}

func (fst *fsTester) TestMkdirAtRoot(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestMkdirAtRoot")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	fi, err := fst.fs.Stat(ctx, name, cred)
	require.NoError(err)
	assert.Equal(fi.IsDir(), true)
	assert.Equal("TestMkdirAtRoot", fi.Name())
}

func (fst *fsTester) TestMkdirTrailingSlash(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name, err := strawdav.NewPath("", fst.path("TestMkdirTrailingSlash").String()+"/")
	require.NoError(err)

	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	fi, err := fst.fs.Stat(ctx, name, cred)
	require.NoError(err)
	assert.Equal(fi.IsDir(), true)
}

func (fst *fsTester) TestMkdirOnExistingDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestMkdirOnExistingDir")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	err := fst.fs.Mkdir(ctx, name, cred)
	require.NotNil(err)
	assert.True(errors.Is(err, fs.ErrExist), "error does not match: %s", err.Error())
}

func (fst *fsTester) TestMkdirOnExistingFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestMkdirOnExistingFile")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	filename := name.Join("testfile")
	require.NoError(fst.writeFile(filename, []byte{0, 1, 2, 3, 4}))

	err := fst.fs.Mkdir(ctx, filename, cred)
	require.NotNil(err)
	assert.True(errors.Is(err, fs.ErrExist), "error does not match: %s", err.Error())
}

func (fst *fsTester) TestMkdirInNonExistingDir(t *testing.T) {
	assert := assert.New(t)

	name := fst.path("TestMkdirInNonExistingDir", "innerdir")
	err := fst.fs.Mkdir(ctx, name, cred)

	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) TestRemoveNonExisting(t *testing.T) {
	assert := assert.New(t)

	err := fst.fs.RemoveFile(ctx, fst.path("not_existing_file"), cred)
	assert.True(os.IsNotExist(err))

	err = fst.fs.RemoveDir(ctx, fst.path("not_existing_dir"), cred)
	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) TestRemoveNonExistingInSubdir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	top := fst.path("TestRemoveNonExistingInSubdir")
	require.NoError(fst.fs.Mkdir(ctx, top, cred))

	err := fst.fs.RemoveFile(ctx, top.Join("not_existing_file"), cred)
	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) TestRemoveParentDirDoesNotExist(t *testing.T) {
	assert := assert.New(t)

	child := fst.path("TestRemoveParentDirDoesNotExist", "some_filename")

	err := fst.fs.RemoveFile(ctx, child, cred)
	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) TestRemoveEmptyDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestRemoveEmptyDir")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))

	fi, err := fst.fs.Stat(ctx, name, cred)
	assert.NoError(err)
	assert.NotNil(fi)

	assert.NoError(fst.fs.RemoveDir(ctx, name, cred))

	fi, err = fst.fs.Stat(ctx, name, cred)
	assert.Nil(fi)
	require.NotNil(err)
	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) TestRemoveNonEmptyDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestRemoveNonEmptyDir")
	require.NoError(fst.fs.Mkdir(ctx, name, cred))
	require.NoError(fst.writeFile(name.Join("a_file"), []byte{0, 1, 2, 3, 4}))

	err := fst.fs.RemoveDir(ctx, name, cred)
	require.NotNil(err)
	assert.Condition(func() bool { return strings.HasSuffix(err.Error(), "directory not empty") }, "error does not match : %s", err.Error())

	fi, err := fst.fs.Stat(ctx, name, cred)
	require.NoError(err)
	assert.Equal(fi.Name(), "TestRemoveNonEmptyDir")
}

func (fst *fsTester) TestRemoveWrongKind(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := fst.path("TestRemoveWrongKind")
	file := dir.Join("a_file")
	require.NoError(fst.fs.Mkdir(ctx, dir, cred))
	require.NoError(fst.writeFile(file, []byte{1}))

	assert.True(errors.Is(fst.fs.RemoveDir(ctx, file, cred), syscall.ENOTDIR))
	assert.True(errors.Is(fst.fs.RemoveFile(ctx, dir, cred), syscall.EISDIR))

	_, err := fst.fs.Stat(ctx, file, cred)
	assert.NoError(err)
}

func (fst *fsTester) TestRemoveFileInDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dirname := fst.path("TestRemoveFileInDir")
	filename := dirname.Join("a_file")

	require.NoError(fst.fs.Mkdir(ctx, dirname, cred))
	require.NoError(fst.writeFile(filename, []byte{1}))

	fi, err := fst.fs.Stat(ctx, filename, cred)
	assert.NoError(err)
	assert.NotNil(fi)

	assert.NoError(fst.fs.RemoveFile(ctx, filename, cred))

	fi, err = fst.fs.Stat(ctx, filename, cred)
	assert.Nil(fi)
	require.NotNil(err)
	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) TestOverwrite(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestOverwrite")

	require.NoError(fst.writeFile(name, []byte{0, 1, 2, 3, 4}))

	all, err := fst.readFile(name)
	assert.NoError(err)
	assert.Equal([]byte{0, 1, 2, 3, 4}, all)

	require.NoError(fst.writeFile(name, []byte{5, 6, 7}))

	all, err = fst.readFile(name)
	assert.NoError(err)
	assert.Equal([]byte{5, 6, 7}, all)
}

func (fst *fsTester) TestAppend(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestAppend")
	require.NoError(fst.writeFile(name, []byte{0, 1, 2, 3, 4}))

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Write: true, Append: true}, cred)
	if errors.Is(err, strawdav.ErrNotImplemented) {
		t.Skipf("%s does not support appending", fst.name)
	}
	require.NoError(err)
	assert.NoError(writeAll(f, []byte{5, 6, 7}))
	assert.NoError(f.Close())

	all, err := fst.readFile(name)
	assert.NoError(err)
	assert.Equal([]byte{0, 1, 2, 3, 4, 5, 6, 7}, all)
}

func (fst *fsTester) TestSeek(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestSeek")
	require.NoError(fst.writeFile(name, []byte("hello world")))

	f, err := fst.fs.Open(ctx, name, strawdav.OpenOptions{Read: true}, cred)
	require.NoError(err)
	defer f.Close()

	end, err := f.Seek(0, io.SeekEnd)
	assert.NoError(err)
	assert.Equal(int64(11), end)

	off, err := f.Seek(6, io.SeekStart)
	assert.NoError(err)
	assert.Equal(int64(6), off)

	rest, err := io.ReadAll(f)
	assert.NoError(err)
	assert.Equal("world", string(rest))

	_, err = f.Seek(0, io.SeekStart)
	assert.NoError(err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(f, buf)
	assert.NoError(err)
	assert.Equal("hello", string(buf))

	fi, err := f.Stat()
	assert.NoError(err)
	assert.Equal(int64(11), fi.Size())
}

func (fst *fsTester) TestReaddir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := fst.path("TestReaddir")
	dir1 := dir.Join("dir1")
	file1 := dir.Join("file1")
	file2 := dir1.Join("file2")

	require.NoError(fst.fs.Mkdir(ctx, dir, cred))
	require.NoError(fst.fs.Mkdir(ctx, dir1, cred))
	require.NoError(fst.writeFile(file1, []byte{1}))
	require.NoError(fst.writeFile(file2, []byte{2}))

	rd1, err := fst.readDir(dir)
	assert.NoError(err)
	require.Equal(2, len(rd1))

	assert.Equal("dir1", rd1[0].Name())
	assert.True(rd1[0].IsDir())
	assert.Equal("file1", rd1[1].Name())
	assert.False(rd1[1].IsDir())

	rd2, err := fst.readDir(dir1)
	assert.NoError(err)
	require.Equal(1, len(rd2))

	assert.Equal("file2", rd2[0].Name())
}

func (fst *fsTester) TestReaddirOnFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	name := fst.path("TestReaddirOnFile")
	require.NoError(fst.writeFile(name, []byte{1}))

	_, err := fst.readDir(name)
	assert.Error(err)
}

func (fst *fsTester) TestReaddirMoreThanMaxKeysFiles(t *testing.T) {
	// max keys defaults to 1000
	assert := assert.New(t)
	require := require.New(t)

	dir := fst.path("TestReaddirManyFiles")
	require.NoError(fst.fs.Mkdir(ctx, dir, cred))
	for i := 0; i < 1010; i++ {
		if i%100 == 0 {
			t.Logf("created %d files", i)
		}
		require.NoError(fst.writeFile(dir.Join(fmt.Sprintf("file%d", i)), []byte{1}))
	}
	rd1, err := fst.readDir(dir)
	assert.NoError(err)
	require.Equal(1010, len(rd1))
}

func (fst *fsTester) TestStat(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := fst.path("TestStat")
	dir1 := dir.Join("dir")
	file := dir1.Join("file")

	require.NoError(fst.fs.Mkdir(ctx, dir, cred))
	require.NoError(fst.fs.Mkdir(ctx, dir1, cred))
	require.NoError(fst.writeFile(file, []byte{2}))

	fi, err := fst.fs.Stat(ctx, dir1, cred)
	assert.NoError(err)
	assert.Equal(true, fi.IsDir())
	assert.Equal("dir", fi.Name())
	assert.Equal(os.FileMode(0755)|os.ModeDir, fi.Mode())

	fi, err = fst.fs.Stat(ctx, file, cred)
	assert.NoError(err)
	assert.Equal(false, fi.IsDir())
	assert.Equal("file", fi.Name())
	assert.Equal(os.FileMode(0644), fi.Mode())
	assert.Equal(int64(1), fi.Size())

	fi, err = fst.fs.Lstat(ctx, file, cred)
	assert.NoError(err)
	assert.Equal(int64(1), fi.Size())

	fi, err = fst.fs.Stat(ctx, strawdav.MustPath("/"), cred)
	assert.NoError(err)
	assert.Equal(true, fi.IsDir())
}

func (fst *fsTester) TestRenameFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	from := fst.path("TestRenameFile")
	to := fst.path("TestRenameFileMoved")
	require.NoError(fst.writeFile(from, []byte{1, 2, 3}))

	require.NoError(fst.fs.Rename(ctx, from, to, cred))

	_, err := fst.fs.Stat(ctx, from, cred)
	assert.True(os.IsNotExist(err))

	all, err := fst.readFile(to)
	assert.NoError(err)
	assert.Equal([]byte{1, 2, 3}, all)
}

func (fst *fsTester) TestRenameDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	from := fst.path("TestRenameDir")
	to := fst.path("TestRenameDirMoved")
	require.NoError(fst.fs.Mkdir(ctx, from, cred))
	require.NoError(fst.fs.Mkdir(ctx, from.Join("sub"), cred))
	require.NoError(fst.writeFile(from.Join("sub").Join("file"), []byte{4}))

	require.NoError(fst.fs.Rename(ctx, from, to, cred))

	_, err := fst.fs.Stat(ctx, from, cred)
	assert.True(os.IsNotExist(err))

	all, err := fst.readFile(to.Join("sub").Join("file"))
	assert.NoError(err)
	assert.Equal([]byte{4}, all)
}

func (fst *fsTester) TestCopyFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	from := fst.path("TestCopyFile")
	to := fst.path("TestCopyFileCopy")
	require.NoError(fst.writeFile(from, []byte{1, 2, 3}))

	require.NoError(fst.fs.Copy(ctx, from, to, cred))

	for _, p := range []strawdav.Path{from, to} {
		all, err := fst.readFile(p)
		assert.NoError(err)
		assert.Equal([]byte{1, 2, 3}, all)
	}
}

func (fst *fsTester) TestCopyDir(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	from := fst.path("TestCopyDir")
	to := fst.path("TestCopyDirCopy")
	require.NoError(fst.fs.Mkdir(ctx, from, cred))
	require.NoError(fst.fs.Mkdir(ctx, from.Join("sub"), cred))
	require.NoError(fst.writeFile(from.Join("a"), []byte{1}))
	require.NoError(fst.writeFile(from.Join("sub").Join("b"), []byte{2}))

	require.NoError(fst.fs.Copy(ctx, from, to, cred))

	all, err := fst.readFile(to.Join("sub").Join("b"))
	assert.NoError(err)
	assert.Equal([]byte{2}, all)

	names, err := fst.readDir(to)
	assert.NoError(err)
	assert.Equal(2, len(names))

	// the source is untouched
	all, err = fst.readFile(from.Join("a"))
	assert.NoError(err)
	assert.Equal([]byte{1}, all)
}

func (fst *fsTester) TestCopyIntoItself(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	from := fst.path("TestCopyIntoItself")
	require.NoError(fst.fs.Mkdir(ctx, from, cred))

	assert.Error(fst.fs.Copy(ctx, from, from.Join("inner"), cred))
}

func (fst *fsTester) TestCopyNotExisting(t *testing.T) {
	assert := assert.New(t)

	err := fst.fs.Copy(ctx, fst.path("TestCopyNotExisting"), fst.path("TestCopyNotExistingCopy"), cred)
	assert.True(os.IsNotExist(err))
}

func (fst *fsTester) readDir(p strawdav.Path) ([]os.FileInfo, error) {
	it, err := fst.fs.ReadDir(ctx, p, cred)
	if err != nil {
		return nil, err
	}
	fis, err := strawdav.ReadDirAll(it)
	if err != nil {
		return nil, err
	}
	sort.Slice(fis, func(i, j int) bool { return fis[i].Name() < fis[j].Name() })
	return fis, nil
}

func (fst *fsTester) readFile(p strawdav.Path) ([]byte, error) {
	r, err := fst.fs.Open(ctx, p, strawdav.OpenOptions{Read: true}, cred)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (fst *fsTester) writeFile(p strawdav.Path, data []byte) error {
	w, err := fst.fs.Open(ctx, p, strawdav.OpenOptions{Write: true, Create: true, Truncate: true}, cred)
	if err != nil {
		return err
	}
	if err := writeAll(w, data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeAll(w io.Writer, data []byte) error {
	i, err := w.Write(data)
	if err != nil {
		return err
	}
	if i != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

// TestFS runs every conformance test against a fresh Filesystem from
// fsProvider, wrapped in a LogFilesystem. Tests work below rootDir, which
// must exist and be empty.
func TestFS(t *testing.T, name string, fsProvider func(t *testing.T) strawdav.Filesystem, rootDir strawdav.Path) {
	tester := &fsTester{name, nil, fsProvider, rootDir}

	typ := reflect.TypeOf(tester)
	val := reflect.ValueOf(tester)
	nm := typ.NumMethod()
	for i := 0; i < nm; i++ {
		mName := typ.Method(i).Name
		if strings.HasPrefix(mName, "Test") {
			test := val.Method(i).Interface().(func(*testing.T))
			t.Run(tester.name+"_"+mName, func(t *testing.T) {
				tester.fs = NewLogFilesystem(t, tester.ff(t))
				defer tester.fs.Close()
				test(t)
			})
		}
	}
}
