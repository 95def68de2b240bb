package strawdav_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uw-labs/strawdav"
)

var (
	ctx  = context.Background()
	cred = strawdav.Credential{}
)

func newWalkFixture() strawdav.Filesystem {
	ss := strawdav.NewMemFilesystem()

	ss.Mkdir(ctx, strawdav.MustPath("a"), cred)
	writeFile(ss, "a/1")
	writeFile(ss, "b")
	ss.Mkdir(ctx, strawdav.MustPath("c"), cred)
	return ss
}

func TestWalk(t *testing.T) {
	assert := assert.New(t)

	ss := newWalkFixture()

	var found []string
	var fiNames []string
	var fiIsDirs []bool

	err := strawdav.Walk(ctx, ss, strawdav.MustPath("/"), cred, func(p strawdav.Path, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		found = append(found, p.String())
		fiNames = append(fiNames, fi.Name())
		fiIsDirs = append(fiIsDirs, fi.IsDir())
		return nil
	})
	assert.NoError(err)
	assert.Equal([]string{"/", "/a", "/a/1", "/b", "/c"}, found)
	assert.Equal([]string{"", "a", "1", "b", "c"}, fiNames)
	assert.Equal([]bool{true, true, false, false, true}, fiIsDirs)
}

func TestWalkSkipDir(t *testing.T) {
	assert := assert.New(t)

	ss := newWalkFixture()

	var found []string
	var fiNames []string
	var fiIsDirs []bool

	err := strawdav.Walk(ctx, ss, strawdav.MustPath("/"), cred, func(p strawdav.Path, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p.String() == "/a" {
			return strawdav.SkipDir
		}
		found = append(found, p.String())
		fiNames = append(fiNames, fi.Name())
		fiIsDirs = append(fiIsDirs, fi.IsDir())
		return nil
	})
	assert.NoError(err)
	assert.Equal([]string{"/", "/b", "/c"}, found)
	assert.Equal([]string{"", "b", "c"}, fiNames)
	assert.Equal([]bool{true, false, true}, fiIsDirs)
}

func TestWalkExitOnErr(t *testing.T) {
	assert := assert.New(t)

	ss := newWalkFixture()

	var found []string
	var fiNames []string
	var fiIsDirs []bool

	someError := errors.New("some random error")

	err := strawdav.Walk(ctx, ss, strawdav.MustPath("/"), cred, func(p strawdav.Path, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p.String() == "/b" {
			return someError
		}
		found = append(found, p.String())
		fiNames = append(fiNames, fi.Name())
		fiIsDirs = append(fiIsDirs, fi.IsDir())
		return nil
	})
	assert.Equal(err, someError)
	assert.Equal([]string{"/", "/a", "/a/1"}, found)
	assert.Equal([]string{"", "a", "1"}, fiNames)
	assert.Equal([]bool{true, true, false}, fiIsDirs)
}

func TestWalkRootNotExist(t *testing.T) {
	assert := assert.New(t)

	ss := strawdav.NewMemFilesystem()

	err := strawdav.Walk(ctx, ss, strawdav.MustPath("/this/doesnt/exist"), cred, func(p strawdav.Path, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		panic("won't get here")
	})
	assert.True(os.IsNotExist(err))
}

func TestWalkMultiFs(t *testing.T) {
	assert := assert.New(t)

	table, err := strawdav.NewMountTable(
		strawdav.Mount{Name: "beta", FS: newWalkFixture()},
		strawdav.Mount{Name: "alpha", FS: newWalkFixture()},
	)
	assert.NoError(err)
	mfs, err := strawdav.NewMultiFs(table)
	assert.NoError(err)

	var found []string
	err = strawdav.Walk(ctx, mfs, strawdav.MustPath("/"), cred, func(p strawdav.Path, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		found = append(found, p.String())
		return nil
	})
	assert.NoError(err)
	assert.Equal([]string{
		"/",
		"/alpha", "/alpha/a", "/alpha/a/1", "/alpha/b", "/alpha/c",
		"/beta", "/beta/a", "/beta/a/1", "/beta/b", "/beta/c",
	}, found)
}

func writeFile(ss strawdav.Filesystem, name string) {
	wc, _ := ss.Open(ctx, strawdav.MustPath(name), strawdav.OpenOptions{Write: true, Create: true, Truncate: true}, cred)
	wc.Write([]byte{0})
	wc.Close()
}
