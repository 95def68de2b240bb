package strawdav_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uw-labs/strawdav"
	"github.com/uw-labs/strawdav/strawtest"
)

func TestOSFS(t *testing.T) {
	strawtest.TestFS(t, "osfs", func(t *testing.T) strawdav.Filesystem {
		fs, err := strawdav.NewOsFilesystem(t.TempDir())
		require.NoError(t, err)
		return fs
	}, strawdav.MustPath("/"))
}

func TestMemFS(t *testing.T) {
	strawtest.TestFS(t, "memfs", func(t *testing.T) strawdav.Filesystem {
		return strawdav.NewMemFilesystem()
	}, strawdav.MustPath("/"))
}

func TestMultiFsSingleMount(t *testing.T) {
	strawtest.TestFS(t, "multifs_single", func(t *testing.T) strawdav.Filesystem {
		table, err := strawdav.NewMountTable(strawdav.Mount{Name: "only", FS: strawdav.NewMemFilesystem()})
		require.NoError(t, err)
		mfs, err := strawdav.NewMultiFs(table)
		require.NoError(t, err)
		return mfs
	}, strawdav.MustPath("/"))
}

func TestOpenSources(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	fs, err := strawdav.Open(dir)
	assert.NoError(err)
	assert.IsType(&strawdav.OsFilesystem{}, fs)
	assert.Equal(dir, fs.(*strawdav.OsFilesystem).Root())

	fs, err = strawdav.Open((&url.URL{Scheme: "file", Path: dir}).String())
	assert.NoError(err)
	assert.IsType(&strawdav.OsFilesystem{}, fs)

	fs, err = strawdav.Open("mem://")
	assert.NoError(err)
	assert.IsType(&strawdav.MemFilesystem{}, fs)

	_, err = strawdav.Open("nope://somewhere")
	assert.EqualError(err, "unknown scheme : nope")

	_, err = strawdav.Open(dir + "/missing")
	assert.Error(err)

	assert.Subset(strawdav.Schemes(), []string{"file", "mem"})
}
