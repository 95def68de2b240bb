package strawdav

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountTable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a, b := NewMemFilesystem(), NewMemFilesystem()
	mt, err := NewMountTable(Mount{Name: "beta", FS: b}, Mount{Name: "alpha", FS: a})
	require.NoError(err)

	assert.Equal(2, mt.Len())
	assert.Equal([]string{"alpha", "beta"}, mt.Names())
	assert.Same(a, mt.First())

	fs, err := mt.Lookup("beta")
	assert.NoError(err)
	assert.Same(b, fs)

	_, err = mt.Lookup("gamma")
	assert.True(errors.Is(err, ErrNotFound))

	mounts := mt.Mounts()
	require.Len(mounts, 2)
	assert.Equal("alpha", mounts[0].Name)

	names := mt.Names()
	names[0] = "changed"
	assert.Equal("alpha", mt.Names()[0])
}

func TestMountTableInvalid(t *testing.T) {
	assert := assert.New(t)

	_, err := NewMountTable()
	assert.Error(err)

	_, err = NewMountTable(Mount{Name: "a"})
	assert.Error(err)

	_, err = NewMountTable(Mount{Name: "a", FS: NewMemFilesystem()}, Mount{Name: "a", FS: NewMemFilesystem()})
	assert.EqualError(err, `mount "a" defined more than once`)
}

func TestMountTableClose(t *testing.T) {
	assert := assert.New(t)

	failing := &recordingFs{closeErr: errors.New("boom")}
	mt, err := NewMountTable(
		Mount{Name: "a", FS: failing},
		Mount{Name: "b", FS: &recordingFs{closeErr: errors.New("bang")}},
		Mount{Name: "c", FS: NewMemFilesystem()},
	)
	assert.NoError(err)

	err = mt.Close()
	assert.Error(err)
	assert.Contains(err.Error(), `closing mount "a": boom`)
	assert.Contains(err.Error(), `closing mount "b": bang`)
	assert.True(failing.closed)
}
