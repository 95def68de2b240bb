package strawdav

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	assert := assert.New(t)

	p := MustPath("/x")

	assert.Equal("ok", ErrorKind(nil))
	assert.Equal("not_found", ErrorKind(pathError("open", p, ErrNotFound)))
	assert.Equal("not_found", ErrorKind(pathError("open", p, syscall.ENOENT)))
	assert.Equal("forbidden", ErrorKind(pathError("create_dir", p, ErrForbidden)))
	assert.Equal("not_implemented", ErrorKind(linkError("rename", p, p, ErrNotImplemented)))
	assert.Equal("general_failure", ErrorKind(pathError("resolve", p, ErrGeneralFailure)))
	assert.Equal("exists", ErrorKind(pathError("mkdir", p, syscall.EEXIST)))
	assert.Equal("error", ErrorKind(errors.New("other")))
}

func TestErrorWrapping(t *testing.T) {
	assert := assert.New(t)

	err := pathError("open", MustPath("/a b"), ErrNotFound)
	assert.True(os.IsNotExist(err))
	assert.EqualError(err, "open /a b: file does not exist")

	var pe *fs.PathError
	assert.True(errors.As(err, &pe))
	assert.Equal("/a b", pe.Path)

	err = linkError("copy", MustPath("/a"), MustPath("/b"), ErrForbidden)
	assert.True(os.IsPermission(err))
	assert.EqualError(err, "copy /a /b: permission denied")
}
