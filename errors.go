package strawdav

import (
	"errors"
	"io/fs"
	"os"
)

// Error kinds produced by the dispatcher. NotFound and Forbidden are the io/fs
// sentinels so os.IsNotExist and os.IsPermission keep working on them.
var (
	ErrNotFound       = fs.ErrNotExist
	ErrForbidden      = fs.ErrPermission
	ErrNotImplemented = errors.New("not implemented")
	ErrGeneralFailure = errors.New("general failure")
)

func pathError(op string, p Path, err error) error {
	return &fs.PathError{Op: op, Path: p.String(), Err: err}
}

func linkError(op string, from, to Path, err error) error {
	return &os.LinkError{Op: op, Old: from.String(), New: to.String(), Err: err}
}

// ErrorKind names the kind of err for logs and metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrGeneralFailure):
		return "general_failure"
	case errors.Is(err, fs.ErrExist):
		return "exists"
	default:
		return "error"
	}
}
