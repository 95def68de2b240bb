package strawdav

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"syscall"
)

// MkdirAll creates p and any missing parents.
func MkdirAll(ctx context.Context, ss Filesystem, p Path, cred Credential) error {
	// Fast path: if we can tell whether p is a directory or file, stop with success or error.
	dir, err := ss.Stat(ctx, p, cred)
	if err == nil {
		if dir.IsDir() {
			return nil
		}
		return pathError("mkdir", p, syscall.ENOTDIR)
	}

	// Slow path: make sure parent exists and then call Mkdir for p.
	if parent := p.Parent(); !parent.IsRoot() {
		if err := MkdirAll(ctx, ss, parent, cred); err != nil {
			return err
		}
	}

	err = ss.Mkdir(ctx, p, cred)
	if err != nil {
		// Handle arguments like "foo/." by
		// double-checking that directory doesn't exist.
		dir, err1 := ss.Lstat(ctx, p, cred)
		if err1 == nil && dir.IsDir() {
			return nil
		}
		return err
	}
	return nil
}

// RemoveAll removes p and, when p is a directory, everything below it.
// Removing a path that does not exist is not an error.
func RemoveAll(ctx context.Context, ss Filesystem, p Path, cred Credential) error {
	fi, err := ss.Lstat(ctx, p, cred)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !fi.IsDir() {
		return ss.RemoveFile(ctx, p, cred)
	}

	it, err := ss.ReadDir(ctx, p, cred)
	if err != nil {
		return err
	}
	children, err := ReadDirAll(it)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := RemoveAll(ctx, ss, p.Join(child.Name()), cred); err != nil {
			return err
		}
	}
	return ss.RemoveDir(ctx, p, cred)
}

// CopyTree copies the file or directory tree at from to to within ss, using
// only the Filesystem operations. Existing files at the destination are
// overwritten; existing directories are merged into.
func CopyTree(ctx context.Context, ss Filesystem, from, to Path, cred Credential) error {
	if to.Clean() == from.Clean() || strings.HasPrefix(to.Clean(), strings.TrimSuffix(from.Clean(), "/")+"/") {
		return linkError("copy", from, to, syscall.EINVAL)
	}
	fi, err := ss.Stat(ctx, from, cred)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return copyFile(ctx, ss, from, to, cred)
	}

	if err := ss.Mkdir(ctx, to, cred); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	it, err := ss.ReadDir(ctx, from, cred)
	if err != nil {
		return err
	}
	children, err := ReadDirAll(it)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := CopyTree(ctx, ss, from.Join(child.Name()), to.Join(child.Name()), cred); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(ctx context.Context, ss Filesystem, from, to Path, cred Credential) error {
	r, err := ss.Open(ctx, from, OpenOptions{Read: true}, cred)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := ss.Open(ctx, to, OpenOptions{Write: true, Create: true, Truncate: true}, cred)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
