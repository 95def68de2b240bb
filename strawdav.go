package strawdav

import (
	"context"
	"io"
	"os"
)

// Credential is the opaque identity a request was made with. Filesystems
// receive it on every call and may ignore it.
type Credential struct {
	User string
}

type credentialKey struct{}

// WithCredential returns a copy of ctx carrying cred.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFromContext returns the credential stored by WithCredential, or
// the zero Credential.
func CredentialFromContext(ctx context.Context) Credential {
	cred, _ := ctx.Value(credentialKey{}).(Credential)
	return cred
}

type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Stat() (os.FileInfo, error)
}

// DirIterator yields the entries of a directory once. Next returns
// iterator.Done after the last entry.
type DirIterator interface {
	Next() (os.FileInfo, error)
	Close() error
}

type OpenOptions struct {
	Read      bool
	Write     bool
	Append    bool
	Truncate  bool
	Create    bool
	CreateNew bool
}

// OpenOptionsFromFlag translates os.OpenFile flags.
func OpenOptionsFromFlag(flag int) OpenOptions {
	opts := OpenOptions{
		Append:   flag&os.O_APPEND != 0,
		Truncate: flag&os.O_TRUNC != 0,
		Create:   flag&os.O_CREATE != 0,
	}
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		opts.Write = true
	case os.O_RDWR:
		opts.Read = true
		opts.Write = true
	default:
		opts.Read = true
	}
	if opts.Create && flag&os.O_EXCL != 0 {
		opts.CreateNew = true
	}
	return opts
}

// Flag is the inverse of OpenOptionsFromFlag.
func (o OpenOptions) Flag() int {
	var flag int
	switch {
	case o.Read && o.Write:
		flag = os.O_RDWR
	case o.Write || o.Append:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if o.Append {
		flag |= os.O_APPEND
	}
	if o.Truncate {
		flag |= os.O_TRUNC
	}
	if o.Create || o.CreateNew {
		flag |= os.O_CREATE
	}
	if o.CreateNew {
		flag |= os.O_EXCL
	}
	return flag
}

// Writable reports whether the options ask for any kind of mutation.
func (o OpenOptions) Writable() bool {
	return o.Write || o.Append || o.Truncate || o.Create || o.CreateNew
}

// Filesystem is implemented by every backend kind and by MultiFs.
type Filesystem interface {
	Open(ctx context.Context, p Path, opts OpenOptions, cred Credential) (File, error)
	ReadDir(ctx context.Context, p Path, cred Credential) (DirIterator, error)
	Stat(ctx context.Context, p Path, cred Credential) (os.FileInfo, error)
	Lstat(ctx context.Context, p Path, cred Credential) (os.FileInfo, error)
	Mkdir(ctx context.Context, p Path, cred Credential) error
	RemoveDir(ctx context.Context, p Path, cred Credential) error
	RemoveFile(ctx context.Context, p Path, cred Credential) error
	Rename(ctx context.Context, from, to Path, cred Credential) error
	Copy(ctx context.Context, from, to Path, cred Credential) error
	Close() error
}
