package strawdav

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// Path is a decoded, slash-rooted path below a URL prefix. The prefix is the
// part of the request URL consumed by the protocol layer before user-visible
// segments begin; it is carried along so links built from a Path stay valid.
type Path struct {
	prefix string
	name   string
}

var errInvalidPath = errors.New("invalid path")

// NewPath validates name and roots it at "/". Names containing NUL bytes or
// "." / ".." segments are rejected.
func NewPath(prefix, name string) (Path, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return Path{}, errInvalidPath
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." {
			return Path{}, errInvalidPath
		}
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return Path{prefix: strings.TrimSuffix(prefix, "/"), name: name}, nil
}

// ParseURLPath decodes an escaped path, as produced by URLString.
func ParseURLPath(prefix, escaped string) (Path, error) {
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return Path{}, err
	}
	return NewPath(prefix, name)
}

// MustPath is NewPath for literals; it panics on invalid input.
func MustPath(name string) Path {
	p, err := NewPath("", name)
	if err != nil {
		panic("strawdav: invalid path " + name)
	}
	return p
}

func (p Path) Prefix() string {
	return p.prefix
}

// String returns the decoded path, always starting with "/".
func (p Path) String() string {
	if p.name == "" {
		return "/"
	}
	return p.name
}

// URLString returns the escaped path without the prefix.
func (p Path) URLString() string {
	u := url.URL{Path: p.String()}
	return u.EscapedPath()
}

// PrefixedURLString returns the escaped path including the prefix, suitable
// for hrefs handed back to clients.
func (p Path) PrefixedURLString() string {
	return p.prefix + p.URLString()
}

// WithPrefix returns p re-anchored below prefix.
func (p Path) WithPrefix(prefix string) Path {
	p.prefix = strings.TrimSuffix(prefix, "/")
	return p
}

// Join appends elem to p. elem must be a single valid path segment, such as
// a name returned by ReadDir; Join does not check it. A segment NewPath would
// refuse yields a Path that Resolve rejects with ErrGeneralFailure.
func (p Path) Join(elem string) Path {
	return Path{prefix: p.prefix, name: path.Join(p.String(), elem)}
}

// Parent returns the directory containing p; the parent of "/" is "/".
func (p Path) Parent() Path {
	return Path{prefix: p.prefix, name: path.Dir(p.Clean())}
}

// Base returns the last element of p, or "/" for the root.
func (p Path) Base() string {
	return path.Base(p.Clean())
}

// Clean returns the lexically cleaned path without any trailing slash.
func (p Path) Clean() string {
	return path.Clean(p.String())
}

func (p Path) IsRoot() bool {
	return p.Clean() == "/"
}
