package strawdav

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

var (
	backendsLk sync.RWMutex
	backends   = make(map[string]func(u *url.URL) (Filesystem, error))
)

// Register makes a backend kind available to Open under scheme. It panics if
// called twice for the same scheme.
func Register(scheme string, backendFunc func(u *url.URL) (Filesystem, error)) {
	backendsLk.Lock()
	defer backendsLk.Unlock()
	if backendFunc == nil {
		panic("strawdav: backend function is nil")
	}
	if _, dup := backends[scheme]; dup {
		panic("strawdav: Register called more than once for backend " + scheme)
	}
	backends[scheme] = backendFunc
}

// Schemes lists the registered backend kinds.
func Schemes() []string {
	backendsLk.RLock()
	defer backendsLk.RUnlock()

	schemes := make([]string, 0, len(backends))
	for scheme := range backends {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Open opens the backend described by source. A source without "://" is a
// local directory; anything else is a URL whose scheme picks the backend.
func Open(source string) (Filesystem, error) {
	if !strings.Contains(source, "://") {
		return NewOsFilesystem(source)
	}

	parsed, err := url.Parse(source)
	if err != nil {
		return nil, err
	}

	backendsLk.RLock()
	defer backendsLk.RUnlock()

	f := backends[parsed.Scheme]
	if f == nil {
		return nil, fmt.Errorf("unknown scheme : %s", parsed.Scheme)
	}
	return f(parsed)
}

func init() {
	// "file" and "mem" are built in; s3, gcs and sftp register themselves
	// from their own packages.
	Register("file", func(u *url.URL) (Filesystem, error) {
		return NewOsFilesystem(u.Path)
	})
	Register("mem", func(u *url.URL) (Filesystem, error) {
		return NewMemFilesystem(), nil
	})
}
