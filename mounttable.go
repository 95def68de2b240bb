package strawdav

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Mount is one named backend.
type Mount struct {
	Name   string
	Source string
	FS     Filesystem
}

// MountTable maps mount names to backends. It is never modified after
// NewMountTable returns, so it can be shared freely between goroutines.
type MountTable struct {
	mounts map[string]Mount
	names  []string
}

func NewMountTable(mounts ...Mount) (*MountTable, error) {
	if len(mounts) == 0 {
		return nil, errors.New("mount table needs at least one mount")
	}
	mt := &MountTable{mounts: make(map[string]Mount, len(mounts))}
	for _, m := range mounts {
		if m.FS == nil {
			return nil, fmt.Errorf("mount %q has no filesystem", m.Name)
		}
		if _, dup := mt.mounts[m.Name]; dup {
			return nil, fmt.Errorf("mount %q defined more than once", m.Name)
		}
		mt.mounts[m.Name] = m
		mt.names = append(mt.names, m.Name)
	}
	sort.Strings(mt.names)
	return mt, nil
}

func (mt *MountTable) Lookup(name string) (Filesystem, error) {
	m, ok := mt.mounts[name]
	if !ok {
		return nil, ErrNotFound
	}
	return m.FS, nil
}

// First returns one of the mounts. The table is never empty.
func (mt *MountTable) First() Filesystem {
	return mt.mounts[mt.names[0]].FS
}

func (mt *MountTable) Len() int {
	return len(mt.names)
}

// Names returns the mount names in lexical order.
func (mt *MountTable) Names() []string {
	names := make([]string, len(mt.names))
	copy(names, mt.names)
	return names
}

// Mounts returns the mounts ordered by name.
func (mt *MountTable) Mounts() []Mount {
	mounts := make([]Mount, 0, len(mt.names))
	for _, name := range mt.names {
		mounts = append(mounts, mt.mounts[name])
	}
	return mounts
}

// Close closes every backend and returns all the errors encountered.
func (mt *MountTable) Close() error {
	var result error
	for _, name := range mt.names {
		if err := mt.mounts[name].FS.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing mount %q: %w", name, err))
		}
	}
	return result
}
