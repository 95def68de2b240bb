package strawdav

import (
	"os"
	"time"

	"google.golang.org/api/iterator"
)

// The virtual root has no backing storage, so everything about it is made up
// on the spot: directories of size 1, modified now.
const rootEntrySize = 1

type rootEntry struct {
	name    string
	modTime time.Time
}

func (re *rootEntry) Name() string {
	return re.name
}

func (re *rootEntry) IsDir() bool {
	return true
}

func (re *rootEntry) Size() int64 {
	return rootEntrySize
}

func (re *rootEntry) ModTime() time.Time {
	return re.modTime
}

func (re *rootEntry) Mode() os.FileMode {
	return os.ModeDir | 0555
}

func (re *rootEntry) Sys() interface{} {
	return nil
}

func rootStat() os.FileInfo {
	return &rootEntry{name: "/", modTime: time.Now()}
}

func rootListing(names []string) DirIterator {
	now := time.Now()
	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, &rootEntry{name: name, modTime: now})
	}
	return NewSliceIterator(infos)
}

// sliceIterator walks a listing that is already in memory.
type sliceIterator struct {
	infos []os.FileInfo
}

// NewSliceIterator returns a DirIterator over infos, in the given order.
func NewSliceIterator(infos []os.FileInfo) DirIterator {
	return &sliceIterator{infos: infos}
}

func (it *sliceIterator) Next() (os.FileInfo, error) {
	if len(it.infos) == 0 {
		return nil, iterator.Done
	}
	fi := it.infos[0]
	it.infos = it.infos[1:]
	return fi, nil
}

func (it *sliceIterator) Close() error {
	it.infos = nil
	return nil
}

// ReadDirAll drains it and closes it.
func ReadDirAll(it DirIterator) ([]os.FileInfo, error) {
	defer it.Close()
	var infos []os.FileInfo
	for {
		fi, err := it.Next()
		if err == iterator.Done {
			return infos, nil
		}
		if err != nil {
			return infos, err
		}
		infos = append(infos, fi)
	}
}
