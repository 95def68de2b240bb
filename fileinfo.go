package strawdav

import (
	"os"
	"time"
)

// FileInfo is a plain os.FileInfo for backends that have no native one.
type FileInfo struct {
	name    string
	isDir   bool
	modTime time.Time
	size    int64
}

func NewFileInfo(name string, size int64, isDir bool, modTime time.Time) *FileInfo {
	return &FileInfo{name: name, size: size, isDir: isDir, modTime: modTime}
}

func (sr *FileInfo) Name() string {
	return sr.name
}

func (sr *FileInfo) IsDir() bool {
	return sr.isDir
}

func (sr *FileInfo) Size() int64 {
	return sr.size
}

func (sr *FileInfo) ModTime() time.Time {
	return sr.modTime
}

func (sr *FileInfo) Mode() os.FileMode {
	if sr.IsDir() {
		return os.ModeDir | 0755
	}
	return 0644
}

func (sr *FileInfo) Sys() interface{} {
	return nil
}
