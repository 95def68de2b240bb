package strawdav

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

var _ Filesystem = &MemFilesystem{}

func NewMemFilesystem() *MemFilesystem {
	return &MemFilesystem{root: &memFile{
		isDir:   true,
		modTime: time.Now(),
	}}
}

// MemFilesystem keeps a whole tree in memory. It is safe for concurrent use.
type MemFilesystem struct {
	lk   sync.Mutex
	root *memFile
}

type memFile struct {
	name    string
	content []byte
	isDir   bool
	entries map[string]*memFile
	modTime time.Time
}

func (mf *memFile) info() os.FileInfo {
	size := int64(len(mf.content))
	if mf.isDir {
		size = 4096
	}
	return NewFileInfo(mf.name, size, mf.isDir, mf.modTime)
}

func (mf *memFile) clone(name string) *memFile {
	c := &memFile{
		name:    name,
		content: append([]byte(nil), mf.content...),
		isDir:   mf.isDir,
		modTime: mf.modTime,
	}
	if mf.entries != nil {
		c.entries = make(map[string]*memFile, len(mf.entries))
		for n, e := range mf.entries {
			c.entries[n] = e.clone(n)
		}
	}
	return c
}

func (fs *MemFilesystem) Close() error {
	return nil
}

func (fs *MemFilesystem) Stat(_ context.Context, p Path, _ Credential) (os.FileInfo, error) {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	f, err := fs.getExisting("stat", p)
	if err != nil {
		return nil, err
	}
	return f.info(), nil
}

// Lstat is Stat; there are no symlinks in memory.
func (fs *MemFilesystem) Lstat(ctx context.Context, p Path, cred Credential) (os.FileInfo, error) {
	return fs.Stat(ctx, p, cred)
}

func (fs *MemFilesystem) Mkdir(_ context.Context, p Path, _ Credential) error {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	if p.IsRoot() {
		return pathError("mkdir", p, syscall.EEXIST)
	}
	dir, name, err := fs.getParent("mkdir", p)
	if err != nil {
		return err
	}
	if dir.entries[name] != nil {
		return pathError("mkdir", p, syscall.EEXIST)
	}
	fs.put(dir, &memFile{name: name, isDir: true, modTime: time.Now()})
	return nil
}

func (fs *MemFilesystem) RemoveDir(_ context.Context, p Path, _ Credential) error {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	if p.IsRoot() {
		return pathError("remove", p, syscall.EBUSY)
	}
	parent, name, err := fs.getParent("remove", p)
	if err != nil {
		return err
	}
	file := parent.entries[name]
	if file == nil {
		return pathError("remove", p, syscall.ENOENT)
	}
	if !file.isDir {
		return pathError("remove", p, syscall.ENOTDIR)
	}
	if len(file.entries) != 0 {
		return pathError("remove", p, syscall.ENOTEMPTY)
	}
	fs.drop(parent, name)
	return nil
}

func (fs *MemFilesystem) RemoveFile(_ context.Context, p Path, _ Credential) error {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	if p.IsRoot() {
		return pathError("remove", p, syscall.EISDIR)
	}
	parent, name, err := fs.getParent("remove", p)
	if err != nil {
		return err
	}
	file := parent.entries[name]
	if file == nil {
		return pathError("remove", p, syscall.ENOENT)
	}
	if file.isDir {
		return pathError("remove", p, syscall.EISDIR)
	}
	fs.drop(parent, name)
	return nil
}

func (fs *MemFilesystem) Rename(_ context.Context, from, to Path, _ Credential) error {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	src, srcParent, srcName, dstParent, dstName, err := fs.prepareMove("rename", from, to)
	if err != nil {
		return err
	}
	fs.drop(srcParent, srcName)
	src.name = dstName
	fs.put(dstParent, src)
	return nil
}

func (fs *MemFilesystem) Copy(_ context.Context, from, to Path, _ Credential) error {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	src, _, _, dstParent, dstName, err := fs.prepareMove("copy", from, to)
	if err != nil {
		return err
	}
	fs.put(dstParent, src.clone(dstName))
	return nil
}

// prepareMove checks that from can be moved or copied onto to, following
// rename(2): a file may replace a file, a directory may replace an empty
// directory, and nothing may be moved inside itself.
func (fs *MemFilesystem) prepareMove(op string, from, to Path) (src, srcParent *memFile, srcName string, dstParent *memFile, dstName string, err error) {
	if from.IsRoot() || to.IsRoot() {
		return nil, nil, "", nil, "", linkError(op, from, to, syscall.EBUSY)
	}
	srcParent, srcName, err = fs.getParent(op, from)
	if err != nil {
		return
	}
	src = srcParent.entries[srcName]
	if src == nil {
		return nil, nil, "", nil, "", linkError(op, from, to, syscall.ENOENT)
	}
	if to.Clean() == from.Clean() || strings.HasPrefix(to.Clean(), from.Clean()+"/") {
		return nil, nil, "", nil, "", linkError(op, from, to, syscall.EINVAL)
	}
	dstParent, dstName, err = fs.getParent(op, to)
	if err != nil {
		return
	}
	if dst := dstParent.entries[dstName]; dst != nil {
		switch {
		case dst.isDir && !src.isDir:
			return nil, nil, "", nil, "", linkError(op, from, to, syscall.EISDIR)
		case !dst.isDir && src.isDir:
			return nil, nil, "", nil, "", linkError(op, from, to, syscall.ENOTDIR)
		case dst.isDir && len(dst.entries) != 0:
			return nil, nil, "", nil, "", linkError(op, from, to, syscall.ENOTEMPTY)
		}
	}
	return src, srcParent, srcName, dstParent, dstName, nil
}

func (fs *MemFilesystem) Open(_ context.Context, p Path, opts OpenOptions, _ Credential) (File, error) {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	if p.IsRoot() {
		return nil, pathError("open", p, syscall.EISDIR)
	}
	dir, name, err := fs.getParent("open", p)
	if err != nil {
		return nil, err
	}

	f := dir.entries[name]
	switch {
	case f == nil && !(opts.Create || opts.CreateNew):
		return nil, pathError("open", p, syscall.ENOENT)
	case f == nil:
		f = &memFile{name: name, modTime: time.Now()}
		fs.put(dir, f)
	case opts.CreateNew:
		return nil, pathError("open", p, syscall.EEXIST)
	case f.isDir:
		return nil, pathError("open", p, syscall.EISDIR)
	case opts.Truncate:
		f.content = f.content[0:0]
		f.modTime = time.Now()
	}

	return &memHandle{
		fs:       fs,
		mf:       f,
		p:        p,
		readable: opts.Read,
		writable: opts.Write || opts.Append,
		append:   opts.Append,
	}, nil
}

func (fs *MemFilesystem) ReadDir(_ context.Context, p Path, _ Credential) (DirIterator, error) {
	fs.lk.Lock()
	defer fs.lk.Unlock()

	file, err := fs.getExisting("readdir", p)
	if err != nil {
		return nil, err
	}
	if !file.isDir {
		return nil, pathError("readdir", p, syscall.ENOTDIR)
	}
	res := make([]os.FileInfo, 0, len(file.entries))
	for _, entry := range file.entries {
		res = append(res, entry.info())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return NewSliceIterator(res), nil
}

func (fs *MemFilesystem) split(p Path) []string {
	if p.IsRoot() {
		return []string{}
	}
	return strings.Split(strings.TrimPrefix(p.Clean(), "/"), "/")
}

func (fs *MemFilesystem) getExisting(op string, p Path) (*memFile, error) {
	f := fs.root
	for _, elem := range fs.split(p) {
		if !f.isDir {
			return nil, pathError(op, p, syscall.ENOTDIR)
		}
		f = f.entries[elem]
		if f == nil {
			return nil, pathError(op, p, syscall.ENOENT)
		}
	}
	return f, nil
}

// getParent returns the directory that holds (or would hold) p.
func (fs *MemFilesystem) getParent(op string, p Path) (*memFile, string, error) {
	list := fs.split(p)
	dir := fs.root
	for _, elem := range list[0 : len(list)-1] {
		dir = dir.entries[elem]
		if dir == nil {
			return nil, "", pathError(op, p, syscall.ENOENT)
		}
		if !dir.isDir {
			return nil, "", pathError(op, p, syscall.ENOTDIR)
		}
	}
	return dir, list[len(list)-1], nil
}

func (fs *MemFilesystem) put(dir *memFile, f *memFile) {
	if dir.entries == nil {
		dir.entries = make(map[string]*memFile)
	}
	dir.entries[f.name] = f
	dir.modTime = time.Now()
}

func (fs *MemFilesystem) drop(dir *memFile, name string) {
	delete(dir.entries, name)
	dir.modTime = time.Now()
}

// memHandle is an open file. Reads and writes go straight to the shared
// memFile under the filesystem lock.
type memHandle struct {
	fs       *MemFilesystem
	mf       *memFile
	p        Path
	off      int64
	readable bool
	writable bool
	append   bool
}

func (h *memHandle) Read(buf []byte) (int, error) {
	h.fs.lk.Lock()
	defer h.fs.lk.Unlock()

	if !h.readable {
		return 0, pathError("read", h.p, syscall.EBADF)
	}
	if h.off >= int64(len(h.mf.content)) {
		return 0, io.EOF
	}
	n := copy(buf, h.mf.content[h.off:])
	h.off += int64(n)
	return n, nil
}

func (h *memHandle) Write(buf []byte) (int, error) {
	h.fs.lk.Lock()
	defer h.fs.lk.Unlock()

	if !h.writable {
		return 0, pathError("write", h.p, syscall.EBADF)
	}
	if h.append {
		h.off = int64(len(h.mf.content))
	}
	end := h.off + int64(len(buf))
	if end > int64(len(h.mf.content)) {
		grown := make([]byte, end)
		copy(grown, h.mf.content)
		h.mf.content = grown
	}
	copy(h.mf.content[h.off:], buf)
	h.off = end
	h.mf.modTime = time.Now()
	return len(buf), nil
}

func (h *memHandle) Seek(offset int64, whence int) (int64, error) {
	h.fs.lk.Lock()
	defer h.fs.lk.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.off + offset
	case io.SeekEnd:
		abs = int64(len(h.mf.content)) + offset
	default:
		return 0, pathError("seek", h.p, syscall.EINVAL)
	}
	if abs < 0 {
		return 0, pathError("seek", h.p, syscall.EINVAL)
	}
	h.off = abs
	return abs, nil
}

func (h *memHandle) Stat() (os.FileInfo, error) {
	h.fs.lk.Lock()
	defer h.fs.lk.Unlock()
	return h.mf.info(), nil
}

func (h *memHandle) Close() error {
	return nil
}
