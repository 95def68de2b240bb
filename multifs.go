package strawdav

import (
	"context"
	"fmt"
	"os"
	"time"
)

var _ Filesystem = &MultiFs{}

// MultiFs exposes every mount of a MountTable as one Filesystem. The first
// path segment selects the mount; the paths above the mounts form a read-only
// virtual root. With a single mount, paths are handed to it untouched.
type MultiFs struct {
	table   *MountTable
	metrics *opMetrics
}

func NewMultiFs(table *MountTable, options ...MultiFsOption) (*MultiFs, error) {
	mfs := &MultiFs{table: table}

	for _, option := range options {
		switch opt := option.(type) {
		case registererOpt:
			m, err := newOpMetrics(opt.reg)
			if err != nil {
				return nil, err
			}
			mfs.metrics = m
		default:
			return nil, fmt.Errorf("unhandled option type %T. This is a bug.", opt)
		}
	}

	return mfs, nil
}

func (mfs *MultiFs) Table() *MountTable {
	return mfs.table
}

func (mfs *MultiFs) Open(ctx context.Context, p Path, opts OpenOptions, cred Credential) (_ File, err error) {
	defer mfs.track("open", time.Now(), &err)

	fs, sub, root, err := mfs.route("open", p)
	if err != nil {
		return nil, err
	}
	if root {
		return nil, mfs.rootDenied("open", p, ErrNotFound)
	}
	return fs.Open(ctx, sub, opts, cred)
}

func (mfs *MultiFs) ReadDir(ctx context.Context, p Path, cred Credential) (_ DirIterator, err error) {
	defer mfs.track("read_dir", time.Now(), &err)

	fs, sub, root, err := mfs.route("read_dir", p)
	if err != nil {
		return nil, err
	}
	if root {
		return rootListing(mfs.table.Names()), nil
	}
	return fs.ReadDir(ctx, sub, cred)
}

func (mfs *MultiFs) Stat(ctx context.Context, p Path, cred Credential) (_ os.FileInfo, err error) {
	defer mfs.track("metadata", time.Now(), &err)

	fs, sub, root, err := mfs.route("metadata", p)
	if err != nil {
		return nil, err
	}
	if root {
		return rootStat(), nil
	}
	fi, err := fs.Stat(ctx, sub, cred)
	return mfs.nameMountRoot(p, sub, fi), err
}

func (mfs *MultiFs) Lstat(ctx context.Context, p Path, cred Credential) (_ os.FileInfo, err error) {
	defer mfs.track("symlink_metadata", time.Now(), &err)

	fs, sub, root, err := mfs.route("symlink_metadata", p)
	if err != nil {
		return nil, err
	}
	if root {
		return rootStat(), nil
	}
	fi, err := fs.Lstat(ctx, sub, cred)
	return mfs.nameMountRoot(p, sub, fi), err
}

func (mfs *MultiFs) Mkdir(ctx context.Context, p Path, cred Credential) (err error) {
	defer mfs.track("create_dir", time.Now(), &err)

	fs, sub, root, err := mfs.route("create_dir", p)
	if err != nil {
		return err
	}
	if root {
		return mfs.rootDenied("create_dir", p, ErrForbidden)
	}
	return fs.Mkdir(ctx, sub, cred)
}

func (mfs *MultiFs) RemoveDir(ctx context.Context, p Path, cred Credential) (err error) {
	defer mfs.track("remove_dir", time.Now(), &err)

	fs, sub, root, err := mfs.route("remove_dir", p)
	if err != nil {
		return err
	}
	if root {
		return mfs.rootDenied("remove_dir", p, ErrForbidden)
	}
	return fs.RemoveDir(ctx, sub, cred)
}

func (mfs *MultiFs) RemoveFile(ctx context.Context, p Path, cred Credential) (err error) {
	defer mfs.track("remove_file", time.Now(), &err)

	fs, sub, root, err := mfs.route("remove_file", p)
	if err != nil {
		return err
	}
	if root {
		return mfs.rootDenied("remove_file", p, ErrForbidden)
	}
	return fs.RemoveFile(ctx, sub, cred)
}

func (mfs *MultiFs) Rename(ctx context.Context, from, to Path, cred Credential) (err error) {
	defer mfs.track("rename", time.Now(), &err)

	fs, src, dst, err := mfs.routePair("rename", from, to)
	if err != nil {
		return err
	}
	return fs.Rename(ctx, src, dst, cred)
}

func (mfs *MultiFs) Copy(ctx context.Context, from, to Path, cred Credential) (err error) {
	defer mfs.track("copy", time.Now(), &err)

	fs, src, dst, err := mfs.routePair("copy", from, to)
	if err != nil {
		return err
	}
	return fs.Copy(ctx, src, dst, cred)
}

func (mfs *MultiFs) Close() error {
	return mfs.table.Close()
}

// route picks the backend serving p and the path to hand it. root is set when
// p is the virtual root, in which case fs is nil.
func (mfs *MultiFs) route(op string, p Path) (fs Filesystem, sub Path, root bool, err error) {
	if mfs.table.Len() == 1 {
		log.Debugw(op, "path", p.String())
		return mfs.table.First(), p, false, nil
	}

	t, err := Resolve(p)
	if err != nil {
		return nil, Path{}, false, err
	}
	if t.IsRoot() {
		log.Debugw(op, "mount", "", "path", "/")
		return nil, t.Path, true, nil
	}

	fs, err = mfs.table.Lookup(t.Mount)
	if err != nil {
		log.Warnw("unknown mount", "op", op, "mount", t.Mount, "path", p.String())
		return nil, Path{}, false, pathError(op, p, err)
	}
	log.Debugw(op, "mount", t.Mount, "path", t.Path.String())
	return fs, t.Path, false, nil
}

// routePair resolves both ends of a rename or copy. Both must land in the
// same mount; moving data between mounts is not supported.
func (mfs *MultiFs) routePair(op string, from, to Path) (Filesystem, Path, Path, error) {
	if mfs.table.Len() == 1 {
		log.Debugw(op, "from", from.String(), "to", to.String())
		return mfs.table.First(), from, to, nil
	}

	src, err := Resolve(from)
	if err != nil {
		return nil, Path{}, Path{}, err
	}
	dst, err := Resolve(to)
	if err != nil {
		return nil, Path{}, Path{}, err
	}

	if src.IsRoot() || dst.IsRoot() || src.Mount != dst.Mount {
		log.Warnw("operation spans mounts", "op", op, "from", from.String(), "to", to.String())
		return nil, Path{}, Path{}, linkError(op, from, to, ErrNotImplemented)
	}

	fs, err := mfs.table.Lookup(src.Mount)
	if err != nil {
		log.Warnw("unknown mount", "op", op, "mount", src.Mount, "from", from.String())
		return nil, Path{}, Path{}, linkError(op, from, to, err)
	}
	log.Debugw(op, "mount", src.Mount, "from", src.Path.String(), "to", dst.Path.String())
	return fs, src.Path, dst.Path, nil
}

// nameMountRoot gives the root directory of a mount the mount's name, as it
// appears in the root listing.
func (mfs *MultiFs) nameMountRoot(p, sub Path, fi os.FileInfo) os.FileInfo {
	if fi == nil || mfs.table.Len() == 1 || !sub.IsRoot() {
		return fi
	}
	return &namedInfo{FileInfo: fi, name: p.Base()}
}

type namedInfo struct {
	os.FileInfo
	name string
}

func (ni *namedInfo) Name() string {
	return ni.name
}

func (mfs *MultiFs) rootDenied(op string, p Path, kind error) error {
	log.Warnw("operation not allowed on virtual root", "op", op, "path", p.String(), "err", kind)
	return pathError(op, p, kind)
}

func (mfs *MultiFs) track(op string, start time.Time, errp *error) {
	mfs.metrics.observe(op, start, *errp)
}

// IsMountPoint reports whether p is the virtual root or the root of a mount.
// Recursive removal must stop at these paths.
func (mfs *MultiFs) IsMountPoint(p Path) bool {
	if p.IsRoot() {
		return true
	}
	if mfs.table.Len() == 1 {
		return false
	}
	t, err := Resolve(p)
	if err != nil {
		return false
	}
	return t.IsRoot() || t.Path.IsRoot()
}

// CheckPair reports the error Rename or Copy would fail with before touching
// any backend, or nil when from and to share a mount.
func (mfs *MultiFs) CheckPair(op string, from, to Path) error {
	_, _, _, err := mfs.routePair(op, from, to)
	return err
}
