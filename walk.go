package strawdav

import (
	"context"
	"errors"
	"os"
	"sort"
)

// SkipDir is used as a return value from WalkFuncs to indicate that
// the directory named in the call is to be skipped. It is not returned
// as an error by any function.
var SkipDir = errors.New("skip this directory")

// WalkFunc is the type of the function called for each file or directory
// visited by Walk. The path argument contains the argument to Walk as a
// prefix; that is, if Walk is called with "/dir", which is a directory
// containing the file "a", the walk function will be called with argument
// "/dir/a". The info argument is the os.FileInfo for the named path.
//
// If there was a problem walking to the file or directory named by path, the
// incoming error will describe the problem and the function can decide how
// to handle that error (and Walk will not descend into that directory). In the
// case of an error, the info argument will be nil. If an error is returned,
// processing stops. The sole exception is when the function returns the special
// value SkipDir. If the function returns SkipDir when invoked on a directory,
// Walk skips the directory's contents entirely. If the function returns SkipDir
// when invoked on a non-directory file, Walk skips the remaining files in the
// containing directory.
type WalkFunc = func(Path, os.FileInfo, error) error

func walk(ctx context.Context, ss Filesystem, p Path, info os.FileInfo, cred Credential, walkFn WalkFunc) error {
	if !info.IsDir() {
		return walkFn(p, info, nil)
	}

	fileInfos, err := readDirSorted(ctx, ss, p, cred)
	err1 := walkFn(p, info, err)

	if err != nil || err1 != nil {
		return err1
	}

	for _, fileInfo := range fileInfos {
		err = walk(ctx, ss, p.Join(fileInfo.Name()), fileInfo, cred, walkFn)
		if err != nil {
			if !fileInfo.IsDir() || err != SkipDir {
				return err
			}
		}
	}

	return nil
}

func readDirSorted(ctx context.Context, ss Filesystem, p Path, cred Credential) ([]os.FileInfo, error) {
	it, err := ss.ReadDir(ctx, p, cred)
	if err != nil {
		return nil, err
	}
	fi, err := ReadDirAll(it)
	if err != nil {
		return nil, err
	}
	sort.Slice(fi, func(i, j int) bool { return fi[i].Name() < fi[j].Name() })
	return fi, nil
}

// Walk walks the file tree rooted at root, calling walkFn for each file or
// directory in the tree, including root. All errors that arise visiting files
// and directories are filtered by walkFn. The files are walked in lexical
// order, which makes the output deterministic but means that for very
// large directories Walk can be inefficient.
// Walk does not follow symbolic links.
// This is the strawdav equivalent of filepath.Walk in the standard library.
func Walk(ctx context.Context, ss Filesystem, root Path, cred Credential, walkFn WalkFunc) error {
	info, err := ss.Lstat(ctx, root, cred)
	if err != nil {
		err = walkFn(root, nil, err)
	} else {
		err = walk(ctx, ss, root, info, cred, walkFn)
	}
	if err == SkipDir {
		return nil
	}
	return err
}
