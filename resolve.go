package strawdav

import (
	"net/url"
	"strings"
)

// Target is the outcome of resolving a virtual path: either the virtual root
// (Mount == "") or a mount name and the path inside that mount.
type Target struct {
	Mount string
	Path  Path
}

func (t Target) IsRoot() bool {
	return t.Mount == ""
}

// Resolve splits p into a mount name and the remainder of the path, re-rooted
// at "/" and keeping p's prefix. A path without a leading non-empty segment
// resolves to the virtual root. Resolve does no I/O.
func Resolve(p Path) (Target, error) {
	origin := strings.TrimPrefix(p.URLString(), "/")
	segs := strings.Split(origin, "/")
	if len(segs) == 0 || segs[0] == "" {
		return Target{Path: p}, nil
	}

	name, err := url.PathUnescape(segs[0])
	if err != nil {
		log.Errorw("undecodable mount name", "path", p.String(), "err", err)
		return Target{}, pathError("resolve", p, ErrGeneralFailure)
	}

	sub, err := ParseURLPath(p.Prefix(), "/"+strings.Join(segs[1:], "/"))
	if err != nil {
		log.Errorw("cannot rebuild mount path", "path", p.String(), "mount", name, "err", err)
		return Target{}, pathError("resolve", p, ErrGeneralFailure)
	}
	return Target{Mount: name, Path: sub}, nil
}
