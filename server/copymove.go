package server

import (
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/uw-labs/strawdav"
)

// pairChecker is implemented by filesystems that can tell up front whether a
// rename or copy between two paths is possible at all.
type pairChecker interface {
	CheckPair(op string, from, to strawdav.Path) error
}

// statusFor maps an operation error to the status sent to the client.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, strawdav.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, strawdav.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, strawdav.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, strawdav.ErrGeneralFailure):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrExist):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) stripPrefix(p string) (string, bool) {
	if s.prefix == "" {
		return p, true
	}
	if r := strings.TrimPrefix(p, s.prefix); len(r) < len(p) {
		return r, true
	}
	return p, false
}

// serveCopyMove handles COPY and MOVE through Filesystem.Copy and Rename so
// the filesystem sees both endpoints at once. Lock tokens are not checked.
func (s *Server) serveCopyMove(w http.ResponseWriter, r *http.Request) {
	status, err := s.copyMove(r)
	if err != nil {
		log.Warnw("copy/move failed",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"destination", r.Header.Get("Destination"),
			"status", status,
			"err", err,
		)
	}
	w.WriteHeader(status)
	if status >= 400 {
		w.Write([]byte(http.StatusText(status)))
	}
}

var (
	errInvalidDestination      = errors.New("invalid destination")
	errDestinationEqualsSource = errors.New("destination equals source")
	errInvalidDepth            = errors.New("invalid depth")
	errPrefixMismatch          = errors.New("prefix mismatch")
	errNestedDestination       = errors.New("source and destination are nested")
	errDestinationIsMountPoint = errors.New("destination is a mount point")
)

type mountPointer interface {
	IsMountPoint(p strawdav.Path) bool
}

// nested reports whether inner lies strictly below outer.
func nested(outer, inner strawdav.Path) bool {
	return strings.HasPrefix(inner.Clean(), strings.TrimSuffix(outer.Clean(), "/")+"/")
}

func (s *Server) copyMove(r *http.Request) (int, error) {
	ctx := r.Context()
	cred := strawdav.CredentialFromContext(ctx)

	srcName, ok := s.stripPrefix(r.URL.Path)
	if !ok {
		return http.StatusNotFound, errPrefixMismatch
	}
	hdr := r.Header.Get("Destination")
	if hdr == "" {
		return http.StatusBadRequest, errInvalidDestination
	}
	u, err := url.Parse(hdr)
	if err != nil {
		return http.StatusBadRequest, errInvalidDestination
	}
	if u.Host != "" && u.Host != r.Host {
		return http.StatusBadGateway, errInvalidDestination
	}
	dstName, ok := s.stripPrefix(u.Path)
	if !ok {
		return http.StatusBadGateway, errPrefixMismatch
	}

	src, err := strawdav.NewPath(s.prefix, srcName)
	if err != nil {
		return http.StatusBadRequest, err
	}
	dst, err := strawdav.NewPath(s.prefix, dstName)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if src.Clean() == dst.Clean() {
		return http.StatusForbidden, errDestinationEqualsSource
	}

	depthInfinity := true
	switch r.Header.Get("Depth") {
	case "", "infinity":
	case "0":
		if r.Method == "MOVE" {
			return http.StatusBadRequest, errInvalidDepth
		}
		depthInfinity = false
	default:
		return http.StatusBadRequest, errInvalidDepth
	}

	op := strings.ToLower(r.Method)
	if op == "move" {
		op = "rename"
	}
	if pc, ok := s.fs.(pairChecker); ok {
		if err := pc.CheckPair(op, src, dst); err != nil {
			return statusFor(err), err
		}
	}
	if nested(src, dst) || nested(dst, src) {
		return http.StatusForbidden, errNestedDestination
	}
	if mp, ok := s.fs.(mountPointer); dst.IsRoot() || (ok && mp.IsMountPoint(dst)) {
		return http.StatusForbidden, errDestinationIsMountPoint
	}

	srcInfo, err := s.fs.Stat(ctx, src, cred)
	if err != nil {
		return statusFor(err), err
	}
	if _, err := s.fs.Stat(ctx, dst.Parent(), cred); err != nil {
		if errors.Is(err, strawdav.ErrNotFound) {
			return http.StatusConflict, err
		}
		return statusFor(err), err
	}

	created := true
	if _, err := s.fs.Stat(ctx, dst, cred); err == nil {
		if r.Header.Get("Overwrite") == "F" {
			return http.StatusPreconditionFailed, fs.ErrExist
		}
		if err := strawdav.RemoveAll(ctx, s.fs, dst, cred); err != nil {
			return statusFor(err), err
		}
		created = false
	} else if !errors.Is(err, strawdav.ErrNotFound) {
		return statusFor(err), err
	}

	switch {
	case op == "rename":
		err = s.fs.Rename(ctx, src, dst, cred)
	case srcInfo.IsDir() && !depthInfinity:
		err = s.fs.Mkdir(ctx, dst, cred)
	default:
		err = s.fs.Copy(ctx, src, dst, cred)
	}
	if err != nil {
		return statusFor(err), err
	}

	if created {
		return http.StatusCreated, nil
	}
	return http.StatusNoContent, nil
}
