// Package server serves a strawdav.Filesystem over WebDAV.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uw-labs/strawdav"
	"github.com/uw-labs/strawdav/davfs"
	"golang.org/x/net/webdav"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("strawdav/server")

const shutdownTimeout = 10 * time.Second

type Server struct {
	fs     strawdav.Filesystem
	prefix string
	dav    *webdav.Handler
}

// New returns a server for fs. Requests are expected below prefix, which may
// be empty.
func New(fs strawdav.Filesystem, prefix string) *Server {
	s := &Server{fs: fs, prefix: prefix}
	s.dav = &webdav.Handler{
		Prefix:     prefix,
		FileSystem: davfs.New(fs, prefix),
		LockSystem: webdav.NewMemLS(),
		Logger:     s.logDavError,
	}
	return s
}

// Handler returns the http.Handler serving every WebDAV method.
func (s *Server) Handler() http.Handler {
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "COPY", "MOVE":
			s.serveCopyMove(w, r)
		default:
			s.dav.ServeHTTP(w, r)
		}
	})
	return withRequestContext(mux)
}

func (s *Server) logDavError(r *http.Request, err error) {
	if err == nil {
		return
	}
	log.Debugw("webdav error",
		"request_id", RequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"kind", strawdav.ErrorKind(err),
		"err", err,
	)
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	return serveHTTP(ctx, l, s.Handler())
}

// ServeMetrics exposes g in the Prometheus text format on l until ctx is
// cancelled.
func ServeMetrics(ctx context.Context, l net.Listener, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return serveHTTP(ctx, l, mux)
}

// Run listens on addr, and on metricsAddr when it is not empty, and serves
// until ctx is cancelled or either listener fails.
func Run(ctx context.Context, s *Server, addr, metricsAddr string, g prometheus.Gatherer) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	var ml net.Listener
	if metricsAddr != "" {
		ml, err = net.Listen("tcp", metricsAddr)
		if err != nil {
			l.Close()
			return err
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Infow("serving webdav", "addr", l.Addr().String(), "prefix", s.prefix)
		return s.Serve(ctx, l)
	})
	if ml != nil {
		eg.Go(func() error {
			log.Infow("serving metrics", "addr", ml.Addr().String())
			return ServeMetrics(ctx, ml, g)
		})
	}
	return eg.Wait()
}

func serveHTTP(ctx context.Context, l net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
