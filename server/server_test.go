package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uw-labs/strawdav"
)

func newTestServer(t *testing.T, prefix string, names ...string) (*httptest.Server, map[string]*strawdav.MemFilesystem) {
	t.Helper()

	backends := make(map[string]*strawdav.MemFilesystem)
	var mounts []strawdav.Mount
	for _, name := range names {
		fs := strawdav.NewMemFilesystem()
		backends[name] = fs
		mounts = append(mounts, strawdav.Mount{Name: name, FS: fs})
	}
	table, err := strawdav.NewMountTable(mounts...)
	require.NoError(t, err)
	mfs, err := strawdav.NewMultiFs(table)
	require.NoError(t, err)

	ts := httptest.NewServer(New(mfs, prefix).Handler())
	t.Cleanup(ts.Close)
	return ts, backends
}

func do(t *testing.T, method, url string, body string, headers ...string) (*http.Response, string) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestPutGet(t *testing.T) {
	assert := assert.New(t)

	ts, backends := newTestServer(t, "", "alpha", "beta")

	resp, _ := do(t, "PUT", ts.URL+"/alpha/a.txt", "hello")
	assert.Equal(http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(resp.Header.Get("X-Request-Id"))

	resp, body := do(t, "GET", ts.URL+"/alpha/a.txt", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("hello", body)

	_, err := backends["alpha"].Stat(context.Background(), strawdav.MustPath("/a.txt"), strawdav.Credential{})
	assert.NoError(err)
	_, err = backends["beta"].Stat(context.Background(), strawdav.MustPath("/a.txt"), strawdav.Credential{})
	assert.Error(err)

	resp, _ = do(t, "GET", ts.URL+"/gamma/a.txt", "")
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "GET", ts.URL+"/alpha/a.txt", "", "X-Request-Id", "given-id")
	assert.Equal("given-id", resp.Header.Get("X-Request-Id"))
}

func TestPropfindRoot(t *testing.T) {
	assert := assert.New(t)

	ts, _ := newTestServer(t, "", "alpha", "beta")

	resp, body := do(t, "PROPFIND", ts.URL+"/", "", "Depth", "1")
	assert.Equal(http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(body, ">/alpha/<")
	assert.Contains(body, ">/beta/<")
	assert.Contains(body, ">alpha<")
}

func TestPrefix(t *testing.T) {
	assert := assert.New(t)

	ts, _ := newTestServer(t, "/dav", "alpha", "beta")

	resp, _ := do(t, "MKCOL", ts.URL+"/dav/alpha/docs", "")
	assert.Equal(http.StatusCreated, resp.StatusCode)

	resp, body := do(t, "PROPFIND", ts.URL+"/dav/alpha/", "", "Depth", "1")
	assert.Equal(http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(body, ">/dav/alpha/docs/<")

	resp, _ = do(t, "GET", ts.URL+"/elsewhere", "")
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestRootMutations(t *testing.T) {
	assert := assert.New(t)

	ts, _ := newTestServer(t, "", "alpha", "beta")

	resp, _ := do(t, "MKCOL", ts.URL+"/newmount", "")
	assert.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, "MKCOL", ts.URL+"/", "")
	assert.Equal(http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, "DELETE", ts.URL+"/alpha", "")
	assert.Equal(http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, "PUT", ts.URL+"/alpha/keep", "x")
	assert.Equal(http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, "GET", ts.URL+"/alpha/keep", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
}

func TestMove(t *testing.T) {
	assert := assert.New(t)

	ts, _ := newTestServer(t, "", "alpha", "beta")

	do(t, "PUT", ts.URL+"/alpha/a.txt", "hello")

	resp, _ := do(t, "MOVE", ts.URL+"/alpha/a.txt", "", "Destination", ts.URL+"/beta/a.txt")
	assert.Equal(http.StatusNotImplemented, resp.StatusCode)

	resp, _ = do(t, "MOVE", ts.URL+"/alpha/a.txt", "", "Destination", ts.URL+"/alpha/b.txt")
	assert.Equal(http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, "GET", ts.URL+"/alpha/a.txt", "")
	assert.Equal(http.StatusNotFound, resp.StatusCode)
	resp, body := do(t, "GET", ts.URL+"/alpha/b.txt", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("hello", body)

	resp, _ = do(t, "MOVE", ts.URL+"/alpha/b.txt", "", "Destination", ts.URL+"/alpha")
	assert.Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, "MOVE", ts.URL+"/alpha/b.txt", "", "Destination", "http://elsewhere.example/alpha/c.txt")
	assert.Equal(http.StatusBadGateway, resp.StatusCode)

	resp, _ = do(t, "MOVE", ts.URL+"/alpha/missing", "", "Destination", ts.URL+"/alpha/c.txt")
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestCopy(t *testing.T) {
	assert := assert.New(t)

	ts, _ := newTestServer(t, "", "alpha", "beta")

	do(t, "MKCOL", ts.URL+"/alpha/dir", "")
	do(t, "PUT", ts.URL+"/alpha/dir/a.txt", "one")
	do(t, "PUT", ts.URL+"/alpha/b.txt", "two")

	resp, _ := do(t, "COPY", ts.URL+"/alpha/dir", "", "Destination", ts.URL+"/alpha/copy")
	assert.Equal(http.StatusCreated, resp.StatusCode)
	resp, body := do(t, "GET", ts.URL+"/alpha/copy/a.txt", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("one", body)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/b.txt", "", "Destination", ts.URL+"/alpha/copy/a.txt", "Overwrite", "F")
	assert.Equal(http.StatusPreconditionFailed, resp.StatusCode)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/b.txt", "", "Destination", ts.URL+"/alpha/copy/a.txt")
	assert.Equal(http.StatusNoContent, resp.StatusCode)
	_, body = do(t, "GET", ts.URL+"/alpha/copy/a.txt", "")
	assert.Equal("two", body)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/dir", "", "Destination", ts.URL+"/alpha/shallow", "Depth", "0")
	assert.Equal(http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, "GET", ts.URL+"/alpha/shallow/a.txt", "")
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/dir", "", "Destination", ts.URL+"/alpha/x", "Depth", "1")
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/b.txt", "", "Destination", ts.URL+"/beta/b.txt")
	assert.Equal(http.StatusNotImplemented, resp.StatusCode)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/b.txt", "", "Destination", ts.URL+"/alpha/nodir/b.txt")
	assert.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, "COPY", ts.URL+"/alpha/b.txt", "")
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(http.StatusOK, statusFor(nil))
	assert.Equal(http.StatusNotFound, statusFor(strawdav.ErrNotFound))
	assert.Equal(http.StatusForbidden, statusFor(strawdav.ErrForbidden))
	assert.Equal(http.StatusNotImplemented, statusFor(strawdav.ErrNotImplemented))
	assert.Equal(http.StatusBadRequest, statusFor(strawdav.ErrGeneralFailure))
	assert.Equal(http.StatusPreconditionFailed, statusFor(&os.PathError{Op: "mkdir", Path: "/x", Err: syscall.EEXIST}))
	assert.Equal(http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func TestServeAndMetrics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	reg := prometheus.NewRegistry()
	table, err := strawdav.NewMountTable(
		strawdav.Mount{Name: "alpha", FS: strawdav.NewMemFilesystem()},
		strawdav.Mount{Name: "beta", FS: strawdav.NewMemFilesystem()},
	)
	require.NoError(err)
	mfs, err := strawdav.NewMultiFs(table, strawdav.WithRegisterer(reg))
	require.NoError(err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	ml, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- New(mfs, "").Serve(ctx, l) }()
	go func() { done <- ServeMetrics(ctx, ml, reg) }()

	resp, _ := do(t, "PROPFIND", "http://"+l.Addr().String()+"/", "", "Depth", "0")
	assert.Equal(http.StatusMultiStatus, resp.StatusCode)

	resp, body := do(t, "GET", "http://"+ml.Addr().String()+"/metrics", "")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, `strawdav_operations_total{op="metadata",result="ok"}`)

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	}
}
