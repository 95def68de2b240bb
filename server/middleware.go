package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/uw-labs/strawdav"
)

const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestID returns the id withRequestContext gave the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// withRequestContext tags each request with an id and the basic auth user
// name as its credential, and logs it once served.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		var cred strawdav.Credential
		if user, _, ok := r.BasicAuth(); ok {
			cred.User = user
		}

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = strawdav.WithCredential(ctx, cred)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		log.Debugw("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"user", cred.User,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
