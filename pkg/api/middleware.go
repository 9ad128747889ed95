package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status, r.wrote = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status, r.wrote = http.StatusOK, true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// requestContext assigns the request ID, injects the logger and trace IDs,
// and records the access log line and HTTP metrics.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()

		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(headerRequestID, rid)

		ctx := smartchat.WithLogger(r.Context(), s.deps.Logger)
		ctx = smartchat.WithRequestID(ctx, rid)
		ctx, span := s.deps.Tracer.StartSpan(ctx, "http.request",
			observability.WithSpanKind(observability.SpanKindServer),
			observability.WithAttributes(map[string]any{"http.method": r.Method, "http.path": r.URL.Path}))
		if tid := span.SpanContext().TraceID; tid != "" {
			ctx = smartchat.WithTraceID(ctx, tid)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := s.now().Sub(start)
		status := strconv.Itoa(rec.status)

		s.deps.Metrics.Counter(ctx, observability.MetricHTTPRequests, 1, map[string]string{"route": route, "status": status})
		s.deps.Metrics.RecordDuration(ctx, observability.MetricHTTPDuration, elapsed, map[string]string{"route": route})

		span.SetAttribute("http.route", route)
		span.SetAttribute("http.status_code", rec.status)
		var spanErr error
		if rec.status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("http status %d", rec.status)
		}
		span.End(spanErr)

		smartchat.LogInfo(ctx, "http request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"user_id", r.Header.Get(headerUserID),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err := fmt.Errorf("panic: %v", v)
				smartchat.LogError(r.Context(), "handler panic", err, "path", r.URL.Path)
				writeError(w, r, smartchat.WrapErr(r.Context(), err, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(headerUserID)
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
