package middleware

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxLoggedBody caps how much of a response body is echoed into the log.
const maxLoggedBody = 512

// Middleware represents a standard HTTP middleware following the next pattern.
type Middleware func(http.Handler) http.Handler

// ChainMiddleware applies middlewares in the order provided around a handler.
// The first middleware in the slice is the outermost wrapper.
func ChainMiddleware(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// LoggingResponseWriter wraps http.ResponseWriter to capture the status and
// the start of the body.
type LoggingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Body       *bytes.Buffer
	Size       int
}

// NewLoggingResponseWriter creates a new LoggingResponseWriter.
func NewLoggingResponseWriter(w http.ResponseWriter) *LoggingResponseWriter {
	return &LoggingResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
		Body:           &bytes.Buffer{},
	}
}

func (lw *LoggingResponseWriter) WriteHeader(code int) {
	lw.StatusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *LoggingResponseWriter) Write(data []byte) (int, error) {
	if room := maxLoggedBody - lw.Body.Len(); room > 0 {
		lw.Body.Write(data[:min(room, len(data))])
	}
	lw.Size += len(data)
	return lw.ResponseWriter.Write(data)
}

// Hijack implements http.Hijacker so WebSocket upgrades work through the logging wrapper.
func (lw *LoggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := lw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher for streaming responses.
func (lw *LoggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lw *LoggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

func (lw *LoggingResponseWriter) LogResponse(logger *zap.Logger, r *http.Request, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", lw.StatusCode),
		zap.Int("bytes", lw.Size),
		zap.Duration("elapsed", elapsed),
	}
	if ct := lw.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		fields = append(fields, zap.ByteString("body", lw.Body.Bytes()))
	}
	if lw.StatusCode >= http.StatusInternalServerError {
		logger.Warn("WIRE_OUT", fields...)
		return
	}
	logger.Debug("WIRE_OUT", fields...)
}

// LoggingMiddleware logs every request and its response. The event stream
// is logged when it opens and closes instead of being buffered.
func LoggingMiddleware(logger *zap.Logger, streamPath string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if r.URL.Path == streamPath {
				logger.Debug("WIRE_OUT SSE connection started", zap.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				logger.Debug("WIRE_OUT SSE connection ended",
					zap.String("path", r.URL.Path),
					zap.Duration("elapsed", time.Since(start)))
				return
			}

			lw := NewLoggingResponseWriter(w)
			next.ServeHTTP(lw, r)
			lw.LogResponse(logger, r, time.Since(start))
		})
	}
}

// Recover turns a handler panic into a 500 and logs it.
func Recover(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("Recover: handler panicked",
						zap.String("path", r.URL.Path),
						zap.Any("panic", v),
						zap.Stack("stack"))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
