package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerがFlush等を委譲できるよう元のWriterを返す。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// logAnnotations は下流のミドルウェアがアクセスログへ追記する値。
// コンテキストは下流へしか伝播しないため、ポインタを共有して受け渡す。
type logAnnotations struct {
	mu      sync.Mutex
	userID  int64
	hasUser bool
}

var logAnnotationsContextKey = contextKey("log_annotations")

// annotateUser はアクセスログに出力するユーザーIDを記録する。
// LoggingMiddlewareを通過していないリクエストでは何もしない。
func annotateUser(ctx context.Context, userID int64) {
	a, ok := ctx.Value(logAnnotationsContextKey).(*logAnnotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.userID = userID
	a.hasUser = true
	a.mu.Unlock()
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、user_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			ann := &logAnnotations{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logAnnotationsContextKey, ann)))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			if id := RequestIDFromContext(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}

			// ユーザーIDは下流のEdgeGuardが記録したもの、またはコンテキストに既にあるものを使う
			ann.mu.Lock()
			userID, hasUser := ann.userID, ann.hasUser
			ann.mu.Unlock()
			if !hasUser {
				if u, err := UserFromContext(r.Context()); err == nil {
					userID, hasUser = u.ID, true
				}
			}
			if hasUser {
				attrs = append(attrs, slog.Int64("user_id", userID))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}
