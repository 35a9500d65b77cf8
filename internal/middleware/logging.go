package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// NewLoggingMiddleware はリクエストごとにhttp_requestのJSON構造化ログを1行出力するミドルウェアを返す。
// リクエストIDを採番してX-Request-IDヘッダーで返し、内側のミドルウェアと共有する。
//
// pathにはchiが照合したルートパターンを記録する。セッショントークンはURLに含まれるため、
// /api/chat/sessions/{token}/messages のようにパラメーターを伏せた形で残る。
// ルートに一致しなかった場合のみ実際のパスを記録する。メッセージ本文はログに出さない。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{id: requestID(r)}
			w.Header().Set(RequestIDHeader, info.id)
			ctx := contextWithRequestInfo(r.Context(), info)

			rec := newResponseRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("request_id", info.id),
				slog.String("method", r.Method),
				slog.String("path", loggedPath(r)),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if subject := subjectOf(ctx); subject != "" {
				attrs = append(attrs, slog.String("subject", subject))
			}

			logger.LogAttrs(r.Context(), levelForStatus(rec.status), "http_request", attrs...)
		})
	}
}

// loggedPath はログに残すパスを返す。
// chiのルーティングコンテキストはルーター側で生成されるため、照合後に読む。
func loggedPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// levelForStatus は5xxをError、4xxをWarn、それ以外をInfoに対応付ける。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
