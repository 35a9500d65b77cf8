package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

var requestInfoContextKey = contextKey("request_info")

// validRequestID はクライアントから受け取ったリクエストIDとして採用できる形式。
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// requestInfo はリクエスト全体で共有するログ用の情報。
// 外側のミドルウェアが生成し、内側の認証ミドルウェアがsubjectを書き込む。
type requestInfo struct {
	id      string
	subject string
}

func contextWithRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey, info)
}

func requestInfoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}

// RequestIDFromContext はリクエストIDを返す。ログミドルウェアを通過していなければ空。
func RequestIDFromContext(ctx context.Context) string {
	if info := requestInfoFromContext(ctx); info != nil {
		return info.id
	}
	return ""
}

// recordSubject は認証済みのsubjectを外側のミドルウェアから参照できるようにする。
func recordSubject(ctx context.Context, subject string) {
	if info := requestInfoFromContext(ctx); info != nil {
		info.subject = subject
	}
}

// requestID はクライアント指定のIDが妥当ならそれを使い、なければ新しく採番する。
func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); validRequestID.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// subjectOf はログに出すsubjectを返す。未認証なら空。
func subjectOf(ctx context.Context) string {
	if info := requestInfoFromContext(ctx); info != nil && info.subject != "" {
		return info.subject
	}
	if id, err := IdentityFromContext(ctx); err == nil {
		return id.Subject
	}
	return ""
}
