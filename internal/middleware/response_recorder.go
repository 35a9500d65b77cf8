package middleware

import "net/http"

// responseRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
// ログ、メトリクス、リカバリの各ミドルウェアで共有する。
type responseRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int64
	written bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader は最初のステータスコードだけを記録してから委譲する。
func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.written {
		rr.status = code
		rr.written = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

// Write はボディを書き込み、バイト数を加算する。
// WriteHeaderが未呼び出しの場合は200として扱う。
func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.written = true
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += int64(n)
	return n, err
}

// Unwrap はhttp.ResponseControllerが元のライターに到達できるようにする。
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
