package middleware

import (
	"net/http"
	"strings"
)

// streamPathSuffix はSSEで配信するルートの末尾。
const streamPathSuffix = "/stream"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// レスポンスはセッションごとの内容のためキャッシュさせない。
// SSEのルートはプロキシにバッファリングさせず、逐次届くようにする。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if strings.HasSuffix(r.URL.Path, streamPathSuffix) {
				h.Set("Cache-Control", "no-cache")
				h.Set("X-Accel-Buffering", "no")
			} else {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
