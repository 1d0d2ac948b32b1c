package middleware

import "net/http"

// StatusObserver はレスポンスのステータスコードを記録する。
// metrics.MetricsCollectorの部分集合として定義する。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
}

// NewMetricsMiddleware はレスポンスのステータスコードをobserverへ渡すミドルウェアを返す。
func NewMetricsMiddleware(observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			observer.RecordHTTPStatus(rec.statusCode)
		})
	}
}
