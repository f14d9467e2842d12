package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSON APIとして返すレスポンスにセキュリティヘッダーを付与するミドルウェアを返す。
// レスポンスにはトークンやキューの中身が含まれるため、キャッシュさせない。
// hstsが真の場合はStrict-Transport-Securityも付与する。TLS終端の背後で本番運用する場合に有効にする。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
