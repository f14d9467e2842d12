package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラーのpanicを回収し、統一フォーマットの500を返すミドルウェアを生成する。
// http.ErrAbortHandlerは中断の合図なのでそのまま再送出する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				}
				if identity, err := IdentityFromContext(r.Context()); err == nil {
					attrs = append(attrs, slog.String("user_id", identity.UserID))
				}
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
				slog.Error("handler panicked", attrs...)

				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
