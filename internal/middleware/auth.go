// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストにIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はセッショントークンの検証インターフェース。
// auth.TokenAuthorityが満たす。
type TokenVerifier interface {
	Verify(token string) (model.Identity, error)
}

// AuthConfig は認証ミドルウェアの設定。
type AuthConfig struct {
	Verifier TokenVerifier
	// Multiuser が偽の場合、トークン無しのリクエストはシステムユーザーとして扱う。
	Multiuser bool
	// OnFailure は認証失敗時に理由（missing, invalid, expired）を受け取る。nil可。
	OnFailure func(reason string)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// Identityをリクエストコンテキストに注入するミドルウェアを返す。
// マルチユーザーモードでトークンが無い場合と、トークンが不正な場合は401を返す。
// 期限切れの場合はTOKEN_EXPIREDを返し、クライアントに再ログインを促す。
func NewAuthMiddleware(cfg AuthConfig) func(next http.Handler) http.Handler {
	fail := cfg.OnFailure
	if fail == nil {
		fail = func(string) {}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				if cfg.Multiuser {
					fail("missing")
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
					return
				}
				next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), model.SystemIdentity())))
				return
			}

			identity, err := cfg.Verifier.Verify(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					fail("expired")
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenExpiredError())
					return
				}
				fail("invalid")
				slog.Info("invalid session token",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin は管理者以外のリクエストを403で拒否するミドルウェア。
// NewAuthMiddlewareの後に配置する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := IdentityFromContext(r.Context())
		if err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		if !identity.IsAdmin {
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError("administrator privileges required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.UserID == "" {
		return model.Identity{}, errors.New("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// アクセスログ用のリクエスト情報がある場合はユーザーIDも記録する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = identity.UserID
	}
	return context.WithValue(ctx, identityContextKey, identity)
}
