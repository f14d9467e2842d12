package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobhub/internal/middleware"
	"github.com/hitoshi/jobhub/internal/model"
)

var (
	ownerIdentity = model.Identity{UserID: "user-owner", Email: "owner@example.com"}
	otherIdentity = model.Identity{UserID: "user-other", Email: "other@example.com"}
	adminIdentity = model.Identity{UserID: "user-admin", Email: "admin@example.com", IsAdmin: true}
)

// --- テストヘルパー ---

// withIdentity はテスト用にリクエストコンテキストにIdentityを注入するヘルパー。
func withIdentity(r *http.Request, identity model.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), identity))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
// 引数はキーと値を交互に並べる。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディを任意の型にデコードするヘルパー。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}
