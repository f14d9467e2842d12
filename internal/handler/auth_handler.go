package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/user"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, rememberMe bool) (*auth.LoginResult, error)
	CurrentUser(ctx context.Context, identity model.Identity) (*model.User, error)
}

// SetupServiceInterface は初期管理者作成に必要なサービスインターフェース。
type SetupServiceInterface interface {
	Setup(ctx context.Context, in user.CreateInput) (*model.User, error)
}

// AuthHandler はログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	setup   SetupServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, setup SetupServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
		setup:   setup,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      *model.User `json:"user"`
}

// setupRequest は初期セットアップリクエストのボディ。
type setupRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// Login はメールアドレスとパスワードでログインし、セッショントークンを返す。
// 失敗時はトークンを含まない401を返す。
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
		User:      result.User,
	})
}

// Setup は管理者が1人もいない場合に限り、最初の管理者を作成する。
// POST /api/v1/auth/setup
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	created, err := h.setup.Setup(r.Context(), user.CreateInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// Me は現在のユーザー情報を返す。
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	u, err := h.service.CurrentUser(r.Context(), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// Logout はトークンがステートレスなため、何もせず204を返す。
// クライアントは保持しているトークンを破棄する。
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
