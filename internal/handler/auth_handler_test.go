package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/user"
)

// mockAuthService はAuthServiceInterfaceのモック。
type mockAuthService struct {
	loginFn       func(ctx context.Context, email, password string, rememberMe bool) (*auth.LoginResult, error)
	currentUserFn func(ctx context.Context, identity model.Identity) (*model.User, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string, rememberMe bool) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password, rememberMe)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) CurrentUser(ctx context.Context, identity model.Identity) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, identity)
	}
	return &model.User{ID: identity.UserID, Email: identity.Email, IsAdmin: identity.IsAdmin, IsActive: true}, nil
}

// mockSetupService はSetupServiceInterfaceのモック。
type mockSetupService struct {
	setupFn func(ctx context.Context, in user.CreateInput) (*model.User, error)
}

func (m *mockSetupService) Setup(ctx context.Context, in user.CreateInput) (*model.User, error) {
	if m.setupFn != nil {
		return m.setupFn(ctx, in)
	}
	return nil, model.NewSetupAlreadyCompletedError()
}

// --- POST /api/v1/auth/login テスト ---

func TestAuthHandler_Login_Success(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string, rememberMe bool) (*auth.LoginResult, error) {
			if email != "owner@example.com" || password != "Secret-pass1" {
				t.Errorf("credentials = (%q, %q)", email, password)
			}
			if !rememberMe {
				t.Error("rememberMe should be true")
			}
			return &auth.LoginResult{
				Token:     "signed-token",
				User:      &model.User{ID: "user-owner", Email: email, PasswordHash: "$2a$secret"},
				ExpiresIn: 7 * 24 * time.Hour,
			}, nil
		},
	}
	h := NewAuthHandler(svc, &mockSetupService{})

	body := `{"email": "owner@example.com", "password": "Secret-pass1", "remember_me": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("$2a$secret")) {
		t.Error("response must not contain the password hash")
	}

	result := decodeBody[map[string]any](t, w)
	if result["token"] != "signed-token" {
		t.Errorf("token = %v, want %q", result["token"], "signed-token")
	}
	if result["expires_in"] != float64(7*24*3600) {
		t.Errorf("expires_in = %v, want %d", result["expires_in"], 7*24*3600)
	}
	u, _ := result["user"].(map[string]any)
	if u["user_id"] != "user-owner" {
		t.Errorf("user.user_id = %v, want %q", u["user_id"], "user-owner")
	}
}

func TestAuthHandler_Login_InvalidCredentials_NoToken(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSetupService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		bytes.NewBufferString(`{"email": "x@example.com", "password": "wrong"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("token")) {
		t.Errorf("failed login must not return a token: %s", w.Body.String())
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidCredentials)
	}
}

func TestAuthHandler_Login_InvalidJSON_ReturnsBadRequest(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSetupService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{not json`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Login_InternalError_Returns500(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string, rememberMe bool) (*auth.LoginResult, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, &mockSetupService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		bytes.NewBufferString(`{"email": "a@example.com", "password": "p"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- POST /api/v1/auth/setup テスト ---

func TestAuthHandler_Setup_CreatesAdmin(t *testing.T) {
	setup := &mockSetupService{
		setupFn: func(ctx context.Context, in user.CreateInput) (*model.User, error) {
			if in.Email != "admin@example.com" || in.DisplayName != "Admin" {
				t.Errorf("input = %+v", in)
			}
			return &model.User{ID: "user-admin", Email: in.Email, IsAdmin: true, IsActive: true}, nil
		},
	}
	h := NewAuthHandler(&mockAuthService{}, setup)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup",
		bytes.NewBufferString(`{"email": "admin@example.com", "display_name": "Admin", "password": "Str0ng-Password"}`))
	w := httptest.NewRecorder()

	h.Setup(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := decodeBody[model.User](t, w); !got.IsAdmin {
		t.Error("created user should be admin")
	}
}

func TestAuthHandler_Setup_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"already completed", model.NewSetupAlreadyCompletedError(), http.StatusConflict},
		{"weak password", model.NewWeakPasswordError("Password must contain a digit"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := &mockSetupService{
				setupFn: func(ctx context.Context, in user.CreateInput) (*model.User, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(&mockAuthService{}, setup)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup",
				bytes.NewBufferString(`{"email": "admin@example.com", "password": "weak"}`))
			w := httptest.NewRecorder()

			h.Setup(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- GET /api/v1/auth/me, POST /api/v1/auth/logout テスト ---

func TestAuthHandler_Me_ReturnsCurrentUser(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSetupService{})

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), ownerIdentity)
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody[model.User](t, w); got.ID != ownerIdentity.UserID {
		t.Errorf("user_id = %q, want %q", got.ID, ownerIdentity.UserID)
	}
}

func TestAuthHandler_Me_NoIdentity_ReturnsUnauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSetupService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Me_UserDeleted_ReturnsNotFound(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, identity model.Identity) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewAuthHandler(svc, &mockSetupService{})

	w := httptest.NewRecorder()
	h.Me(w, withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), ownerIdentity))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuthHandler_Logout_ReturnsNoContent(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSetupService{})

	w := httptest.NewRecorder()
	h.Logout(w, withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), ownerIdentity))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
