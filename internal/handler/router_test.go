package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/board"
	"github.com/hitoshi/jobhub/internal/metrics"
	"github.com/hitoshi/jobhub/internal/middleware"
	"github.com/hitoshi/jobhub/internal/model"
)

// mockHealthChecker はHealthCheckerのモック。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// newTestRouter はモックサービスと実際のTokenAuthorityでルーターを構成する。
func newTestRouter(t *testing.T, multiuser bool, mutate func(*RouterDeps)) (http.Handler, *auth.TokenAuthority) {
	t.Helper()

	authority, err := auth.NewTokenAuthority([]byte("router-test-secret-0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewTokenAuthority: %v", err)
	}
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		TokenVerifier:     authority,
		Multiuser:         multiuser,
		HealthChecker:     &mockHealthChecker{},
		AuthService:       &mockAuthService{},
		SetupService:      &mockSetupService{},
		UserService:       &mockUserService{},
		BoardService:      &mockBoardService{},
		QueueService:      &mockQueueService{},
	}
	if mutate != nil {
		mutate(deps)
	}
	return NewRouter(deps), authority
}

// issueToken はテスト用のトークンを発行するヘルパー。
func issueToken(t *testing.T, authority *auth.TokenAuthority, identity model.Identity) string {
	t.Helper()
	token, err := authority.Issue(identity, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func TestRouter_ProtectedRoutes_RequireToken(t *testing.T) {
	router, _ := newTestRouter(t, true, nil)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodPost, "/api/v1/auth/logout"},
		{http.MethodPost, "/api/v1/users"},
		{http.MethodPost, "/api/v1/boards/?board_name=x"},
		{http.MethodGet, "/api/v1/boards/"},
		{http.MethodGet, "/api/v1/boards/b1"},
		{http.MethodPatch, "/api/v1/boards/b1"},
		{http.MethodDelete, "/api/v1/boards/b1"},
		{http.MethodPost, "/api/v1/queue/default/enqueue_batch"},
		{http.MethodGet, "/api/v1/queue/default/list"},
		{http.MethodPut, "/api/v1/queue/default/clear"},
		{http.MethodGet, "/api/v1/queue/default/status"},
		{http.MethodGet, "/api/v1/queue/default/i/1"},
		{http.MethodPut, "/api/v1/queue/default/i/1/cancel"},
		{http.MethodDelete, "/api/v1/queue/default/i/1"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRouter_ValidToken_ReachesHandler(t *testing.T) {
	var got model.Identity
	router, authority := newTestRouter(t, true, func(d *RouterDeps) {
		d.BoardService = &mockBoardService{
			getFn: func(ctx context.Context, requester model.Identity, boardID string) (*model.Board, error) {
				got = requester
				return &model.Board{ID: boardID, UserID: requester.UserID}, nil
			},
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/boards/b1", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, authority, ownerIdentity))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.UserID != ownerIdentity.UserID {
		t.Errorf("requester = %q, want %q", got.UserID, ownerIdentity.UserID)
	}
}

func TestRouter_SingleUser_FallsBackToSystemIdentity(t *testing.T) {
	var got model.Identity
	router, _ := newTestRouter(t, false, func(d *RouterDeps) {
		d.BoardService = &mockBoardService{
			listFn: func(ctx context.Context, requester model.Identity, opts board.ListOptions) ([]*model.Board, error) {
				got = requester
				return nil, nil
			},
		}
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/boards/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.UserID != model.SystemUserID {
		t.Errorf("requester = %q, want %q", got.UserID, model.SystemUserID)
	}
}

func TestRouter_CreateUser_RequiresAdmin(t *testing.T) {
	router, authority := newTestRouter(t, true, nil)

	tests := []struct {
		name       string
		identity   model.Identity
		wantStatus int
	}{
		{"non-admin", ownerIdentity, http.StatusForbidden},
		{"admin", adminIdentity, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users",
				strings.NewReader(`{"email": "new@example.com", "password": "Str0ng-Password"}`))
			req.Header.Set("Authorization", "Bearer "+issueToken(t, authority, tt.identity))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_Login_IsPublic(t *testing.T) {
	router, _ := newTestRouter(t, true, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email": "a@example.com", "password": "wrong"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidCredentials)
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"db down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, true, func(d *RouterDeps) {
				d.HealthChecker = &mockHealthChecker{err: tt.pingErr}
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_Metrics_ObservesResponses(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	router, _ := newTestRouter(t, true, func(d *RouterDeps) {
		d.MetricsHandler = metrics.Handler(reg)
		d.OnResponse = collector.RecordHTTPStatus
		d.OnAuthFailure = collector.AuthFailed
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`jobhub_http_status_total{status_code="401"} 1`,
		`jobhub_auth_failures_total{reason="missing"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRouter_SecurityHeadersAndCORS(t *testing.T) {
	router, _ := newTestRouter(t, true, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/boards/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
