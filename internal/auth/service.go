// Package auth はパスワード認証とセッショントークンの発行・検証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenTTL      time.Duration // 通常ログイン時のトークン有効期間
	RememberMeTTL time.Duration // remember_me 指定時のトークン有効期間
}

// LoginResult はログイン成功時の結果を表す。
type LoginResult struct {
	Token     string
	User      *model.User
	ExpiresIn time.Duration
}

// Service はログインに関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	authority *TokenAuthority
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, authority *TokenAuthority, config ServiceConfig) *Service {
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if config.RememberMeTTL <= 0 {
		config.RememberMeTTL = 7 * 24 * time.Hour
	}
	return &Service{
		userRepo:  userRepo,
		authority: authority,
		config:    config,
		now:       time.Now,
	}
}

// dummyHash はユーザー不在時にも照合処理を行い、応答時間からユーザーの有無を推測させないために使う。
var dummyHash = sync.OnceValue(func() string {
	h, err := HashPassword("dummy-Password-0")
	if err != nil {
		return ""
	}
	return h
})

// Login はメールアドレスとパスワードを照合し、トークンを発行する。
// 照合に失敗した場合は理由を区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, model.NewInvalidRequestError("email and password are required")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		VerifyPassword(password, dummyHash())
		slog.Info("login failed", slog.String("reason", "unknown_email"))
		return nil, model.NewInvalidCredentialsError()
	}
	if !VerifyPassword(password, user.PasswordHash) {
		slog.Info("login failed",
			slog.String("reason", "password_mismatch"),
			slog.String("user_id", user.ID),
		)
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.IsActive {
		slog.Info("login failed",
			slog.String("reason", "inactive"),
			slog.String("user_id", user.ID),
		)
		return nil, model.NewInvalidCredentialsError()
	}

	ttl := s.config.TokenTTL
	if rememberMe {
		ttl = s.config.RememberMeTTL
	}
	token, err := s.authority.Issue(model.IdentityOf(user), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		// ログイン自体は成功させる
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.Bool("remember_me", rememberMe),
	)
	return &LoginResult{Token: token, User: user, ExpiresIn: ttl}, nil
}

// CurrentUser はIdentityに対応するユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, identity model.Identity) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
