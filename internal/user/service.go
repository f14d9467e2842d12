// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/repository"
	"github.com/hitoshi/jobhub/internal/security"
)

// CreateInput はユーザー作成時の入力。
type CreateInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	IsAdmin     bool   `json:"is_admin"`
}

// Service はユーザー管理のサービス層。
// 初回セットアップと管理者によるユーザー作成を提供する。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Setup は管理者が一人も存在しない場合に限り、最初の管理者を作成する。
// 既に管理者が存在する場合はSETUP_ALREADY_COMPLETEDを返す。
// 同時に呼ばれた場合も作成されるのは一人だけで、残りは同じエラーになる。
func (s *Service) Setup(ctx context.Context, in CreateInput) (*model.User, error) {
	count, err := s.userRepo.CountAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("管理者数の取得に失敗しました: %w", err)
	}
	if count > 0 {
		return nil, model.NewSetupAlreadyCompletedError()
	}

	in.IsAdmin = true
	user, err := s.newUser(in)
	if err != nil {
		return nil, err
	}

	created, err := s.userRepo.CreateFirstAdmin(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewEmailAlreadyExistsError()
	}
	if err != nil {
		return nil, fmt.Errorf("初期管理者の作成に失敗しました: %w", err)
	}
	if !created {
		return nil, model.NewSetupAlreadyCompletedError()
	}
	slog.Info("初期管理者を作成しました", slog.String("user_id", user.ID))
	return user, nil
}

// Create は管理者の要求でユーザーを作成する。
func (s *Service) Create(ctx context.Context, requester model.Identity, in CreateInput) (*model.User, error) {
	if !requester.IsAdmin {
		return nil, model.NewForbiddenError("only administrators can create users")
	}

	user, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	slog.Info("ユーザーを作成しました",
		slog.String("user_id", user.ID),
		slog.String("created_by", requester.UserID),
		slog.Bool("is_admin", user.IsAdmin),
	)
	return user, nil
}

// CreateAdmin は認可チェックなしで管理者を作成する。CLIからの利用を想定する。
func (s *Service) CreateAdmin(ctx context.Context, in CreateInput) (*model.User, error) {
	in.IsAdmin = true
	return s.create(ctx, in)
}

func (s *Service) create(ctx context.Context, in CreateInput) (*model.User, error) {
	user, err := s.newUser(in)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailAlreadyExistsError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return user, nil
}

// newUser は入力を検証し、永続化前のユーザーを組み立てる。
func (s *Service) newUser(in CreateInput) (*model.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if ok, reason := auth.CheckPasswordStrength(in.Password); !ok {
		return nil, model.NewWeakPasswordError(reason)
	}

	hash, err := auth.HashPassword(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, model.NewWeakPasswordError("Password must be at most 72 bytes long")
	}
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	displayName := s.sanitizer.SanitizeText(in.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           s.newID(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		IsAdmin:      in.IsAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return user, nil
}

// normalizeEmail はメールアドレスを小文字化し、形式を検証する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewInvalidRequestError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidRequestError("email is invalid")
	}
	return email, nil
}
