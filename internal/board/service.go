// Package board はボード管理のドメインロジックを提供する。
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobhub/internal/authz"
	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/repository"
	"github.com/hitoshi/jobhub/internal/security"
)

// Scope はボード一覧の対象範囲を表す。
type Scope int

const (
	// ScopeOwn は要求者自身のボードのみを対象にする。
	ScopeOwn Scope = iota
	// ScopeAll は全ユーザーのボードを対象にする。管理者のみ。
	ScopeAll
)

// ListOptions はボード一覧取得時のオプション。
type ListOptions struct {
	Scope           Scope
	IncludeArchived bool
}

// Service はボード管理のサービス層。
// 変更系の操作は全て認可ポリシーを通してから実行する。
type Service struct {
	repo      repository.BoardRepository
	policy    authz.Policy
	sanitizer security.TextSanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。
func NewService(repo repository.BoardRepository, policy authz.Policy, sanitizer security.TextSanitizer) *Service {
	return &Service{
		repo:      repo,
		policy:    policy,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Create は要求者を所有者とするボードを作成する。
func (s *Service) Create(ctx context.Context, requester model.Identity, name string) (*model.Board, error) {
	name = s.sanitizer.SanitizeText(name)
	if name == "" {
		return nil, model.NewInvalidRequestError("board_name is required")
	}

	now := s.now().UTC()
	board := &model.Board{
		ID:        s.newID(),
		Name:      name,
		UserID:    requester.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, board); err != nil {
		return nil, fmt.Errorf("ボードの作成に失敗しました: %w", err)
	}

	slog.Info("ボードを作成しました",
		slog.String("board_id", board.ID),
		slog.String("user_id", requester.UserID),
	)
	return board, nil
}

// List はボード一覧を返す。ScopeAllは管理者のみ指定できる。
func (s *Service) List(ctx context.Context, requester model.Identity, opts ListOptions) ([]*model.Board, error) {
	var (
		boards []*model.Board
		err    error
	)
	switch opts.Scope {
	case ScopeAll:
		if !requester.IsAdmin {
			return nil, model.NewForbiddenError("only administrators can list all boards")
		}
		boards, err = s.repo.ListAll(ctx, opts.IncludeArchived)
	default:
		boards, err = s.repo.ListByUserID(ctx, requester.UserID, opts.IncludeArchived)
	}
	if err != nil {
		return nil, fmt.Errorf("ボード一覧の取得に失敗しました: %w", err)
	}
	return boards, nil
}

// Get はボードを取得する。所有者と管理者以外はFORBIDDENを返す。
func (s *Service) Get(ctx context.Context, requester model.Identity, boardID string) (*model.Board, error) {
	board, err := s.find(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewSensitive(board.UserID, requester) {
		return nil, model.NewForbiddenError("not the owner of this board")
	}
	return board, nil
}

// Update はボードを更新する。認可に失敗した場合は何も変更しない。
func (s *Service) Update(ctx context.Context, requester model.Identity, boardID string, changes model.BoardChanges) (*model.Board, error) {
	board, err := s.find(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanMutate(board.UserID, requester) {
		slog.Warn("ボード更新を拒否しました",
			slog.String("board_id", boardID),
			slog.String("user_id", requester.UserID),
		)
		return nil, model.NewForbiddenError("not the owner of this board")
	}

	if changes.Name != nil {
		name := s.sanitizer.SanitizeText(*changes.Name)
		if name == "" {
			return nil, model.NewInvalidRequestError("board_name must not be empty")
		}
		board.Name = name
	}
	if changes.Archived != nil {
		board.Archived = *changes.Archived
	}
	board.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, board); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewBoardNotFoundError(boardID)
		}
		return nil, fmt.Errorf("ボードの更新に失敗しました: %w", err)
	}
	return board, nil
}

// Delete はボードを削除する。認可に失敗した場合は何も変更しない。
func (s *Service) Delete(ctx context.Context, requester model.Identity, boardID string) error {
	board, err := s.find(ctx, boardID)
	if err != nil {
		return err
	}
	if !s.policy.CanMutate(board.UserID, requester) {
		slog.Warn("ボード削除を拒否しました",
			slog.String("board_id", boardID),
			slog.String("user_id", requester.UserID),
		)
		return model.NewForbiddenError("not the owner of this board")
	}

	if err := s.repo.Delete(ctx, boardID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewBoardNotFoundError(boardID)
		}
		return fmt.Errorf("ボードの削除に失敗しました: %w", err)
	}

	slog.Info("ボードを削除しました",
		slog.String("board_id", boardID),
		slog.String("user_id", requester.UserID),
	)
	return nil
}

func (s *Service) find(ctx context.Context, boardID string) (*model.Board, error) {
	board, err := s.repo.FindByID(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("ボードの取得に失敗しました: %w", err)
	}
	if board == nil {
		return nil, model.NewBoardNotFoundError(boardID)
	}
	return board, nil
}
