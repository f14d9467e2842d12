package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/jobhub/internal/model"
)

const boardColumns = `board_id, board_name, user_id, archived, created_at, updated_at`

// PostgresBoardRepo はPostgreSQLを使用したボードリポジトリ。
type PostgresBoardRepo struct {
	db *sqlx.DB
}

// NewPostgresBoardRepo はPostgresBoardRepoを生成する。
func NewPostgresBoardRepo(db *sqlx.DB) *PostgresBoardRepo {
	return &PostgresBoardRepo{db: db}
}

// FindByID は指定IDのボードを取得する。見つからない場合はnilを返す。
func (r *PostgresBoardRepo) FindByID(ctx context.Context, id string) (*model.Board, error) {
	board := &model.Board{}
	err := r.db.GetContext(ctx, board, `SELECT `+boardColumns+` FROM boards WHERE board_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find board by ID: %w", err)
	}
	return board, nil
}

// ListByUserID はユーザーのボード一覧を作成日時の昇順で返す。
func (r *PostgresBoardRepo) ListByUserID(ctx context.Context, userID string, includeArchived bool) ([]*model.Board, error) {
	boards := []*model.Board{}
	err := r.db.SelectContext(ctx, &boards,
		`SELECT `+boardColumns+` FROM boards
		 WHERE user_id = $1 AND ($2 OR archived = false)
		 ORDER BY created_at ASC, board_id ASC`,
		userID, includeArchived,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards by user: %w", err)
	}
	return boards, nil
}

// ListAll は全ユーザーのボード一覧を返す。管理者向け。
func (r *PostgresBoardRepo) ListAll(ctx context.Context, includeArchived bool) ([]*model.Board, error) {
	boards := []*model.Board{}
	err := r.db.SelectContext(ctx, &boards,
		`SELECT `+boardColumns+` FROM boards
		 WHERE ($1 OR archived = false)
		 ORDER BY created_at ASC, board_id ASC`,
		includeArchived,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

// Create はボードを作成する。
func (r *PostgresBoardRepo) Create(ctx context.Context, board *model.Board) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO boards (`+boardColumns+`)
		 VALUES (:board_id, :board_name, :user_id, :archived, :created_at, :updated_at)`,
		board,
	)
	if err != nil {
		return fmt.Errorf("failed to insert board: %w", err)
	}
	return nil
}

// Update はボードの名前とアーカイブ状態を更新する。
func (r *PostgresBoardRepo) Update(ctx context.Context, board *model.Board) error {
	result, err := r.db.NamedExecContext(ctx,
		`UPDATE boards SET board_name = :board_name, archived = :archived, updated_at = :updated_at
		 WHERE board_id = :board_id`,
		board,
	)
	if err != nil {
		return fmt.Errorf("failed to update board: %w", err)
	}
	return expectOneRow(result, "board", board.ID)
}

// Delete は指定IDのボードを削除する。
func (r *PostgresBoardRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM boards WHERE board_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	return expectOneRow(result, "board", id)
}

// expectOneRow は更新系クエリが対象行に作用したことを確認する。
func expectOneRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ BoardRepository = (*PostgresBoardRepo)(nil)
