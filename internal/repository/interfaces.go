// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/jobhub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CountAdmins は有効な管理者の数を返す。
	CountAdmins(ctx context.Context) (int, error)

	// CreateFirstAdmin は有効な管理者が存在しない場合に限りuserを作成する。
	// 確認と作成は不可分に行い、既に管理者がいればcreatedをfalseで返す。
	CreateFirstAdmin(ctx context.Context, user *model.User) (created bool, err error)

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// BoardRepository はボードデータの永続化インターフェース。
type BoardRepository interface {
	// FindByID は指定IDのボードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Board, error)

	// ListByUserID はユーザーのボード一覧を作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string, includeArchived bool) ([]*model.Board, error)

	// ListAll は全ユーザーのボード一覧を返す。管理者向け。
	ListAll(ctx context.Context, includeArchived bool) ([]*model.Board, error)

	// Create はボードを作成する。
	Create(ctx context.Context, board *model.Board) error

	// Update はボードの名前とアーカイブ状態を更新する。
	Update(ctx context.Context, board *model.Board) error

	// Delete は指定IDのボードを削除する。
	Delete(ctx context.Context, id string) error
}

// QueueRepository はセッションキューの永続化インターフェース。
type QueueRepository interface {
	// Enqueue はアイテム群を同一トランザクションで投入する。
	Enqueue(ctx context.Context, items []*model.QueueItem) error

	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, itemID int64) (*model.QueueItem, error)

	// ListByQueue はキュー内のアイテムを優先度の降順、投入順で返す。
	ListByQueue(ctx context.Context, queueID string) ([]*model.QueueItem, error)

	// UpdateStatus は未終了のアイテムの状態を更新し、現在のアイテムを返す。
	// 終了済みのアイテムは変更せずchangedをfalseで返す。見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, itemID int64, status model.QueueItemStatus) (item *model.QueueItem, changed bool, err error)

	// Delete は指定IDのアイテムを削除する。
	Delete(ctx context.Context, itemID int64) error

	// Clear はキュー内のアイテムを削除し、削除件数を返す。
	// userIDが空の場合は全ユーザーのアイテムを対象にする。
	Clear(ctx context.Context, queueID, userID string) (int, error)

	// Status はキュー内の状態別件数を返す。
	// userIDが空の場合は全ユーザーのアイテムを集計する。
	Status(ctx context.Context, queueID, userID string) (*model.QueueStatus, error)
}
