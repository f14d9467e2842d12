package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/jobhub/internal/model"
)

const queueSelect = `SELECT q.item_id, q.queue_id, q.batch_id, q.session_id, q.user_id, q.status, q.priority,
	q.field_values, q.workflow, q.session, q.error_type, q.error_message, q.error_traceback,
	q.created_at, q.updated_at, q.started_at, q.completed_at,
	u.display_name AS user_display_name, u.email AS user_email
	FROM session_queue q LEFT JOIN users u ON u.user_id = q.user_id`

// queueRow はsession_queueテーブルの1行を表す。
// JSONBカラムは文字列のまま保持し、モデルへの変換時にデコードする。
// lib/pqは[]byteをbyteaとして送るため、JSONBには文字列で渡す。
type queueRow struct {
	ItemID          int64          `db:"item_id"`
	QueueID         string         `db:"queue_id"`
	BatchID         string         `db:"batch_id"`
	SessionID       string         `db:"session_id"`
	UserID          sql.NullString `db:"user_id"`
	Status          string         `db:"status"`
	Priority        int            `db:"priority"`
	FieldValues     sql.NullString `db:"field_values"`
	Workflow        sql.NullString `db:"workflow"`
	Session         string         `db:"session"`
	ErrorType       sql.NullString `db:"error_type"`
	ErrorMessage    sql.NullString `db:"error_message"`
	ErrorTraceback  sql.NullString `db:"error_traceback"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	StartedAt       *time.Time     `db:"started_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
	UserDisplayName sql.NullString `db:"user_display_name"`
	UserEmail       sql.NullString `db:"user_email"`
}

// toQueueRow はモデルを行に変換する。
// システムユーザー所有のアイテムはusersテーブルを参照しないためuser_idをNULLにする。
func toQueueRow(item *model.QueueItem) (*queueRow, error) {
	row := &queueRow{
		ItemID:         item.ItemID,
		QueueID:        item.QueueID,
		BatchID:        item.BatchID,
		SessionID:      item.SessionID,
		Status:         string(item.Status),
		Priority:       item.Priority,
		ErrorType:      nullString(item.ErrorType),
		ErrorMessage:   nullString(item.ErrorMessage),
		ErrorTraceback: nullString(item.ErrorTraceback),
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
		StartedAt:      item.StartedAt,
		CompletedAt:    item.CompletedAt,
	}
	if row.Status == "" {
		row.Status = string(model.QueueItemPending)
	}
	if owner := item.OwnerID(); owner != model.SystemUserID {
		row.UserID = sql.NullString{String: owner, Valid: true}
	}

	if item.FieldValues != nil {
		b, err := json.Marshal(item.FieldValues)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field_values: %w", err)
		}
		row.FieldValues = sql.NullString{String: string(b), Valid: true}
	}
	if len(item.Workflow) > 0 {
		row.Workflow = sql.NullString{String: string(item.Workflow), Valid: true}
	}
	b, err := json.Marshal(item.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	row.Session = string(b)

	return row, nil
}

// toModel は行をモデルに変換する。
func (r *queueRow) toModel() (*model.QueueItem, error) {
	item := &model.QueueItem{
		ItemID:          r.ItemID,
		Status:          model.QueueItemStatus(r.Status),
		Priority:        r.Priority,
		BatchID:         r.BatchID,
		SessionID:       r.SessionID,
		QueueID:         r.QueueID,
		UserID:          model.SystemUserID,
		UserDisplayName: r.UserDisplayName.String,
		UserEmail:       r.UserEmail.String,
		ErrorType:       r.ErrorType.String,
		ErrorMessage:    r.ErrorMessage.String,
		ErrorTraceback:  r.ErrorTraceback.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
	if r.UserID.Valid {
		item.UserID = r.UserID.String
	}

	if r.FieldValues.Valid {
		if err := json.Unmarshal([]byte(r.FieldValues.String), &item.FieldValues); err != nil {
			return nil, fmt.Errorf("failed to decode field_values of item %d: %w", r.ItemID, err)
		}
	}
	if r.Workflow.Valid {
		item.Workflow = json.RawMessage(r.Workflow.String)
	}
	item.Session = model.EmptySession(r.SessionID)
	if r.Session != "" {
		if err := json.Unmarshal([]byte(r.Session), &item.Session); err != nil {
			return nil, fmt.Errorf("failed to decode session of item %d: %w", r.ItemID, err)
		}
	}

	return item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ownerFilter はuserIDに応じた所有者条件を返す。
// 空文字は全ユーザー、システムユーザーはuser_idがNULLの行を対象にする。
func ownerFilter(userID string, argPos int) (string, []any) {
	switch userID {
	case "":
		return "", nil
	case model.SystemUserID:
		return " AND q.user_id IS NULL", nil
	default:
		return " AND q.user_id = $" + strconv.Itoa(argPos), []any{userID}
	}
}

// PostgresQueueRepo はPostgreSQLを使用したセッションキューリポジトリ。
type PostgresQueueRepo struct {
	db *sqlx.DB
}

// NewPostgresQueueRepo はPostgresQueueRepoを生成する。
func NewPostgresQueueRepo(db *sqlx.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

// Enqueue はアイテム群を同一トランザクションで投入する。
func (r *PostgresQueueRepo) Enqueue(ctx context.Context, items []*model.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([]*queueRow, 0, len(items))
	for _, item := range items {
		row, err := toQueueRow(item)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO session_queue (item_id, queue_id, batch_id, session_id, user_id, status, priority,
			field_values, workflow, session, created_at, updated_at)
		 VALUES (:item_id, :queue_id, :batch_id, :session_id, :user_id, :status, :priority,
			:field_values, :workflow, :session, :created_at, :updated_at)`,
		rows,
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresQueueRepo) FindByID(ctx context.Context, itemID int64) (*model.QueueItem, error) {
	row := &queueRow{}
	err := r.db.GetContext(ctx, row, queueSelect+` WHERE q.item_id = $1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find queue item: %w", err)
	}
	return row.toModel()
}

// ListByQueue はキュー内のアイテムを優先度の降順、投入順で返す。
func (r *PostgresQueueRepo) ListByQueue(ctx context.Context, queueID string) ([]*model.QueueItem, error) {
	var rows []*queueRow
	err := r.db.SelectContext(ctx, &rows,
		queueSelect+` WHERE q.queue_id = $1 ORDER BY q.priority DESC, q.item_id ASC`,
		queueID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	items := make([]*model.QueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdateStatus は未終了のアイテムの状態を更新し、現在のアイテムを返す。
// 既に終了状態のアイテムは変更せず、changedをfalseにして現在の値を返す。
// 見つからない場合はnilを返す。
func (r *PostgresQueueRepo) UpdateStatus(ctx context.Context, itemID int64, status model.QueueItemStatus) (*model.QueueItem, bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE session_queue SET
			status = $2::text,
			updated_at = now(),
			started_at = CASE WHEN $2::text = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2::text IN ('completed', 'failed', 'canceled') THEN now() ELSE completed_at END
		 WHERE item_id = $1 AND status NOT IN ('completed', 'failed', 'canceled')`,
		itemID, string(status),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update queue item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	item, err := r.FindByID(ctx, itemID)
	if err != nil {
		return nil, false, err
	}
	return item, n > 0 && item != nil, nil
}

// Delete は指定IDのアイテムを削除する。
func (r *PostgresQueueRepo) Delete(ctx context.Context, itemID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM session_queue WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return expectOneRow(result, "queue item", strconv.FormatInt(itemID, 10))
}

// Clear はキュー内のアイテムを削除し、削除件数を返す。
// userIDが空の場合は全ユーザーのアイテムを対象にする。
func (r *PostgresQueueRepo) Clear(ctx context.Context, queueID, userID string) (int, error) {
	filter, args := ownerFilter(userID, 2)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM session_queue q WHERE q.queue_id = $1`+filter,
		append([]any{queueID}, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Status はキュー内の状態別件数を返す。
// userIDが空の場合は全ユーザーのアイテムを集計する。
func (r *PostgresQueueRepo) Status(ctx context.Context, queueID, userID string) (*model.QueueStatus, error) {
	filter, args := ownerFilter(userID, 2)
	status := &model.QueueStatus{}
	err := r.db.GetContext(ctx, status,
		`SELECT
			count(*) FILTER (WHERE q.status = 'pending') AS pending,
			count(*) FILTER (WHERE q.status = 'in_progress') AS in_progress,
			count(*) FILTER (WHERE q.status = 'completed') AS completed,
			count(*) FILTER (WHERE q.status = 'failed') AS failed,
			count(*) FILTER (WHERE q.status = 'canceled') AS canceled,
			count(*) AS total
		 FROM session_queue q WHERE q.queue_id = $1`+filter,
		append([]any{queueID}, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue status: %w", err)
	}
	status.QueueID = queueID
	return status, nil
}

// compile-time interface check
var _ QueueRepository = (*PostgresQueueRepo)(nil)
