// Package queue はセッションキューのドメインロジックを提供する。
//
// 一覧・取得では閲覧者ごとに機密フィールドを伏せ、
// 変更系の操作は所有者または管理者に限る。
// 状態が変わるとイベントを発行し、リアルタイム配信に載せる。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobhub/internal/authz"
	"github.com/hitoshi/jobhub/internal/event"
	"github.com/hitoshi/jobhub/internal/eventbus"
	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/repository"
)

// MaxRunsPerBatch は1回のバッチ投入で生成できるアイテム数の上限。
const MaxRunsPerBatch = 1000

// IDSource はキューアイテムIDの採番元。
type IDSource interface {
	Next() int64
}

// Service はセッションキューのサービス層。
type Service struct {
	repo      repository.QueueRepository
	policy    authz.Policy
	publisher eventbus.Publisher
	ids       IDSource
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。
func NewService(repo repository.QueueRepository, policy authz.Policy, publisher eventbus.Publisher, ids IDSource) *Service {
	if publisher == nil {
		publisher = eventbus.Nop()
	}
	return &Service{
		repo:      repo,
		policy:    policy,
		publisher: publisher,
		ids:       ids,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Enqueue はバッチをRuns件のアイテムに展開してキューに投入し、batch_enqueuedを発行する。
func (s *Service) Enqueue(ctx context.Context, requester model.Identity, queueID string, batch model.Batch) (*model.EnqueueResult, error) {
	runs := batch.Runs
	if runs == 0 {
		runs = 1
	}
	if runs < 0 || runs > MaxRunsPerBatch {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("runs must be between 1 and %d", MaxRunsPerBatch))
	}
	if len(batch.Workflow) > 0 && !json.Valid(batch.Workflow) {
		return nil, model.NewInvalidRequestError("workflow must be valid JSON")
	}

	batchID := batch.BatchID
	if batchID == "" {
		batchID = s.newID()
	}
	graph := batch.Graph
	if graph.Nodes == nil {
		graph.Nodes = map[string]json.RawMessage{}
	}
	if graph.Edges == nil {
		graph.Edges = []json.RawMessage{}
	}

	now := s.now().UTC()
	items := make([]*model.QueueItem, 0, runs)
	ids := make([]int64, 0, runs)
	for range runs {
		sessionID := s.newID()
		session := model.EmptySession(sessionID)
		session.Graph = graph

		item := &model.QueueItem{
			ItemID:      s.ids.Next(),
			Status:      model.QueueItemPending,
			Priority:    batch.Priority,
			BatchID:     batchID,
			SessionID:   sessionID,
			QueueID:     queueID,
			UserID:      requester.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
			FieldValues: batch.FieldValues,
			Workflow:    batch.Workflow,
			Session:     session,
		}
		items = append(items, item)
		ids = append(ids, item.ItemID)
	}

	if err := s.repo.Enqueue(ctx, items); err != nil {
		return nil, fmt.Errorf("キューへの投入に失敗しました: %w", err)
	}

	result := &model.EnqueueResult{
		QueueID:   queueID,
		BatchID:   batchID,
		Enqueued:  len(items),
		Requested: runs,
		ItemIDs:   ids,
		Priority:  batch.Priority,
	}

	slog.Info("バッチを投入しました",
		slog.String("queue_id", queueID),
		slog.String("batch_id", batchID),
		slog.Int("enqueued", result.Enqueued),
		slog.String("user_id", requester.UserID),
	)

	s.publish(ctx, event.QueueEvent{
		EventKind: event.BatchEnqueued,
		QueueID:   queueID,
		Data: map[string]any{
			"batch_id":  batchID,
			"enqueued":  result.Enqueued,
			"requested": result.Requested,
			"priority":  result.Priority,
			"user_id":   requester.UserID,
		},
	})
	return result, nil
}

// List はキュー内のアイテムを閲覧者ごとに秘匿化して返す。
func (s *Service) List(ctx context.Context, requester model.Identity, queueID string) ([]*model.QueueItem, error) {
	items, err := s.repo.ListByQueue(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("キューの取得に失敗しました: %w", err)
	}
	return s.policy.SanitizeQueueItems(items, requester), nil
}

// Get はアイテムを閲覧者ごとに秘匿化して返す。
func (s *Service) Get(ctx context.Context, requester model.Identity, queueID string, itemID int64) (*model.QueueItem, error) {
	item, err := s.find(ctx, queueID, itemID)
	if err != nil {
		return nil, err
	}
	return s.policy.SanitizeQueueItem(item, requester), nil
}

// Cancel はアイテムを取り消す。所有者と管理者のみ実行できる。
// 戻り値は要求者が所有者か管理者であるため秘匿化しない。
// 既に終了しているアイテムはそのまま返し、イベントも発行しない。
func (s *Service) Cancel(ctx context.Context, requester model.Identity, queueID string, itemID int64) (*model.QueueItem, error) {
	item, err := s.find(ctx, queueID, itemID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanMutate(item.OwnerID(), requester) {
		return nil, s.forbidden("cancel", item, requester)
	}
	if item.Status.IsFinished() {
		return item, nil
	}

	updated, changed, err := s.repo.UpdateStatus(ctx, itemID, model.QueueItemCanceled)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取り消しに失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewQueueItemNotFoundError(itemID)
	}
	// 読み取り後に別経路で終了した場合は上書きしない。
	if !changed {
		return updated, nil
	}

	data := map[string]any{"status": string(updated.Status)}
	if status, err := s.repo.Status(ctx, queueID, ""); err == nil {
		data["queue_status"] = status
	} else {
		slog.Warn("キュー状態の取得に失敗しました",
			slog.String("queue_id", queueID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, event.QueueItemEvent{
		EventKind:   event.QueueItemStatusChanged,
		QueueID:     queueID,
		OwnerUserID: updated.OwnerID(),
		ItemID:      updated.ItemID,
		BatchID:     updated.BatchID,
		SessionID:   updated.SessionID,
		Item:        updated,
		Data:        data,
	})
	return updated, nil
}

// Delete はアイテムを削除する。所有者と管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, requester model.Identity, queueID string, itemID int64) error {
	item, err := s.find(ctx, queueID, itemID)
	if err != nil {
		return err
	}
	if !s.policy.CanMutate(item.OwnerID(), requester) {
		return s.forbidden("delete", item, requester)
	}

	if err := s.repo.Delete(ctx, itemID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewQueueItemNotFoundError(itemID)
		}
		return fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}
	return nil
}

// Clear はキューを空にし、削除件数を返す。
// 管理者（またはシングルユーザーモード）は全アイテム、それ以外は自分のアイテムのみを対象にする。
// queue_clearedはキュー全体を消した場合にだけ発行する。
func (s *Service) Clear(ctx context.Context, requester model.Identity, queueID string) (int, error) {
	scope := requester.UserID
	if requester.IsAdmin || !s.policy.Multiuser() {
		scope = ""
	}

	deleted, err := s.repo.Clear(ctx, queueID, scope)
	if err != nil {
		return 0, fmt.Errorf("キューのクリアに失敗しました: %w", err)
	}

	slog.Info("キューをクリアしました",
		slog.String("queue_id", queueID),
		slog.String("user_id", requester.UserID),
		slog.Int("deleted", deleted),
	)

	// ルーム全体に配信されるため、自分のアイテムだけを消した場合は通知しない。
	if scope == "" {
		s.publish(ctx, event.QueueEvent{
			EventKind: event.QueueCleared,
			QueueID:   queueID,
			Data:      map[string]any{"deleted": deleted},
		})
	}
	return deleted, nil
}

// Status はキューの状態別件数を返す。件数は機密情報を含まない。
// mineOnlyが真の場合は要求者のアイテムのみを集計する。
func (s *Service) Status(ctx context.Context, requester model.Identity, queueID string, mineOnly bool) (*model.QueueStatus, error) {
	scope := ""
	if mineOnly {
		scope = requester.UserID
	}
	status, err := s.repo.Status(ctx, queueID, scope)
	if err != nil {
		return nil, fmt.Errorf("キュー状態の取得に失敗しました: %w", err)
	}
	return status, nil
}

func (s *Service) find(ctx context.Context, queueID string, itemID int64) (*model.QueueItem, error) {
	item, err := s.repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil || item.QueueID != queueID {
		return nil, model.NewQueueItemNotFoundError(itemID)
	}
	return item, nil
}

func (s *Service) forbidden(op string, item *model.QueueItem, requester model.Identity) error {
	slog.Warn("キュー操作を拒否しました",
		slog.String("op", op),
		slog.Int64("item_id", item.ItemID),
		slog.String("user_id", requester.UserID),
	)
	return model.NewForbiddenError("not the owner of this queue item")
}

// publish はイベントを発行する。発行の失敗は操作自体の失敗とはしない。
func (s *Service) publish(ctx context.Context, evt event.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("イベントの発行に失敗しました",
			slog.String("kind", string(evt.Kind())),
			slog.String("error", err.Error()),
		)
	}
}
