package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobhub/internal/model"
)

// QueueServiceInterface はキューハンドラーが必要とするサービスインターフェース。
type QueueServiceInterface interface {
	Enqueue(ctx context.Context, requester model.Identity, queueID string, batch model.Batch) (*model.EnqueueResult, error)
	List(ctx context.Context, requester model.Identity, queueID string) ([]*model.QueueItem, error)
	Get(ctx context.Context, requester model.Identity, queueID string, itemID int64) (*model.QueueItem, error)
	Cancel(ctx context.Context, requester model.Identity, queueID string, itemID int64) (*model.QueueItem, error)
	Delete(ctx context.Context, requester model.Identity, queueID string, itemID int64) error
	Clear(ctx context.Context, requester model.Identity, queueID string) (int, error)
	Status(ctx context.Context, requester model.Identity, queueID string, mineOnly bool) (*model.QueueStatus, error)
}

// QueueHandler はセッションキューのHTTPハンドラー。
type QueueHandler struct {
	service QueueServiceInterface
}

// NewQueueHandler はQueueHandlerを生成する。
func NewQueueHandler(service QueueServiceInterface) *QueueHandler {
	return &QueueHandler{service: service}
}

// enqueueRequest はバッチ投入リクエストのボディ。
type enqueueRequest struct {
	Batch *model.Batch `json:"batch"`
}

// deleteItemResponse はアイテム削除のレスポンス。
type deleteItemResponse struct {
	ItemID int64 `json:"item_id"`
}

// clearResponse はキュークリアのレスポンス。
type clearResponse struct {
	Deleted int `json:"deleted"`
}

// Enqueue はバッチをキューに投入する。
// POST /api/v1/queue/{queue_id}/enqueue_batch
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.Batch == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("batch is required"))
		return
	}

	result, err := h.service.Enqueue(r.Context(), identity, chi.URLParam(r, "queue_id"), *req.Batch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// List はキューのアイテム一覧を返す。他人のアイテムは機密フィールドを伏せる。
// GET /api/v1/queue/{queue_id}/list
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	items, err := h.service.List(r.Context(), identity, chi.URLParam(r, "queue_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if items == nil {
		items = []*model.QueueItem{}
	}

	writeJSON(w, http.StatusOK, items)
}

// Get はアイテムを1件返す。
// GET /api/v1/queue/{queue_id}/i/{item_id}
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	item, err := h.service.Get(r.Context(), identity, chi.URLParam(r, "queue_id"), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// Cancel はアイテムをキャンセルする。所有者または管理者のみ。
// PUT /api/v1/queue/{queue_id}/i/{item_id}/cancel
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	item, err := h.service.Cancel(r.Context(), identity, chi.URLParam(r, "queue_id"), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// Delete はアイテムを削除する。所有者または管理者のみ。
// DELETE /api/v1/queue/{queue_id}/i/{item_id}
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), identity, chi.URLParam(r, "queue_id"), itemID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteItemResponse{ItemID: itemID})
}

// Clear はキューを空にする。
// PUT /api/v1/queue/{queue_id}/clear
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.Clear(r.Context(), identity, chi.URLParam(r, "queue_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, clearResponse{Deleted: deleted})
}

// Status はキューの状態別件数を返す。mine=true で自分のアイテムのみを集計する。
// GET /api/v1/queue/{queue_id}/status
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	mineOnly, _ := strconv.ParseBool(r.URL.Query().Get("mine"))
	status, err := h.service.Status(r.Context(), identity, chi.URLParam(r, "queue_id"), mineOnly)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// itemIDParam はURLパスのitem_idを数値として取り出す。
func itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("item_id must be an integer"))
		return 0, false
	}
	return itemID, true
}
