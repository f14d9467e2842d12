package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jobhub/internal/board"
	"github.com/hitoshi/jobhub/internal/model"
)

// BoardServiceInterface はボードハンドラーが必要とするサービスインターフェース。
type BoardServiceInterface interface {
	Create(ctx context.Context, requester model.Identity, name string) (*model.Board, error)
	List(ctx context.Context, requester model.Identity, opts board.ListOptions) ([]*model.Board, error)
	Get(ctx context.Context, requester model.Identity, boardID string) (*model.Board, error)
	Update(ctx context.Context, requester model.Identity, boardID string, changes model.BoardChanges) (*model.Board, error)
	Delete(ctx context.Context, requester model.Identity, boardID string) error
}

// BoardHandler はボード管理のHTTPハンドラー。
type BoardHandler struct {
	service BoardServiceInterface
}

// NewBoardHandler はBoardHandlerを生成する。
func NewBoardHandler(service BoardServiceInterface) *BoardHandler {
	return &BoardHandler{service: service}
}

// deleteBoardResponse はボード削除のレスポンス。
type deleteBoardResponse struct {
	BoardID string `json:"board_id"`
}

// Create はボードを作成する。ボード名はクエリパラメータで受け取る。
// POST /api/v1/boards/?board_name=xxx
func (h *BoardHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	created, err := h.service.Create(r.Context(), identity, r.URL.Query().Get("board_name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// List はボード一覧を返す。ページングは行わない。
// scope=all は管理者向けの全ユーザー一覧、include_archived=true でアーカイブ済みも含める。
// all=true はページング無しの指定として受け付ける。
// GET /api/v1/boards/
func (h *BoardHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := board.ListOptions{Scope: board.ScopeOwn}
	if q.Get("scope") == "all" {
		opts.Scope = board.ScopeAll
	}
	if v := q.Get("include_archived"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("include_archived must be a boolean"))
			return
		}
		opts.IncludeArchived = include
	}

	boards, err := h.service.List(r.Context(), identity, opts)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if boards == nil {
		boards = []*model.Board{}
	}

	writeJSON(w, http.StatusOK, boards)
}

// Get はボードを1件返す。
// GET /api/v1/boards/{board_id}
func (h *BoardHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	b, err := h.service.Get(r.Context(), identity, chi.URLParam(r, "board_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// Update はボードを更新し、更新後のボードを201で返す。
// PATCH /api/v1/boards/{board_id}
func (h *BoardHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var changes model.BoardChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeInvalidBody(w)
		return
	}

	updated, err := h.service.Update(r.Context(), identity, chi.URLParam(r, "board_id"), changes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, updated)
}

// Delete はボードを削除する。
// DELETE /api/v1/boards/{board_id}
func (h *BoardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	boardID := chi.URLParam(r, "board_id")
	if err := h.service.Delete(r.Context(), identity, boardID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteBoardResponse{BoardID: boardID})
}
