package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/model"
)

// クライアントからの要求種別
const (
	ActionSubscribeQueue          = "subscribe_queue"
	ActionUnsubscribeQueue        = "unsubscribe_queue"
	ActionSubscribeBulkDownload   = "subscribe_bulk_download"
	ActionUnsubscribeBulkDownload = "unsubscribe_bulk_download"
)

// サーバーからの制御イベント
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

const maxRequestBytes = 64 << 10

// WSConfig はWebSocketハンドラの設定。
type WSConfig struct {
	WriteTimeout   time.Duration
	OriginPatterns []string
	Logger         *slog.Logger
}

// WSHandler はWebSocket接続を受け付け、Registryに登録する。
type WSHandler struct {
	registry *Registry
	cfg      WSConfig
	logger   *slog.Logger
}

// NewWSHandler はWSHandlerを生成する。
func NewWSHandler(registry *Registry, cfg WSConfig) *WSHandler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{registry: registry, cfg: cfg, logger: logger}
}

// clientRequest はクライアントから送られるフレーム。
type clientRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type queuePayload struct {
	QueueID string `json:"queue_id"`
}

type bulkDownloadPayload struct {
	BulkDownloadID string `json:"bulk_download_id"`
	DownloadID     string `json:"download_id"`
}

// ServeHTTP はハンドシェイクを行い、接続が閉じるまで読み書きを続ける。
// トークンはAuthorizationヘッダーかtokenクエリパラメータから取得する。
// トークンの有無や正否で接続を拒否することはない。
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.Warn("websocket handshake failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	c := h.registry.Connect(tokenFromRequest(r))
	defer h.registry.Disconnect(c.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	identity := c.Identity()
	_ = c.enqueue(Message{Event: EventConnected, Data: map[string]any{
		"connection_id": c.ID(),
		"user_id":       identity.UserID,
		"is_admin":      identity.IsAdmin,
	}})

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			h.handleRequest(c, data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case err := <-readErr:
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug("websocket read ended", slog.String("connection_id", c.ID()), slog.String("error", err.Error()))
			}
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-c.Done():
			_ = conn.Close(websocket.StatusTryAgainLater, "connection closed by server")
			return
		case msg := <-c.Outbound():
			writeCtx, cancelWrite := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				h.logger.Warn("websocket write failed",
					slog.String("connection_id", c.ID()),
					slog.String("event", msg.Event),
					slog.String("error", err.Error()),
				)
				_ = conn.Close(websocket.StatusInternalError, "write_failed")
				return
			}
		}
	}
}

// handleRequest は購読要求を処理する。形式が不正な場合はルーム所属を変えずにerrorを返す。
func (h *WSHandler) handleRequest(c *Connection, data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reject(c, "malformed JSON")
		return
	}

	switch req.Action {
	case ActionSubscribeQueue, ActionUnsubscribeQueue:
		var p queuePayload
		if err := decodePayload(req.Data, &p); err != nil || p.QueueID == "" {
			h.reject(c, "queue_id is required")
			return
		}
		h.apply(c, req.Action, QueueRoom(p.QueueID), map[string]any{"queue_id": p.QueueID})
	case ActionSubscribeBulkDownload, ActionUnsubscribeBulkDownload:
		var p bulkDownloadPayload
		if err := decodePayload(req.Data, &p); err != nil {
			h.reject(c, "bulk_download_id is required")
			return
		}
		id := p.BulkDownloadID
		if id == "" {
			id = p.DownloadID
		}
		if id == "" {
			h.reject(c, "bulk_download_id is required")
			return
		}
		h.apply(c, req.Action, BulkDownloadRoom(id), map[string]any{"bulk_download_id": id})
	default:
		h.reject(c, "unknown action: "+req.Action)
	}
}

func (h *WSHandler) apply(c *Connection, action string, roomID RoomID, ack map[string]any) {
	event := EventSubscribed
	if strings.HasPrefix(action, "unsubscribe_") {
		h.registry.Leave(c.ID(), roomID)
		event = EventUnsubscribed
	} else if err := h.registry.Join(c.ID(), roomID); err != nil {
		return
	}

	h.logger.Debug("realtime room membership changed",
		slog.String("connection_id", c.ID()),
		slog.String("action", action),
		slog.String("room", string(roomID)),
	)
	_ = h.registry.deliver(c, Message{Event: event, Data: ack})
}

func (h *WSHandler) reject(c *Connection, reason string) {
	apiErr := model.NewInvalidRequestError(reason)
	_ = h.registry.deliver(c, Message{Event: EventError, Data: map[string]any{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(raw, v)
}

// tokenFromRequest はAuthorizationヘッダーのBearerトークン、無ければtokenクエリパラメータを返す。
func tokenFromRequest(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
