package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/authz"
	"github.com/hitoshi/jobhub/internal/eventbus"
	"github.com/hitoshi/jobhub/internal/middleware"
	"github.com/hitoshi/jobhub/internal/model"
	"github.com/hitoshi/jobhub/internal/queue"
	"github.com/hitoshi/jobhub/internal/realtime"
	"github.com/hitoshi/jobhub/internal/repository"
)

// memoryQueueRepo はテスト用のインメモリQueueRepository。
type memoryQueueRepo struct {
	mu    sync.Mutex
	items map[int64]*model.QueueItem
}

var _ repository.QueueRepository = (*memoryQueueRepo)(nil)

func newMemoryQueueRepo() *memoryQueueRepo {
	return &memoryQueueRepo{items: map[int64]*model.QueueItem{}}
}

func (r *memoryQueueRepo) Enqueue(ctx context.Context, items []*model.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		cp := *item
		r.items[item.ItemID] = &cp
	}
	return nil
}

func (r *memoryQueueRepo) FindByID(ctx context.Context, itemID int64) (*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *memoryQueueRepo) ListByQueue(ctx context.Context, queueID string) ([]*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.QueueItem
	for _, item := range r.items {
		if item.QueueID == queueID {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (r *memoryQueueRepo) UpdateStatus(ctx context.Context, itemID int64, status model.QueueItemStatus) (*model.QueueItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, false, nil
	}
	changed := !item.Status.IsFinished()
	if changed {
		item.Status = status
	}
	cp := *item
	return &cp, changed, nil
}

func (r *memoryQueueRepo) Delete(ctx context.Context, itemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[itemID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, itemID)
	return nil
}

func (r *memoryQueueRepo) Clear(ctx context.Context, queueID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, item := range r.items {
		if item.QueueID == queueID && (userID == "" || item.OwnerID() == userID) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func (r *memoryQueueRepo) Status(ctx context.Context, queueID, userID string) (*model.QueueStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := &model.QueueStatus{QueueID: queueID}
	for _, item := range r.items {
		if item.QueueID != queueID || (userID != "" && item.OwnerID() != userID) {
			continue
		}
		switch item.Status {
		case model.QueueItemPending:
			status.Pending++
		case model.QueueItemInProgress:
			status.InProgress++
		case model.QueueItemCompleted:
			status.Completed++
		case model.QueueItemFailed:
			status.Failed++
		case model.QueueItemCanceled:
			status.Canceled++
		}
		status.Total++
	}
	return status, nil
}

// sequentialIDs は連番のアイテムIDを返す。
type sequentialIDs struct {
	mu   sync.Mutex
	next int64
}

func (s *sequentialIDs) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

type wsFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// liveStack はHTTP APIとWebSocketを同じプロセスで動かすテスト環境。
type liveStack struct {
	server    *httptest.Server
	authority *auth.TokenAuthority
}

func newLiveStack(t *testing.T) *liveStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authority, err := auth.NewTokenAuthority([]byte("integration-secret-0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewTokenAuthority: %v", err)
	}
	policy := authz.NewPolicy(true)

	registry := realtime.NewRegistry(authority, realtime.RegistryConfig{SendBuffer: 32, Logger: logger})
	t.Cleanup(registry.CloseAll)
	bus := eventbus.NewLocalBus(realtime.NewRouter(registry, policy, logger, nil))

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:        logger,
		RateLimiter:   rl,
		TokenVerifier: authority,
		Multiuser:     true,
		WSHandler: realtime.NewWSHandler(registry, realtime.WSConfig{
			WriteTimeout: time.Second,
			Logger:       logger,
		}),
		AuthService:  &mockAuthService{},
		SetupService: &mockSetupService{},
		UserService:  &mockUserService{},
		BoardService: &mockBoardService{},
		QueueService: queue.NewService(newMemoryQueueRepo(), policy, bus, &sequentialIDs{}),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &liveStack{server: srv, authority: authority}
}

// dial はidentityのトークンでWebSocket接続し、connectedフレームを読み捨てる。
func (s *liveStack) dial(t *testing.T, identity model.Identity) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + issueToken(t, s.authority, identity)}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	if frame := s.read(t, conn); frame.Event != realtime.EventConnected {
		t.Fatalf("first frame = %q, want %q", frame.Event, realtime.EventConnected)
	}
	return conn
}

func (s *liveStack) subscribe(t *testing.T, conn *websocket.Conn, queueID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := map[string]any{"action": realtime.ActionSubscribeQueue, "data": map[string]any{"queue_id": queueID}}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ack := s.read(t, conn); ack.Event != realtime.EventSubscribed {
		t.Fatalf("ack = %q, want %q", ack.Event, realtime.EventSubscribed)
	}
}

func (s *liveStack) read(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frame wsFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	return frame
}

// call はidentityのトークン付きでAPIを呼び出し、ステータスコードを確認する。
func (s *liveStack) call(t *testing.T, identity model.Identity, method, path, body string, wantStatus int) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+issueToken(t, s.authority, identity))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s status = %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	return resp
}

func TestIntegration_QueueEventsReachSubscribers(t *testing.T) {
	stack := newLiveStack(t)

	owner := stack.dial(t, ownerIdentity)
	other := stack.dial(t, otherIdentity)
	stack.subscribe(t, owner, "default")
	stack.subscribe(t, other, "default")

	// 投入イベントはキューの購読者全員に届く
	stack.call(t, ownerIdentity, http.MethodPost, "/api/v1/queue/default/enqueue_batch",
		`{"batch": {"graph": {"id": "g1", "nodes": {}, "edges": []}, "runs": 1}}`, http.StatusCreated)

	for name, conn := range map[string]*websocket.Conn{"owner": owner, "other": other} {
		if got := stack.read(t, conn); got.Event != "batch_enqueued" {
			t.Errorf("%s event = %q, want batch_enqueued", name, got.Event)
		}
	}

	// アイテムの状態変化は所有者にのみ届く
	stack.call(t, ownerIdentity, http.MethodPut, "/api/v1/queue/default/i/1/cancel", "", http.StatusOK)

	got := stack.read(t, owner)
	if got.Event != "queue_item_status_changed" {
		t.Fatalf("owner event = %q, want queue_item_status_changed", got.Event)
	}
	if got.Data["status"] != string(model.QueueItemCanceled) {
		t.Errorf("status = %v, want canceled", got.Data["status"])
	}

	// 自分のアイテムだけのクリアはルームに通知されない。
	// 他ユーザーの次のフレームは管理者のクリアであり、状態変化も届いていない
	stack.call(t, ownerIdentity, http.MethodPut, "/api/v1/queue/default/clear", "", http.StatusOK)
	stack.call(t, adminIdentity, http.MethodPut, "/api/v1/queue/default/clear", "", http.StatusOK)

	if got := stack.read(t, other); got.Event != "queue_cleared" {
		t.Errorf("other event = %q, want queue_cleared", got.Event)
	}
	if got := stack.read(t, owner); got.Event != "queue_cleared" {
		t.Errorf("owner event = %q, want queue_cleared", got.Event)
	}
}

func TestIntegration_OtherUserCannotCancel(t *testing.T) {
	stack := newLiveStack(t)

	stack.call(t, ownerIdentity, http.MethodPost, "/api/v1/queue/default/enqueue_batch",
		`{"batch": {"runs": 1}}`, http.StatusCreated)

	stack.call(t, otherIdentity, http.MethodPut, "/api/v1/queue/default/i/1/cancel", "", http.StatusForbidden)
	stack.call(t, adminIdentity, http.MethodPut, "/api/v1/queue/default/i/1/cancel", "", http.StatusOK)
}
