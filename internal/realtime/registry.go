package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/jobhub/internal/auth"
	"github.com/hitoshi/jobhub/internal/idgen"
	"github.com/hitoshi/jobhub/internal/model"
)

// DefaultSendBuffer は接続ごとの送信キューの既定の長さ。
const DefaultSendBuffer = 256

// TokenVerifier はトークンからIdentityを解決する。
type TokenVerifier interface {
	Verify(token string) (model.Identity, error)
}

// RegistryConfig はRegistryの設定。
type RegistryConfig struct {
	SendBuffer int
	Logger     *slog.Logger
	Recorder   Recorder
}

// Registry は接続とルーム所属を管理する。
//
// ロック順序は Connection.mu → Registry.mu → room.mu とする。
// 切断は送信停止を先に行い、その後で全ルームから外す。
type Registry struct {
	verifier   TokenVerifier
	sendBuffer int
	logger     *slog.Logger
	recorder   Recorder

	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[RoomID]*room
}

type room struct {
	mu      sync.RWMutex
	members map[string]*Connection
}

// NewRegistry はRegistryを生成する。
func NewRegistry(verifier TokenVerifier, cfg RegistryConfig) *Registry {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		verifier:   verifier,
		sendBuffer: cfg.SendBuffer,
		logger:     cfg.Logger,
		recorder:   orNop(cfg.Recorder),
		conns:      make(map[string]*Connection),
		rooms:      make(map[RoomID]*room),
	}
}

// Connect はトークンからIdentityを解決して接続を登録する。
// トークンが無い、または無効な場合はシステムIdentityで登録し、接続自体は拒否しない。
func (r *Registry) Connect(token string) *Connection {
	c := newConnection(idgen.NewConnectionID(), r.resolve(token), r.sendBuffer)

	r.mu.Lock()
	r.conns[c.id] = c
	c.state.Store(int32(StateActive))
	r.mu.Unlock()

	r.recorder.ConnectionOpened()
	r.logger.Info("realtime connection opened",
		slog.String("connection_id", c.id),
		slog.String("user_id", c.identity.UserID),
		slog.Bool("is_admin", c.identity.IsAdmin),
	)
	return c
}

func (r *Registry) resolve(token string) model.Identity {
	if token == "" {
		return model.SystemIdentity()
	}
	identity, err := r.verifier.Verify(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "expired"
		}
		r.recorder.AuthFailed(reason)
		r.logger.Info("realtime token rejected, falling back to system identity",
			slog.String("reason", reason),
		)
		return model.SystemIdentity()
	}
	return identity
}

// Disconnect は接続を閉じ、全てのルームから外す。
// 戻った時点で、その接続はどのルームのスナップショットにも含まれない。
// 未知または切断済みの接続に対してはfalseを返す。
func (r *Registry) Disconnect(connID string) bool {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	c.markClosed()

	c.mu.Lock()
	rooms := c.rooms
	c.rooms = nil
	for roomID := range rooms {
		r.removeMember(roomID, c.id)
	}
	c.mu.Unlock()

	r.recorder.ConnectionClosed()
	r.logger.Info("realtime connection closed",
		slog.String("connection_id", c.id),
		slog.String("user_id", c.identity.UserID),
		slog.Int("rooms", len(rooms)),
	)
	return true
}

// Join は接続をルームに参加させる。参加済みの場合は何もしない。
func (r *Registry) Join(connID string, roomID RoomID) error {
	c := r.lookup(connID)
	if c == nil {
		return ErrUnknownConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms == nil {
		return ErrConnectionClosed
	}
	if _, ok := c.rooms[roomID]; ok {
		return nil
	}
	c.rooms[roomID] = struct{}{}
	r.addMember(roomID, c)
	return nil
}

// Leave は接続をルームから外す。参加していない場合や接続が無い場合も何もしない。
func (r *Registry) Leave(connID string, roomID RoomID) {
	c := r.lookup(connID)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return
	}
	delete(c.rooms, roomID)
	r.removeMember(roomID, c.id)
}

// MembersOf はルームに所属する接続IDのスナップショットを返す。
func (r *Registry) MembersOf(roomID RoomID) []string {
	members := r.snapshot(roomID)
	ids := make([]string, 0, len(members))
	for _, c := range members {
		ids = append(ids, c.id)
	}
	return ids
}

// IdentityOf は接続のIdentityを返す。未知または切断済みの場合はfalseを返す。
func (r *Registry) IdentityOf(connID string) (model.Identity, bool) {
	c := r.lookup(connID)
	if c == nil || c.State() == StateClosed {
		return model.Identity{}, false
	}
	return c.identity, true
}

// Send は接続にメッセージを送る。ブロックしない。
// 送信キューが溢れた場合は接続を切断してErrSlowConsumerを返す。
func (r *Registry) Send(connID string, msg Message) error {
	c := r.lookup(connID)
	if c == nil {
		return ErrConnectionClosed
	}
	return r.deliver(c, msg)
}

// Active は有効な接続数を返す。
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll は全ての接続を切断する。シャットダウン時に使う。
func (r *Registry) CloseAll() {
	for _, c := range r.connections() {
		r.Disconnect(c.id)
	}
}

func (r *Registry) deliver(c *Connection, msg Message) error {
	err := c.enqueue(msg)
	if errors.Is(err, ErrSlowConsumer) {
		r.logger.Warn("realtime send buffer full, closing connection",
			slog.String("connection_id", c.id),
			slog.String("user_id", c.identity.UserID),
			slog.String("event", msg.Event),
		)
		r.Disconnect(c.id)
	}
	return err
}

func (r *Registry) lookup(connID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID]
}

// connections は全接続のスナップショットを返す。
func (r *Registry) connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// snapshot はルームの所属接続のスナップショットを返す。
func (r *Registry) snapshot(roomID RoomID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*Connection, 0, len(rm.members))
	for _, c := range rm.members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) addMember(roomID RoomID, c *Connection) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	if ok {
		rm.mu.Lock()
		rm.members[c.id] = c
		rm.mu.Unlock()
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok = r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]*Connection)}
		r.rooms[roomID] = rm
	}
	rm.mu.Lock()
	rm.members[c.id] = c
	rm.mu.Unlock()
}

func (r *Registry) removeMember(roomID RoomID, connID string) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	rm.mu.Lock()
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	r.mu.RUnlock()

	if !empty {
		return
	}

	// 空になったルームは、再確認してから削除する
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[roomID]; ok && cur == rm {
		rm.mu.RLock()
		stillEmpty := len(rm.members) == 0
		rm.mu.RUnlock()
		if stillEmpty {
			delete(r.rooms, roomID)
		}
	}
}
