// Package realtime はリアルタイム接続の管理とイベント配信を提供する。
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/jobhub/internal/model"
)

var (
	// ErrConnectionClosed は切断済みの接続への操作を表す。
	ErrConnectionClosed = errors.New("connection closed")
	// ErrUnknownConnection は登録されていない接続IDを表す。
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrSlowConsumer は送信キューが溢れたことを表す。該当接続は切断される。
	ErrSlowConsumer = errors.New("send buffer full")
)

// State は接続の状態を表す。
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RoomID はルームの識別子。キューと一括ダウンロードで名前空間を分ける。
type RoomID string

// QueueRoom はキューのルームIDを返す。
func QueueRoom(queueID string) RoomID {
	return RoomID("queue:" + queueID)
}

// BulkDownloadRoom は一括ダウンロードのルームIDを返す。
func BulkDownloadRoom(downloadID string) RoomID {
	return RoomID("bulk_download:" + downloadID)
}

// Message はクライアントへ送るフレーム。
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Connection はリアルタイム接続1本を表す。
// Identityは接続時に確定し、切断まで変わらない。
type Connection struct {
	id       string
	identity model.Identity
	state    atomic.Int32

	// mu はroomsを保護する。切断後のroomsはnil。
	mu    sync.Mutex
	rooms map[RoomID]struct{}

	// sendMu は送信キューへの投入と切断を直列化する。
	// 切断処理が書き込みロックを取った後は、どの配信も投入されない。
	sendMu    sync.RWMutex
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, identity model.Identity, buffer int) *Connection {
	c := &Connection{
		id:       id,
		identity: identity,
		rooms:    make(map[RoomID]struct{}),
		send:     make(chan Message, buffer),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID は接続IDを返す。
func (c *Connection) ID() string { return c.id }

// Identity は接続に紐付いたIdentityを返す。
func (c *Connection) Identity() model.Identity { return c.identity }

// State は現在の状態を返す。
func (c *Connection) State() State { return State(c.state.Load()) }

// Outbound は送信待ちのメッセージを受け取るチャネルを返す。
// 読み出すのは接続ごとに1つの書き込みゴルーチンに限ること。
func (c *Connection) Outbound() <-chan Message { return c.send }

// Done は接続が閉じられたときにcloseされるチャネルを返す。
func (c *Connection) Done() <-chan struct{} { return c.done }

// Rooms は参加中のルームのスナップショットを返す。
func (c *Connection) Rooms() []RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]RoomID, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// enqueue はメッセージを送信キューに入れる。ブロックしない。
func (c *Connection) enqueue(msg Message) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// markClosed は接続を閉じ状態にする。最初の呼び出しのみtrueを返す。
func (c *Connection) markClosed() bool {
	closed := false
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.sendMu.Unlock()
		closed = true
	})
	return closed
}
