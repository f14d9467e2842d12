package realtime

import (
	"errors"
	"log/slog"

	"github.com/hitoshi/jobhub/internal/authz"
	"github.com/hitoshi/jobhub/internal/event"
)

// 配信戦略
const (
	StrategyBroadcast     = "broadcast"
	StrategyRoom          = "room"
	StrategyOwnerFiltered = "owner_filtered"
)

// Router はドメインイベントを系統ごとの戦略で接続へ配信する。
// 配信はブロックせず、ある受信者への失敗は他の受信者に影響しない。
type Router struct {
	registry *Registry
	policy   authz.Policy
	logger   *slog.Logger
	recorder Recorder
}

// NewRouter はRouterを生成する。
func NewRouter(registry *Registry, policy authz.Policy, logger *slog.Logger, recorder Recorder) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		policy:   policy,
		logger:   logger,
		recorder: orNop(recorder),
	}
}

// Route はイベントを配信し、送信キューに投入できた件数を返す。
// 購読者がいない場合は0を返し、エラーにはしない。
// 種別の系統が型と一致しないイベントは配信せず0を返す。
func (rt *Router) Route(evt event.Event) int {
	if family, ok := event.FamilyOf(evt.Kind()); !ok || family != evt.Family() {
		rt.logger.Error("event kind does not match its family",
			slog.String("kind", string(evt.Kind())),
			slog.String("family", string(evt.Family())),
		)
		rt.recorder.DeliveryFailed("kind_mismatch")
		return 0
	}
	rt.recorder.EventRouted(string(evt.Family()))

	switch e := evt.(type) {
	case event.GlobalEvent:
		return rt.broadcast(e)
	case event.QueueEvent:
		return rt.toRoom(QueueRoom(e.QueueID), e)
	case event.BulkDownloadEvent:
		return rt.toRoom(BulkDownloadRoom(e.DownloadID), e)
	case event.QueueItemEvent:
		return rt.toOwner(e)
	default:
		rt.logger.Error("unhandled event type", slog.String("kind", string(evt.Kind())))
		return 0
	}
}

func (rt *Router) broadcast(evt event.Event) int {
	msg := messageOf(evt)
	delivered := 0
	for _, c := range rt.registry.connections() {
		if rt.deliver(c, msg) {
			delivered++
		}
	}
	rt.recorder.EventsDelivered(StrategyBroadcast, delivered)
	return delivered
}

func (rt *Router) toRoom(roomID RoomID, evt event.Event) int {
	msg := messageOf(evt)
	delivered := 0
	for _, c := range rt.registry.snapshot(roomID) {
		if rt.deliver(c, msg) {
			delivered++
		}
	}
	rt.recorder.EventsDelivered(StrategyRoom, delivered)
	return delivered
}

// toOwner はキューのルームのうち、所有者と管理者にだけ配信する。
// アイテムを含む場合は受信者ごとに秘匿化する。
func (rt *Router) toOwner(evt event.QueueItemEvent) int {
	owner := evt.Owner()
	delivered := 0
	for _, c := range rt.registry.snapshot(QueueRoom(evt.QueueID)) {
		viewer := c.Identity()
		if !rt.policy.CanViewSensitive(owner, viewer) {
			continue
		}
		out := evt
		if evt.Item != nil {
			out = evt.WithItem(rt.policy.SanitizeQueueItem(evt.Item, viewer))
		}
		if rt.deliver(c, messageOf(out)) {
			delivered++
		}
	}
	rt.recorder.EventsDelivered(StrategyOwnerFiltered, delivered)
	return delivered
}

func (rt *Router) deliver(c *Connection, msg Message) bool {
	err := rt.registry.deliver(c, msg)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrConnectionClosed):
		// スナップショット取得後に切断された接続。送らなくてよい
		return false
	default:
		rt.recorder.DeliveryFailed("slow_consumer")
		return false
	}
}

func messageOf(evt event.Event) Message {
	return Message{Event: string(evt.Kind()), Data: evt.Payload()}
}
