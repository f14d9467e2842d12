// Package eventbus はドメインイベントを発行し、リアルタイム配信へ届ける経路を提供する。
package eventbus

import (
	"context"
	"sync"

	"github.com/hitoshi/jobhub/internal/event"
)

// Publisher はドメインイベントを発行する。
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// Router はイベントを接続へ配信する。
type Router interface {
	Route(evt event.Event) int
}

// LocalBus は同一プロセス内でイベントを直接配信する。
// 発行順と配信順を一致させるため、配信は直列に行う。
type LocalBus struct {
	mu     sync.Mutex
	router Router
}

// NewLocalBus はLocalBusを生成する。
func NewLocalBus(router Router) *LocalBus {
	return &LocalBus{router: router}
}

// Publish はイベントを配信する。配信はブロックしないため、すぐに戻る。
func (b *LocalBus) Publish(_ context.Context, evt event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.router.Route(evt)
	return nil
}

// Run はLocalBusでは何もせず、ctxの終了を待つ。
func (b *LocalBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// nopPublisher はイベントを捨てる。
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, event.Event) error { return nil }

// Nop は何もしないPublisherを返す。
func Nop() Publisher {
	return nopPublisher{}
}
