package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/jobhub/internal/event"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel はイベントを流すRedisチャネルの既定名。
const DefaultChannel = "jobhub:events"

// NewRedisClient はURLからRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisBus はRedis Pub/Subを介してイベントを全インスタンスに配る。
// 発行したインスタンス自身も購読側で受け取って配信する。
// 外部の処理パイプラインも同じチャネルにエンベロープを発行できる。
type RedisBus struct {
	client  *redis.Client
	channel string
	router  Router
	logger  *slog.Logger
}

// NewRedisBus はRedisBusを生成する。
func NewRedisBus(client *redis.Client, channel string, router Router, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, channel: channel, router: router, logger: logger}
}

// Publish はイベントをエンベロープにしてチャネルに発行する。
func (b *RedisBus) Publish(ctx context.Context, evt event.Event) error {
	data, err := event.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", evt.Kind(), err)
	}
	return nil
}

// Run はチャネルを購読し、受信したイベントを順に配信する。
// 購読が切れた場合は指数バックオフで再購読する。ctxが終了すると戻る。
func (b *RedisBus) Run(ctx context.Context) error {
	failures := 0
	for {
		subscribed, err := b.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			failures = 0
		}
		delay := CalculateBackoff(failures)
		failures++
		b.logger.Warn("event subscription lost, retrying",
			slog.String("channel", b.channel),
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// consume は購読が切れるまでメッセージを処理する。
// 購読の確立に成功したかどうかを返す。
func (b *RedisBus) consume(ctx context.Context) (bool, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("failed to subscribe: %w", err)
	}
	b.logger.Info("event subscription established", slog.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			b.handle(msg.Payload)
		}
	}
}

// handle は受信したエンベロープを復元して配信する。不正なものは記録して捨てる。
func (b *RedisBus) handle(payload string) {
	evt, err := event.Unmarshal([]byte(payload))
	if err != nil {
		b.logger.Warn("dropping malformed event envelope",
			slog.String("channel", b.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	b.router.Route(evt)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
