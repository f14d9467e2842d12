// Package cleanup はキューアイテムの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した終了済みアイテム
// （completed, failed, canceled）を定期バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sqlx.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder はクリーンアップ結果の計測値を記録する。
// metrics.Collectorが満たす。
type Recorder interface {
	RecordQueueItemsPruned(count int64)
	RecordCleanupLatency(duration time.Duration)
}

// CleanupJob は保持期間を超過したキューアイテムの自動削除ジョブ。
// 冪等な削除処理で、何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	recorder      Recorder
	RetentionDays int // 終了済みアイテムの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。recorderはnil可。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		recorder:      recorder,
		RetentionDays: 30,
	}
}

const pruneQuery = `DELETE FROM session_queue
	WHERE status IN ('completed', 'failed', 'canceled')
	  AND COALESCE(completed_at, updated_at) < now() - $1::interval`

// Run は保持期間を超過した終了済みアイテムを削除する。
// 完了時刻が無い行は更新時刻で判定する。未終了のアイテムは対象外。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx, pruneQuery, interval)
	if err != nil {
		j.logger.Error("キュークリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("キュークリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	if j.recorder != nil {
		j.recorder.RecordQueueItemsPruned(deletedCount)
		j.recorder.RecordCleanupLatency(duration)
	}
	j.logger.Info("キュークリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以後interval間隔でRunを繰り返す。
// コンテキストがキャンセルされるまでブロックする。失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("キュークリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("キュークリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
