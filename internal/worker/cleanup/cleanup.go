// Package cleanup は参加登録の自動削除ジョブを提供する。
// イベント削除と参加登録の作成が競合した場合に残る、
// 存在しないイベントを参照する参加登録を定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はクリーンアップジョブの実行間隔のデフォルト値。
const DefaultInterval = 24 * time.Hour

// OrphanDeleter はイベントが存在しない参加登録を削除するインターフェース。
// repository.SignupRepositoryが実装する。
type OrphanDeleter interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

// Recorder は削除件数の記録先。
type Recorder interface {
	RecordOrphanSignupsDeleted(count int)
}

// CleanupJob は孤立した参加登録の自動削除ジョブ。
// 冪等な削除処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	signups  OrphanDeleter
	recorder Recorder
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(signups OrphanDeleter, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		signups:  signups,
		recorder: recorder,
		logger:   logger,
	}
}

// Run は孤立した参加登録を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.signups.DeleteOrphans(ctx)
	if err != nil {
		j.logger.Error("参加登録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("参加登録クリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordOrphanSignupsDeleted(int(deletedCount))
	}

	duration := time.Since(start)
	j.logger.Info("参加登録クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Schedule は起動直後に1回実行し、以降はintervalごとに実行する。
// ctxがキャンセルされるまでブロックする。実行の失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
