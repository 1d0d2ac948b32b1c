// Package cleanup は期限切れのサインインリンクとセッションを削除するジョブを提供する。
// どちらもexpiresAtを過ぎた時点で無効として扱われるため、削除はストレージの整理にすぎない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pitchday/internal/repository"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const deleteExpiredQuery = `DELETE FROM documents
WHERE collection = $1 AND (fields->>'expiresAt')::timestamptz < now()`

// CleanupJob は期限切れドキュメントの定期削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db          Executor
	logger      *slog.Logger
	Collections []string // expiresAtを持つ削除対象のコレクション
}

// NewCleanupJob は新しいCleanupJobを生成する。
// 対象はサインインリンクとセッション。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:          db,
		logger:      logger,
		Collections: []string{repository.CollectionLoginLinks, repository.CollectionSessions},
	}
}

// Run は対象コレクションから期限切れのドキュメントを削除する。
// 途中のコレクションで失敗した場合はそこで中断してエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var total int64

	for _, collection := range j.Collections {
		result, err := j.db.ExecContext(ctx, deleteExpiredQuery, collection)
		if err != nil {
			j.logger.Error("expired document cleanup failed",
				slog.String("collection", collection),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to delete expired %s: %w", collection, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read deleted count for %s: %w", collection, err)
		}
		total += deleted

		j.logger.Info("expired documents deleted",
			slog.String("collection", collection),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
