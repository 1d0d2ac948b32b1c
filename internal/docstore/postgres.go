package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ChangeChannel はdocumentsテーブルの変更をNOTIFYするチャンネル名。
// マイグレーションで作成するトリガーと一致させること。
const ChangeChannel = "docstore_changes"

// pqInsufficientPrivilege はPostgreSQLの権限不足エラーコード。
const pqInsufficientPrivilege = "42501"

// serverTimestampsSQL は$4のフィールド名すべてにデータベースの現在時刻を設定したJSONBを返す。
// 書式はtimeLayoutと同じ（マイクロ秒精度のため末尾3桁は0）。
const serverTimestampsSQL = `(SELECT coalesce(jsonb_object_agg(k, to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"000Z"')), '{}'::jsonb) FROM unnest($4::text[]) AS k)`

// PostgresStore はPostgreSQLのdocumentsテーブルを使うStore実装。
// フィールドはJSONBで保持し、等価フィルタは@>による包含検索で行う。
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
	hub *hub
}

// コンパイル時にインターフェースの実装を検証する。
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		now: time.Now,
		hub: newHub(),
	}
}

// ActiveSubscriptions は有効な購読数を返す。
func (s *PostgresStore) ActiveSubscriptions() int {
	return s.hub.active()
}

// Get はキーでドキュメントを取得する。
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	query := `SELECT key, fields, created_at, updated_at FROM documents WHERE collection = $1 AND key = $2`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, collection, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, key, mapError(err))
	}
	return doc, nil
}

// Query は条件に一致するドキュメントを返す。
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	query, args, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, mapError(err))
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", q.Collection, err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", q.Collection, mapError(err))
	}
	return docs, nil
}

func (s *PostgresStore) buildQuery(q Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	sb.WriteString(`SELECT key, fields, created_at, updated_at FROM documents WHERE collection = $1`)

	if len(q.Filters) > 0 {
		want, err := filterValues(q.Filters, s.now())
		if err != nil {
			return "", nil, err
		}
		data, err := json.Marshal(want)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode filters: %w", err)
		}
		args = append(args, string(data))
		fmt.Fprintf(&sb, ` AND fields @> $%d::jsonb`, len(args))
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&sb, ` ORDER BY fields->$%d::text NULLS FIRST, created_at, key`, len(args))
	} else {
		sb.WriteString(` ORDER BY created_at, key`)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	return sb.String(), args, nil
}

// Set はドキュメントを上書き保存する。
func (s *PostgresStore) Set(ctx context.Context, collection, key string, fields Fields) error {
	data, stamps, err := s.encode(fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, key, fields, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb || ` + serverTimestampsSQL + `, now(), now())
		ON CONFLICT (collection, key)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, collection, key, data, pq.Array(stamps)); err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w", collection, key, mapError(err))
	}
	s.hub.notify(collection)
	return nil
}

// Create はドキュメントが存在しない場合のみ作成する。
// 同時に作成された場合は一方だけが成功し、他方はErrAlreadyExistsを受け取る。
func (s *PostgresStore) Create(ctx context.Context, collection, key string, fields Fields) error {
	data, stamps, err := s.encode(fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, key, fields, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb || ` + serverTimestampsSQL + `, now(), now())
		ON CONFLICT (collection, key) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query, collection, key, data, pq.Array(stamps))
	if err != nil {
		return fmt.Errorf("failed to create document %s/%s: %w", collection, key, mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	s.hub.notify(collection)
	return nil
}

// Add はUUIDを採番してドキュメントを作成する。
func (s *PostgresStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	key := uuid.New().String()
	if err := s.Create(ctx, collection, key, fields); err != nil {
		return "", err
	}
	return key, nil
}

// Update は既存ドキュメントにフィールドをマージする。
func (s *PostgresStore) Update(ctx context.Context, collection, key string, fields Fields) error {
	data, stamps, err := s.encode(fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents SET fields = fields || $3::jsonb || ` + serverTimestampsSQL + `, updated_at = now()
		WHERE collection = $1 AND key = $2`

	result, err := s.db.ExecContext(ctx, query, collection, key, data, pq.Array(stamps))
	if err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", collection, key, mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.hub.notify(collection)
	return nil
}

// Delete はドキュメントを削除する。
// 同時に削除された場合は一方だけが成功し、他方はErrNotFoundを受け取る。
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND key = $2`

	result, err := s.db.ExecContext(ctx, query, collection, key)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, key, mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.hub.notify(collection)
	return nil
}

// Subscribe はクエリ結果を購読する。
// 他プロセスからの変更はListenを起動している場合に届く。
func (s *PostgresStore) Subscribe(ctx context.Context, q Query, fn func([]Document)) (Subscription, error) {
	return s.hub.subscribe(ctx, q, func(ctx context.Context) ([]Document, error) {
		return s.Query(ctx, q)
	}, fn)
}

// Listen はLISTEN/NOTIFYで他プロセスの変更を受け取り、購読者へ通知する。
// ctxがキャンセルされるまでブロックする。
func (s *PostgresStore) Listen(ctx context.Context, databaseURL string) error {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("docstore listener event",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	defer listener.Close()

	if err := listener.Listen(ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen %s: %w", ChangeChannel, err)
	}
	slog.Info("docstore listener started", slog.String("channel", ChangeChannel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// 再接続直後は取りこぼしがありうるため全購読を再取得する
				s.hub.notifyAll()
				continue
			}
			s.hub.notify(n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				slog.Warn("docstore listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// encode はフィールドをJSONにし、トップレベルのServerTimestampのフィールド名を別に返す。
// それらはSQL側でデータベースの時計により設定する。複数のAPIプロセス間で時計がずれても順序が揃う。
func (s *PostgresStore) encode(fields Fields) (string, []string, error) {
	stamps := []string{}
	rest := make(Fields, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			stamps = append(stamps, k)
			continue
		}
		rest[k] = v
	}

	normalized, err := normalize(rest, s.now())
	if err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(data), stamps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc  Document
		data []byte
	)
	if err := row.Scan(&doc.Key, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Fields = Fields{}
	if err := json.Unmarshal(data, &doc.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return &doc, nil
}

// mapError はPostgreSQLの権限エラーをErrPermissionDeniedに変換する。
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqInsufficientPrivilege {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, pqErr.Message)
	}
	return err
}
