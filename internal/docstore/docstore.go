// Package docstore はコレクション単位でドキュメントを保持するストアを提供する。
// キー指定の読み書き、等価フィルタ付きクエリ、作成時のみ成功する書き込み、
// マージ更新、削除、変更フィードの購読をサポートする。
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound は対象ドキュメントが存在しないことを示す。
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists は作成時にドキュメントが既に存在したことを示す。
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrPermissionDenied はストアが読み書きを拒否したことを示す。
	ErrPermissionDenied = errors.New("docstore: permission denied")
)

// timeLayout はタイムスタンプの保存形式。
// 桁数固定のため文字列比較で時刻順に並ぶ。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type serverTimestamp struct{}

// ServerTimestamp をフィールド値に指定すると、書き込み時にストアの時計で解決される。
var ServerTimestamp = serverTimestamp{}

// Fields はドキュメントのフィールド集合。
// 値はJSONで表現できる型に正規化される（文字列、float64、bool、ネストしたmap/slice）。
type Fields map[string]any

// Document はストアに保存された1件のドキュメント。
type Document struct {
	Key       string
	Fields    Fields
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter はフィールドの等価条件。
type Filter struct {
	Field string
	Value any
}

// Eq は等価条件を生成する。
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Query はコレクションに対する検索条件。
// OrderByが空の場合は作成順に並ぶ。
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Limit      int
}

// Subscription は変更フィードの購読。
// Closeが返った後はコールバックが実行中でなく、以後呼ばれることもない。
// コールバック内からCloseを呼んではならない。
type Subscription interface {
	Close() error
}

// Store はドキュメントストアの操作を定義する。
type Store interface {
	// Get はキーでドキュメントを取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, collection, key string) (*Document, error)
	// Query は条件に一致するドキュメントを返す。
	Query(ctx context.Context, q Query) ([]Document, error)
	// Set はドキュメントを上書き保存する。
	Set(ctx context.Context, collection, key string, fields Fields) error
	// Create はドキュメントが存在しない場合のみ作成する。存在する場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, collection, key string, fields Fields) error
	// Add はストアが採番したキーでドキュメントを作成し、そのキーを返す。
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	// Update は既存ドキュメントにフィールドをマージする。存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, collection, key string, fields Fields) error
	// Delete はドキュメントを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, collection, key string) error
	// Subscribe はクエリ結果を購読する。
	// 現在の結果を最初に配信し、以後コレクションが変更されるたびに結果全体を再配信する。
	Subscribe(ctx context.Context, q Query, fn func([]Document)) (Subscription, error)
}

// String は文字列フィールドを返す。存在しないか型が異なる場合は空文字を返す。
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Int は数値フィールドを整数で返す。
func (f Fields) Int(key string) int {
	switch v := f[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Time はタイムスタンプフィールドを返す。解釈できない場合はゼロ値を返す。
func (f Fields) Time(key string) time.Time {
	switch v := f[key].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	case time.Time:
		return v
	}
	return time.Time{}
}

// normalize はServerTimestampとtime.Timeを解決し、JSON往復で値の型を揃える。
func normalize(fields Fields, now time.Time) (Fields, error) {
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		resolved[k] = resolveValue(v, now)
	}

	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return out, nil
}

func resolveValue(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now.UTC().Format(timeLayout)
	case time.Time:
		return t.UTC().Format(timeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(timeLayout)
	}
	return v
}

// filterValues はフィルタを正規化済みの値のmapに変換する。
func filterValues(filters []Filter, now time.Time) (Fields, error) {
	raw := make(Fields, len(filters))
	for _, f := range filters {
		raw[f.Field] = f.Value
	}
	return normalize(raw, now)
}
