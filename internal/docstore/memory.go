package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore はプロセス内で完結するStore実装。
// 開発用の単一プロセス起動とテストで使う。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryRecord
	seq         int64
	now         func() time.Time
	hub         *hub
}

type memoryRecord struct {
	doc Document
	seq int64
}

// コンパイル時にインターフェースの実装を検証する。
var _ Store = (*MemoryStore)(nil)

// MemoryOption はMemoryStoreの設定オプション。
type MemoryOption func(*MemoryStore)

// WithClock はServerTimestampの解決に使う時計を差し替える。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]*memoryRecord),
		now:         time.Now,
		hub:         newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveSubscriptions は有効な購読数を返す。
func (s *MemoryStore) ActiveSubscriptions() int {
	return s.hub.active()
}

// Get はキーでドキュメントを取得する。
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	doc := copyDocument(rec.doc)
	return &doc, nil
}

// Query は条件に一致するドキュメントを返す。
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := filterValues(q.Filters, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var recs []*memoryRecord
	for _, rec := range s.collections[q.Collection] {
		if matches(rec.doc.Fields, want) {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		if q.OrderBy != "" {
			if c := compareValues(recs[i].doc.Fields[q.OrderBy], recs[j].doc.Fields[q.OrderBy]); c != 0 {
				return c < 0
			}
		}
		return recs[i].seq < recs[j].seq
	})

	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}

	docs := make([]Document, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, copyDocument(rec.doc))
	}
	return docs, nil
}

// Set はドキュメントを上書き保存する。
func (s *MemoryStore) Set(ctx context.Context, collection, key string, fields Fields) error {
	if err := s.write(ctx, collection, key, fields, func(exists bool) error { return nil }); err != nil {
		return err
	}
	s.hub.notify(collection)
	return nil
}

// Create はドキュメントが存在しない場合のみ作成する。
func (s *MemoryStore) Create(ctx context.Context, collection, key string, fields Fields) error {
	err := s.write(ctx, collection, key, fields, func(exists bool) error {
		if exists {
			return ErrAlreadyExists
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.hub.notify(collection)
	return nil
}

// Add はUUIDを採番してドキュメントを作成する。
func (s *MemoryStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	key := uuid.New().String()
	if err := s.Create(ctx, collection, key, fields); err != nil {
		return "", err
	}
	return key, nil
}

// Update は既存ドキュメントにフィールドをマージする。
func (s *MemoryStore) Update(ctx context.Context, collection, key string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	normalized, err := normalize(fields, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	rec, ok := s.collections[collection][key]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	merged := make(Fields, len(rec.doc.Fields)+len(normalized))
	for k, v := range rec.doc.Fields {
		merged[k] = v
	}
	for k, v := range normalized {
		merged[k] = v
	}
	rec.doc.Fields = merged
	rec.doc.UpdatedAt = now
	s.mu.Unlock()

	s.hub.notify(collection)
	return nil
}

// Delete はドキュメントを削除する。
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.collections[collection][key]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.collections[collection], key)
	s.mu.Unlock()

	s.hub.notify(collection)
	return nil
}

// Subscribe はクエリ結果を購読する。
func (s *MemoryStore) Subscribe(ctx context.Context, q Query, fn func([]Document)) (Subscription, error) {
	return s.hub.subscribe(ctx, q, func(ctx context.Context) ([]Document, error) {
		return s.Query(ctx, q)
	}, fn)
}

func (s *MemoryStore) write(ctx context.Context, collection, key string, fields Fields, check func(exists bool) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("docstore: empty key for collection %q", collection)
	}
	now := s.now()
	normalized, err := normalize(fields, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]*memoryRecord)
		s.collections[collection] = coll
	}
	prev, exists := coll[key]
	if err := check(exists); err != nil {
		return err
	}

	s.seq++
	rec := &memoryRecord{
		doc: Document{
			Key:       key,
			Fields:    normalized,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.seq,
	}
	if exists {
		rec.doc.CreatedAt = prev.doc.CreatedAt
		rec.seq = prev.seq
	}
	coll[key] = rec
	return nil
}

func matches(fields, want Fields) bool {
	for k, v := range want {
		if !reflect.DeepEqual(fields[k], v) {
			return false
		}
	}
	return true
}

// compareValues は数値同士なら数値順、文字列同士なら辞書順で比較する。
// 値が存在しないものは先頭に並ぶ。
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
		// 数値は文字列より前
		return -1
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
		if _, ok := b.(float64); ok {
			return 1
		}
	}
	return 0
}

func copyDocument(d Document) Document {
	fields := make(Fields, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	d.Fields = fields
	return d
}
