package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// hub は変更通知を購読者へ配る。
// 通知は購読ごとに1件へ畳み込まれ、購読者は最新の結果を再取得して配信する。
type hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

// notify は指定コレクションを購読しているすべての購読者に変更を通知する。
func (h *hub) notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.query.Collection == collection {
			s.markDirty()
		}
	}
}

// notifyAll はすべての購読者に変更を通知する。
// 外部通知の取りこぼしが起こりうる場合（再接続直後など）に使う。
func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.markDirty()
	}
}

// active は現在有効な購読数を返す。
func (h *hub) active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) add(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// subscribe は購読を登録し、初回の結果を取得してから配信goroutineを起動する。
// 登録を先に行うため、初回取得中の変更も取りこぼさない。
func (h *hub) subscribe(ctx context.Context, q Query, load func(context.Context) ([]Document, error), fn func([]Document)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		hub:    h,
		query:  q,
		load:   load,
		fn:     fn,
		dirty:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	h.add(s)

	docs, err := load(ctx)
	if err != nil {
		cancel()
		h.remove(s)
		return nil, err
	}

	go s.run(docs)
	return s, nil
}

type subscription struct {
	hub    *hub
	query  Query
	load   func(context.Context) ([]Document, error)
	fn     func([]Document)
	dirty  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *subscription) run(initial []Document) {
	defer s.hub.remove(s)

	s.deliver(initial)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.dirty:
		}

		docs, err := s.load(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			// 次の変更通知で再取得する
			slog.Warn("failed to refresh subscription",
				slog.String("collection", s.query.Collection),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.deliver(docs)
	}
}

func (s *subscription) deliver(docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return
	}
	s.fn(docs)
}

// Close は購読を停止する。実行中のコールバックがあれば完了を待つ。
func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.hub.remove(s)
	return nil
}
