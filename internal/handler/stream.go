package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/middleware"
)

// streamKeepAlive はSSE接続を維持するコメント行の送信間隔。
var streamKeepAlive = 15 * time.Second

// serveStream は購読が届けるスナップショットをServer-Sent Eventsとして送り続ける。
// 書き込みが追いつかない場合は古いスナップショットを捨て、最新のものだけを送る。
// クライアントが切断するとコンテキストが終わり、購読を閉じて戻る。
// subscribeはsendへスナップショットを渡し続ける購読を開始する。
func serveStream[T any](
	w http.ResponseWriter,
	r *http.Request,
	event string,
	subscribe func(ctx context.Context, send func(T)) (docstore.Subscription, error),
) {
	rc := http.NewResponseController(w)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan T, 1)
	send := func(v T) {
		for {
			select {
			case updates <- v:
				return
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}

	sub, err := subscribe(ctx, send)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer sub.Close()

	// サーバーのWriteTimeoutで接続が切られないようにする
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("write deadline not supported", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("streaming not supported", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			data, err := json.Marshal(v)
			if err != nil {
				slog.Error("failed to encode stream event", slog.String("error", err.Error()))
				middleware.WriteInternalServerError(w)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
