package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"maker-auction/pkg/types"
)

const (
	readTimeout      = 90 * time.Second // server pings every ~54s
	maxReconnectWait = 30 * time.Second
	streamBufferSize = 256
)

// Watcher follows the daemon's /ws event stream, reconnecting with
// exponential backoff (1s → 30s max). Every (re)connect first yields a
// snapshot frame, then events as they are committed.
type Watcher struct {
	url      string
	messages chan types.StreamMessage
	logger   *slog.Logger
}

// NewWatcher derives the stream URL from the daemon's HTTP base URL.
func NewWatcher(baseURL string, logger *slog.Logger) *Watcher {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &Watcher{
		url:      u + "/ws",
		messages: make(chan types.StreamMessage, streamBufferSize),
		logger:   logger.With("component", "watcher"),
	}
}

// Messages returns the channel of stream frames.
func (w *Watcher) Messages() <-chan types.StreamMessage { return w.messages }

// Run connects and keeps the stream open. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := w.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (w *Watcher) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancel.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.logger.Info("stream connected", "url", w.url)

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg types.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		select {
		case w.messages <- msg:
		default:
			w.logger.Warn("stream channel full, dropping frame", "type", msg.Type)
		}
	}
}
