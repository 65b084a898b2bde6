package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/gatemesh/pathsync/internal/schedule"
)

// WebSocket keeps one persistent connection to a gateway that fans messages
// out to nodes. Each request carries a fresh uuid and the reply with the
// same id completes it; frames with other ids (gateway broadcasts, replies
// to abandoned requests) are skipped. One request is in flight at a time.
type WebSocket struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	newID func() string
}

// NewWebSocket creates a WebSocket transport for the gateway at url
// (ws:// or wss://). The connection is dialed lazily on first Send and
// redialed after any failure.
func NewWebSocket(url string, httpClient *http.Client, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocket{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// Send implements Transport.
func (w *WebSocket) Send(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxErr(targetID, ctx.Err())
		}

		return nil, &NodeError{Target: targetID, Msg: "dial gateway: " + err.Error(), Err: ErrUnreachable}
	}

	req := newRequest(w.newID(), targetID, msg)

	if err := wsjson.Write(ctx, conn, req); err != nil {
		w.drop()

		if ctx.Err() != nil {
			return nil, ctxErr(targetID, ctx.Err())
		}

		return nil, &NodeError{Target: targetID, Msg: "write: " + err.Error(), Err: ErrUnreachable}
	}

	for {
		var r reply
		if err := wsjson.Read(ctx, conn, &r); err != nil {
			// A canceled read closes the connection, so it is redialed on the
			// next Send either way.
			w.drop()

			if ctx.Err() != nil {
				return nil, ctxErr(targetID, ctx.Err())
			}

			return nil, &NodeError{Target: targetID, Msg: "read: " + err.Error(), Err: ErrProtocol}
		}

		if r.ID != req.ID {
			w.logger.Debug("skipping uncorrelated frame",
				slog.String("node", targetID),
				slog.String("frame_id", r.ID),
			)

			continue
		}

		return r.ack(targetID)
	}
}

func (w *WebSocket) connect(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{HTTPClient: w.httpClient})
	if err != nil {
		return nil, fmt.Errorf("transport: websocket %s: %w", w.url, err)
	}

	w.logger.Info("websocket gateway connected", slog.String("url", w.url))
	w.conn = conn

	return conn, nil
}

func (w *WebSocket) drop() {
	if w.conn != nil {
		_ = w.conn.CloseNow()
		w.conn = nil
	}
}

// Close closes the gateway connection, if any.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}

	err := w.conn.Close(websocket.StatusNormalClosure, "")
	w.conn = nil

	return err
}
